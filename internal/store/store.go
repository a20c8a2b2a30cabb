// Package store implements a crash-safe JSON envelope store: one file per
// collection, guarded by an advisory lock, with idempotent upsert-by-key.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/docsift/docsift/internal/docs"
)

// Envelope is the on-disk container: a metadata mapping plus a set of item
// records unique by key. Item order in the file carries no meaning.
type Envelope struct {
	Metadata map[string]any    `json:"metadata"`
	Items    []json.RawMessage `json:"items"`
}

func emptyEnvelope() Envelope {
	return Envelope{Metadata: map[string]any{}, Items: []json.RawMessage{}}
}

// KeyFunc extracts the identity of an item record.
type KeyFunc func(item json.RawMessage) (string, error)

// KeyByID reads the "id" field of an item, the key used by every collection.
func KeyByID(item json.RawMessage) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(item, &probe); err != nil {
		return "", fmt.Errorf("decode item key: %w", err)
	}
	if probe.ID == "" {
		return "", fmt.Errorf("item has no id")
	}
	return probe.ID, nil
}

// Store persists one collection envelope at a fixed path.
type Store struct {
	path   string
	locker Locker
	clock  docs.Clock
	logger *zap.Logger
}

// New constructs a Store. The parent directory is created lazily on save.
func New(path string, locker Locker, clock docs.Clock, logger *zap.Logger) *Store {
	return &Store{path: path, locker: locker, clock: clock, logger: logger}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the envelope. An absent, unreadable, or corrupt file yields an
// empty envelope rather than an error: reprocessing is always safe, so the
// store self-heals instead of wedging the pipeline.
func (s *Store) Load(ctx context.Context) (Envelope, error) {
	release, err := s.locker.Acquire(ctx)
	if err != nil {
		return Envelope{}, err
	}
	defer release()

	return s.loadLocked(), nil
}

func (s *Store) loadLocked() Envelope {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("store file unreadable, treating as empty",
				zap.String("path", s.path), zap.Error(err))
		}
		return emptyEnvelope()
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("store file corrupt, treating as empty",
			zap.String("path", s.path), zap.Error(err))
		return emptyEnvelope()
	}
	if env.Metadata == nil {
		env.Metadata = map[string]any{}
	}
	if env.Items == nil {
		env.Items = []json.RawMessage{}
	}
	return env
}

// Save writes the full envelope atomically: serialize to a temporary sibling
// file, sync it, then rename over the destination. A reader never observes a
// torn write.
func (s *Store) Save(ctx context.Context, env Envelope) error {
	release, err := s.locker.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return s.saveLocked(env)
}

func (s *Store) saveLocked(env Envelope) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	data, err := marshalEnvelope(env)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

func marshalEnvelope(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// UpsertMany merges newItems into the envelope keyed by keyOf. It reports
// (created, updated); items whose serialized value already matches the stored
// one are left untouched, so repeating a call is a no-op. The envelope is
// saved exactly once per call, under a single lock acquisition.
func (s *Store) UpsertMany(
	ctx context.Context,
	newItems []json.RawMessage,
	keyOf KeyFunc,
	metadataPatch map[string]any,
) (created, updated int, err error) {
	release, err := s.locker.Acquire(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer release()

	env := s.loadLocked()

	byKey := make(map[string]int, len(env.Items))
	items := make([]json.RawMessage, 0, len(env.Items))
	for _, it := range env.Items {
		k, kerr := keyOf(it)
		if kerr != nil {
			s.logger.Warn("dropping unkeyed stored item", zap.String("path", s.path), zap.Error(kerr))
			continue
		}
		if _, dup := byKey[k]; dup {
			continue
		}
		byKey[k] = len(items)
		items = append(items, it)
	}

	for _, it := range newItems {
		k, kerr := keyOf(it)
		if kerr != nil {
			return 0, 0, fmt.Errorf("key new item: %w", kerr)
		}
		idx, exists := byKey[k]
		switch {
		case !exists:
			byKey[k] = len(items)
			items = append(items, it)
			created++
		case !bytes.Equal(compactJSON(items[idx]), compactJSON(it)):
			items[idx] = it
			updated++
		}
	}

	env.Items = items
	env.Metadata["updated_at"] = s.clock.Now().UTC().Format(time.RFC3339)
	for k, v := range metadataPatch {
		env.Metadata[k] = v
	}

	if err := s.saveLocked(env); err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}

func compactJSON(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// GetAll returns the stored item records, silently dropping entries that are
// not JSON objects.
func (s *Store) GetAll(ctx context.Context) ([]json.RawMessage, error) {
	env, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(env.Items))
	for _, it := range env.Items {
		if isJSONObject(it) {
			out = append(out, it)
		}
	}
	return out, nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(raw)
}
