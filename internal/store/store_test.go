package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLocker struct {
	acquired int
	fail     error
}

func (l *fakeLocker) Acquire(context.Context) (func(), error) {
	if l.fail != nil {
		return nil, l.fail
	}
	l.acquired++
	return func() {}, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func newTestStore(t *testing.T) (*Store, *fakeLocker) {
	t.Helper()
	locker := &fakeLocker{}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "docs_raw.json")
	return New(path, locker, clock, zap.NewNop()), locker
}

func item(t *testing.T, id, title string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]string{"id": id, "title": title})
	require.NoError(t, err)
	return data
}

func TestLoadMissingFileReturnsEmptyEnvelope(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	env, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, env.Items)
	require.NotNil(t, env.Metadata)
}

func TestLoadCorruptFileReturnsEmptyEnvelope(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))

	env, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, env.Items)
}

func TestUpsertManyIsIdempotent(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()
	items := []json.RawMessage{
		item(t, "a", "First"),
		item(t, "b", "Second"),
	}

	created, updated, err := s.UpsertMany(ctx, items, KeyByID, nil)
	require.NoError(t, err)
	require.Equal(t, 2, created)
	require.Equal(t, 0, updated)

	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	created, updated, err = s.UpsertMany(ctx, items, KeyByID, nil)
	require.NoError(t, err)
	require.Equal(t, 0, created)
	require.Equal(t, 0, updated)

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.JSONEq(t, string(before), string(after))
}

func TestUpsertManyCountsChangedItems(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertMany(ctx, []json.RawMessage{item(t, "a", "First")}, KeyByID, nil)
	require.NoError(t, err)

	created, updated, err := s.UpsertMany(ctx, []json.RawMessage{
		item(t, "a", "Changed"),
		item(t, "b", "New"),
	}, KeyByID, nil)
	require.NoError(t, err)
	require.Equal(t, 1, created)
	require.Equal(t, 1, updated)
}

func TestUpsertManyMergesMetadataPatch(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertMany(ctx, []json.RawMessage{item(t, "a", "First")}, KeyByID, map[string]any{
		"last_scrape_at": "2025-06-01T12:00:00Z",
	})
	require.NoError(t, err)

	env, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "2025-06-01T12:00:00Z", env.Metadata["last_scrape_at"])
	require.Equal(t, "2025-06-01T12:00:00Z", env.Metadata["updated_at"])
}

func TestGetAllDropsMalformedItems(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	env := Envelope{
		Metadata: map[string]any{},
		Items: []json.RawMessage{
			json.RawMessage(`{"id":"a","title":"ok"}`),
			json.RawMessage(`"just a string"`),
			json.RawMessage(`42`),
		},
	}
	require.NoError(t, s.Save(context.Background(), env))

	items, err := s.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestSaveSurvivesStrayTempFile(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertMany(ctx, []json.RawMessage{item(t, "a", "First")}, KeyByID, nil)
	require.NoError(t, err)

	// A crash between temp write and rename leaves a temp sibling behind;
	// the destination file must stay intact and loadable.
	stray := s.Path() + ".tmp-crash"
	require.NoError(t, os.WriteFile(stray, []byte("{\"metadata\":"), 0o600))

	env, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, env.Items, 1)
}

func TestSavePreservesUnicode(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	raw := json.RawMessage(`{"id":"a","title":"Préférences — réglages"}`)
	_, _, err := s.UpsertMany(ctx, []json.RawMessage{raw}, KeyByID, nil)
	require.NoError(t, err)

	items, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	var decoded struct {
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(items[0], &decoded))
	require.Equal(t, "Préférences — réglages", decoded.Title)
}

func TestLockFailureIsFatal(t *testing.T) {
	t.Parallel()
	locker := &fakeLocker{fail: ErrLockTimeout}
	clock := &fakeClock{now: time.Now()}
	s := New(filepath.Join(t.TempDir(), "docs.json"), locker, clock, zap.NewNop())

	_, err := s.Load(context.Background())
	require.ErrorIs(t, err, ErrLockTimeout)

	_, _, err = s.UpsertMany(context.Background(), nil, KeyByID, nil)
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestFlockLockerTimesOutWhenHeld(t *testing.T) {
	t.Parallel()
	lockPath := filepath.Join(t.TempDir(), "docs.json.lock")

	first := NewFlockLocker(lockPath, time.Second)
	release, err := first.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	second := NewFlockLocker(lockPath, 200*time.Millisecond)
	_, err = second.Acquire(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrLockTimeout))
}
