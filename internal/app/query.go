package app

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/docsift/docsift/internal/store"
)

// ErrNotFound reports that no collection holds the requested document.
var ErrNotFound = errors.New("document not found")

// Docs returns the most processed collection available: scored, else clean,
// else raw. With sortByScore, scored items are ordered best-first.
func (p *Pipeline) Docs(ctx context.Context, sortByScore bool) ([]json.RawMessage, error) {
	items, err := p.scored.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		if items, err = p.clean.GetAll(ctx); err != nil {
			return nil, err
		}
	}
	if len(items) == 0 {
		if items, err = p.raw.GetAll(ctx); err != nil {
			return nil, err
		}
	}

	if sortByScore {
		sort.SliceStable(items, func(a, b int) bool {
			return scoreOf(items[a]) > scoreOf(items[b])
		})
	}
	return items, nil
}

func scoreOf(item json.RawMessage) int {
	var probe struct {
		Analysis struct {
			Score int `json:"score"`
		} `json:"analysis"`
	}
	if err := json.Unmarshal(item, &probe); err != nil {
		return 0
	}
	return probe.Analysis.Score
}

// DocByID looks a document up across the collections, most processed first.
func (p *Pipeline) DocByID(ctx context.Context, id string) (json.RawMessage, error) {
	for _, s := range []*store.Store{p.scored, p.clean, p.raw} {
		items, err := s.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			var probe struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(it, &probe) == nil && probe.ID == id {
				return it, nil
			}
		}
	}
	return nil, ErrNotFound
}

// Counts reports how many items each collection holds.
func (p *Pipeline) Counts(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	for name, s := range map[string]*store.Store{"raw": p.raw, "clean": p.clean, "scored": p.scored} {
		items, err := s.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		counts[name] = len(items)
	}
	return counts, nil
}
