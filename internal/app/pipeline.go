// Package app wires the pipeline stages to the envelope stores and runs
// them end to end. Each stage reads one collection, writes the next, and is
// independently re-runnable: everything is keyed by document id.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docsift/docsift/internal/analyzer"
	"github.com/docsift/docsift/internal/cleaner"
	"github.com/docsift/docsift/internal/docs"
	"github.com/docsift/docsift/internal/fetcher"
	"github.com/docsift/docsift/internal/metrics"
	"github.com/docsift/docsift/internal/store"
)

// RunResult summarizes one stage run for the caller.
type RunResult struct {
	Message string `json:"message"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
	Errors  int    `json:"errors"`
}

// Pipeline holds the three stages and their backing stores.
type Pipeline struct {
	baseURL  string
	fetcher  *fetcher.Fetcher
	cleaner  *cleaner.Cleaner
	analyzer *analyzer.Analyzer
	raw      *store.Store
	clean    *store.Store
	scored   *store.Store
	clock    docs.Clock
	logger   *zap.Logger
}

// New assembles a Pipeline from its collaborators.
func New(
	baseURL string,
	f *fetcher.Fetcher,
	c *cleaner.Cleaner,
	a *analyzer.Analyzer,
	raw, clean, scored *store.Store,
	clock docs.Clock,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		baseURL:  baseURL,
		fetcher:  f,
		cleaner:  c,
		analyzer: a,
		raw:      raw,
		clean:    clean,
		scored:   scored,
		clock:    clock,
		logger:   logger,
	}
}

// BaseURL returns the seed documentation URL.
func (p *Pipeline) BaseURL() string {
	return p.baseURL
}

func marshalItems[T any](items []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for i := range items {
		data, err := json.Marshal(items[i])
		if err != nil {
			return nil, fmt.Errorf("marshal item: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

// RunScrape discovers and fetches documentation pages, then upserts them
// into the raw collection.
func (p *Pipeline) RunScrape(ctx context.Context) (RunResult, error) {
	items, stats, err := p.fetcher.ScrapeAll(ctx)
	if err != nil {
		metrics.ObserveRun("scrape", "failed")
		return RunResult{}, err
	}

	raws, err := marshalItems(items)
	if err != nil {
		metrics.ObserveRun("scrape", "failed")
		return RunResult{}, err
	}
	created, updated, err := p.raw.UpsertMany(ctx, raws, store.KeyByID, map[string]any{
		"last_scrape_at": p.clock.Now().UTC().Format(time.RFC3339),
		"base_url":       p.baseURL,
	})
	if err != nil {
		metrics.ObserveRun("scrape", "failed")
		return RunResult{}, err
	}

	metrics.ObserveRun("scrape", "ok")
	return RunResult{
		Message: "Scrape completed",
		Created: created,
		Updated: updated,
		Skipped: stats.Skipped,
		Errors:  stats.Errors,
	}, nil
}

// ErrNoInput reports that a stage has nothing to read; the caller should run
// the prior stage first.
type ErrNoInput struct{ Stage string }

func (e ErrNoInput) Error() string {
	return fmt.Sprintf("no input for %s stage", e.Stage)
}

// RunClean normalizes raw documents that have not been cleaned yet and
// upserts them into the clean collection.
func (p *Pipeline) RunClean(ctx context.Context) (RunResult, error) {
	rawItems, err := p.raw.GetAll(ctx)
	if err != nil {
		return RunResult{}, err
	}
	if len(rawItems) == 0 {
		return RunResult{}, ErrNoInput{Stage: "clean"}
	}

	existing, err := p.existingIDs(ctx, p.clean)
	if err != nil {
		return RunResult{}, err
	}

	result := RunResult{Message: "Clean completed"}
	toClean := make([]docs.Document, 0, len(rawItems))
	for _, raw := range rawItems {
		var doc docs.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			result.Errors++
			continue
		}
		// Re-clean only documents missing from the clean collection.
		if _, ok := existing[doc.ID]; ok {
			result.Skipped++
			continue
		}
		toClean = append(toClean, doc)
	}

	cleaned := p.cleaner.CleanAll(toClean)
	result.Skipped += len(toClean) - len(cleaned)

	if len(cleaned) > 0 {
		items, err := marshalItems(cleaned)
		if err != nil {
			return RunResult{}, err
		}
		created, updated, err := p.clean.UpsertMany(ctx, items, store.KeyByID, map[string]any{
			"last_clean_at": p.clock.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			metrics.ObserveRun("clean", "failed")
			return RunResult{}, err
		}
		result.Created = created
		result.Updated = updated
	}

	metrics.ObserveRun("clean", "ok")
	return result, nil
}

// RunAnalyze scores clean documents that have no evaluation yet (all of
// them when force is set) and upserts the results into the scored
// collection.
func (p *Pipeline) RunAnalyze(ctx context.Context, force bool) (RunResult, error) {
	cleanItems, err := p.clean.GetAll(ctx)
	if err != nil {
		return RunResult{}, err
	}
	if len(cleanItems) == 0 {
		return RunResult{}, ErrNoInput{Stage: "analyze"}
	}

	existing, err := p.existingIDs(ctx, p.scored)
	if err != nil {
		return RunResult{}, err
	}

	result := RunResult{Message: "Analyze completed"}
	toScore := make([]docs.CleanDocument, 0, len(cleanItems))
	for _, raw := range cleanItems {
		var doc docs.CleanDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			result.Errors++
			continue
		}
		if _, ok := existing[doc.ID]; ok && !force {
			result.Skipped++
			continue
		}
		toScore = append(toScore, doc)
	}

	if len(toScore) == 0 {
		result.Message = "Nothing to analyze"
		return result, nil
	}

	scored, stats, err := p.analyzer.ScoreMany(ctx, toScore)
	if err != nil {
		metrics.ObserveRun("analyze", "failed")
		return RunResult{}, err
	}
	result.Errors += stats.Errors

	if len(scored) > 0 {
		items, err := marshalItems(scored)
		if err != nil {
			return RunResult{}, err
		}
		created, updated, err := p.scored.UpsertMany(ctx, items, store.KeyByID, map[string]any{
			"last_analyze_at": p.clock.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			metrics.ObserveRun("analyze", "failed")
			return RunResult{}, err
		}
		result.Created = created
		result.Updated = updated
	}

	metrics.ObserveRun("analyze", "ok")
	return result, nil
}

func (p *Pipeline) existingIDs(ctx context.Context, s *store.Store) (map[string]struct{}, error) {
	items, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(items))
	for _, it := range items {
		id, err := store.KeyByID(it)
		if err != nil {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}
