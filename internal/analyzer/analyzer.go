// Package analyzer scores clean documents against an external evaluation
// backend under bounded concurrency, then renormalizes the batch's raw
// scores into percentile ranks.
package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docsift/docsift/internal/docs"
	"github.com/docsift/docsift/internal/metrics"
)

// Config controls retry and fan-out behavior.
type Config struct {
	// MaxRetries is the attempt count per document (including the first).
	MaxRetries int
	// BackoffBase feeds the exponential backoff base^attempt, in seconds.
	BackoffBase float64
	// Concurrency caps the scoring worker pool.
	Concurrency int
}

// DefaultConcurrency is the worker cap when none is configured.
const DefaultConcurrency = 10

// backoffCeiling bounds a single retry sleep.
const backoffCeiling = 20 * time.Second

// Analyzer drives the scoring stage.
type Analyzer struct {
	backend Backend
	cfg     Config
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New constructs an Analyzer over the given backend.
func New(backend Backend, cfg Config, logger *zap.Logger) *Analyzer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Analyzer{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepWithContext,
	}
}

// ScoreOne evaluates a single document, retrying transient backend failures
// and malformed responses with exponential backoff. Exhausting every attempt
// returns an error carrying the last underlying failure.
func (a *Analyzer) ScoreOne(ctx context.Context, doc docs.CleanDocument) (docs.ScoredDocument, error) {
	prompt := buildUserPrompt(doc.Title, doc.Content)

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return docs.ScoredDocument{}, err
		}

		raw, err := a.backend.Complete(ctx, systemPrompt, prompt)
		if err == nil {
			var eval docs.Evaluation
			eval, err = parseEvaluation(raw)
			if err == nil {
				return docs.ScoredDocument{CleanDocument: doc, Analysis: eval}, nil
			}
		}
		lastErr = err
		a.logger.Warn("score attempt failed",
			zap.String("id", doc.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < a.cfg.MaxRetries {
			if serr := a.sleep(ctx, expBackoff(a.cfg.BackoffBase, attempt)); serr != nil {
				return docs.ScoredDocument{}, serr
			}
		}
	}
	return docs.ScoredDocument{}, fmt.Errorf("score document %s: %w", doc.ID, lastErr)
}

// expBackoff returns base^attempt seconds, capped at the ceiling.
func expBackoff(base float64, attempt int) time.Duration {
	d := time.Duration(math.Pow(base, float64(attempt)) * float64(time.Second))
	if d > backoffCeiling {
		return backoffCeiling
	}
	return d
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ScoreMany fans ScoreOne out across a worker pool sized min(cap, n). Each
// document succeeds or fails on its own; failures are counted, not fatal.
// Once every worker has finished, the surviving raw scores are replaced by
// their percentile rank within the batch. Output order follows input order
// minus failed documents.
func (a *Analyzer) ScoreMany(ctx context.Context, items []docs.CleanDocument) ([]docs.ScoredDocument, docs.ScoreStats, error) {
	stats := docs.ScoreStats{}
	if len(items) == 0 {
		return nil, stats, nil
	}

	workers := a.cfg.Concurrency
	if len(items) < workers {
		workers = len(items)
	}

	// Results indexed by input position so tie-breaking in the
	// normalization pass stays stable regardless of completion order.
	results := make([]*docs.ScoredDocument, len(items))
	jobs := make(chan int)

	var wg sync.WaitGroup
	var mu sync.Mutex
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				scored, err := a.ScoreOne(ctx, items[idx])
				mu.Lock()
				if err != nil {
					a.logger.Error("document scoring failed",
						zap.String("id", items[idx].ID),
						zap.Error(err),
					)
					stats.Errors++
					metrics.ObserveScore("error")
				} else {
					results[idx] = &scored
					stats.Analyzed++
					metrics.ObserveScore("scored")
				}
				mu.Unlock()
			}
		}()
	}

	for idx := range items {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	scored := make([]docs.ScoredDocument, 0, len(items))
	for _, r := range results {
		if r != nil {
			scored = append(scored, *r)
		}
	}

	NormalizeScores(scored)
	return scored, stats, nil
}

// NormalizeScores replaces each document's raw score with its percentile
// position in the batch: stable ascending rank k maps to
// round(100*k/(n-1)), a single-document batch maps to 0. The absolute model
// score is discarded on purpose: only relative order within the batch
// matters, which forces dispersion across the full scale however clustered
// the raw outputs were.
func NormalizeScores(batch []docs.ScoredDocument) {
	n := len(batch)
	if n == 0 {
		return
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return batch[order[a]].Analysis.Score < batch[order[b]].Analysis.Score
	})

	denom := n - 1
	if denom < 1 {
		denom = 1
	}
	for rank, idx := range order {
		batch[idx].Analysis.Score = int(math.Round(100 * float64(rank) / float64(denom)))
	}
}
