// Package fetcher discovers same-site documentation URLs and retrieves page
// content, tolerating transient network failures.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/docsift/docsift/internal/docs"
	"github.com/docsift/docsift/internal/metrics"
	"github.com/docsift/docsift/internal/policy/ratelimit"
)

// Config controls discovery and retrieval behavior.
type Config struct {
	// BaseURL is the seed documentation page.
	BaseURL string
	// UserAgent identifies the scraper to the source site.
	UserAgent string
	// RequestTimeout bounds each HTTP attempt.
	RequestTimeout time.Duration
	// MaxRetries is the attempt count per URL (including the first).
	MaxRetries int
	// RequestDelay paces sequential page fetches.
	RequestDelay time.Duration
	// RespectRobots enables robots.txt Disallow handling for discovered URLs.
	RespectRobots bool
}

// Fetcher retrieves documentation pages from a single site.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	clock         docs.Clock
	logger        *zap.Logger
}

// New constructs a Fetcher with a tuned Colly collector.
func New(cfg Config, clock docs.Clock, logger *zap.Logger) (*Fetcher, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("fetcher: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("fetcher: parse base URL: %w", err)
	}

	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	)
	base.AllowURLRevisit = true
	base.IgnoreRobotsTxt = true // robots handling lives in this package, not colly
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: base,
		limiter:       ratelimit.New(cfg.RequestDelay),
		clock:         clock,
		logger:        logger,
	}, nil
}

type fetchResult struct {
	body []byte
	err  error
}

// visit performs a single attempt against the URL via a cloned collector.
func (f *Fetcher) visit(rawURL string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{body: append([]byte{}, r.Body...)})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("HTTP %d: %w", r.StatusCode, err)
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return nil, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		return res.body, res.err
	default:
		return nil, errors.New("fetch produced no result")
	}
}

const (
	backoffStep = 400 * time.Millisecond
	backoffCap  = 2 * time.Second
)

// Fetch retrieves a page, retrying transport errors and non-success statuses
// with a small linear backoff. When every attempt fails it returns ok=false
// rather than an error: the caller decides whether that counts as a skip or
// an error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (body string, ok bool) {
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return "", false
		}
		data, err := f.visit(rawURL)
		if err == nil {
			return string(data), true
		}
		f.logger.Warn("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < f.cfg.MaxRetries {
			if serr := sleepWithContext(ctx, linearBackoff(attempt)); serr != nil {
				return "", false
			}
		}
	}
	return "", false
}

func linearBackoff(attempt int) time.Duration {
	d := backoffStep * time.Duration(attempt)
	if d > backoffCap {
		return backoffCap
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

// DiscoverLinks fetches the seed page and returns the deduplicated, sorted
// set of same-site documentation links, always including the seed itself.
// Sorting makes repeated runs traverse pages in a stable order.
func (f *Fetcher) DiscoverLinks(ctx context.Context) ([]string, error) {
	html, ok := f.Fetch(ctx, f.cfg.BaseURL)
	if !ok {
		return nil, fmt.Errorf("load seed page %s: all attempts failed", f.cfg.BaseURL)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse seed page: %w", err)
	}

	base, err := url.Parse(f.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	links := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" {
			return
		}
		ref, perr := url.Parse(href)
		if perr != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != base.Scheme || abs.Host != base.Host {
			return
		}
		if !strings.Contains(abs.Path, "/docs/") {
			return
		}
		abs.Fragment = ""
		links[strings.TrimRight(abs.String(), "/")] = struct{}{}
	})
	links[strings.TrimRight(f.cfg.BaseURL, "/")] = struct{}{}

	out := make([]string, 0, len(links))
	for link := range links {
		out = append(out, link)
	}
	sort.Strings(out)
	return out, nil
}

// ScrapeAll discovers documentation URLs and fetches each one sequentially,
// pacing requests to avoid hammering the source. Pages whose extracted text
// duplicates content already seen in this run are skipped, guarding against
// templated pages that differ only by URL.
func (f *Fetcher) ScrapeAll(ctx context.Context) ([]docs.Document, docs.ScrapeStats, error) {
	stats := docs.ScrapeStats{}

	urls, err := f.DiscoverLinks(ctx)
	if err != nil {
		return nil, stats, err
	}
	stats.Discovered = len(urls)
	f.logger.Info("discovered documentation urls", zap.Int("count", len(urls)))

	robots := f.loadRobots(ctx)

	items := make([]docs.Document, 0, len(urls))
	seenHashes := map[string]struct{}{}

	for _, pageURL := range urls {
		if ctx.Err() != nil {
			return items, stats, ctx.Err()
		}
		if !robots.allowed(pageURL) {
			f.logger.Info("skipping url disallowed by robots.txt", zap.String("url", pageURL))
			stats.Skipped++
			metrics.ObservePage("skipped")
			continue
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return items, stats, err
		}

		html, ok := f.Fetch(ctx, pageURL)
		if !ok {
			stats.Errors++
			metrics.ObservePage("error")
			continue
		}

		text, title, perr := ExtractPage(html, pageURL)
		if perr != nil {
			f.logger.Warn("page parse failed", zap.String("url", pageURL), zap.Error(perr))
			stats.Errors++
			metrics.ObservePage("error")
			continue
		}

		sum := sha256.Sum256([]byte(text))
		hash := hex.EncodeToString(sum[:])
		if _, dup := seenHashes[hash]; dup {
			f.logger.Info("skipping duplicate content", zap.String("url", pageURL))
			stats.Skipped++
			metrics.ObservePage("skipped")
			continue
		}
		seenHashes[hash] = struct{}{}

		items = append(items, docs.Document{
			ID:        docs.IDFromURL(pageURL),
			URL:       pageURL,
			Title:     title,
			Content:   text,
			FetchedAt: f.clock.Now(),
		})
		stats.Fetched++
		metrics.ObservePage("fetched")
		f.logger.Debug("scraped page",
			zap.String("url", pageURL),
			zap.Int("chars", len(text)),
		)
	}

	f.logger.Info("scrape finished",
		zap.Int("unique_pages", len(items)),
		zap.Int("discovered", stats.Discovered),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
	)
	return items, stats, nil
}
