package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docsift/docsift/internal/docs"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func newTestFetcher(t *testing.T, baseURL string, retries int) *Fetcher {
	t.Helper()
	f, err := New(Config{
		BaseURL:        baseURL,
		UserAgent:      "docsift-test/1.0",
		RequestTimeout: 2 * time.Second,
		MaxRetries:     retries,
		RequestDelay:   0,
	}, &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func docPage(title, body string) string {
	return fmt.Sprintf(`<html><head><title>%s</title></head><body><main><h1>%s</h1><p>%s</p></main></body></html>`, title, title, body)
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "page body")
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL+"/docs/", 3)
	body, ok := f.Fetch(context.Background(), srv.URL+"/docs/page")
	require.True(t, ok)
	require.Equal(t, "page body", body)
	require.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestFetchGivesUpAfterAllAttempts(t *testing.T) {
	t.Parallel()
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL+"/docs/", 2)
	_, ok := f.Fetch(context.Background(), srv.URL+"/docs/page")
	require.False(t, ok)
	require.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func discoveryHandler(srvURL func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/docs/", "/docs":
			fmt.Fprintf(w, `<html><body>
<a href="/docs/alpha">Alpha</a>
<a href="/docs/beta#section">Beta</a>
<a href="/docs/alpha/">Alpha again</a>
<a href="/pricing">Pricing</a>
<a href="https://elsewhere.example/docs/offsite">Offsite</a>
<a href="%s/docs/gamma">Gamma absolute</a>
</body></html>`, srvURL())
		case "/docs/alpha":
			fmt.Fprint(w, docPage("Alpha", "Alpha page content for testing."))
		case "/docs/beta":
			fmt.Fprint(w, docPage("Beta", "Beta page content for testing."))
		case "/docs/gamma":
			fmt.Fprint(w, docPage("Gamma", "Gamma page content for testing."))
		default:
			http.NotFound(w, r)
		}
	}
}

func TestDiscoverLinksFiltersAndSorts(t *testing.T) {
	t.Parallel()
	var srv *httptest.Server
	srv = httptest.NewServer(discoveryHandler(func() string { return srv.URL }))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL+"/docs/", 2)
	links, err := f.DiscoverLinks(context.Background())
	require.NoError(t, err)

	expected := []string{
		srv.URL + "/docs",
		srv.URL + "/docs/alpha",
		srv.URL + "/docs/beta",
		srv.URL + "/docs/gamma",
	}
	sort.Strings(expected)
	require.Equal(t, expected, links)

	// Unchanged input content yields the identical ordered list.
	again, err := f.DiscoverLinks(context.Background())
	require.NoError(t, err)
	require.Equal(t, links, again)
}

func TestScrapeAllCollectsDocuments(t *testing.T) {
	t.Parallel()
	var srv *httptest.Server
	srv = httptest.NewServer(discoveryHandler(func() string { return srv.URL }))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL+"/docs/", 2)
	items, stats, err := f.ScrapeAll(context.Background())
	require.NoError(t, err)

	// Seed plus the three linked pages, each with unique text.
	require.Equal(t, 4, stats.Discovered)
	require.Equal(t, 4, stats.Fetched)
	require.Len(t, items, 4)

	byURL := map[string]docs.Document{}
	for _, it := range items {
		byURL[it.URL] = it
	}
	alpha := byURL[srv.URL+"/docs/alpha"]
	require.Equal(t, "Alpha", alpha.Title)
	require.Contains(t, alpha.Content, "Alpha page content")
	require.Equal(t, docs.IDFromURL(srv.URL+"/docs/alpha"), alpha.ID)
	require.Len(t, alpha.ID, docs.IDLength)
}

func TestScrapeAllSkipsDuplicateContent(t *testing.T) {
	t.Parallel()
	page := docPage("Same", "Identical body on every page.")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/docs/", "/docs":
			fmt.Fprint(w, `<html><body><a href="/docs/one">One</a><a href="/docs/two">Two</a></body></html>`)
		default:
			fmt.Fprint(w, page)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL+"/docs/", 2)
	items, stats, err := f.ScrapeAll(context.Background())
	require.NoError(t, err)

	// /docs/one and /docs/two serve byte-identical pages: exactly one kept.
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, 2, stats.Fetched)
	require.Len(t, items, 2)
}

func TestScrapeAllCountsUnfetchablePages(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/docs/", "/docs":
			fmt.Fprint(w, `<html><body><a href="/docs/broken">Broken</a></body></html>`)
		case "/docs/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			fmt.Fprint(w, docPage("Seed", "Seed page content."))
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL+"/docs/", 2)
	items, stats, err := f.ScrapeAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Errors)
	require.Len(t, items, 1)
}

func TestScrapeAllHonorsRobots(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			fmt.Fprint(w, "User-agent: *\nDisallow: /docs/private\n")
		case "/docs/", "/docs":
			fmt.Fprint(w, `<html><body><a href="/docs/private">Private</a><a href="/docs/public">Public</a></body></html>`)
		case "/docs/private":
			fmt.Fprint(w, docPage("Private", "Should never be fetched."))
		case "/docs/public":
			fmt.Fprint(w, docPage("Public", "Public page content."))
		default:
			fmt.Fprint(w, docPage("Seed", "Seed page content."))
		}
	}))
	defer srv.Close()

	f, err := New(Config{
		BaseURL:        srv.URL + "/docs/",
		UserAgent:      "docsift-test/1.0",
		RequestTimeout: 2 * time.Second,
		MaxRetries:     2,
		RequestDelay:   0,
		RespectRobots:  true,
	}, &fixedClock{now: time.Now()}, zap.NewNop())
	require.NoError(t, err)

	items, stats, err := f.ScrapeAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Skipped)
	for _, it := range items {
		require.NotContains(t, it.URL, "/docs/private")
	}
}
