package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// robotsPolicy answers whether a URL may be fetched under the site's
// robots.txt. A nil group allows everything.
type robotsPolicy struct {
	group *robotstxt.Group
}

func (p robotsPolicy) allowed(rawURL string) bool {
	if p.group == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return p.group.Test(u.Path)
}

// loadRobots fetches the site's robots.txt once per scrape run. Probe
// failures fall back to allow-all: an unreachable robots.txt must not stall
// the pipeline, and status semantics (4xx allow, 5xx disallow) are handled
// by the parser.
func (f *Fetcher) loadRobots(ctx context.Context) robotsPolicy {
	if !f.cfg.RespectRobots {
		return robotsPolicy{}
	}

	base, err := url.Parse(f.cfg.BaseURL)
	if err != nil {
		return robotsPolicy{}
	}
	robotsURL := base.Scheme + "://" + base.Host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return robotsPolicy{}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	client := &http.Client{Timeout: f.cfg.RequestTimeout}
	resp, err := client.Do(req)
	if err != nil {
		f.logger.Warn("robots.txt probe failed, allowing all", zap.Error(err))
		return robotsPolicy{}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.logger.Warn("robots.txt read failed, allowing all", zap.Error(err))
		return robotsPolicy{}
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		f.logger.Warn("robots.txt parse failed, allowing all", zap.Error(err))
		return robotsPolicy{}
	}
	return robotsPolicy{group: data.FindGroup(f.cfg.UserAgent)}
}
