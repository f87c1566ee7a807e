// Package httpx provides a polite, retrying HTTP client shared by every
// component that fetches from an external web server directly
// (SitemapAnalyzer's robots/sitemap fetches and the orchestrator's
// homepage fetch for structured markup). PlacesClient's directory calls
// go through pkg/google's own http.Client, not this package. Headless
// browser navigation (DOMCrawler, SelectiveBrowsingExtractor) goes through
// internal/browser instead.
package httpx

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/restaurant-intel/internal/resilience"
)

// Options configures the client.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial). On 429 it
// halves the rate (down to initial/4 minimum). Client keeps one of these
// per host.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("httpx: reducing rate after 429", zap.Float64("new_rate", float64(newRate)))
}

// Client implements polite, retrying HTTP fetches with per-host adaptive
// rate limiting and transient-error classification shared with
// internal/resilience.
type Client struct {
	http     *http.Client
	opts     Options
	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
	// defaultRate/defaultBurst seed a new per-host limiter the first time
	// a host is seen.
	defaultRate  rate.Limit
	defaultBurst int
}

// New creates a Client with sensible defaults.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "restaurant-intel/1.0 (+https://github.com/sells-group/restaurant-intel)"
	}
	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:         opts,
		limiters:     make(map[string]*AdaptiveLimiter),
		defaultRate:  5,
		defaultBurst: 5,
	}
}

func (c *Client) limiterFor(rawURL string) *AdaptiveLimiter {
	u, err := url.Parse(rawURL)
	host := ""
	if err == nil {
		host = u.Host
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(c.defaultRate, c.defaultBurst)
		c.limiters[host] = lim
	}
	return lim
}

// SetHostRate overrides the initial rate/burst used for a given host,
// replacing any limiter already created for it.
func (c *Client) SetHostRate(host string, r rate.Limit, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiters[host] = NewAdaptiveLimiter(r, burst)
}

// Do executes req with retry, adaptive rate limiting, and transient-error
// classification. The caller's request body, if any, must be re-readable
// across retries (use NewRequestWithContext with a fixed []byte body).
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	lim := c.limiterFor(req.URL.String())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "httpx: rate limiter wait")
		}

		cloned := req.Clone(ctx)
		resp, err := c.http.Do(cloned)
		if err != nil {
			lastErr = resilience.NewTransientError(err, 0)
			zap.L().Warn("httpx: request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			_ = resp.Body.Close()
			lastErr = resilience.NewTransientError(eris.Errorf("httpx: 429 from %s", req.URL.String()), resp.StatusCode)
			lim.OnRateLimit()
			c.backoff(ctx, attempt)
			continue
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			_ = resp.Body.Close()
			lastErr = resilience.NewTransientError(eris.Errorf("httpx: %d from %s", resp.StatusCode, req.URL.String()), resp.StatusCode)
			c.backoff(ctx, attempt)
			continue
		}

		lim.OnSuccess()
		return resp, nil
	}

	return nil, eris.Wrap(lastErr, "httpx: all retries exhausted")
}

func (c *Client) backoff(ctx context.Context, attempt int) {
	base := 500 * time.Millisecond
	maxBackoff := 20 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
	d += jitter

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Get fetches rawURL and returns the body. The caller must close it.
func (c *Client) Get(ctx context.Context, rawURL string) (io.ReadCloser, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "httpx: create request")
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.StatusCode, nil
}

// GetBytes fetches rawURL fully into memory, capped at maxBytes.
func (c *Client) GetBytes(ctx context.Context, rawURL string, maxBytes int64) ([]byte, int, error) {
	body, status, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, status, err
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(body, maxBytes))
	if err != nil {
		return nil, status, eris.Wrap(err, "httpx: read body")
	}
	return data, status, nil
}
