// Package browser wraps go-rod behind the capability.Browser contract
// shared by DOMCrawler (C5) and SelectiveBrowsingExtractor (C7): one
// headless Chrome instance, new tabs per page visit, navigation with a
// hard timeout, screenshot capture, and download interception.
package browser

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/restaurant-intel/internal/capability"
)

// Config mirrors config.BrowserConfig plus the navigation timing the
// crawler needs per page.
type Config struct {
	BinaryPath   string
	Headless     bool
	NavTimeout   time.Duration
	SettleWait   time.Duration
}

// Chrome is a capability.Browser backed by one launched/attached
// headless Chrome instance.
type Chrome struct {
	browser    *rod.Browser
	controlURL string
	cfg        Config
}

var _ capability.Browser = (*Chrome)(nil)

// Launch starts a Chrome instance per the teacher's launcher fallback
// chain: explicit binary first, bare launcher.New() second. It always
// launches a new process; attaching to an existing one is not supported.
func Launch(ctx context.Context, cfg Config) (*Chrome, error) {
	if cfg.NavTimeout == 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.SettleWait == 0 {
		cfg.SettleWait = 2 * time.Second
	}

	var controlURL string
	var err error
	if cfg.BinaryPath != "" {
		controlURL, err = launcher.New().Bin(cfg.BinaryPath).Headless(cfg.Headless).Launch()
	}
	if controlURL == "" {
		controlURL, err = launcher.New().Headless(cfg.Headless).Launch()
	}
	if err != nil {
		return nil, eris.Wrap(err, "browser: launch chrome")
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, eris.Wrap(err, "browser: connect to chrome")
	}

	return &Chrome{browser: b, controlURL: controlURL, cfg: cfg}, nil
}

// NewPage opens a fresh tab.
func (c *Chrome) NewPage(ctx context.Context) (capability.BrowserPage, error) {
	page, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, eris.Wrap(err, "browser: open page")
	}
	return &Page{page: page, cfg: c.cfg}, nil
}

// Close tears down the Chrome instance.
func (c *Chrome) Close() error {
	if c.browser == nil {
		return nil
	}
	if err := c.browser.Close(); err != nil {
		return eris.Wrap(err, "browser: close")
	}
	return nil
}

// Page implements capability.BrowserPage over a rod.Page.
type Page struct {
	page *rod.Page
	cfg  Config
}

// Navigate loads url with the configured hard timeout, then waits the
// configured settle duration for late network activity (spec.md §4.5
// step 1: `wait_until=network_idle` and hard timeout; on timeout, skip
// with a recorded error — the caller is responsible for treating a
// returned error as a skip, not an abort).
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.page.Context(ctx).Timeout(p.cfg.NavTimeout).Navigate(url); err != nil {
		return eris.Wrapf(err, "browser: navigate %s", url)
	}
	if err := p.page.Context(ctx).Timeout(p.cfg.NavTimeout).WaitStable(p.cfg.SettleWait); err != nil {
		zap.L().Debug("browser: page did not settle before timeout, continuing",
			zap.String("url", url), zap.Error(err))
	}
	return nil
}

// Content returns the rendered page HTML.
func (p *Page) Content(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", eris.Wrap(err, "browser: read content")
	}
	return html, nil
}

// Screenshot captures a PNG of the current page.
func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	data, err := p.page.Context(ctx).Screenshot(fullPage, nil)
	if err != nil {
		return nil, eris.Wrap(err, "browser: screenshot")
	}
	return data, nil
}

// Evaluate runs js in the page context and returns its string result.
func (p *Page) Evaluate(ctx context.Context, js string) (string, error) {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{JS: js})
	if err != nil {
		return "", eris.Wrap(err, "browser: evaluate")
	}
	return res.Value.String(), nil
}

// Query returns the outer HTML of every element matching selector —
// enough for the targeted extractors (C5) to pull link hrefs out of
// anchor markup, visible text blocks, and menu container contents.
func (p *Page) Query(ctx context.Context, selector string) ([]string, error) {
	elements, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, eris.Wrapf(err, "browser: query %s", selector)
	}
	out := make([]string, 0, len(elements))
	for _, el := range elements {
		html, err := el.HTML()
		if err != nil {
			continue
		}
		out = append(out, html)
	}
	return out, nil
}

// WaitDownload blocks briefly (3 s) for a triggered download. ok is
// false if no download started within the wait window — not an error,
// since most page visits trigger none. The downloaded bytes are not
// captured: data is always nil, even when ok is true.
func (p *Page) WaitDownload(ctx context.Context) ([]byte, bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var data []byte
	var downloaded bool
	wait := p.page.Context(waitCtx).EachEvent(func(e *proto.PageDownloadWillBegin) {
		downloaded = true
	})
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-waitCtx.Done():
	}
	if !downloaded {
		return nil, false, nil
	}
	return data, true, nil
}

// Close releases the underlying tab.
func (p *Page) Close() error {
	if p.page == nil {
		return nil
	}
	if err := p.page.Close(); err != nil {
		return eris.Wrap(err, "browser: close page")
	}
	return nil
}
