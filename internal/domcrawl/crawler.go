// Package domcrawl implements C5, the DOMCrawler: a bounded breadth-
// first crawl driven by a headless browser, extracting contact/menu
// text, discovering internal links, and capturing screenshots and
// triggered downloads as artifacts. This is the most involved
// sub-component besides the orchestrator (spec.md §4.5).
package domcrawl

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/cost"
	"github.com/sells-group/restaurant-intel/internal/model"
	"github.com/sells-group/restaurant-intel/internal/sitemap"
)

// Hints are optional known facts that stabilize extraction (not used to
// filter results, only to prime the working record before the crawl).
type Hints struct {
	Name    string
	Address string
}

// workItem is one BFS queue entry.
type workItem struct {
	url      string
	pageType sitemap.PageType
	depth    int
}

// Result is the yield of one crawl, matching spec.md §4.5's contract:
// per-field observations, artifacts, raw HTML by URL (for pages where
// structured extraction was sparse), crawled URLs, errors, duration,
// and a cost estimate.
type Result struct {
	Record      *model.PartialRecord
	Artifacts   []model.ArtifactRef
	HTMLByURL   map[string]string
	CrawledURLs []string
	Errors      []error
	Duration    time.Duration
	CostUSD     float64
}

// priorityOrder ranks page types the BFS queue prepends ahead of
// default-priority discoveries (spec.md §4.5 step 5).
var priorityOrder = map[sitemap.PageType]int{
	sitemap.PageMenu:        0,
	sitemap.PageContact:     1,
	sitemap.PageAbout:       2,
	sitemap.PageReservation: 3,
}

// Crawler drives one DOMCrawler pass over a single browser context.
type Crawler struct {
	browser  capability.Browser
	artifact capability.Artifact
	costCalc *cost.Calculator
	opts     model.CrawlerOptions
}

// New builds a Crawler.
func New(browser capability.Browser, artifact capability.Artifact, costCalc *cost.Calculator, opts model.CrawlerOptions) *Crawler {
	return &Crawler{browser: browser, artifact: artifact, costCalc: costCalc, opts: opts}
}

// Run executes the bounded BFS crawl starting at targetURL, seeded with
// any priority paths C4 discovered.
func (c *Crawler) Run(ctx context.Context, targetURL string, priorityPaths []sitemap.ClassifiedURL, hints Hints) *Result {
	start := time.Now()
	result := &Result{
		Record:    model.NewPartialRecord(targetURL),
		HTMLByURL: make(map[string]string),
	}

	deadline := time.Now().Add(durationOrDefault(c.opts.MaxWallTimeS, 240))
	maxPages := intOrDefault(c.opts.MaxPages, 15)
	maxDepth := intOrDefault(c.opts.MaxDepth, 3)

	page, err := c.browser.NewPage(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err)
		result.Duration = time.Since(start)
		return result
	}
	defer page.Close() //nolint:errcheck

	visited := make(map[string]bool)
	queue := c.seedQueue(targetURL, priorityPaths, visited)

	base, err := url.Parse(targetURL)
	if err != nil {
		result.Errors = append(result.Errors, err)
		result.Duration = time.Since(start)
		return result
	}

	pagesVisited := 0
	for len(queue) > 0 {
		if pagesVisited >= maxPages || time.Now().After(deadline) || ctx.Err() != nil {
			break
		}
		item := queue[0]
		queue = queue[1:]

		pageCtx, cancel := context.WithDeadline(ctx, deadline)
		c.processPage(pageCtx, page, item, base, result)
		cancel()
		pagesVisited++
		result.CrawledURLs = append(result.CrawledURLs, item.url)

		if item.depth >= maxDepth {
			continue
		}

		links := c.discoverLinks(ctx, page, base)
		var prepend, append_ []workItem
		for _, link := range links {
			norm, err := normalizeURL(link)
			if err != nil || visited[norm] {
				continue
			}
			visited[norm] = true
			pt := classifyDiscoveredURL(link)
			next := workItem{url: link, pageType: pt, depth: item.depth + 1}
			if _, ok := priorityOrder[pt]; ok {
				prepend = append(prepend, next)
			} else {
				append_ = append(append_, next)
			}
		}
		queue = append(append(prepend, queue...), append_...)
	}

	result.CostUSD = c.costCalc.BrowserPageLoad(pagesVisited) + c.costCalc.BrowserScreenshot(pagesVisited)
	result.Duration = time.Since(start)
	return result
}

func (c *Crawler) seedQueue(targetURL string, priorityPaths []sitemap.ClassifiedURL, visited map[string]bool) []workItem {
	var queue []workItem

	if norm, err := normalizeURL(targetURL); err == nil {
		visited[norm] = true
	}
	queue = append(queue, workItem{url: targetURL, pageType: "homepage", depth: 0})

	var prepend []workItem
	for _, p := range priorityPaths {
		norm, err := normalizeURL(p.URL)
		if err != nil || visited[norm] {
			continue
		}
		visited[norm] = true
		prepend = append(prepend, workItem{url: p.URL, pageType: p.PageType, depth: 1})
	}
	return append([]workItem{queue[0]}, prepend...)
}

// processPage runs the per-page pipeline: navigate, capture download,
// screenshot, run targeted extractors, merge observations.
func (c *Crawler) processPage(ctx context.Context, page capability.BrowserPage, item workItem, base *url.URL, result *Result) {
	if err := page.Navigate(ctx, item.url); err != nil {
		result.Errors = append(result.Errors, err)
		zap.L().Debug("domcrawl: navigation failed, skipping page", zap.String("url", item.url), zap.Error(err))
		return
	}

	if data, ok, err := page.WaitDownload(ctx); err != nil {
		result.Errors = append(result.Errors, err)
	} else if ok && len(data) > 0 {
		if ref, err := c.artifact.Put(ctx, data, model.MediaPDF, item.url); err == nil {
			result.Artifacts = append(result.Artifacts, *ref)
		}
	}

	if shot, err := page.Screenshot(ctx, true); err == nil {
		caption := string(item.pageType) + ": " + item.url
		if ref, err := c.artifact.Put(ctx, shot, model.MediaImagePNG, caption); err == nil {
			result.Artifacts = append(result.Artifacts, *ref)
		}
	}

	html, err := page.Content(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return
	}

	extracted := extractFromHTML(html, item.pageType)
	now := time.Now()
	for _, email := range extracted.Emails {
		result.Record.Description.Append(model.NewRawField("email:"+email, model.SourceDOM, model.SourcePrior[model.SourceDOM], now))
	}
	for _, phone := range extracted.Phones {
		result.Record.Phone.Append(model.NewRawField(model.Phone{Raw: phone}, model.SourceDOM, model.SourcePrior[model.SourceDOM], now))
	}
	if len(extracted.Social.ByPlatform) > 0 || len(extracted.Social.Other) > 0 {
		result.Record.Social.Append(model.NewRawField(extracted.Social, model.SourceDOM, model.SourcePrior[model.SourceDOM], now))
	}

	sparse := len(extracted.MenuText) < 100 && len(extracted.AboutText) < 100 && len(extracted.ContactText) < 100
	if isNotableType(item.pageType) && sparse {
		result.HTMLByURL[item.url] = html
	}
	if extracted.MenuText != "" {
		result.Record.Description.Append(model.NewRawField("menu_text:"+extracted.MenuText, model.SourceDOM, model.SourcePrior[model.SourceDOM]*0.5, now))
	}
	if extracted.AboutText != "" {
		result.Record.Description.Append(model.NewRawField(extracted.AboutText, model.SourceDOM, model.SourcePrior[model.SourceDOM], now))
	}
}

func (c *Crawler) discoverLinks(ctx context.Context, page capability.BrowserPage, base *url.URL) []string {
	hrefs, err := page.Query(ctx, "a[href]")
	if err != nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, html := range hrefs {
		href := extractHrefAttr(html)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			continue
		}
		resolved, err := url.Parse(href)
		if err != nil {
			continue
		}
		absolute := base.ResolveReference(resolved)
		if !sameRegistrableHost(absolute.Host, base.Host) {
			continue
		}
		absolute.Fragment = ""
		s := absolute.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func extractHrefAttr(html string) string {
	const marker = `href="`
	idx := strings.Index(html, marker)
	if idx == -1 {
		return ""
	}
	rest := html[idx+len(marker):]
	end := strings.IndexByte(rest, '"')
	if end == -1 {
		return ""
	}
	return rest[:end]
}

func classifyDiscoveredURL(rawURL string) sitemap.PageType {
	return sitemap.ClassifyURL(rawURL)
}

func isNotableType(pt sitemap.PageType) bool {
	switch pt {
	case sitemap.PageMenu, sitemap.PageContact, sitemap.PageAbout:
		return true
	default:
		return false
	}
}

func durationOrDefault(s float64, def float64) time.Duration {
	if s <= 0 {
		s = def
	}
	return time.Duration(s * float64(time.Second))
}

func intOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
