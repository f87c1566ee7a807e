// Package sitemap implements C4: robots.txt/sitemap discovery and URL
// classification. It never performs more than a bounded amount of
// network fan-out, and keeps a visited set of sub-sitemap URIs to avoid
// cycles, per spec.md §4.4.
package sitemap

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/restaurant-intel/internal/httpx"
)

// PageType is the fixed classification vocabulary a crawled/sitemap URL
// falls into.
type PageType string

const (
	PageMenu         PageType = "menu"
	PageContact      PageType = "contact"
	PageAbout        PageType = "about"
	PageReservation  PageType = "reservation"
	PageLocation     PageType = "location"
	PageBlog         PageType = "blog"
	PagePDFMenu      PageType = "pdf_menu"
	PageOther        PageType = "other"
)

const (
	maxSubSitemaps  = 10
	maxTotalURLs    = 2000
	maxBodyBytes    = 5 * 1024 * 1024
)

var conventionalSitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
}

// ClassifiedURL is one sitemap/robots-discovered URL, tagged with a
// PageType heuristic guess.
type ClassifiedURL struct {
	URL      string
	PageType PageType
}

// Result is the yield of one Analyze call.
type Result struct {
	URLs    []ClassifiedURL
	PDFURLs []string
	Errors  []error
}

// Analyzer fetches robots.txt and sitemap(s) for a base site URL.
type Analyzer struct {
	http *httpx.Client
}

// New builds a sitemap Analyzer over the given HTTP client.
func New(client *httpx.Client) *Analyzer {
	return &Analyzer{http: client}
}

// Analyze fetches robots.txt, follows every `Sitemap:` directive (or
// probes conventional paths if none are declared), recursively expands
// sitemap indices up to maxSubSitemaps/maxTotalURLs, and classifies the
// resulting URL set by path keywords.
func (a *Analyzer) Analyze(ctx context.Context, baseURL string) (*Result, error) {
	parsedBase, err := url.Parse(baseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "sitemap: invalid base URL %q", baseURL)
	}

	result := &Result{}
	sitemapURLs := a.discoverSitemapURLs(ctx, parsedBase, result)

	visited := make(map[string]bool)
	seen := make(map[string]bool)

	var walk func(sitemapURL string)
	walk = func(sitemapURL string) {
		if visited[sitemapURL] || len(visited) >= maxSubSitemaps {
			return
		}
		visited[sitemapURL] = true

		body, status, err := a.http.GetBytes(ctx, sitemapURL, maxBodyBytes)
		if err != nil || status >= 400 {
			result.Errors = append(result.Errors, eris.Wrapf(wrapStatus(err, status), "sitemap: fetch %s", sitemapURL))
			return
		}

		entries, children, perr := parseSitemapXML(body)
		if perr != nil {
			result.Errors = append(result.Errors, eris.Wrapf(perr, "sitemap: parse %s", sitemapURL))
			return
		}

		for _, loc := range entries {
			if len(seen) >= maxTotalURLs {
				return
			}
			if seen[loc] {
				continue
			}
			seen[loc] = true
			pageType := classifyURL(loc)
			result.URLs = append(result.URLs, ClassifiedURL{URL: loc, PageType: pageType})
			if pageType == PagePDFMenu || strings.HasSuffix(strings.ToLower(loc), ".pdf") {
				result.PDFURLs = append(result.PDFURLs, loc)
			}
		}

		for _, child := range children {
			if visited[child] {
				continue
			}
			walk(child)
		}
	}

	for _, su := range sitemapURLs {
		walk(su)
	}

	return result, nil
}

// discoverSitemapURLs reads robots.txt for `Sitemap:` directives,
// falling back to conventional paths when robots.txt has none.
func (a *Analyzer) discoverSitemapURLs(ctx context.Context, base *url.URL, result *Result) []string {
	robotsURL := (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/robots.txt"}).String()
	body, status, err := a.http.GetBytes(ctx, robotsURL, maxBodyBytes)
	var directives []string
	if err == nil && status < 400 {
		directives = parseRobotsSitemapDirectives(string(body))
	} else {
		zap.L().Debug("sitemap: robots.txt unavailable, falling back to conventional paths",
			zap.String("url", robotsURL), zap.Error(err))
	}

	if len(directives) > 0 {
		return directives
	}

	conventional := make([]string, 0, len(conventionalSitemapPaths))
	for _, p := range conventionalSitemapPaths {
		conventional = append(conventional, (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: p}).String())
	}
	return conventional
}

func parseRobotsSitemapDirectives(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "sitemap:") {
			val := strings.TrimSpace(line[len("sitemap:"):])
			if val != "" {
				out = append(out, val)
			}
		}
	}
	return out
}

func wrapStatus(err error, status int) error {
	if err != nil {
		return err
	}
	return eris.Errorf("unexpected status %d", status)
}

// ClassifyURL assigns a PageType by keyword matching over the URL path,
// the heuristic spec.md §4.4/§4.5 describes for both sitemap entries and
// crawl-discovered links. Exported so DOMCrawler (C5) can reuse the same
// classification for links discovered mid-crawl.
func ClassifyURL(rawURL string) PageType {
	return classifyURL(rawURL)
}

func classifyURL(rawURL string) PageType {
	lower := strings.ToLower(rawURL)
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		lower = strings.ToLower(u.Path)
	}
	switch {
	case strings.HasSuffix(lower, ".pdf") && strings.Contains(lower, "menu"):
		return PagePDFMenu
	case strings.Contains(lower, "menu"):
		return PageMenu
	case strings.Contains(lower, "contact"):
		return PageContact
	case strings.Contains(lower, "reservation"), strings.Contains(lower, "book"), strings.Contains(lower, "reserve"):
		return PageReservation
	case strings.Contains(lower, "location"), strings.Contains(lower, "directions"), strings.Contains(lower, "hours"):
		return PageLocation
	case strings.Contains(lower, "about"), strings.Contains(lower, "our-story"), strings.Contains(lower, "history"):
		return PageAbout
	case strings.Contains(lower, "blog"), strings.Contains(lower, "news"), strings.Contains(lower, "press"):
		return PageBlog
	default:
		return PageOther
	}
}
