// Package agentic implements the capability.AgenticBrowser a guided LLM
// browsing session uses to satisfy SelectiveBrowsingExtractor (C7): it
// drives a real browser one page at a time, asking a text LLM to either
// pull named field values straight off the current page or pick the
// next link worth following, bounded by a page-load and wall-time
// budget (spec.md §4.7).
package agentic

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/llmjson"
)

// Budget bounds one FillFields session (spec.md §4.7: "bounded wall-time
// and number of page loads; exceeding either returns partial results").
type Budget struct {
	MaxPages   int
	MaxWallTime time.Duration
}

// DefaultBudget is the fallback New applies when budget.MaxPages is not
// positive. It is independent of the selective.* config defaults.
func DefaultBudget() Budget {
	return Budget{MaxPages: 6, MaxWallTime: 90 * time.Second}
}

// Session drives one guided browsing run per FillFields call.
type Session struct {
	browser capability.Browser
	llm     capability.LLMText
	budget  Budget
}

// New builds a Session backed by browser for navigation/screenshots and
// llm for page-content reasoning.
func New(browser capability.Browser, llm capability.LLMText, budget Budget) *Session {
	if budget.MaxPages <= 0 {
		budget = DefaultBudget()
	}
	return &Session{browser: browser, llm: llm, budget: budget}
}

var _ capability.AgenticBrowser = (*Session)(nil)

// step is the strict JSON decision the guiding prompt asks for each page.
type step struct {
	Filled  map[string]string `json:"filled"`
	NextURL string            `json:"next_url,omitempty"`
	Done    bool              `json:"done"`
}

// FillFields navigates starting at targetURL, asking the model on each
// page whether any of fieldPaths can be read off that page and whether
// another in-domain link is worth following, until every field is
// filled, the model reports done, or the budget runs out. Fields the
// model can't find stay missing — this never fabricates a value.
func (s *Session) FillFields(ctx context.Context, targetURL string, fieldPaths []string, hints map[string]string) (*capability.AgenticResult, error) {
	result := &capability.AgenticResult{Filled: map[string]string{}}
	schema := buildFocusedSchema(fieldPaths)

	start := time.Now()
	currentURL := targetURL
	visited := map[string]bool{}

	for len(result.Filled) < len(fieldPaths) {
		if result.PagesLoaded >= s.budget.MaxPages {
			break
		}
		if time.Since(start) >= s.budget.MaxWallTime {
			break
		}
		if currentURL == "" || visited[currentURL] {
			break
		}
		visited[currentURL] = true

		page, err := s.browser.NewPage(ctx)
		if err != nil {
			zap.L().Debug("agentic: open page failed, stopping session", zap.Error(err))
			break
		}

		if err := page.Navigate(ctx, currentURL); err != nil {
			zap.L().Debug("agentic: navigate failed, stopping session", zap.String("url", currentURL), zap.Error(err))
			page.Close() //nolint:errcheck
			break
		}
		result.PagesLoaded++

		if shot, err := page.Screenshot(ctx, true); err == nil {
			result.Screenshots = append(result.Screenshots, shot)
		}

		html, err := page.Content(ctx)
		page.Close() //nolint:errcheck
		if err != nil {
			zap.L().Debug("agentic: read content failed, stopping session", zap.Error(err))
			break
		}

		summary, links := summarizePage(html, currentURL)
		remaining := remainingFields(fieldPaths, result.Filled)
		prompt := buildPrompt(currentURL, schema, remaining, summary, links, hints)

		res, err := llmjson.Call[step](ctx, s.llm, "selective_browsing", agenticSystem, prompt, 1024)
		result.Cost += res.Cost
		if err != nil {
			zap.L().Debug("agentic: llm decision failed, stopping session", zap.Error(err))
			break
		}

		for k, v := range res.Value.Filled {
			if v == "" {
				continue
			}
			if _, wanted := remaining[k]; wanted {
				result.Filled[k] = v
			}
		}

		if res.Value.Done || res.Value.NextURL == "" {
			break
		}
		currentURL = resolveURL(currentURL, res.Value.NextURL)
	}

	return result, nil
}

const agenticSystem = `You are a focused web research assistant helping extract a small, named set of restaurant business fields. You are shown one page's visible text and its links at a time. Respond with strict JSON only: {"filled": {"field.path": "value", ...}, "next_url": "https://... or empty if no further page is worth visiting", "done": true/false}. Only fill fields you can read directly and confidently off the shown page text. Never guess or fabricate a value. Set done=true once every requested field is filled or no further page looks promising.`

func buildPrompt(currentURL, schema string, remaining map[string]bool, pageSummary string, links []linkRef, hints map[string]string) string {
	var sb strings.Builder
	sb.WriteString("Current page: ")
	sb.WriteString(currentURL)
	sb.WriteString("\n\nFields still needed (focused schema):\n")
	sb.WriteString(schema)
	sb.WriteString("\n\nRemaining field paths: ")
	for k := range remaining {
		sb.WriteString(k)
		sb.WriteString(" ")
	}
	if len(hints) > 0 {
		sb.WriteString("\n\nKnown hints:\n")
		for k, v := range hints {
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(v)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n\nPage text:\n")
	sb.WriteString(pageSummary)
	sb.WriteString("\n\nLinks on this page:\n")
	for _, l := range links {
		sb.WriteString("- ")
		sb.WriteString(l.Text)
		sb.WriteString(" -> ")
		sb.WriteString(l.Href)
		sb.WriteString("\n")
	}
	return sb.String()
}

func remainingFields(fieldPaths []string, filled map[string]string) map[string]bool {
	out := make(map[string]bool, len(fieldPaths))
	for _, f := range fieldPaths {
		if _, ok := filled[f]; !ok {
			out[f] = true
		}
	}
	return out
}

// buildFocusedSchema renders fieldPaths (dot-notation) as a nested JSON
// object of boolean leaves, per spec.md §4.7's "focused schema describing
// the requested fields as a nested object of boolean leaves."
func buildFocusedSchema(fieldPaths []string) string {
	var sb strings.Builder
	sb.WriteString("{\n")
	for i, f := range fieldPaths {
		sb.WriteString(`  "`)
		sb.WriteString(f)
		sb.WriteString(`": true`)
		if i < len(fieldPaths)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}")
	return sb.String()
}

type linkRef struct {
	Text string
	Href string
}

const maxSummaryRunes = 6000
const maxLinks = 40

// summarizePage reduces html to its visible text (truncated) and a
// bounded set of same-host links, so the guiding prompt stays small.
func summarizePage(html, pageURL string) (string, []linkRef) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", nil
	}
	doc.Find("script, style, noscript").Remove()

	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(text) > maxSummaryRunes {
		text = text[:maxSummaryRunes]
	}

	base, _ := url.Parse(pageURL)
	var links []linkRef
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(links) >= maxLinks {
			return false
		}
		href, _ := sel.Attr("href")
		href = resolveURL(pageURL, href)
		if href == "" || base == nil {
			return true
		}
		linkURL, err := url.Parse(href)
		if err != nil || linkURL.Host != base.Host {
			return true
		}
		linkText := strings.TrimSpace(sel.Text())
		if linkText == "" {
			linkText = href
		}
		links = append(links, linkRef{Text: linkText, Href: href})
		return true
	})
	return text, links
}

func resolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}
