package domcrawl

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/restaurant-intel/internal/model"
	"github.com/sells-group/restaurant-intel/internal/sitemap"
)

// emailRe matches bare email addresses appearing in visible text, a
// fallback for pages that don't wrap addresses in mailto: links.
var emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// phoneRe matches North American phone numbers in loosely formatted
// visible text: optional country code, area code in parens or bare,
// separators of space/dot/dash.
var phoneRe = regexp.MustCompile(`(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)

var menuContainerSelector = `[id*="menu" i], [class*="menu" i]`

const regexpPriceHint = `\$\s?\d`

// extractedText bundles the text-shaped observations one page yields.
type extractedText struct {
	Emails      []string
	Phones      []string
	Social      model.SocialLinks
	MenuText    string
	AboutText   string
	ContactText string
}

// extractFromHTML runs every targeted extractor over one page's HTML,
// per spec.md §4.5 step 4.
func extractFromHTML(html string, pageType sitemap.PageType) *extractedText {
	out := &extractedText{}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return out
	}

	out.Emails = extractEmails(doc)
	out.Phones = extractPhones(doc)
	out.Social = extractSocialLinks(doc)
	out.MenuText = extractMenuText(doc, pageType)
	out.AboutText = extractSectionText(doc, []string{"about"})
	out.ContactText = extractSectionText(doc, []string{"contact"})
	return out
}

func extractEmails(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var out []string

	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		addr = strings.TrimSpace(addr)
		if addr != "" && !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	})

	for _, m := range emailRe.FindAllString(doc.Text(), -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func extractPhones(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var out []string

	doc.Find(`a[href^="tel:"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		num := strings.TrimSpace(strings.TrimPrefix(href, "tel:"))
		if num != "" && !seen[num] {
			seen[num] = true
			out = append(out, num)
		}
	})

	for _, m := range phoneRe.FindAllString(doc.Text(), -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func extractSocialLinks(doc *goquery.Document) model.SocialLinks {
	var links model.SocialLinks
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" {
			return
		}
		platform, host := classifyAnchorURL(href)
		if platform != "" {
			links.Set(model.SocialPlatform(platform), href)
		} else if host != "" {
			links.SetOther(host, href)
		}
	})
	return links
}

func classifyAnchorURL(rawURL string) (platform, host string) {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "facebook.com"):
		return string(model.PlatformFacebook), ""
	case strings.Contains(lower, "instagram.com"):
		return string(model.PlatformInstagram), ""
	case strings.Contains(lower, "twitter.com"), strings.Contains(lower, "x.com"):
		return string(model.PlatformX), ""
	case strings.Contains(lower, "tiktok.com"):
		return string(model.PlatformTikTok), ""
	case strings.Contains(lower, "youtube.com"), strings.Contains(lower, "youtu.be"):
		return string(model.PlatformYouTube), ""
	case strings.Contains(lower, "linkedin.com"):
		return string(model.PlatformLinkedIn), ""
	case strings.Contains(lower, "yelp.com"):
		return string(model.PlatformYelp), ""
	case strings.Contains(lower, "tripadvisor.com"):
		return string(model.PlatformTripAdvisor), ""
	default:
		return "", ""
	}
}

// extractMenuText prefers large blocks inside menu-ish containers; if
// sparse, falls back to price-bearing parent nodes; if still sparse and
// the page itself was classified as a menu page, captures the main
// readable body text (spec.md §4.5 step 4).
func extractMenuText(doc *goquery.Document, pageType sitemap.PageType) string {
	var sb strings.Builder
	doc.Find(menuContainerSelector).Each(func(_ int, sel *goquery.Selection) {
		sb.WriteString(strings.TrimSpace(sel.Text()))
		sb.WriteString("\n")
	})
	if text := strings.TrimSpace(sb.String()); len(text) > 200 {
		return text
	}

	sb.Reset()
	priceRe := regexp.MustCompile(regexpPriceHint)
	doc.Find("li, tr, div, p").Each(func(_ int, sel *goquery.Selection) {
		text := sel.Text()
		if priceRe.MatchString(text) {
			sb.WriteString(strings.TrimSpace(sel.Parent().Text()))
			sb.WriteString("\n")
		}
	})
	if text := strings.TrimSpace(sb.String()); len(text) > 0 {
		return text
	}

	if pageType == sitemap.PageMenu {
		body := doc.Find("body")
		return strings.TrimSpace(body.Text())
	}
	return ""
}

// extractSectionText prefers a dedicated <section>/<div> whose id or
// class matches any of keywords, falling back to the main content area.
func extractSectionText(doc *goquery.Document, keywords []string) string {
	for _, kw := range keywords {
		sel := doc.Find(`[id*="` + kw + `" i], [class*="` + kw + `" i]`)
		if text := strings.TrimSpace(sel.Text()); len(text) > 40 {
			return text
		}
	}
	main := doc.Find("main")
	if main.Length() > 0 {
		return strings.TrimSpace(main.Text())
	}
	return strings.TrimSpace(doc.Find("body").Text())
}
