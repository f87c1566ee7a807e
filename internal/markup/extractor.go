// Package markup implements C3: a pure, network-free parser for
// embedded structured data — JSON-LD blocks and microdata itemscopes —
// mapped into restaurant-shaped PartialRecord observations. Unrelated
// schema.org types are ignored; malformed markup yields an empty
// partial rather than an error, per spec.md §4.3.
package markup

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/sells-group/restaurant-intel/internal/model"
)

// descriptionSanitizer strips markup from JSON-LD/microdata description
// text before it's stored as an observation: some sites embed marked-up
// HTML fragments in a schema.org "description" field, and that text
// later flows into canonicalized records and LLM prompts verbatim.
var descriptionSanitizer = bluemonday.StrictPolicy()

// restaurantTypes are the schema.org @type values this extractor treats
// as restaurant-shaped. Case-insensitive match against the JSON-LD
// @type field (which may be a string or an array of strings).
var restaurantTypes = map[string]bool{
	"restaurant":    true,
	"cafeorcoffeeshop": true,
	"bar":           true,
	"fastfoodrestaurant": true,
	"foodestablishment": true,
	"bakery":        true,
	"winery":        true,
}

// Result is the yield of one Extract call: a set of field observations
// plus any menu items schema.org's `hasMenu`/`menu` described inline.
type Result struct {
	Record    *model.PartialRecord
	MenuItems []model.MenuItem
}

// jsonLDNode is a loosely-typed schema.org JSON-LD object. Fields are
// decoded permissively since producers vary widely in which optional
// properties they emit and in string-vs-array shapes.
type jsonLDNode struct {
	Type            json.RawMessage `json:"@type"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Telephone       string          `json:"telephone"`
	PriceRange      string          `json:"priceRange"`
	ServesCuisine   json.RawMessage `json:"servesCuisine"`
	URL             string          `json:"url"`
	Image           json.RawMessage `json:"image"`
	SameAs          json.RawMessage `json:"sameAs"`
	Address         json.RawMessage `json:"address"`
	Geo             *jsonLDGeo      `json:"geo"`
	AggregateRating *jsonLDRating   `json:"aggregateRating"`
	OpeningHours    json.RawMessage `json:"openingHoursSpecification"`
	Menu            json.RawMessage `json:"hasMenu"`
	Graph           []jsonLDNode    `json:"@graph"`
}

type jsonLDGeo struct {
	Latitude  jsonNumber `json:"latitude"`
	Longitude jsonNumber `json:"longitude"`
}

type jsonLDRating struct {
	RatingValue jsonNumber `json:"ratingValue"`
	ReviewCount jsonNumber `json:"reviewCount"`
}

// jsonNumber tolerates both numeric and string encodings of the same
// value, which schema.org producers mix freely in the wild.
type jsonNumber float64

func (n *jsonNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return nil
	}
	*n = jsonNumber(f)
	return nil
}

type postalAddress struct {
	StreetAddress   string `json:"streetAddress"`
	AddressLocality string `json:"addressLocality"`
	AddressRegion   string `json:"addressRegion"`
	PostalCode      string `json:"postalCode"`
	AddressCountry  json.RawMessage `json:"addressCountry"`
}

// Extract parses htmlBytes for JSON-LD and microdata markup relative to
// baseURL and returns the restaurant-shaped observations found. Never
// returns an error: malformed or absent markup yields a Result with an
// empty PartialRecord.
func Extract(htmlBytes []byte, baseURL string) *Result {
	record := model.NewPartialRecord(baseURL)
	result := &Result{Record: record}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(htmlBytes)))
	if err != nil {
		return result
	}
	now := time.Now()

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		raw := sel.Text()
		if strings.TrimSpace(raw) == "" {
			return
		}
		for _, node := range decodeJSONLD(raw) {
			applyJSONLDNode(record, result, node, now)
		}
	})

	extractMicrodata(doc, record, now)

	return result
}

// decodeJSONLD tolerates both a single object and a top-level array, the
// two shapes schema.org producers emit for multiple JSON-LD blocks.
func decodeJSONLD(raw string) []jsonLDNode {
	var nodes []jsonLDNode

	var single jsonLDNode
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		nodes = append(nodes, single)
		return flattenGraph(nodes)
	}

	var many []jsonLDNode
	if err := json.Unmarshal([]byte(raw), &many); err == nil {
		return flattenGraph(many)
	}
	return nil
}

func flattenGraph(nodes []jsonLDNode) []jsonLDNode {
	out := make([]jsonLDNode, 0, len(nodes))
	for _, n := range nodes {
		if len(n.Graph) > 0 {
			out = append(out, flattenGraph(n.Graph)...)
			continue
		}
		out = append(out, n)
	}
	return out
}

func applyJSONLDNode(record *model.PartialRecord, result *Result, node jsonLDNode, now time.Time) {
	if !isRestaurantType(node.Type) {
		return
	}

	if node.Name != "" {
		record.Name.Append(model.NewRawField(node.Name, model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg], now))
	}
	if desc := strings.TrimSpace(descriptionSanitizer.Sanitize(node.Description)); desc != "" {
		record.Description.Append(model.NewRawField(desc, model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg], now))
	}
	if node.Telephone != "" {
		record.Phone.Append(model.NewRawField(model.Phone{Raw: node.Telephone}, model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg], now))
	}
	if node.PriceRange != "" {
		record.PriceRange.Append(model.NewRawField(node.PriceRange, model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg], now))
	}
	if node.URL != "" {
		record.Website.Append(model.NewRawField(node.URL, model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg], now))
	}
	if cuisine := stringOrFirst(node.ServesCuisine); cuisine != "" {
		record.Cuisine.Append(model.NewRawField(cuisine, model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg], now))
	}

	if addr := parseAddress(node.Address); addr != nil {
		record.Address.Append(model.NewRawField(*addr, model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg], now))
	}
	if node.Geo != nil {
		if node.Geo.Latitude != 0 {
			record.GeoLat.Append(model.NewRawField(float64(node.Geo.Latitude), model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg], now))
		}
		if node.Geo.Longitude != 0 {
			record.GeoLng.Append(model.NewRawField(float64(node.Geo.Longitude), model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg], now))
		}
	}
	if node.AggregateRating != nil {
		if node.AggregateRating.RatingValue != 0 {
			record.Rating.Append(model.NewRawField(float64(node.AggregateRating.RatingValue), model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg], now))
		}
		if node.AggregateRating.ReviewCount != 0 {
			record.ReviewCount.Append(model.NewRawField(int(node.AggregateRating.ReviewCount), model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg], now))
		}
	}

	links := parseSameAs(node.SameAs)
	if len(links.ByPlatform) > 0 || len(links.Other) > 0 {
		record.Social.Append(model.NewRawField(links, model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg], now))
	}

	items := parseMenu(node.Menu)
	record.MenuItems = append(record.MenuItems, items...)
	result.MenuItems = append(result.MenuItems, items...)
}

func isRestaurantType(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return restaurantTypes[strings.ToLower(single)]
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, t := range many {
			if restaurantTypes[strings.ToLower(t)] {
				return true
			}
		}
	}
	return false
}

func stringOrFirst(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return many[0]
	}
	return ""
}

func parseAddress(raw json.RawMessage) *model.Address {
	if len(raw) == 0 {
		return nil
	}
	var pa postalAddress
	if err := json.Unmarshal(raw, &pa); err != nil {
		if s := stringOrFirst(raw); s != "" {
			return &model.Address{Raw: s}
		}
		return nil
	}
	country := stringOrFirst(pa.AddressCountry)
	addr := &model.Address{
		Street:     pa.StreetAddress,
		City:       pa.AddressLocality,
		Region:     pa.AddressRegion,
		PostalCode: pa.PostalCode,
		Country:    country,
	}
	parts := []string{addr.Street, addr.City, addr.Region, addr.PostalCode, addr.Country}
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	addr.Raw = strings.Join(nonEmpty, ", ")
	if addr.Raw == "" {
		return nil
	}
	return addr
}

func parseSameAs(raw json.RawMessage) model.SocialLinks {
	var links model.SocialLinks
	if len(raw) == 0 {
		return links
	}
	var urls []string
	if s := stringOrFirst(raw); s != "" && raw[0] == '"' {
		urls = []string{s}
	} else if err := json.Unmarshal(raw, &urls); err != nil {
		return links
	}
	for _, u := range urls {
		platform, host := classifySocialURL(u)
		if platform != "" {
			links.Set(model.SocialPlatform(platform), u)
		} else if host != "" {
			links.SetOther(host, u)
		}
	}
	return links
}

func classifySocialURL(rawURL string) (platform, host string) {
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
		return "", hostOf(rawURL)
	}
}

func hostOf(rawURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}

type jsonLDMenuSection struct {
	HasMenuSection []jsonLDMenuSection `json:"hasMenuSection"`
	HasMenuItem    []jsonLDMenuItem    `json:"hasMenuItem"`
	Name           string              `json:"name"`
}

type jsonLDMenuItem struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Offers      *jsonLDOffer    `json:"offers"`
}

type jsonLDOffer struct {
	Price jsonNumber `json:"price"`
}

func parseMenu(raw json.RawMessage) []model.MenuItem {
	if len(raw) == 0 {
		return nil
	}
	var menu jsonLDMenuSection
	if err := json.Unmarshal(raw, &menu); err != nil {
		return nil
	}
	return flattenMenuSection(menu, "")
}

func flattenMenuSection(section jsonLDMenuSection, category string) []model.MenuItem {
	cat := section.Name
	if cat == "" {
		cat = category
	}
	var items []model.MenuItem
	for _, item := range section.HasMenuItem {
		mi := model.MenuItem{
			Name:        item.Name,
			Description: item.Description,
			Category:    model.CategoryOther,
			SourceTag:   model.SourceSchemaOrg,
		}
		if item.Offers != nil {
			price := float64(item.Offers.Price)
			mi.PriceNumeric = &price
		}
		items = append(items, mi)
	}
	for _, sub := range section.HasMenuSection {
		items = append(items, flattenMenuSection(sub, cat)...)
	}
	return items
}

// extractMicrodata covers the narrower itemscope/itemprop convention,
// still seen on older restaurant sites that predate JSON-LD adoption.
func extractMicrodata(doc *goquery.Document, record *model.PartialRecord, now time.Time) {
	doc.Find(`[itemscope][itemtype]`).Each(func(_ int, sel *goquery.Selection) {
		itemType, _ := sel.Attr("itemtype")
		if !isRestaurantItemType(itemType) {
			return
		}
		if name := microdataProp(sel, "name"); name != "" {
			record.Name.Append(model.NewRawField(name, model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg]*0.9, now))
		}
		if phone := microdataProp(sel, "telephone"); phone != "" {
			record.Phone.Append(model.NewRawField(model.Phone{Raw: phone}, model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg]*0.9, now))
		}
		if addr := microdataProp(sel, "streetAddress"); addr != "" {
			record.Address.Append(model.NewRawField(model.Address{Raw: addr, Street: addr}, model.SourceSchemaOrg, model.SourcePrior[model.SourceSchemaOrg]*0.9, now))
		}
	})
}

func isRestaurantItemType(itemType string) bool {
	lower := strings.ToLower(itemType)
	for t := range restaurantTypes {
		if strings.HasSuffix(lower, "/"+t) || strings.HasSuffix(lower, "."+t) {
			return true
		}
	}
	return false
}

func microdataProp(sel *goquery.Selection, prop string) string {
	found := sel.Find(`[itemprop="` + prop + `"]`).First()
	if found.Length() == 0 {
		return ""
	}
	if content, ok := found.Attr("content"); ok && content != "" {
		return content
	}
	return strings.TrimSpace(found.Text())
}
