// Package canonical implements C9, the Canonicalizer: reduces a
// PartialRecord's append-only RawField observations into one FinalRecord,
// rule-based first and LLM-assisted only for the ambiguous cases spec.md
// §4.9 names, while preserving every raw observation for audit.
package canonical

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/llmjson"
	"github.com/sells-group/restaurant-intel/internal/model"
)

// Canonicalizer reduces a PartialRecord to a FinalRecord. llm may be nil,
// in which case only the rule-based pass runs and ambiguous cases are
// left to their highest-priority raw observation.
type Canonicalizer struct {
	llm capability.LLMText
}

// New builds a Canonicalizer. llm is optional.
func New(llm capability.LLMText) *Canonicalizer {
	return &Canonicalizer{llm: llm}
}

// Canonicalize produces a FinalRecord from record. The returned cost is
// the sum of every LLM call made during the ambiguous-case pass.
func (c *Canonicalizer) Canonicalize(ctx context.Context, record *model.PartialRecord) (*model.FinalRecord, float64, error) {
	var cost float64

	final := &model.FinalRecord{
		TargetURL:   record.TargetURL,
		Competitors: record.Competitors,
		Artifacts:   record.Artifacts,
	}

	final.Name, cost = c.canonicalizeName(ctx, record, cost)
	final.Address, cost = c.canonicalizeAddress(ctx, record, cost)
	final.Phone, cost = c.canonicalizePhone(ctx, record, cost)
	final.Website = canonicalizeURLField(record.Website)
	final.Hours = pickFirst(record.Hours)
	final.Cuisine = pickFirst(record.Cuisine)
	final.PriceRange = pickFirst(record.PriceRange)
	final.Rating = pickFirst(record.Rating)
	final.ReviewCount = pickFirst(record.ReviewCount)
	final.GeoLat = pickFirst(record.GeoLat)
	final.GeoLng = pickFirst(record.GeoLng)
	final.Social = canonicalizeSocial(record.Social)
	final.Description, cost = c.canonicalizeDescription(ctx, record, cost)
	final.MenuItems, cost = c.canonicalizeMenuItems(ctx, record.MenuItems, cost)

	return final, cost, nil
}

// pickFirst builds a CanonicalField from the highest-priority non-empty
// observation in SortedBySource() order, the rule-based default for
// fields with no LLM assist.
func pickFirst[T any](bag model.FieldBag[T]) model.CanonicalField[T] {
	sorted := bag.SortedBySource()
	var value T
	present := false
	for _, obs := range sorted {
		if !isZero(obs.Value) {
			value = obs.Value
			present = true
			break
		}
	}
	return model.CanonicalField[T]{Value: value, Present: present, Observations: sorted}
}

func isZero(v any) bool {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x) == ""
	case float64:
		return false
	case int:
		return false
	default:
		return false
	}
}

func canonicalizeURLField(bag model.FieldBag[string]) model.CanonicalField[string] {
	sorted := bag.SortedBySource()
	var value string
	present := false
	for _, obs := range sorted {
		if strings.TrimSpace(obs.Value) == "" {
			continue
		}
		value = normalizeURL(obs.Value)
		present = true
		break
	}
	return model.CanonicalField[string]{Value: value, Present: present, Observations: sorted}
}

// normalizeURL ensures a scheme is present and lowercases the host,
// per spec.md §4.9's rule-based URL normalization.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

func (c *Canonicalizer) canonicalizeName(ctx context.Context, record *model.PartialRecord, costIn float64) (model.CanonicalField[string], float64) {
	sorted := record.Name.Observations
	variants := distinctTrimmed(sorted, func(o model.RawField[string]) string { return o.Value })
	bag := record.Name.SortedBySource()

	if len(variants) == 0 {
		return model.CanonicalField[string]{Observations: bag}, costIn
	}
	if len(variants) == 1 {
		return model.CanonicalField[string]{Value: variants[0], Present: true, Observations: bag}, costIn
	}

	// Multiple distinct name variants: LLM-assisted selection when
	// available, else fall back to the highest-priority observation.
	if c.llm != nil {
		type nameResponse struct {
			CanonicalName string `json:"canonical_name"`
		}
		prompt := "Candidate restaurant name variants observed from different sources:\n" + strings.Join(variants, "\n") +
			"\n\nReturn the single best canonical name as JSON: {\"canonical_name\": \"...\"}"
		res, err := llmjson.Call[nameResponse](ctx, c.llm, "canonicalizer.name", canonicalizerSystem, prompt, 256)
		costIn += res.Cost
		if err == nil && strings.TrimSpace(res.Value.CanonicalName) != "" {
			return model.CanonicalField[string]{Value: res.Value.CanonicalName, Present: true, Observations: bag}, costIn
		}
	}
	return model.CanonicalField[string]{Value: bag[0].Value, Present: true, Observations: bag}, costIn
}

func (c *Canonicalizer) canonicalizeAddress(ctx context.Context, record *model.PartialRecord, costIn float64) (model.CanonicalField[model.Address], float64) {
	bag := record.Address.SortedBySource()
	if len(bag) == 0 {
		return model.CanonicalField[model.Address]{Observations: bag}, costIn
	}

	for _, obs := range bag {
		if obs.Value.Structured() {
			return model.CanonicalField[model.Address]{Value: obs.Value, Present: true, Observations: bag}, costIn
		}
	}

	raw := strings.TrimSpace(bag[0].Value.Raw)
	value := model.Address{Raw: raw}
	if raw == "" {
		return model.CanonicalField[model.Address]{Observations: bag}, costIn
	}

	if c.llm != nil {
		type addressResponse struct {
			Street     string `json:"street,omitempty"`
			City       string `json:"city,omitempty"`
			Region     string `json:"region,omitempty"`
			PostalCode string `json:"postal_code,omitempty"`
			Country    string `json:"country,omitempty"`
		}
		prompt := "Parse this raw restaurant address into components. Raw address: " + raw +
			"\n\nReturn JSON: {\"street\": \"...\", \"city\": \"...\", \"region\": \"...\", \"postal_code\": \"...\", \"country\": \"...\"}. Omit any field you cannot derive."
		res, err := llmjson.Call[addressResponse](ctx, c.llm, "canonicalizer.address", canonicalizerSystem, prompt, 256)
		costIn += res.Cost
		if err == nil {
			value.Street = res.Value.Street
			value.City = res.Value.City
			value.Region = res.Value.Region
			value.PostalCode = res.Value.PostalCode
			value.Country = res.Value.Country
		}
	}

	return model.CanonicalField[model.Address]{Value: value, Present: true, Observations: bag}, costIn
}

var digitsRe = regexp.MustCompile(`\d+`)

func onlyDigits(s string) string {
	return strings.Join(digitsRe.FindAllString(s, -1), "")
}

var e164Re = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// validE164 reports whether s passes E.164 validation (spec.md §3's Phone
// invariant: "canonical form, if present, passes E.164 validation").
func validE164(s string) bool {
	return e164Re.MatchString(s)
}

// ruleE164 derives an E.164 form when the digit count unambiguously
// implies a US number, per spec.md §4.9's phone rule.
func ruleE164(raw string) (string, bool) {
	digits := onlyDigits(raw)
	switch len(digits) {
	case 10:
		return "+1" + digits, true
	case 11:
		if strings.HasPrefix(digits, "1") {
			return "+" + digits, true
		}
	}
	return "", false
}

func (c *Canonicalizer) canonicalizePhone(ctx context.Context, record *model.PartialRecord, costIn float64) (model.CanonicalField[model.Phone], float64) {
	bag := record.Phone.SortedBySource()
	if len(bag) == 0 {
		return model.CanonicalField[model.Phone]{Observations: bag}, costIn
	}

	raw := ""
	for _, obs := range bag {
		if strings.TrimSpace(obs.Value.Raw) != "" {
			raw = strings.TrimSpace(obs.Value.Raw)
			break
		}
	}
	if raw == "" {
		return model.CanonicalField[model.Phone]{Observations: bag}, costIn
	}

	value := model.Phone{Raw: raw}
	if canonical, ok := ruleE164(raw); ok {
		value.Canonical = canonical
		return model.CanonicalField[model.Phone]{Value: value, Present: true, Observations: bag}, costIn
	}

	if c.llm != nil {
		type phoneResponse struct {
			Canonical string `json:"canonical,omitempty"`
			Extension string `json:"extension,omitempty"`
		}
		prompt := "Derive the E.164 canonical phone number for this raw value: " + raw +
			"\n\nReturn JSON: {\"canonical\": \"+1XXXXXXXXXX or empty if not derivable\", \"extension\": \"...\"}"
		res, err := llmjson.Call[phoneResponse](ctx, c.llm, "canonicalizer.phone", canonicalizerSystem, prompt, 128)
		costIn += res.Cost
		if err == nil && validE164(res.Value.Canonical) {
			value.Canonical = res.Value.Canonical
			value.Extension = res.Value.Extension
		}
	}

	return model.CanonicalField[model.Phone]{Value: value, Present: true, Observations: bag}, costIn
}

// descriptionPrefixes marks Description observations that are context
// (bare emails, raw menu text) rather than prose description candidates
// — internal/domcrawl stashes both in the same FieldBag.
const (
	prefixEmail = "email:"
	prefixMenu  = "menu_text:"
)

func (c *Canonicalizer) canonicalizeDescription(ctx context.Context, record *model.PartialRecord, costIn float64) (model.CanonicalField[string], float64) {
	bag := record.Description.SortedBySource()

	var candidates []model.RawField[string]
	var contextText []string
	for _, obs := range bag {
		switch {
		case strings.HasPrefix(obs.Value, prefixEmail):
		case strings.HasPrefix(obs.Value, prefixMenu):
			contextText = append(contextText, strings.TrimPrefix(obs.Value, prefixMenu))
		default:
			if strings.TrimSpace(obs.Value) != "" {
				candidates = append(candidates, obs)
			}
		}
	}

	if len(candidates) > 0 {
		return model.CanonicalField[string]{Value: candidates[0].Value, Present: true, Observations: bag}, costIn
	}

	if c.llm != nil && len(contextText) > 0 {
		type descResponse struct {
			Description string `json:"description"`
		}
		prompt := "Write a concise, factual 2-3 sentence restaurant description using only the following page text as source material (no invented facts):\n\n" +
			strings.Join(contextText, "\n\n") + "\n\nReturn JSON: {\"description\": \"...\"}"
		res, err := llmjson.Call[descResponse](ctx, c.llm, "canonicalizer.description", canonicalizerSystem, prompt, 512)
		costIn += res.Cost
		if err == nil && strings.TrimSpace(res.Value.Description) != "" {
			return model.CanonicalField[string]{Value: res.Value.Description, Present: true, Observations: bag}, costIn
		}
	}

	return model.CanonicalField[string]{Observations: bag}, costIn
}

func canonicalizeSocial(bag model.FieldBag[model.SocialLinks]) model.CanonicalField[model.SocialLinks] {
	sorted := bag.SortedBySource()
	var merged model.SocialLinks
	present := false
	for _, obs := range sorted {
		for platform, link := range obs.Value.ByPlatform {
			merged.Set(platform, link)
			present = true
		}
		for host, link := range obs.Value.Other {
			merged.SetOther(host, link)
			present = true
		}
	}
	return model.CanonicalField[model.SocialLinks]{Value: merged, Present: present, Observations: sorted}
}

var priceNumRe = regexp.MustCompile(`\d+(\.\d+)?`)

func priceFromRaw(raw string) (float64, bool) {
	m := priceNumRe.FindString(raw)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// canonicalizeMenuItems dedupes by normalized name (spec.md §4.9),
// fills price_numeric from price_raw where missing, and runs one batch
// LLM categorization pass over items still missing a category.
func (c *Canonicalizer) canonicalizeMenuItems(ctx context.Context, items []model.MenuItem, costIn float64) ([]model.MenuItem, float64) {
	seen := make(map[string]int)
	var out []model.MenuItem
	for _, it := range items {
		key := it.NormalizedName()
		if key == "" {
			continue
		}
		if it.PriceNumeric == nil && it.PriceRaw != "" {
			if price, ok := priceFromRaw(it.PriceRaw); ok {
				it.PriceNumeric = &price
			}
		}
		if idx, dup := seen[key]; dup {
			if out[idx].Category == "" && it.Category != "" {
				out[idx].Category = it.Category
			}
			if out[idx].PriceNumeric == nil && it.PriceNumeric != nil {
				out[idx].PriceNumeric = it.PriceNumeric
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, it)
	}

	if c.llm == nil {
		return out, costIn
	}

	var needCategory []int
	for i, it := range out {
		if it.Category == "" {
			needCategory = append(needCategory, i)
		}
	}
	if len(needCategory) == 0 {
		return out, costIn
	}

	type categoryResponse struct {
		Categories map[string]string `json:"categories"`
	}
	var sb strings.Builder
	sb.WriteString("Assign each menu item to exactly one category from this fixed vocabulary: appetizer, main, dessert, beverage-nonalcoholic, beverage-alcoholic, side, soup-salad, breakfast, other.\n\nItems:\n")
	for _, i := range needCategory {
		sb.WriteString("- ")
		sb.WriteString(out[i].Name)
		if out[i].Description != "" {
			sb.WriteString(": ")
			sb.WriteString(out[i].Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nReturn JSON: {\"categories\": {\"<item name>\": \"<category>\", ...}}")

	res, err := llmjson.Call[categoryResponse](ctx, c.llm, "canonicalizer.menu_category", canonicalizerSystem, sb.String(), 1024)
	costIn += res.Cost
	if err == nil {
		for _, i := range needCategory {
			if cat, ok := res.Value.Categories[out[i].Name]; ok && isKnownCategory(cat) {
				out[i].Category = model.MenuCategory(cat)
			}
		}
	}

	return out, costIn
}

func isKnownCategory(cat string) bool {
	switch model.MenuCategory(cat) {
	case model.CategoryAppetizer, model.CategoryMain, model.CategoryDessert,
		model.CategoryBeverageNonAlcohol, model.CategoryBeverageAlcohol,
		model.CategorySide, model.CategorySoupSalad, model.CategoryBreakfast, model.CategoryOther:
		return true
	default:
		return false
	}
}

const canonicalizerSystem = `You are a precise data-normalization assistant for restaurant business records. Respond with strict JSON only, matching exactly the schema requested. Never invent facts not present in the given context.`

func distinctTrimmed[T any](obs []model.RawField[T], get func(model.RawField[T]) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range obs {
		v := strings.TrimSpace(get(o))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
