// Package quality implements C8, the QualityAssessor: three weighted
// sub-scores over a PartialRecord (completeness, confidence, source
// reliability) and the overall gate score the orchestrator checks
// against T1/T2/T3 (spec.md §4.8).
package quality

import "github.com/sells-group/restaurant-intel/internal/model"

// criticalWeight and importantWeight are the fixed weights spec.md
// §4.8 names: "critical fields... count double; important fields...
// count single."
const (
	criticalWeight  = 2.0
	importantWeight = 1.0
)

// heuristicSources are the sources spec.md §4.8's confidence rule calls
// out as making a single-source field score low, as opposed to a
// single authoritative source (places/schema_org/sitemap/vision).
var heuristicSources = map[model.SourceTag]bool{
	model.SourceDOM:           true,
	model.SourceSelectiveLLM:  true,
	model.SourceCanonicalizer: true,
}

// Assessment is the result of one Assess call.
type Assessment struct {
	Completeness          float64
	Confidence            float64
	Reliability           float64
	Overall               float64
	MissingCriticalFields []string
}

type fieldSummary struct {
	path    string
	weight  float64
	sources []model.SourceTag
}

func (f fieldSummary) present() bool { return len(f.sources) > 0 }

// Assess computes the three sub-scores and the overall weighted score
// for record.
func Assess(record *model.PartialRecord) Assessment {
	fields := summarizeFields(record)

	completeness := completenessScore(fields)
	confidence := confidenceScore(fields)
	reliability := reliabilityScore(fields)

	return Assessment{
		Completeness:          completeness,
		Confidence:            confidence,
		Reliability:           reliability,
		Overall:               0.4*completeness + 0.3*confidence + 0.3*reliability,
		MissingCriticalFields: missingCritical(fields),
	}
}

func summarizeFields(record *model.PartialRecord) []fieldSummary {
	return []fieldSummary{
		{"name", criticalWeight, sourcesOf(record.Name.Observations)},
		{"address", criticalWeight, sourcesOf(record.Address.Observations)},
		{"phone", criticalWeight, sourcesOf(record.Phone.Observations)},
		{"website", criticalWeight, sourcesOf(record.Website.Observations)},
		{"hours", criticalWeight, sourcesOf(record.Hours.Observations)},
		{"menu_items", importantWeight, menuItemSources(record.MenuItems)},
		{"cuisine", importantWeight, sourcesOf(record.Cuisine.Observations)},
		{"price_range", importantWeight, sourcesOf(record.PriceRange.Observations)},
		{"rating", importantWeight, sourcesOf(record.Rating.Observations)},
		{"social", importantWeight, sourcesOf(record.Social.Observations)},
		{"description", importantWeight, sourcesOf(record.Description.Observations)},
		{"geo", importantWeight, append(sourcesOf(record.GeoLat.Observations), sourcesOf(record.GeoLng.Observations)...)},
	}
}

func sourcesOf[T any](obs []model.RawField[T]) []model.SourceTag {
	if len(obs) == 0 {
		return nil
	}
	out := make([]model.SourceTag, len(obs))
	for i, o := range obs {
		out[i] = o.Source
	}
	return out
}

func menuItemSources(items []model.MenuItem) []model.SourceTag {
	if len(items) == 0 {
		return nil
	}
	out := make([]model.SourceTag, len(items))
	for i, it := range items {
		out[i] = it.SourceTag
	}
	return out
}

// completenessScore = covered_weight / total_weight over every field.
func completenessScore(fields []fieldSummary) float64 {
	var covered, total float64
	for _, f := range fields {
		total += f.weight
		if f.present() {
			covered += f.weight
		}
	}
	if total == 0 {
		return 0
	}
	return covered / total
}

// confidenceScore is the weighted mean, over populated fields only, of
// a per-field score: 1.0 when confirmed by 2+ distinct sources, 0.6 for
// a single authoritative source, 0.3 for a single heuristic source.
func confidenceScore(fields []fieldSummary) float64 {
	var weighted, totalWeight float64
	for _, f := range fields {
		if !f.present() {
			continue
		}
		weighted += f.weight * perFieldConfidence(f.sources)
		totalWeight += f.weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

func perFieldConfidence(sources []model.SourceTag) float64 {
	distinct := map[model.SourceTag]bool{}
	for _, s := range sources {
		distinct[s] = true
	}
	if len(distinct) >= 2 {
		return 1.0
	}
	for s := range distinct {
		if heuristicSources[s] {
			return 0.3
		}
	}
	return 0.6
}

// reliabilityScore is the population-weighted mean, over populated
// fields, of the max per-source reliability prior among that field's
// observed sources.
func reliabilityScore(fields []fieldSummary) float64 {
	var weighted, totalWeight float64
	for _, f := range fields {
		if !f.present() {
			continue
		}
		weighted += f.weight * maxPrior(f.sources)
		totalWeight += f.weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

func maxPrior(sources []model.SourceTag) float64 {
	var best float64
	for _, s := range sources {
		if p := model.SourcePrior[s]; p > best {
			best = p
		}
	}
	return best
}

func missingCritical(fields []fieldSummary) []string {
	var out []string
	for _, f := range fields {
		if f.weight == criticalWeight && !f.present() {
			out = append(out, f.path)
		}
	}
	return out
}
