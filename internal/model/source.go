package model

// SourceTag identifies which component produced a RawField observation.
// Order matters: within a phase, concurrent extractor results are merged
// in SourceTag enum order so canonicalization is reproducible given
// identical inputs.
type SourceTag int

const (
	SourcePlaces SourceTag = iota
	SourceSchemaOrg
	SourceSitemap
	SourceDOM
	SourceVision
	SourceSelectiveLLM
	SourceCanonicalizer
)

func (s SourceTag) String() string {
	switch s {
	case SourcePlaces:
		return "places"
	case SourceSchemaOrg:
		return "schema_org"
	case SourceSitemap:
		return "sitemap"
	case SourceDOM:
		return "dom"
	case SourceVision:
		return "vision"
	case SourceSelectiveLLM:
		return "selective_llm"
	case SourceCanonicalizer:
		return "canonicalizer"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the tag as its string form so stored/serialized
// records are stable and human-readable.
func (s SourceTag) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the string form back into a SourceTag.
func (s *SourceTag) UnmarshalJSON(data []byte) error {
	str := data2str(data)
	switch str {
	case "places":
		*s = SourcePlaces
	case "schema_org":
		*s = SourceSchemaOrg
	case "sitemap":
		*s = SourceSitemap
	case "dom":
		*s = SourceDOM
	case "vision":
		*s = SourceVision
	case "selective_llm":
		*s = SourceSelectiveLLM
	case "canonicalizer":
		*s = SourceCanonicalizer
	default:
		*s = SourceCanonicalizer
	}
	return nil
}

func data2str(data []byte) string {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		return string(data[1 : len(data)-1])
	}
	return string(data)
}

// SourcePrior is the fixed reliability prior per source, used by the
// QualityAssessor's reliability sub-score.
var SourcePrior = map[SourceTag]float64{
	SourcePlaces:        0.95,
	SourceSchemaOrg:     0.85,
	SourceSitemap:       0.70,
	SourceDOM:           0.60,
	SourceVision:        0.75,
	SourceSelectiveLLM:  0.65,
	SourceCanonicalizer: 0.40,
}
