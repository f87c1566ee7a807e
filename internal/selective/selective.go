// Package selective implements C7, the SelectiveBrowsingExtractor: the
// final, expensive fallback that drives a guided browsing session to
// fill only the named fields a run is still missing after phases 1-3
// (spec.md §4.7). It never fabricates — fields the session can't find
// stay missing.
package selective

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/model"
)

// Extractor drives C7 over one PartialRecord.
type Extractor struct {
	agent    capability.AgenticBrowser
	artifact capability.Artifact
}

// New builds an Extractor. agent may be nil (e.g. selective browsing
// disabled via Options), in which case Run is a no-op.
func New(agent capability.AgenticBrowser, artifact capability.Artifact) *Extractor {
	return &Extractor{agent: agent, artifact: artifact}
}

// Result reports what the session filled and the cost it incurred.
type Result struct {
	FilledPaths  []string
	NewArtifacts []model.ArtifactRef
	CostUSD      float64
	PagesLoaded  int
}

// Run drives FillFields for the named missing field paths and writes
// every value it recovers back into record as a RawField tagged
// SourceSelectiveLLM, uploading each captured screenshot to the
// ArtifactStore with a caption describing what was sought.
func (e *Extractor) Run(ctx context.Context, record *model.PartialRecord, missingPaths []string, hints map[string]string) (*Result, error) {
	result := &Result{}
	if e.agent == nil || len(missingPaths) == 0 {
		return result, nil
	}

	agenticResult, err := e.agent.FillFields(ctx, record.TargetURL, missingPaths, hints)
	if err != nil {
		return result, err
	}

	result.CostUSD = agenticResult.Cost
	result.PagesLoaded = agenticResult.PagesLoaded
	record.RunningCost += agenticResult.Cost

	now := time.Now()
	for path, value := range agenticResult.Filled {
		if applyField(record, path, value, now) {
			result.FilledPaths = append(result.FilledPaths, path)
		}
	}

	if e.artifact != nil {
		for i, shot := range agenticResult.Screenshots {
			caption := "selective browsing: " + strings.Join(missingPaths, ", ") + " (page " + strconv.Itoa(i+1) + ")"
			ref, err := e.artifact.Put(ctx, shot, model.MediaImagePNG, caption)
			if err != nil {
				continue
			}
			ref.ProducingPhase = 4
			ref.CapturedAt = now
			ref.Caption = caption
			record.Artifacts = append(record.Artifacts, *ref)
			result.NewArtifacts = append(result.NewArtifacts, *ref)
		}
	}

	return result, nil
}

// applyField writes value into record at the named dot-notation path,
// reporting whether the path was recognized and non-empty.
func applyField(record *model.PartialRecord, path, value string, now time.Time) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	obs := func() model.RawField[string] {
		return model.NewRawField(value, model.SourceSelectiveLLM, model.SourcePrior[model.SourceSelectiveLLM], now)
	}

	switch path {
	case "name":
		record.Name.Append(obs())
	case "website":
		record.Website.Append(obs())
	case "hours":
		record.Hours.Append(obs())
	case "cuisine":
		record.Cuisine.Append(obs())
	case "price_range":
		record.PriceRange.Append(obs())
	case "description":
		record.Description.Append(obs())
	case "address", "address.raw":
		record.Address.Append(model.NewRawField(model.Address{Raw: value}, model.SourceSelectiveLLM, model.SourcePrior[model.SourceSelectiveLLM], now))
	case "phone", "phone.raw":
		record.Phone.Append(model.NewRawField(model.Phone{Raw: value}, model.SourceSelectiveLLM, model.SourcePrior[model.SourceSelectiveLLM], now))
	case "rating":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			record.Rating.Append(model.NewRawField(f, model.SourceSelectiveLLM, model.SourcePrior[model.SourceSelectiveLLM], now))
		}
	case "review_count":
		if n, err := strconv.Atoi(value); err == nil {
			record.ReviewCount.Append(model.NewRawField(n, model.SourceSelectiveLLM, model.SourcePrior[model.SourceSelectiveLLM], now))
		}
	case "geo_lat":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			record.GeoLat.Append(model.NewRawField(f, model.SourceSelectiveLLM, model.SourcePrior[model.SourceSelectiveLLM], now))
		}
	case "geo_lng":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			record.GeoLng.Append(model.NewRawField(f, model.SourceSelectiveLLM, model.SourcePrior[model.SourceSelectiveLLM], now))
		}
	default:
		return false
	}
	return true
}
