// Package strategic implements C10, the StrategicAnalyzer: a four-stage
// LLM pipeline over a FinalRecord and a handful of screenshots that
// produces the downstream business-advisory StrategicAnalysis object
// (spec.md §4.10). Failure at any stage is non-fatal: the caller gets a
// nil analysis rather than a failed run.
package strategic

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/llmjson"
	"github.com/sells-group/restaurant-intel/internal/model"
)

const (
	maxScreenshots = 5
	maxCompetitors = 5
)

// Analyzer drives the four-stage strategic analysis pipeline.
type Analyzer struct {
	llmText   capability.LLMText
	llmVision capability.LLMVision
	artifact  capability.Artifact
}

// New builds an Analyzer. llmVision/artifact may be nil, in which case
// stage 1 (per-screenshot analysis) is skipped and the rest of the
// pipeline proceeds on text alone.
func New(llmText capability.LLMText, llmVision capability.LLMVision, artifact capability.Artifact) *Analyzer {
	return &Analyzer{llmText: llmText, llmVision: llmVision, artifact: artifact}
}

// Result is the yield of one Analyze call.
type Result struct {
	Analysis *model.StrategicAnalysis
	CostUSD  float64
}

// Analyze runs the full pipeline. A nil Result.Analysis with a nil error
// means "analysis unavailable" (spec.md §4.10): the caller records that
// as a non-fatal note, not a run failure.
func (a *Analyzer) Analyze(ctx context.Context, record *model.FinalRecord, screenshots []model.ArtifactRef) (*Result, error) {
	result := &Result{}
	if a.llmText == nil {
		return result, nil
	}

	impressions := a.analyzeScreenshots(ctx, screenshots, result)
	deepDive := a.deepDive(ctx, record, result)
	competitorNotes := a.competitorSnapshots(ctx, record, result)

	analysis, cost := a.synthesize(ctx, record, impressions, deepDive, competitorNotes)
	result.CostUSD += cost
	result.Analysis = analysis
	return result, nil
}

type screenshotImpression struct {
	Summary string   `json:"summary"`
	Facts   []string `json:"facts"`
}

const visionStageSystem = `You are a restaurant business analyst reviewing a screenshot of a restaurant's web presence. Respond with strict JSON only.`

func (a *Analyzer) analyzeScreenshots(ctx context.Context, screenshots []model.ArtifactRef, result *Result) []screenshotImpression {
	if a.llmVision == nil || a.artifact == nil {
		return nil
	}
	var out []screenshotImpression
	n := screenshots
	if len(n) > maxScreenshots {
		n = n[:maxScreenshots]
	}
	for _, ref := range n {
		data, err := a.artifact.Get(ctx, ref.URI)
		if err != nil {
			zap.L().Debug("strategic: fetch screenshot failed, skipping", zap.Error(err))
			continue
		}
		prompt := "Examine this screenshot of a restaurant's web presence and summarize its impression and any concrete facts worth noting (design quality, clarity of information, notable claims). Return JSON: {\"summary\": \"...\", \"facts\": [\"...\"]}"
		images := []capability.Image{{MediaType: "image/png", Data: data}}
		res, err := llmjson.CallWithImages[screenshotImpression](ctx, a.llmVision, "strategic.screenshot", visionStageSystem, prompt, images, 512)
		result.CostUSD += res.Cost
		if err != nil {
			zap.L().Debug("strategic: screenshot analysis failed, skipping", zap.Error(err))
			continue
		}
		out = append(out, res.Value)
	}
	return out
}

type deepDiveResult struct {
	Strengths   []string `json:"strengths"`
	Weaknesses  []string `json:"weaknesses"`
	Positioning string   `json:"positioning"`
}

const deepDiveSystem = `You are a restaurant business strategist. Respond with strict JSON only, grounded strictly in the facts given — never invent details not present in the record.`

func (a *Analyzer) deepDive(ctx context.Context, record *model.FinalRecord, result *Result) *deepDiveResult {
	prompt := "Given this canonical restaurant record, identify strengths, weaknesses, and market positioning.\n\n" +
		summarizeRecord(record) +
		"\n\nReturn JSON: {\"strengths\": [\"...\"], \"weaknesses\": [\"...\"], \"positioning\": \"...\"}"
	res, err := llmjson.Call[deepDiveResult](ctx, a.llmText, "strategic.deep_dive", deepDiveSystem, prompt, 768)
	result.CostUSD += res.Cost
	if err != nil {
		zap.L().Debug("strategic: deep dive failed", zap.Error(err))
		return nil
	}
	return &res.Value
}

const competitorSystem = `You are a restaurant business strategist analyzing a nearby competitor from directory data alone. Respond with strict JSON only, grounded strictly in the given fields.`

func (a *Analyzer) competitorSnapshots(ctx context.Context, record *model.FinalRecord, result *Result) []model.CompetitiveNote {
	competitors := record.Competitors
	if len(competitors) > maxCompetitors {
		competitors = competitors[:maxCompetitors]
	}
	var notes []model.CompetitiveNote
	for _, comp := range competitors {
		prompt := fmt.Sprintf("Competitor: %s\nAddress: %s\nRating: %v\nReview count: %v\n\nGive brief strengths and weaknesses inferred only from these directory fields. Return JSON: {\"strengths\": [\"...\"], \"weaknesses\": [\"...\"]}",
			comp.Name, comp.AddressRaw, ratingOrNA(comp.Rating), countOrNA(comp.ReviewCount))
		type snapshot struct {
			Strengths  []string `json:"strengths"`
			Weaknesses []string `json:"weaknesses"`
		}
		res, err := llmjson.Call[snapshot](ctx, a.llmText, "strategic.competitor", competitorSystem, prompt, 384)
		result.CostUSD += res.Cost
		if err != nil {
			zap.L().Debug("strategic: competitor snapshot failed, skipping", zap.String("competitor", comp.Name), zap.Error(err))
			continue
		}
		notes = append(notes, model.CompetitiveNote{
			CompetitorName: comp.Name,
			Strengths:      res.Value.Strengths,
			Weaknesses:     res.Value.Weaknesses,
		})
	}
	return notes
}

const synthesisSystem = `You are a restaurant business strategist producing a final advisory report. Respond with strict JSON only, matching exactly the requested schema. Every claim must trace back to the given inputs.`

func (a *Analyzer) synthesize(ctx context.Context, record *model.FinalRecord, impressions []screenshotImpression, deepDive *deepDiveResult, competitorNotes []model.CompetitiveNote) (*model.StrategicAnalysis, float64) {
	var sb strings.Builder
	sb.WriteString(summarizeRecord(record))
	sb.WriteString("\n\nScreenshot impressions:\n")
	for _, imp := range impressions {
		sb.WriteString("- ")
		sb.WriteString(imp.Summary)
		sb.WriteString("\n")
	}
	if deepDive != nil {
		sb.WriteString("\nStrengths: ")
		sb.WriteString(strings.Join(deepDive.Strengths, "; "))
		sb.WriteString("\nWeaknesses: ")
		sb.WriteString(strings.Join(deepDive.Weaknesses, "; "))
		sb.WriteString("\nPositioning: ")
		sb.WriteString(deepDive.Positioning)
	}
	sb.WriteString("\n\nCompetitor notes:\n")
	for _, n := range competitorNotes {
		sb.WriteString("- ")
		sb.WriteString(n.CompetitorName)
		sb.WriteString(": strengths=")
		sb.WriteString(strings.Join(n.Strengths, ", "))
		sb.WriteString(" weaknesses=")
		sb.WriteString(strings.Join(n.Weaknesses, ", "))
		sb.WriteString("\n")
	}
	sb.WriteString("\n\nProduce a StrategicAnalysis object as strict JSON with exactly these fields: " +
		"{\"executive_hook\": \"...\", " +
		"\"competitive_landscape\": [{\"competitor_name\": \"...\", \"strengths\": [\"...\"], \"weaknesses\": [\"...\"]}], " +
		"\"top_opportunities\": [{\"title\": \"...\", \"rationale\": \"...\", \"impact_level\": \"high|medium|low\"}], " +
		"\"action_items\": [{\"title\": \"...\", \"detail\": \"...\", \"priority\": 1}], " +
		"\"premium_teasers\": [\"...\"], " +
		"\"forward_looking_insights\": [\"...\"]}")

	res, err := llmjson.Call[model.StrategicAnalysis](ctx, a.llmText, "strategic.synthesis", synthesisSystem, sb.String(), 2048)
	if err != nil {
		zap.L().Debug("strategic: synthesis failed after retries, analysis unavailable", zap.Error(err))
		return nil, res.Cost
	}
	return &res.Value, res.Cost
}

func summarizeRecord(record *model.FinalRecord) string {
	var sb strings.Builder
	sb.WriteString("Name: ")
	sb.WriteString(record.Name.Value)
	sb.WriteString("\nCuisine: ")
	sb.WriteString(record.Cuisine.Value)
	sb.WriteString("\nPrice range: ")
	sb.WriteString(record.PriceRange.Value)
	sb.WriteString("\nRating: ")
	sb.WriteString(fmt.Sprintf("%v (%v reviews)", record.Rating.Value, record.ReviewCount.Value))
	sb.WriteString("\nDescription: ")
	sb.WriteString(record.Description.Value)
	sb.WriteString(fmt.Sprintf("\nMenu items: %d", len(record.MenuItems)))
	return sb.String()
}

func ratingOrNA(r *float64) string {
	if r == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", *r)
}

func countOrNA(c *int) string {
	if c == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d", *c)
}
