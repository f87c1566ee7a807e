package strategic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/model"
)

type stubText struct {
	responses []string
	i         int
}

func (s *stubText) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, float64, error) {
	resp := s.responses[s.i]
	if s.i < len(s.responses)-1 {
		s.i++
	}
	return resp, 0.01, nil
}

func TestAnalyze_NoLLM_ReturnsNilAnalysis(t *testing.T) {
	a := New(nil, nil, nil)
	result, err := a.Analyze(context.Background(), &model.FinalRecord{}, nil)

	require.NoError(t, err)
	assert.Nil(t, result.Analysis)
	assert.Equal(t, 0.0, result.CostUSD)
}

func TestAnalyze_FullPipeline_ProducesAnalysis(t *testing.T) {
	text := &stubText{responses: []string{
		`{"strengths":["great reviews"],"weaknesses":["limited hours"],"positioning":"casual neighborhood spot"}`,
		`{"strengths":["central location"],"weaknesses":["pricier"]}`,
		`{"executive_hook":"A hidden gem with room to grow.","competitive_landscape":[{"competitor_name":"Rival Cafe","strengths":["central location"],"weaknesses":["pricier"]}],"top_opportunities":[{"title":"Expand hours","rationale":"captures lunch crowd","impact_level":"high"}],"action_items":[{"title":"Add online ordering","detail":"reduce phone order load","priority":1}],"premium_teasers":["Deeper competitor pricing analysis available"],"forward_looking_insights":["Delivery demand rising in this area"]}`,
	}}

	record := &model.FinalRecord{
		Name: model.CanonicalField[string]{Value: "Joe's Diner", Present: true},
		Competitors: []model.CompetitorSummary{
			{Name: "Rival Cafe", AddressRaw: "2 Main St"},
		},
	}

	a := New(text, nil, nil)
	result, err := a.Analyze(context.Background(), record, nil)

	require.NoError(t, err)
	require.NotNil(t, result.Analysis)
	assert.Equal(t, "A hidden gem with room to grow.", result.Analysis.ExecutiveHook)
	require.Len(t, result.Analysis.TopOpportunities, 1)
	assert.Equal(t, "high", result.Analysis.TopOpportunities[0].ImpactLevel)
	assert.Greater(t, result.CostUSD, 0.0)
}

func TestAnalyze_SynthesisFails_AnalysisUnavailable(t *testing.T) {
	text := &stubText{responses: []string{
		`{"strengths":[],"weaknesses":[],"positioning":""}`,
		`not valid json at all`,
	}}
	a := New(text, nil, nil)
	result, err := a.Analyze(context.Background(), &model.FinalRecord{}, nil)

	require.NoError(t, err)
	assert.Nil(t, result.Analysis)
}

func TestAnalyzeScreenshots_SkippedWithoutVisionCapability(t *testing.T) {
	a := &Analyzer{}
	out := a.analyzeScreenshots(context.Background(), []model.ArtifactRef{{URI: "shot1"}}, &Result{})
	assert.Nil(t, out)
}

var _ capability.LLMText = (*stubText)(nil)
