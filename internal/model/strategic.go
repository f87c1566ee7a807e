package model

// Opportunity is one ranked item in StrategicAnalysis.TopOpportunities.
type Opportunity struct {
	Title       string `json:"title"`
	Rationale   string `json:"rationale"`
	ImpactLevel string `json:"impact_level"` // "high", "medium", "low"
}

// ActionItem is one concrete next step in StrategicAnalysis.ActionItems.
type ActionItem struct {
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Priority int    `json:"priority"`
}

// CompetitiveNote is one per-competitor strengths/weaknesses snapshot.
type CompetitiveNote struct {
	CompetitorName string   `json:"competitor_name"`
	Strengths      []string `json:"strengths"`
	Weaknesses     []string `json:"weaknesses"`
}

// StrategicAnalysis is the downstream LLM-generated business-advisory
// object. Schema-validated; fixed sections only.
type StrategicAnalysis struct {
	ExecutiveHook          string            `json:"executive_hook"`
	CompetitiveLandscape   []CompetitiveNote `json:"competitive_landscape"`
	TopOpportunities       []Opportunity     `json:"top_opportunities"`
	ActionItems            []ActionItem      `json:"action_items"`
	PremiumTeasers         []string          `json:"premium_teasers"`
	ForwardLookingInsights []string          `json:"forward_looking_insights"`
}
