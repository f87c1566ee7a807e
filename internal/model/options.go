package model

// PhaseGates holds the three quality-score thresholds that decide
// whether the orchestrator proceeds past gate1/gate2/gate3.
type PhaseGates struct {
	T1 float64
	T2 float64
	T3 float64
}

// DefaultPhaseGates are the stricter defaults spec.md picked when source
// docs disagreed (0.8/0.9/0.95 over 0.4/0.6/0.8).
func DefaultPhaseGates() PhaseGates {
	return PhaseGates{T1: 0.80, T2: 0.90, T3: 0.95}
}

// Budgets caps total run cost, wall time, and consecutive phase failures.
// A zero cost or wall-time value disables that cap; a zero
// ConsecutiveFailureCap makes the orchestrator use its default cap of 4.
type Budgets struct {
	MaxWallTimeS          float64
	MaxCost               float64
	ConsecutiveFailureCap int
}

// CrawlerOptions bounds DOMCrawler (C5).
type CrawlerOptions struct {
	MaxPages     int
	MaxDepth     int
	MaxWallTimeS float64
}

// VisionOptions bounds VisionProcessor's PDF rasterization (C6).
type VisionOptions struct {
	MaxPDFPages int
}

// SelectiveBrowsingOptions toggles C7.
type SelectiveBrowsingOptions struct {
	Enabled bool
}

// Options is the configuration object passed to run_extraction.
type Options struct {
	RestaurantNameHint      string
	AddressHint             string
	EnableStrategicAnalysis bool
	PhaseGates              PhaseGates
	Budgets                 Budgets
	Crawler                 CrawlerOptions
	Vision                  VisionOptions
	SelectiveBrowsing       SelectiveBrowsingOptions
}

// DefaultOptions returns the defaults named throughout spec.md §4.
func DefaultOptions() Options {
	return Options{
		EnableStrategicAnalysis: true,
		PhaseGates:              DefaultPhaseGates(),
		Budgets:                 Budgets{MaxWallTimeS: 0, MaxCost: 0, ConsecutiveFailureCap: 4},
		Crawler: CrawlerOptions{
			MaxPages:     15,
			MaxDepth:     3,
			MaxWallTimeS: 240,
		},
		Vision:            VisionOptions{MaxPDFPages: 5},
		SelectiveBrowsing: SelectiveBrowsingOptions{Enabled: true},
	}
}
