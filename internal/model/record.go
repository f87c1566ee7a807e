package model

import "time"

// PartialRecord is the mutable working object the orchestrator owns for
// the life of a single run. Every attribute is held as a bag of RawField
// observations; nothing is ever overwritten, only appended.
type PartialRecord struct {
	TargetURL string `json:"target_url"`

	Name        FieldBag[string]      `json:"name"`
	Address     FieldBag[Address]     `json:"address"`
	Phone       FieldBag[Phone]       `json:"phone"`
	Website     FieldBag[string]      `json:"website"`
	Hours       FieldBag[string]      `json:"hours"`
	Cuisine     FieldBag[string]      `json:"cuisine"`
	PriceRange  FieldBag[string]      `json:"price_range"`
	Rating      FieldBag[float64]     `json:"rating"`
	ReviewCount FieldBag[int]         `json:"review_count"`
	Description FieldBag[string]      `json:"description"`
	GeoLat      FieldBag[float64]     `json:"geo_lat"`
	GeoLng      FieldBag[float64]     `json:"geo_lng"`
	Social      FieldBag[SocialLinks] `json:"social"`

	MenuItems   []MenuItem          `json:"menu_items"`
	Competitors []CompetitorSummary `json:"competitors"`
	Artifacts   []ArtifactRef       `json:"artifacts"`

	PhasesCompleted []int   `json:"phases_completed"`
	RunningCost     float64 `json:"running_cost"`
	RunningQuality  float64 `json:"running_quality"`

	// Errors accumulates non-fatal phase/component errors recorded while
	// the run progresses, surfaced later in ExtractionMetadata.
	Errors []PhaseError `json:"errors,omitempty"`
}

// NewPartialRecord seeds an empty working record for a run.
func NewPartialRecord(targetURL string) *PartialRecord {
	return &PartialRecord{TargetURL: targetURL}
}

// PhaseError records a single non-fatal failure observed during a phase.
type PhaseError struct {
	Phase      int       `json:"phase"`
	Component  string    `json:"component"`
	Category   string    `json:"category"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// MarkPhaseComplete appends phase to PhasesCompleted if not already present.
func (p *PartialRecord) MarkPhaseComplete(phase int) {
	for _, done := range p.PhasesCompleted {
		if done == phase {
			return
		}
	}
	p.PhasesCompleted = append(p.PhasesCompleted, phase)
}

// RecordError appends a phase-local error without aborting the run.
func (p *PartialRecord) RecordError(phase int, component, category string, err error, now time.Time) {
	if err == nil {
		return
	}
	p.Errors = append(p.Errors, PhaseError{
		Phase: phase, Component: component, Category: category,
		Message: err.Error(), OccurredAt: now,
	})
}

// OverallStatus enumerates the three terminal states of a run.
type OverallStatus string

const (
	StatusOK      OverallStatus = "ok"
	StatusPartial OverallStatus = "partial"
	StatusError   OverallStatus = "error"
)

// ExtractionMetadata summarizes cost, timing, and outcome for one run.
type ExtractionMetadata struct {
	RunID             string          `json:"run_id"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       time.Time       `json:"completed_at"`
	TotalDurationS    float64         `json:"total_duration_s"`
	TotalCost         float64         `json:"total_cost"`
	PhasesCompleted   []int           `json:"phases_completed"`
	PerPhaseCost      map[int]float64 `json:"per_phase_cost"`
	PerPhaseDuration  map[int]float64 `json:"per_phase_duration"`
	FinalQualityScore float64         `json:"final_quality_score"`
	OverallStatus     OverallStatus   `json:"overall_status"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	Notes             []string        `json:"notes,omitempty"`
	PhaseErrors       []PhaseError    `json:"phase_errors,omitempty"`
}

// CanonicalField is one resolved attribute: the canonical value plus the
// full raw-observations list preserved for audit.
type CanonicalField[T any] struct {
	Value        T             `json:"value"`
	Present      bool          `json:"present"`
	Observations []RawField[T] `json:"observations"`
}

// FinalRecord is the Canonicalizer's output: one canonical value per
// attribute, the raw-observations list preserved alongside it, and the
// artifacts/menu/competitors collected during the run.
type FinalRecord struct {
	TargetURL string `json:"target_url"`

	Name        CanonicalField[string]      `json:"name"`
	Address     CanonicalField[Address]     `json:"address"`
	Phone       CanonicalField[Phone]       `json:"phone"`
	Website     CanonicalField[string]      `json:"website"`
	Hours       CanonicalField[string]      `json:"hours"`
	Cuisine     CanonicalField[string]      `json:"cuisine"`
	PriceRange  CanonicalField[string]      `json:"price_range"`
	Rating      CanonicalField[float64]     `json:"rating"`
	ReviewCount CanonicalField[int]         `json:"review_count"`
	Description CanonicalField[string]      `json:"description"`
	GeoLat      CanonicalField[float64]     `json:"geo_lat"`
	GeoLng      CanonicalField[float64]     `json:"geo_lng"`
	Social      CanonicalField[SocialLinks] `json:"social"`

	MenuItems   []MenuItem          `json:"menu_items"`
	Competitors []CompetitorSummary `json:"competitors"`
	Artifacts   []ArtifactRef       `json:"artifacts"`

	ExtractionMetadata ExtractionMetadata `json:"extraction_metadata"`
}

// EmptyWithMetadata builds the FinalRecord shape required when
// overall_status=error: only the URL and metadata are populated.
func EmptyWithMetadata(targetURL string, meta ExtractionMetadata) *FinalRecord {
	return &FinalRecord{TargetURL: targetURL, ExtractionMetadata: meta}
}
