package model

import "time"

// RawField is a single observation of an attribute: a value plus the
// provenance needed to judge it later. Multiple RawField instances may
// coexist for the same logical attribute; the Canonicalizer reduces them
// into one canonical form while retaining the raw list.
type RawField[T any] struct {
	Value      T         `json:"value"`
	Source     SourceTag `json:"source"`
	Confidence float64   `json:"confidence"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewRawField constructs an observation stamped with the given source and
// confidence.
func NewRawField[T any](value T, source SourceTag, confidence float64, observedAt time.Time) RawField[T] {
	return RawField[T]{Value: value, Source: source, Confidence: confidence, ObservedAt: observedAt}
}

// FieldBag accumulates RawField observations for one attribute across the
// life of a run. Append-only: no extractor mutates another's entries.
type FieldBag[T any] struct {
	Observations []RawField[T] `json:"observations"`
}

// Append adds an observation in place.
func (b *FieldBag[T]) Append(obs RawField[T]) {
	b.Observations = append(b.Observations, obs)
}

// Empty reports whether any observation has been recorded.
func (b *FieldBag[T]) Empty() bool {
	return len(b.Observations) == 0
}

// SortedBySource returns a copy of the observations sorted by SourceTag
// enum order, the deterministic merge order the orchestrator requires
// for reproducible canonicalization (spec.md §5 ordering guarantee).
func (b *FieldBag[T]) SortedBySource() []RawField[T] {
	out := make([]RawField[T], len(b.Observations))
	copy(out, b.Observations)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Source > out[j].Source; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
