package store

import "time"

// Link type constants. A pair of memories may carry multiple links of
// different types, but at most one link per (cause, effect, type).
const (
	LinkTypeTemporal = "temporal"
	LinkTypeTopical  = "topical"
	LinkTypeExplicit = "explicit"
)

// CausalLink is a directed edge asserting that the cause memory plausibly
// influenced or relates to the effect memory.
type CausalLink struct {
	ID       string
	CauseID  string
	EffectID string
	// Strength is in [0,1]. Duplicate inference updates it in place.
	Strength   float64
	Type       string
	InferredAt time.Time
	// Verified is only set true by an external verification process.
	Verified bool
}

// FindCausalLink specifies the conditions for finding causal links.
type FindCausalLink struct {
	CauseID  *string
	EffectID *string
	// MemoryID matches links touching the memory on either endpoint.
	MemoryID *string
}
