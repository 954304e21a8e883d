package store

import "time"

// Interaction records one user/assistant turn. Immutable once created except
// for the back-reference set of consulted memories (MemoriesUsed).
type Interaction struct {
	ID               string
	ConversationID   string
	UserID           string
	Timestamp        time.Time
	UserMessage      string
	AssistantMessage string
	CognitivePlan    map[string]any
	MemoriesUsed     []string
	TokensUsed       int
	Cost             float64
	Metadata         map[string]any
}

// FindInteraction specifies the conditions for finding interactions.
type FindInteraction struct {
	ID             *string
	ConversationID *string
	UserID         *string
	// WithoutMemory restricts results to interactions that have no episodic
	// memory yet (degraded consolidations awaiting embedding backfill).
	WithoutMemory bool
	Limit         int
	Offset        int
}

// UpdateInteraction updates the set of memories consulted to produce the
// assistant message. All other fields are immutable.
type UpdateInteraction struct {
	ID           string
	MemoriesUsed []string
}
