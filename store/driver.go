package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that a store database driver should implement.
//
// Atomicity contract: every multi-row write for one logical operation is a
// single transaction inside the driver. Partial writes are never observable
// by concurrent readers.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Conversation model related methods.
	UpsertConversation(ctx context.Context, upsert *UpsertConversation) (*Conversation, error)
	GetConversation(ctx context.Context, find *FindConversation) (*Conversation, error)

	// Interaction model related methods.
	CreateInteraction(ctx context.Context, create *Interaction) (*Interaction, error)
	UpdateInteraction(ctx context.Context, update *UpdateInteraction) error
	ListInteractions(ctx context.Context, find *FindInteraction) ([]*Interaction, error)

	// EpisodicMemory model related methods.
	CreateEpisodicMemory(ctx context.Context, create *EpisodicMemory) (*EpisodicMemory, error)
	ListEpisodicMemories(ctx context.Context, find *FindEpisodicMemory) ([]*EpisodicMemory, error)

	// SearchMemoriesByVector performs semantic search using vector similarity,
	// scoped to one user, ordered by descending cosine similarity.
	SearchMemoriesByVector(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryWithScore, error)

	// TouchEpisodicMemory applies one retrieval access: an atomic
	// attention_count increment plus last-write-wins importance/last_accessed.
	TouchEpisodicMemory(ctx context.Context, touch *TouchEpisodicMemory) error

	// CausalLink model related methods. UpsertCausalLinks validates both
	// endpoints and updates strength in place on (cause, effect, type) conflict,
	// all within one transaction.
	UpsertCausalLinks(ctx context.Context, upserts []*CausalLink) ([]*CausalLink, error)
	ListCausalLinks(ctx context.Context, find *FindCausalLink) ([]*CausalLink, error)
}
