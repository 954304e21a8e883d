package store

import "time"

// EpisodicMemory is the durable, retrievable record derived from exactly one
// interaction. Importance, attention count, and last-accessed are mutated by
// the retrieval engine on every access; rows are never deleted by this layer.
type EpisodicMemory struct {
	ID            string
	InteractionID string
	Content       string
	Embedding     []float32
	Timestamp     time.Time
	// Importance is the salience score in [0,1]. Eviction policies hook here.
	Importance     float64
	AttentionCount int
	// LastAccessed is nil until the memory is first retrieved.
	LastAccessed *time.Time
	Metadata     map[string]any
}

// FindEpisodicMemory specifies the conditions for finding episodic memories.
// Results are ordered by timestamp descending.
type FindEpisodicMemory struct {
	IDs            []string
	UserID         *string
	ConversationID *string
	Limit          int
	Offset         int
}

// TouchEpisodicMemory records one retrieval access: attention_count is
// incremented atomically in SQL, importance and last_accessed are last-write-wins.
type TouchEpisodicMemory struct {
	ID         string
	Importance float64
	AccessedAt time.Time
}

// VectorSearchOptions controls a similarity search over memory embeddings.
type VectorSearchOptions struct {
	// UserID scopes results to one user's memories.
	UserID string
	Vector []float32
	Limit  int
}

// MemoryWithScore pairs a memory with its raw cosine similarity to the query.
type MemoryWithScore struct {
	Memory *EpisodicMemory
	Score  float64
}
