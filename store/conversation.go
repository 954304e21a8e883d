package store

import "time"

// Conversation groups the interactions of one user session thread.
// It is created lazily on the first interaction referencing an unseen id and
// never deleted by this layer.
type Conversation struct {
	ID         string
	UserID     string
	CreatedAt  time.Time
	LastActive time.Time
	Metadata   map[string]any
}

// UpsertConversation specifies an idempotent find-or-create. Concurrent
// callers with the same ID converge to one row; last_active is bumped on
// every call.
type UpsertConversation struct {
	ID       string
	UserID   string
	ActiveAt time.Time
}

// FindConversation specifies the conditions for finding conversations.
type FindConversation struct {
	ID     *string
	UserID *string
	Limit  int
	Offset int
}
