package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	apperrors "github.com/SilicateWielder/memlayer/internal/errors"
	"github.com/SilicateWielder/memlayer/store"
)

func (d *DB) CreateEpisodicMemory(ctx context.Context, create *store.EpisodicMemory) (*store.EpisodicMemory, error) {
	if create.InteractionID == "" {
		return nil, apperrors.Validation("episodic memory requires an owning interaction")
	}
	if len(create.Embedding) == 0 {
		return nil, apperrors.Validation("episodic memory requires an embedding")
	}
	if create.ID == "" {
		create.ID = uuid.New().String()
	}
	if create.Timestamp.IsZero() {
		create.Timestamp = time.Now().UTC()
	}

	metadata, err := marshalJSON(create.Metadata)
	if err != nil {
		return nil, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.TransientStorage("failed to begin transaction", err)
	}
	// Rollback after a successful Commit is a no-op (ErrTxDone).
	defer func() {
		_ = tx.Rollback()
	}()

	// Enforce the one-memory-per-interaction ownership at write time rather
	// than trusting the unique constraint alone.
	var exists bool
	if err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM interactions WHERE id = `+placeholder(1)+`)`,
		create.InteractionID).Scan(&exists); err != nil {
		return nil, apperrors.TransientStorage("failed to check interaction", err)
	}
	if !exists {
		err = apperrors.Validation("interaction %s does not exist", create.InteractionID)
		return nil, err
	}

	fields := []string{"id", "interaction_id", "content", "embedding", "timestamp", "importance", "attention_count", "last_accessed", "metadata"}
	args := []any{
		create.ID,
		create.InteractionID,
		create.Content,
		pgvector.NewVector(create.Embedding),
		create.Timestamp,
		create.Importance,
		create.AttentionCount,
		create.LastAccessed,
		metadata,
	}

	stmt := `INSERT INTO episodic_memories (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)`
	if _, err = tx.ExecContext(ctx, stmt, args...); err != nil {
		return nil, apperrors.TransientStorage("failed to create episodic memory", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, apperrors.TransientStorage("failed to commit episodic memory", err)
	}

	return create, nil
}

const memoryFields = `m.id, m.interaction_id, m.content, m.embedding, m.timestamp,
	m.importance, m.attention_count, m.last_accessed, m.metadata`

func (d *DB) ListEpisodicMemories(ctx context.Context, find *store.FindEpisodicMemory) ([]*store.EpisodicMemory, error) {
	if find == nil {
		return nil, apperrors.Validation("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}

	if len(find.IDs) > 0 {
		where, args = append(where, "m.id = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.IDs))
	}
	if find.UserID != nil {
		where, args = append(where, "i.user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "i.conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}

	query := `SELECT ` + memoryFields + `
		FROM episodic_memories m
		INNER JOIN interactions i ON i.id = m.interaction_id
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY m.timestamp DESC`

	limit := find.Limit
	if limit > 0 {
		if limit > 1000 {
			limit = 1000
		}
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	if find.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", find.Offset)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.TransientStorage("failed to list episodic memories", err)
	}
	defer rows.Close()

	list := make([]*store.EpisodicMemory, 0)
	for rows.Next() {
		memory, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, memory)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.TransientStorage("failed to iterate episodic memories", err)
	}

	return list, nil
}

func (d *DB) SearchMemoriesByVector(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error) {
	if opts == nil || len(opts.Vector) == 0 {
		return nil, apperrors.Validation("vector search requires a query vector")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	// The <=> operator computes cosine distance (1 - cosine_similarity), so
	// close vectors sort first and score = 1 - distance.
	query := `
		SELECT ` + memoryFields + `,
			1 - (m.embedding <=> ` + placeholder(1) + `) AS score
		FROM episodic_memories m
		INNER JOIN interactions i ON i.id = m.interaction_id
		WHERE i.user_id = ` + placeholder(2) + `
		ORDER BY m.embedding <=> ` + placeholder(3) + `
		LIMIT ` + placeholder(4)

	vector := pgvector.NewVector(opts.Vector)
	rows, err := d.db.QueryContext(ctx, query, vector, opts.UserID, vector, limit)
	if err != nil {
		return nil, apperrors.TransientStorage("failed to vector search", err)
	}
	defer rows.Close()

	results := make([]*store.MemoryWithScore, 0, limit)
	for rows.Next() {
		result := &store.MemoryWithScore{}
		memory, err := scanMemory(func(dest ...any) error {
			return rows.Scan(append(dest, &result.Score)...)
		})
		if err != nil {
			return nil, err
		}
		result.Memory = memory
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.TransientStorage("failed to iterate vector search results", err)
	}

	return results, nil
}

func (d *DB) TouchEpisodicMemory(ctx context.Context, touch *store.TouchEpisodicMemory) error {
	// attention_count increments inside SQL so concurrent touches never lose
	// updates; importance and last_accessed are last-write-wins.
	stmt := `UPDATE episodic_memories
		SET importance = ` + placeholder(1) + `,
			attention_count = attention_count + 1,
			last_accessed = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3)

	result, err := d.db.ExecContext(ctx, stmt, touch.Importance, touch.AccessedAt, touch.ID)
	if err != nil {
		return apperrors.TransientStorage("failed to touch episodic memory", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFound("episodic memory %s not found", touch.ID)
	}
	return nil
}

// scanMemory scans one episodic memory row; scan receives the destination
// pointers in memoryFields order.
func scanMemory(scan func(dest ...any) error) (*store.EpisodicMemory, error) {
	memory := &store.EpisodicMemory{}
	var vector pgvector.Vector
	var metadataBytes []byte
	if err := scan(
		&memory.ID,
		&memory.InteractionID,
		&memory.Content,
		&vector,
		&memory.Timestamp,
		&memory.Importance,
		&memory.AttentionCount,
		&memory.LastAccessed,
		&metadataBytes,
	); err != nil {
		return nil, apperrors.TransientStorage("failed to scan episodic memory", err)
	}
	memory.Embedding = vector.Slice()
	var err error
	if memory.Metadata, err = unmarshalJSON(metadataBytes); err != nil {
		return nil, err
	}
	return memory, nil
}
