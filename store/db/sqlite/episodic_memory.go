package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

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

	embedding, err := marshalVector(create.Embedding)
	if err != nil {
		return nil, err
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

	var exists bool
	if err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM interactions WHERE id = ?)`, create.InteractionID).Scan(&exists); err != nil {
		return nil, apperrors.TransientStorage("failed to check interaction", err)
	}
	if !exists {
		err = apperrors.Validation("interaction %s does not exist", create.InteractionID)
		return nil, err
	}

	var lastAccessed any
	if create.LastAccessed != nil {
		lastAccessed = create.LastAccessed.Unix()
	}

	stmt := `INSERT INTO episodic_memories (id, interaction_id, content, embedding, created_ts, importance, attention_count, last_accessed_ts, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err = tx.ExecContext(ctx, stmt,
		create.ID,
		create.InteractionID,
		create.Content,
		embedding,
		create.Timestamp.Unix(),
		create.Importance,
		create.AttentionCount,
		lastAccessed,
		metadata,
	); err != nil {
		return nil, apperrors.TransientStorage("failed to create episodic memory", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, apperrors.TransientStorage("failed to commit episodic memory", err)
	}

	return create, nil
}

func (d *DB) ListEpisodicMemories(ctx context.Context, find *store.FindEpisodicMemory) ([]*store.EpisodicMemory, error) {
	if find == nil {
		return nil, apperrors.Validation("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}

	if len(find.IDs) > 0 {
		in := make([]string, len(find.IDs))
		for i, id := range find.IDs {
			in[i] = "?"
			args = append(args, id)
		}
		where = append(where, "m.id IN ("+strings.Join(in, ", ")+")")
	}
	if find.UserID != nil {
		where, args = append(where, "i.user_id = ?"), append(args, *find.UserID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "i.conversation_id = ?"), append(args, *find.ConversationID)
	}

	query := `SELECT m.id, m.interaction_id, m.content, m.embedding, m.created_ts,
			m.importance, m.attention_count, m.last_accessed_ts, m.metadata
		FROM episodic_memories m
		INNER JOIN interactions i ON i.id = m.interaction_id
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY m.created_ts DESC`

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
		memory, err := scanMemoryRow(rows)
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

// SearchMemoriesByVector runs a linear scan over the user's memories and
// ranks by cosine similarity in Go. There is no vector index in SQLite; this
// is intended for development-scale datasets only.
func (d *DB) SearchMemoriesByVector(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error) {
	if opts == nil || len(opts.Vector) == 0 {
		return nil, apperrors.Validation("vector search requires a query vector")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	memories, err := d.ListEpisodicMemories(ctx, &store.FindEpisodicMemory{UserID: &opts.UserID})
	if err != nil {
		return nil, err
	}

	results := make([]*store.MemoryWithScore, 0, len(memories))
	for _, memory := range memories {
		score, ok := cosineSimilarity(opts.Vector, memory.Embedding)
		if !ok {
			continue
		}
		results = append(results, &store.MemoryWithScore{Memory: memory, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (d *DB) TouchEpisodicMemory(ctx context.Context, touch *store.TouchEpisodicMemory) error {
	stmt := `UPDATE episodic_memories
		SET importance = ?, attention_count = attention_count + 1, last_accessed_ts = ?
		WHERE id = ?`
	result, err := d.db.ExecContext(ctx, stmt, touch.Importance, touch.AccessedAt.Unix(), touch.ID)
	if err != nil {
		return apperrors.TransientStorage("failed to touch episodic memory", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFound("episodic memory %s not found", touch.ID)
	}
	return nil
}

func scanMemoryRow(rows *sql.Rows) (*store.EpisodicMemory, error) {
	memory := &store.EpisodicMemory{}
	var createdTs int64
	var lastAccessedTs sql.NullInt64
	var embeddingBytes, metadataBytes []byte
	if err := rows.Scan(
		&memory.ID,
		&memory.InteractionID,
		&memory.Content,
		&embeddingBytes,
		&createdTs,
		&memory.Importance,
		&memory.AttentionCount,
		&lastAccessedTs,
		&metadataBytes,
	); err != nil {
		return nil, apperrors.TransientStorage("failed to scan episodic memory", err)
	}
	memory.Timestamp = time.Unix(createdTs, 0).UTC()
	if lastAccessedTs.Valid {
		t := time.Unix(lastAccessedTs.Int64, 0).UTC()
		memory.LastAccessed = &t
	}
	var err error
	if memory.Embedding, err = unmarshalVector(embeddingBytes); err != nil {
		return nil, err
	}
	if memory.Metadata, err = unmarshalJSON(metadataBytes); err != nil {
		return nil, err
	}
	return memory, nil
}

// cosineSimilarity returns the cosine of the angle between a and b, or false
// when the vectors are mismatched or degenerate.
func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
