package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/SilicateWielder/memlayer/internal/errors"
	"github.com/SilicateWielder/memlayer/store"
)

func (d *DB) CreateInteraction(ctx context.Context, create *store.Interaction) (*store.Interaction, error) {
	if create.ConversationID == "" || create.UserID == "" {
		return nil, apperrors.Validation("interaction conversation id and user id are required")
	}
	if create.ID == "" {
		create.ID = uuid.New().String()
	}
	if create.Timestamp.IsZero() {
		create.Timestamp = time.Now().UTC()
	}

	cognitivePlan, err := marshalJSON(create.CognitivePlan)
	if err != nil {
		return nil, err
	}
	memoriesUsed, err := marshalStrings(create.MemoriesUsed)
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

	result, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_active_ts = ? WHERE id = ?`,
		create.Timestamp.Unix(), create.ConversationID)
	if err != nil {
		return nil, apperrors.TransientStorage("failed to touch conversation", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		err = apperrors.Validation("conversation %s does not exist", create.ConversationID)
		return nil, err
	}

	stmt := `INSERT INTO interactions (id, conversation_id, user_id, created_ts, user_message, assistant_message, cognitive_plan, memories_used, tokens_used, cost, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err = tx.ExecContext(ctx, stmt,
		create.ID,
		create.ConversationID,
		create.UserID,
		create.Timestamp.Unix(),
		create.UserMessage,
		create.AssistantMessage,
		cognitivePlan,
		memoriesUsed,
		create.TokensUsed,
		create.Cost,
		metadata,
	); err != nil {
		return nil, apperrors.TransientStorage("failed to create interaction", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, apperrors.TransientStorage("failed to commit interaction", err)
	}

	return create, nil
}

func (d *DB) UpdateInteraction(ctx context.Context, update *store.UpdateInteraction) error {
	memoriesUsed, err := marshalStrings(update.MemoriesUsed)
	if err != nil {
		return err
	}

	result, err := d.db.ExecContext(ctx,
		`UPDATE interactions SET memories_used = ? WHERE id = ?`, memoriesUsed, update.ID)
	if err != nil {
		return apperrors.TransientStorage("failed to update interaction", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFound("interaction %s not found", update.ID)
	}
	return nil
}

func (d *DB) ListInteractions(ctx context.Context, find *store.FindInteraction) ([]*store.Interaction, error) {
	if find == nil {
		return nil, apperrors.Validation("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "i.id = ?"), append(args, *find.ID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "i.conversation_id = ?"), append(args, *find.ConversationID)
	}
	if find.UserID != nil {
		where, args = append(where, "i.user_id = ?"), append(args, *find.UserID)
	}
	if find.WithoutMemory {
		where = append(where, "NOT EXISTS (SELECT 1 FROM episodic_memories m WHERE m.interaction_id = i.id)")
	}

	query := `SELECT i.id, i.conversation_id, i.user_id, i.created_ts, i.user_message, i.assistant_message,
			i.cognitive_plan, i.memories_used, i.tokens_used, i.cost, i.metadata
		FROM interactions i WHERE ` + strings.Join(where, " AND ") + ` ORDER BY i.created_ts DESC`

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
		return nil, apperrors.TransientStorage("failed to list interactions", err)
	}
	defer rows.Close()

	list := make([]*store.Interaction, 0)
	for rows.Next() {
		interaction := &store.Interaction{}
		var createdTs int64
		var cognitivePlanBytes, memoriesUsedBytes, metadataBytes []byte
		if err := rows.Scan(
			&interaction.ID,
			&interaction.ConversationID,
			&interaction.UserID,
			&createdTs,
			&interaction.UserMessage,
			&interaction.AssistantMessage,
			&cognitivePlanBytes,
			&memoriesUsedBytes,
			&interaction.TokensUsed,
			&interaction.Cost,
			&metadataBytes,
		); err != nil {
			return nil, apperrors.TransientStorage("failed to scan interaction", err)
		}
		interaction.Timestamp = time.Unix(createdTs, 0).UTC()
		if interaction.CognitivePlan, err = unmarshalJSON(cognitivePlanBytes); err != nil {
			return nil, err
		}
		if interaction.MemoriesUsed, err = unmarshalStrings(memoriesUsedBytes); err != nil {
			return nil, err
		}
		if interaction.Metadata, err = unmarshalJSON(metadataBytes); err != nil {
			return nil, err
		}
		list = append(list, interaction)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.TransientStorage("failed to iterate interactions", err)
	}

	return list, nil
}
