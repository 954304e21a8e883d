package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	apperrors "github.com/SilicateWielder/memlayer/internal/errors"
	"github.com/SilicateWielder/memlayer/store"
)

func (d *DB) UpsertConversation(ctx context.Context, upsert *store.UpsertConversation) (*store.Conversation, error) {
	if upsert.ID == "" || upsert.UserID == "" {
		return nil, apperrors.Validation("conversation id and user id are required")
	}
	activeAt := upsert.ActiveAt
	if activeAt.IsZero() {
		activeAt = time.Now().UTC()
	}

	// ON CONFLICT makes concurrent upserts for the same id converge to one
	// row instead of surfacing a duplicate-key fault.
	stmt := `
		INSERT INTO conversations (id, user_id, created_at, last_active)
		VALUES (` + placeholders(3) + `, ` + placeholder(3) + `)
		ON CONFLICT (id)
		DO UPDATE SET last_active = EXCLUDED.last_active
		RETURNING id, user_id, created_at, last_active, metadata
	`

	conversation := &store.Conversation{}
	var metadataBytes []byte
	err := d.db.QueryRowContext(ctx, stmt, upsert.ID, upsert.UserID, activeAt).Scan(
		&conversation.ID,
		&conversation.UserID,
		&conversation.CreatedAt,
		&conversation.LastActive,
		&metadataBytes,
	)
	if err != nil {
		return nil, apperrors.TransientStorage("failed to upsert conversation", err)
	}
	if conversation.Metadata, err = unmarshalJSON(metadataBytes); err != nil {
		return nil, err
	}

	return conversation, nil
}

func (d *DB) GetConversation(ctx context.Context, find *store.FindConversation) (*store.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	query := `SELECT id, user_id, created_at, last_active, metadata
		FROM conversations WHERE ` + strings.Join(where, " AND ") + ` LIMIT 1`

	conversation := &store.Conversation{}
	var metadataBytes []byte
	err := d.db.QueryRowContext(ctx, query, args...).Scan(
		&conversation.ID,
		&conversation.UserID,
		&conversation.CreatedAt,
		&conversation.LastActive,
		&metadataBytes,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.TransientStorage("failed to get conversation", err)
	}
	if conversation.Metadata, err = unmarshalJSON(metadataBytes); err != nil {
		return nil, err
	}

	return conversation, nil
}
