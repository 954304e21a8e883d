package sqlite

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

	stmt := `
		INSERT INTO conversations (id, user_id, created_ts, last_active_ts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET last_active_ts = excluded.last_active_ts
		RETURNING id, user_id, created_ts, last_active_ts, metadata
	`

	conversation := &store.Conversation{}
	var createdTs, lastActiveTs int64
	var metadataBytes []byte
	err := d.db.QueryRowContext(ctx, stmt, upsert.ID, upsert.UserID, activeAt.Unix(), activeAt.Unix()).Scan(
		&conversation.ID,
		&conversation.UserID,
		&createdTs,
		&lastActiveTs,
		&metadataBytes,
	)
	if err != nil {
		return nil, apperrors.TransientStorage("failed to upsert conversation", err)
	}
	conversation.CreatedAt = time.Unix(createdTs, 0).UTC()
	conversation.LastActive = time.Unix(lastActiveTs, 0).UTC()
	if conversation.Metadata, err = unmarshalJSON(metadataBytes); err != nil {
		return nil, err
	}

	return conversation, nil
}

func (d *DB) GetConversation(ctx context.Context, find *store.FindConversation) (*store.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}

	query := `SELECT id, user_id, created_ts, last_active_ts, metadata
		FROM conversations WHERE ` + strings.Join(where, " AND ") + ` LIMIT 1`

	conversation := &store.Conversation{}
	var createdTs, lastActiveTs int64
	var metadataBytes []byte
	err := d.db.QueryRowContext(ctx, query, args...).Scan(
		&conversation.ID,
		&conversation.UserID,
		&createdTs,
		&lastActiveTs,
		&metadataBytes,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.TransientStorage("failed to get conversation", err)
	}
	conversation.CreatedAt = time.Unix(createdTs, 0).UTC()
	conversation.LastActive = time.Unix(lastActiveTs, 0).UTC()
	if conversation.Metadata, err = unmarshalJSON(metadataBytes); err != nil {
		return nil, err
	}

	return conversation, nil
}
