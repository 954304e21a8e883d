package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/SilicateWielder/memlayer/internal/errors"
	"github.com/SilicateWielder/memlayer/store"
)

func (d *DB) UpsertCausalLinks(ctx context.Context, upserts []*store.CausalLink) ([]*store.CausalLink, error) {
	if len(upserts) == 0 {
		return nil, nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.TransientStorage("failed to begin transaction", err)
	}
	// Rollback after a successful Commit is a no-op (ErrTxDone).
	defer func() {
		_ = tx.Rollback()
	}()

	stmt := `
		INSERT INTO causal_links (id, cause_memory_id, effect_memory_id, strength, type, inferred_ts, verified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cause_memory_id, effect_memory_id, type)
		DO UPDATE SET strength = excluded.strength, inferred_ts = excluded.inferred_ts
		RETURNING id, verified
	`

	for _, link := range upserts {
		if link.CauseID == "" || link.EffectID == "" {
			err = apperrors.Validation("causal link endpoints are required")
			return nil, err
		}

		var endpoints int
		if err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM episodic_memories WHERE id IN (?, ?)`,
			link.CauseID, link.EffectID).Scan(&endpoints); err != nil {
			return nil, apperrors.TransientStorage("failed to check link endpoints", err)
		}
		want := 2
		if link.CauseID == link.EffectID {
			want = 1
		}
		if endpoints != want {
			err = apperrors.Validation("causal link %s -> %s references a missing memory", link.CauseID, link.EffectID)
			return nil, err
		}

		if link.ID == "" {
			link.ID = uuid.New().String()
		}
		if link.InferredAt.IsZero() {
			link.InferredAt = time.Now().UTC()
		}
		if err = tx.QueryRowContext(ctx, stmt,
			link.ID,
			link.CauseID,
			link.EffectID,
			link.Strength,
			link.Type,
			link.InferredAt.Unix(),
			link.Verified,
		).Scan(&link.ID, &link.Verified); err != nil {
			return nil, apperrors.TransientStorage("failed to upsert causal link", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, apperrors.TransientStorage("failed to commit causal links", err)
	}

	return upserts, nil
}

func (d *DB) ListCausalLinks(ctx context.Context, find *store.FindCausalLink) ([]*store.CausalLink, error) {
	if find == nil {
		return nil, apperrors.Validation("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}

	if find.CauseID != nil {
		where, args = append(where, "cause_memory_id = ?"), append(args, *find.CauseID)
	}
	if find.EffectID != nil {
		where, args = append(where, "effect_memory_id = ?"), append(args, *find.EffectID)
	}
	if find.MemoryID != nil {
		where = append(where, "(cause_memory_id = ? OR effect_memory_id = ?)")
		args = append(args, *find.MemoryID, *find.MemoryID)
	}

	query := `SELECT id, cause_memory_id, effect_memory_id, strength, type, inferred_ts, verified
		FROM causal_links WHERE ` + strings.Join(where, " AND ") + ` ORDER BY strength DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.TransientStorage("failed to list causal links", err)
	}
	defer rows.Close()

	list := make([]*store.CausalLink, 0)
	for rows.Next() {
		link := &store.CausalLink{}
		var inferredTs int64
		if err := rows.Scan(
			&link.ID,
			&link.CauseID,
			&link.EffectID,
			&link.Strength,
			&link.Type,
			&inferredTs,
			&link.Verified,
		); err != nil {
			return nil, apperrors.TransientStorage("failed to scan causal link", err)
		}
		link.InferredAt = time.Unix(inferredTs, 0).UTC()
		list = append(list, link)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.TransientStorage("failed to iterate causal links", err)
	}

	return list, nil
}
