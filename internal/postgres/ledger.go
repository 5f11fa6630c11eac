package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-order-saga/internal/idempotency"
)

const ledgerColumns = `key, target_type, target_id, status, response, created_at, updated_at`

func scanRecord(row pgx.Row) (idempotency.Record, error) {
	var (
		r              idempotency.Record
		target, status string
		response       []byte
	)
	if err := row.Scan(&r.Key.Value, &target, &r.TargetID, &status, &response, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return idempotency.Record{}, err
	}
	r.Key.Target = idempotency.Target(target)
	r.Status = idempotency.Status(status)
	if len(response) > 0 {
		r.Response = json.RawMessage(response)
	}
	return r, nil
}

// A key can vanish between the insert and the locking read when a pending
// row is released concurrently; retry a few times before giving up.
const acquireAttempts = 3

// AcquireKey inserts a placeholder or locks the existing row. The insert
// blocks on the primary key while another transaction holds an uncommitted
// row for the same key, which serializes concurrent callers.
func (t *orderTx) AcquireKey(ctx context.Context, key idempotency.Key) (idempotency.Record, bool, error) {
	for i := 0; i < acquireAttempts; i++ {
		rec, err := scanRecord(t.tx.QueryRow(ctx, `
			INSERT INTO idempotency_keys (key, target_type, status)
			VALUES ($1, $2, $3)
			ON CONFLICT (key, target_type) DO NOTHING
			RETURNING `+ledgerColumns, key.Value, string(key.Target), string(idempotency.StatusCreated)))
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return idempotency.Record{}, false, mapError(err)
		}

		rec, err = scanRecord(t.tx.QueryRow(ctx, `
			SELECT `+ledgerColumns+` FROM idempotency_keys
			WHERE key = $1 AND target_type = $2
			FOR UPDATE`, key.Value, string(key.Target)))
		if err == nil {
			return rec, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return idempotency.Record{}, false, mapError(err)
		}
	}
	return idempotency.Record{}, false, fmt.Errorf("idempotency key %s kept disappearing", key)
}

func (t *orderTx) CompleteKey(ctx context.Context, key idempotency.Key, status idempotency.Status, targetID int64, response json.RawMessage) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE idempotency_keys
		SET status = $3, target_id = $4, response = $5::jsonb, updated_at = NOW()
		WHERE key = $1 AND target_type = $2`,
		key.Value, string(key.Target), string(status), targetID, string(response))
	if err != nil {
		return mapError(err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("idempotency key %s not acquired", key)
	}
	return nil
}

// DeletePendingKey runs on the pool, outside any failed transaction.
func (s *OrderStore) DeletePendingKey(ctx context.Context, key idempotency.Key) error {
	_, err := s.DB.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE key = $1 AND target_type = $2 AND status = $3 AND response IS NULL`,
		key.Value, string(key.Target), string(idempotency.StatusCreated))
	return err
}
