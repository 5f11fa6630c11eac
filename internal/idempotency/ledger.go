// Package idempotency implements the ledger that lets order creation and
// confirmation be retried safely. A record maps (key, target) to the response
// the caller was first given.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

type Target string

const (
	TargetOrderCreate  Target = "order_create"
	TargetOrderConfirm Target = "order_confirm"
)

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusConfirmed Status = "CONFIRMED"
	StatusCanceled  Status = "CANCELED"
)

// Key identifies one guarded operation. The same Value may guard a creation
// and a confirmation independently.
type Key struct {
	Value  string
	Target Target
}

func (k Key) String() string { return string(k.Target) + ":" + k.Value }

const creationPrefix = "create_"

// CreationKey namespaces a caller key for the creation step so it never
// collides with the same key used for confirmation.
func CreationKey(callerKey string) string { return creationPrefix + callerKey }

type Record struct {
	Key       Key
	TargetID  *int64
	Status    Status
	Response  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Completed reports whether the record holds a final response for done.
func (r Record) Completed(done Status) bool {
	return r.Status == done && len(r.Response) > 0
}

// TxStore is the ledger as seen from inside one database transaction.
//
// AcquireKey inserts a CREATED placeholder when the key is unseen and reports
// fresh=true; otherwise it returns the existing row under a row lock. Either
// way the row stays locked until the transaction ends, so a concurrent caller
// with the same key waits.
type TxStore interface {
	AcquireKey(ctx context.Context, key Key) (rec Record, fresh bool, err error)
	CompleteKey(ctx context.Context, key Key, status Status, targetID int64, response json.RawMessage) error
}

// Remover runs outside the failed transaction.
type Remover interface {
	// DeletePendingKey removes a CREATED row that has no stored response.
	DeletePendingKey(ctx context.Context, key Key) error
}

type Result struct {
	AlreadyCompleted bool
	Stored           json.RawMessage
	TargetID         *int64
}

// BeginOrFetch must run inside the transaction it guards. When a response for
// done is already stored it is returned verbatim and the caller must not
// repeat the side effect. A CANCELED record is a conflict; no operation here
// writes that status, so such rows only come from data written outside this
// service. Any other state is a retryable slot and the caller proceeds.
func BeginOrFetch(ctx context.Context, store TxStore, key Key, done Status) (Result, error) {
	if key.Value == "" {
		return Result{}, apperr.Validation("IDEMPOTENCY_KEY_REQUIRED", "idempotency key is required")
	}
	rec, fresh, err := store.AcquireKey(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("acquire idempotency key %s: %w", key, err)
	}
	if fresh {
		return Result{}, nil
	}
	if rec.Completed(done) {
		return Result{AlreadyCompleted: true, Stored: rec.Response, TargetID: rec.TargetID}, nil
	}
	if rec.Status == StatusCanceled {
		return Result{}, apperr.Conflict("IDEMPOTENCY_KEY_CANCELED", "previous request was canceled")
	}
	return Result{}, nil
}

// Complete stores the response body that every replay of key will receive.
func Complete(ctx context.Context, store TxStore, key Key, status Status, targetID int64, response any) (json.RawMessage, error) {
	body, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("encode idempotent response: %w", err)
	}
	if err := store.CompleteKey(ctx, key, status, targetID, body); err != nil {
		return nil, fmt.Errorf("complete idempotency key %s: %w", key, err)
	}
	return body, nil
}

// Release frees a key after its guarded transaction failed so the same key
// can be retried. Completed records are never touched.
func Release(ctx context.Context, rm Remover, key Key) error {
	if key.Value == "" {
		return nil
	}
	if err := rm.DeletePendingKey(ctx, key); err != nil {
		return fmt.Errorf("release idempotency key %s: %w", key, err)
	}
	return nil
}
