package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// mapError turns driver errors the caller can act on into tagged errors.
// Anything else is returned unchanged.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		e := apperr.Conflict("DUPLICATE", "resource already exists").WithDetails(map[string]string{"constraint": pgErr.ConstraintName})
		e.Err = err
		return e
	case codeCheckViolation:
		e := apperr.Validation("CONSTRAINT_VIOLATION", "value out of range").WithDetails(map[string]string{"constraint": pgErr.ConstraintName})
		e.Err = err
		return e
	case codeDeadlockDetected, codeSerializationFailure, codeLockNotAvailable:
		e := apperr.Conflict("TX_CONFLICT", "concurrent update, retry the request")
		e.Err = err
		return e
	}
	return err
}
