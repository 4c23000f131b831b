// Package repository implements persistence for the ticket pipeline on top
// of sqlx. Write paths surface duplicate-key conflicts as typed results so
// callers can treat webhook replays as no-ops.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors returned by repository operations.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a unique-constraint conflict.
	ErrDuplicate = errors.New("duplicate")
)

const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
