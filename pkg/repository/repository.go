package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// Repository provides persistence for incidents, webhook staging rows,
// operators, counters and history.
type Repository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a Repository backed by db.
func New(db *sqlx.DB, logger *slog.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger.With("component", "repository"),
	}
}

// DB exposes the underlying handle for transaction composition.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// WithTx runs fn inside a transaction, rolling back on error or panic.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("Transaction rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}
	return tx.Commit()
}
