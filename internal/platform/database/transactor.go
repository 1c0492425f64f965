package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// Transactor runs a function inside a transaction and retries it when
// Postgres aborts the transaction with a serialization failure or deadlock.
type Transactor struct {
	db         *sql.DB
	maxRetries int
	log        logrus.FieldLogger
}

func NewTransactor(db *sql.DB, maxRetries int, log logrus.FieldLogger) *Transactor {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Transactor{db: db, maxRetries: maxRetries, log: log}
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		err = t.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		t.log.WithError(err).WithField("attempt", attempt).Warn("transaction aborted by database, retrying")
	}
	return err
}

func (t *Transactor) runOnce(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a transient transaction conflict.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}
