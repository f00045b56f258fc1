package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/hospital-core/internal/platform/apperr"
)

const DBTxKey contextKey = "db_tx"

// Postgres SQLSTATE codes treated as transient.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

// TxFromContext retrieves the transaction started by WithTx or TxManager.InTx.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the tenant connection stored in ctx and
// returns a context carrying it. The caller commits or rolls back.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, fmt.Errorf("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// Transactor runs a unit of work atomically. Services depend on this rather
// than on TxManager so tests can substitute an in-memory version.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxManager runs units of work in a single READ COMMITTED transaction. Repos
// pick the transaction up from the context. A transient failure (deadlock,
// serialization failure, lock timeout, number collision) retries the whole
// unit once after the backoff.
type TxManager struct {
	pool    beginner
	backoff time.Duration
	logger  zerolog.Logger
}

func NewTxManager(pool *pgxpool.Pool, backoff time.Duration, logger zerolog.Logger) *TxManager {
	return &TxManager{pool: pool, backoff: backoff, logger: logger}
}

// InTx runs fn inside a transaction. When ctx already carries one, fn joins it.
func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	err := m.attempt(ctx, fn)
	if err == nil || !IsTransient(err) {
		return err
	}

	m.logger.Warn().Err(err).Dur("backoff", m.backoff).Msg("transient store error, retrying unit of work")
	select {
	case <-time.After(m.backoff):
	case <-ctx.Done():
		return ctx.Err()
	}

	err = m.attempt(ctx, fn)
	if err != nil && IsTransient(err) {
		return apperr.Transient(err)
	}
	return err
}

func (m *TxManager) attempt(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	var b beginner = m.pool
	if c := ConnFromContext(ctx); c != nil {
		b = c
	}
	tx, err := b.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsTransient reports whether err is worth retrying the unit of work for.
func IsTransient(err error) bool {
	if apperr.KindOf(err) == apperr.KindTransient {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	case codeUniqueViolation:
		// generated document numbers (invoice_no, payment_no, ...) collide rarely
		return strings.HasSuffix(pgErr.ConstraintName, "_no_key")
	}
	return false
}

// IsUniqueViolation reports whether err is a unique violation on constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == constraint
}
