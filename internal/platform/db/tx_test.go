package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/ehr/hospital-core/internal/platform/apperr"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeBeginner struct {
	txs []*fakeTx
}

func (b *fakeBeginner) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	tx := &fakeTx{}
	b.txs = append(b.txs, tx)
	return tx, nil
}

func newTestManager(b *fakeBeginner) *TxManager {
	return &TxManager{pool: b, backoff: time.Millisecond, logger: zerolog.Nop()}
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	b := &fakeBeginner{}
	m := newTestManager(b)

	var sawTx bool
	err := m.InTx(context.Background(), func(ctx context.Context) error {
		sawTx = TxFromContext(ctx) != nil
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawTx {
		t.Error("expected transaction in context")
	}
	if len(b.txs) != 1 || !b.txs[0].committed {
		t.Error("expected a single committed transaction")
	}
}

func TestInTx_RollsBackDomainErrorWithoutRetry(t *testing.T) {
	b := &fakeBeginner{}
	m := newTestManager(b)

	want := apperr.InvalidState("invoice is PAID")
	err := m.InTx(context.Background(), func(ctx context.Context) error { return want })
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
	if len(b.txs) != 1 {
		t.Fatalf("expected no retry, got %d attempts", len(b.txs))
	}
	if !b.txs[0].rolledBack || b.txs[0].committed {
		t.Error("expected rollback without commit")
	}
}

func TestInTx_RetriesDeadlockOnce(t *testing.T) {
	b := &fakeBeginner{}
	m := newTestManager(b)

	calls := 0
	err := m.InTx(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("lock bed: %w", &pgconn.PgError{Code: "40P01"})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if !b.txs[0].rolledBack || !b.txs[1].committed {
		t.Error("expected first attempt rolled back and second committed")
	}
}

func TestInTx_SurfacesTransientAfterSecondFailure(t *testing.T) {
	b := &fakeBeginner{}
	m := newTestManager(b)

	calls := 0
	err := m.InTx(context.Background(), func(ctx context.Context) error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	if calls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls)
	}
	if !errors.Is(err, apperr.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestInTx_JoinsExistingTransaction(t *testing.T) {
	b := &fakeBeginner{}
	m := newTestManager(b)

	outer := &fakeTx{}
	ctx := context.WithValue(context.Background(), DBTxKey, pgx.Tx(outer))
	err := m.InTx(ctx, func(ctx context.Context) error {
		if TxFromContext(ctx) != outer {
			t.Error("expected the outer transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.txs) != 0 {
		t.Error("expected no new transaction")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, true},
		{"invoice number collision", &pgconn.PgError{Code: "23505", ConstraintName: "invoice_invoice_no_key"}, true},
		{"open bed assignment", &pgconn.PgError{Code: "23505", ConstraintName: "bed_assignment_open_bed_idx"}, false},
		{"fk violation", &pgconn.PgError{Code: "23503"}, false},
		{"plain", errors.New("boom"), false},
		{"domain", apperr.Conflict("no available bed"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("%s: IsTransient = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "bed_assignment_open_bed_idx"})
	if !IsUniqueViolation(err, "bed_assignment_open_bed_idx") {
		t.Error("expected unique violation match")
	}
	if IsUniqueViolation(err, "other") {
		t.Error("expected constraint mismatch")
	}
}
