package dbtest

import (
	"context"
	"errors"
	"testing"
)

type counter struct{ n int }

func (c *counter) Snapshot() func() {
	saved := c.n
	return func() { c.n = saved }
}

func TestTx_RollsBackOnError(t *testing.T) {
	c := &counter{}
	tx := New(c)

	_ = tx.InTx(context.Background(), func(ctx context.Context) error { c.n = 1; return nil })
	err := tx.InTx(context.Background(), func(ctx context.Context) error {
		c.n = 99
		return errors.New("fail")
	})
	if err == nil || c.n != 1 {
		t.Fatalf("expected rollback to 1, got %d (err %v)", c.n, err)
	}
	if tx.Commits() != 1 || tx.Rollbacks() != 1 {
		t.Errorf("commits=%d rollbacks=%d", tx.Commits(), tx.Rollbacks())
	}
}

func TestTx_NestedJoinsOuter(t *testing.T) {
	tx := New()
	err := tx.InTx(context.Background(), func(ctx context.Context) error {
		return tx.InTx(ctx, func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatal(err)
	}
	if tx.Commits() != 1 {
		t.Errorf("expected a single commit, got %d", tx.Commits())
	}
}
