// Package dbtest provides an in-memory stand-in for db.TxManager used by
// service tests backed by map repositories.
package dbtest

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory repositories. Snapshot captures
// the current state and returns a function restoring it.
type Snapshotter interface {
	Snapshot() (restore func())
}

type txKey struct{}

// Tx serializes units of work, which stands in for row locks, and rolls
// registered stores back when a unit fails.
type Tx struct {
	mu     sync.Mutex
	stores []Snapshotter

	statsMu  sync.Mutex
	commits  int
	rollback int
}

func New(stores ...Snapshotter) *Tx {
	return &Tx{stores: stores}
}

func (t *Tx) Register(s Snapshotter) {
	t.stores = append(t.stores, s)
}

func (t *Tx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	restores := make([]func(), 0, len(t.stores))
	for _, s := range t.stores {
		restores = append(restores, s.Snapshot())
	}

	err := fn(context.WithValue(ctx, txKey{}, true))

	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	if err != nil {
		for _, r := range restores {
			r()
		}
		t.rollback++
		return err
	}
	t.commits++
	return nil
}

func (t *Tx) Commits() int {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.commits
}

func (t *Tx) Rollbacks() int {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.rollback
}
