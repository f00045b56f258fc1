// Package numbering issues human readable document numbers such as
// INV20240501093015482: a prefix, the UTC timestamp to the second and a
// three digit random suffix.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ehr/hospital-core/internal/platform/apperr"
)

const (
	Invoice   = "INV"
	Charge    = "CHG"
	Payment   = "PAY"
	Refund    = "REF"
	Encounter = "ENC"
	Admission = "ADM"
)

const maxAttempts = 8

var ErrExhausted = errors.New("could not find a free document number")

// Reserver claims a number outside the database so concurrent writers on
// other connections skip it before the unique index has to.
type Reserver interface {
	Reserve(ctx context.Context, number string) (bool, error)
}

// ExistsFunc checks the store, inside the caller's transaction.
type ExistsFunc func(ctx context.Context, number string) (bool, error)

type Generator struct {
	prefix   string
	now      func() time.Time
	suffix   func() int
	reserver Reserver
}

type Option func(*Generator)

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func WithReserver(r Reserver) Option {
	return func(g *Generator) { g.reserver = r }
}

func withSuffix(f func() int) Option {
	return func(g *Generator) { g.suffix = f }
}

func New(prefix string, opts ...Option) *Generator {
	g := &Generator{
		prefix: prefix,
		now:    time.Now,
		suffix: func() int { return 100 + rand.IntN(900) },
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Generator) Prefix() string { return g.prefix }

// Candidate returns a number without checking uniqueness.
func (g *Generator) Candidate() string {
	return fmt.Sprintf("%s%s%03d", g.prefix, g.now().UTC().Format("20060102150405"), g.suffix())
}

// Next returns a number that is neither reserved elsewhere nor present in the
// store. After maxAttempts collisions it gives up with a transient error, so
// the surrounding unit of work is retried.
func (g *Generator) Next(ctx context.Context, exists ExistsFunc) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		n := g.Candidate()
		if g.reserver != nil {
			ok, err := g.reserver.Reserve(ctx, n)
			if err != nil {
				return "", fmt.Errorf("reserve %s: %w", n, err)
			}
			if !ok {
				continue
			}
		}
		if exists != nil {
			taken, err := exists(ctx, n)
			if err != nil {
				return "", fmt.Errorf("check %s: %w", n, err)
			}
			if taken {
				continue
			}
		}
		return n, nil
	}
	return "", apperr.Transient(fmt.Errorf("%s: %w", g.prefix, ErrExhausted))
}
