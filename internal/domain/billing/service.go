package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/hospital-core/internal/domain/encounter"
	"github.com/ehr/hospital-core/internal/platform/db"
	"github.com/ehr/hospital-core/internal/platform/events"
	"github.com/ehr/hospital-core/internal/platform/numbering"
)

// Encounters is the slice of the encounter directory billing needs.
type Encounters interface {
	Get(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
}

// Service owns the charge, invoice and payment ledgers. Every mutating
// operation is one unit of work on tx; events go out after commit.
type Service struct {
	catalog    CatalogRepository
	charges    ChargeRepository
	invoices   InvoiceRepository
	payments   PaymentRepository
	encounters Encounters
	tx         db.Transactor

	invoiceNos *numbering.Generator
	chargeNos  *numbering.Generator
	paymentNos *numbering.Generator
	refundNos  *numbering.Generator

	invoicePrefix string
	reserver      numbering.Reserver

	events *events.Emitter
	now    func() time.Time
}

type Option func(*Service)

// WithInvoicePrefix overrides the INV prefix of invoice numbers.
func WithInvoicePrefix(prefix string) Option {
	return func(s *Service) { s.invoicePrefix = prefix }
}

// WithNumberReserver makes every generator reserve numbers through r.
func WithNumberReserver(r numbering.Reserver) Option {
	return func(s *Service) { s.reserver = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func (s *Service) generator(prefix string) *numbering.Generator {
	opts := []numbering.Option{numbering.WithClock(func() time.Time { return s.now() })}
	if s.reserver != nil {
		opts = append(opts, numbering.WithReserver(s.reserver))
	}
	return numbering.New(prefix, opts...)
}

func NewService(catalog CatalogRepository, charges ChargeRepository, invoices InvoiceRepository,
	payments PaymentRepository, encounters Encounters, tx db.Transactor, opts ...Option) *Service {
	s := &Service{
		catalog:    catalog,
		charges:    charges,
		invoices:   invoices,
		payments:   payments,
		encounters: encounters,
		tx:         tx,

		invoicePrefix: numbering.Invoice,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.invoiceNos = s.generator(s.invoicePrefix)
	s.chargeNos = s.generator(numbering.Charge)
	s.paymentNos = s.generator(numbering.Payment)
	s.refundNos = s.generator(numbering.Refund)
	return s
}

// SetEventPublisher attaches a publisher for post-commit domain events.
func (s *Service) SetEventPublisher(pub events.Publisher, logger zerolog.Logger) {
	s.events = events.NewEmitter(pub, logger)
}

func (s *Service) emit(ctx context.Context, eventType string, data any) {
	s.events.Emit(ctx, eventType, db.TenantFromContext(ctx), data)
}
