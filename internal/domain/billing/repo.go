package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CatalogRepository interface {
	GetItem(ctx context.Context, id uuid.UUID) (*CatalogItem, error)
	ListItems(ctx context.Context, activeOnly bool) ([]*CatalogItem, error)
}

type ChargeRepository interface {
	Create(ctx context.Context, c *Charge) error
	GetByID(ctx context.Context, id uuid.UUID) (*Charge, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Charge, error)
	// LockUnbilled locks the encounter's UNBILLED charges, oldest first.
	LockUnbilled(ctx context.Context, encounterID uuid.UUID) ([]*Charge, error)
	// LockUnbilledSince is LockUnbilled restricted to charges recorded
	// strictly after since.
	LockUnbilledSince(ctx context.Context, encounterID uuid.UUID, since time.Time) ([]*Charge, error)
	// SetStatus moves the given charges from one status to another and
	// reports how many rows changed.
	SetStatus(ctx context.Context, ids []uuid.UUID, from, to ChargeStatus) (int, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Charge, error)
	NumberExists(ctx context.Context, chargeNo string) (bool, error)
}

type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	UpdateAmounts(ctx context.Context, id uuid.UUID, total, paid decimal.Decimal, status InvoiceStatus) error
	MarkVoid(ctx context.Context, id uuid.UUID, reason *string, at time.Time) error
	List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error)
	NumberExists(ctx context.Context, invoiceNo string) (bool, error)

	AddLines(ctx context.Context, invoiceID uuid.UUID, chargeIDs []uuid.UUID) error
	// DeactivateLines deactivates every active line and returns their charges.
	DeactivateLines(ctx context.Context, invoiceID uuid.UUID) ([]uuid.UUID, error)
	ListLines(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceLine, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error)
	SetStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error
	List(ctx context.Context, f PaymentFilter, limit, offset int) ([]*Payment, int, error)
	// ListByInvoice returns every payment of the invoice, oldest first.
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
	NumberExists(ctx context.Context, paymentNo string) (bool, error)

	CreateRefund(ctx context.Context, r *Refund) error
	RefundedTotal(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error)
	ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error)
	RefundNumberExists(ctx context.Context, refundNo string) (bool, error)
}
