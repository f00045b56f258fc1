package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SourceType string

const (
	SourceRegistration SourceType = "REGISTRATION"
	SourcePrescription SourceType = "PRESCRIPTION"
	SourceLab          SourceType = "LAB"
	SourceManual       SourceType = "MANUAL"
)

var validSourceTypes = map[SourceType]bool{
	SourceRegistration: true,
	SourcePrescription: true,
	SourceLab:          true,
	SourceManual:       true,
}

type ChargeStatus string

const (
	ChargeUnbilled  ChargeStatus = "UNBILLED"
	ChargeBilled    ChargeStatus = "BILLED"
	ChargeCancelled ChargeStatus = "CANCELLED"
)

type InvoiceStatus string

const (
	InvoiceOpen          InvoiceStatus = "OPEN"
	InvoicePartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoicePaid          InvoiceStatus = "PAID"
	InvoiceVoid          InvoiceStatus = "VOID"
)

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "CASH"
	MethodCard     PaymentMethod = "CARD"
	MethodWeChat   PaymentMethod = "WECHAT"
	MethodAlipay   PaymentMethod = "ALIPAY"
	MethodTransfer PaymentMethod = "TRANSFER"
	MethodOther    PaymentMethod = "OTHER"
)

var validMethods = map[PaymentMethod]bool{
	MethodCash:     true,
	MethodCard:     true,
	MethodWeChat:   true,
	MethodAlipay:   true,
	MethodTransfer: true,
	MethodOther:    true,
}

type PaymentStatus string

const (
	PaymentSuccess   PaymentStatus = "SUCCESS"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// CatalogItem is a priced billable item. Charges copy its price at the time
// they are recorded.
type CatalogItem struct {
	ID        uuid.UUID       `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Category  *string         `json:"category,omitempty"`
	Unit      *string         `json:"unit,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Active    bool            `json:"active"`
}

type Charge struct {
	ID            uuid.UUID       `json:"id"`
	ChargeNo      string          `json:"charge_no"`
	EncounterID   uuid.UUID       `json:"encounter_id"`
	CatalogItemID uuid.UUID       `json:"catalog_item_id"`
	SourceType    SourceType      `json:"source_type"`
	SourceID      *uuid.UUID      `json:"source_id,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Amount        decimal.Decimal `json:"amount"`
	Status        ChargeStatus    `json:"status"`
	ChargedAt     time.Time       `json:"charged_at"`
}

type Invoice struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceNo   string          `json:"invoice_no"`
	PatientID   uuid.UUID       `json:"patient_id"`
	EncounterID *uuid.UUID      `json:"encounter_id,omitempty"`
	IssuedAt    time.Time       `json:"issued_at"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Status      InvoiceStatus   `json:"status"`
	Note        *string         `json:"note,omitempty"`
	VoidReason  *string         `json:"void_reason,omitempty"`
	VoidedAt    *time.Time      `json:"voided_at,omitempty"`
}

// Outstanding is what is still owed on the invoice.
func (inv *Invoice) Outstanding() decimal.Decimal {
	return inv.TotalAmount.Sub(inv.PaidAmount)
}

// InvoiceLine links a charge to an invoice. Voiding deactivates the line
// rather than deleting it; a charge has at most one active line.
type InvoiceLine struct {
	ID        uuid.UUID `json:"id"`
	InvoiceID uuid.UUID `json:"invoice_id"`
	ChargeID  uuid.UUID `json:"charge_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	Charge    *Charge   `json:"charge,omitempty"`
}

type Payment struct {
	ID             uuid.UUID       `json:"id"`
	PaymentNo      string          `json:"payment_no"`
	InvoiceID      uuid.UUID       `json:"invoice_id"`
	Method         PaymentMethod   `json:"method"`
	Amount         decimal.Decimal `json:"amount"`
	Status         PaymentStatus   `json:"status"`
	TransactionRef *string         `json:"transaction_ref,omitempty"`
	PaidAt         time.Time       `json:"paid_at"`
}

type Refund struct {
	ID         uuid.UUID       `json:"id"`
	RefundNo   string          `json:"refund_no"`
	PaymentID  uuid.UUID       `json:"payment_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     *string         `json:"reason,omitempty"`
	RefundedAt time.Time       `json:"refunded_at"`
}

// InvoiceDetail is an invoice with its lines and payments.
type InvoiceDetail struct {
	*Invoice
	Lines    []*InvoiceLine `json:"lines"`
	Payments []*Payment     `json:"payments"`
}

type InvoiceFilter struct {
	PatientID   *uuid.UUID
	EncounterID *uuid.UUID
	Status      InvoiceStatus
}

type PaymentFilter struct {
	InvoiceID *uuid.UUID
	Status    PaymentStatus
}

// -- Operation inputs and results --

type CreateChargeInput struct {
	EncounterID   uuid.UUID       `json:"encounter_id" validate:"required"`
	SourceType    SourceType      `json:"source_type" validate:"required,oneof=REGISTRATION PRESCRIPTION LAB MANUAL"`
	SourceID      *uuid.UUID      `json:"source_id"`
	CatalogItemID uuid.UUID       `json:"catalog_item_id" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" validate:"required,money"`
}

type InvoiceResult struct {
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	InvoiceNo   string          `json:"invoice_no"`
	LineCount   int             `json:"line_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      InvoiceStatus   `json:"status"`
}

type AttachResult struct {
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	Attached    int             `json:"attached"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      InvoiceStatus   `json:"status"`
}

type CreatePaymentInput struct {
	InvoiceID      uuid.UUID       `json:"invoice_id" validate:"required"`
	Method         PaymentMethod   `json:"method" validate:"required,oneof=CASH CARD WECHAT ALIPAY TRANSFER OTHER"`
	Amount         decimal.Decimal `json:"amount" validate:"required,money"`
	TransactionRef *string         `json:"transaction_ref" validate:"omitempty,max=100"`
}

type PaymentResult struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	PaymentNo     string          `json:"payment_no"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceStatus InvoiceStatus   `json:"invoice_status"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
}

type RefundResult struct {
	RefundID      uuid.UUID       `json:"refund_id"`
	RefundNo      string          `json:"refund_no"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceStatus InvoiceStatus   `json:"invoice_status"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Refunded      decimal.Decimal `json:"refunded_total"`
}
