package billing

import (
	"github.com/shopspring/decimal"

	"github.com/ehr/hospital-core/pkg/money"
)

// DeriveInvoiceStatus computes an invoice status from its amounts. VOID is
// terminal and never derived away.
func DeriveInvoiceStatus(total, paid decimal.Decimal, current InvoiceStatus) InvoiceStatus {
	switch {
	case current == InvoiceVoid:
		return InvoiceVoid
	case !paid.IsPositive():
		return InvoiceOpen
	case paid.GreaterThanOrEqual(total):
		return InvoicePaid
	default:
		return InvoicePartiallyPaid
	}
}

// applyPaid returns paid+delta clamped to [0, total] and the resulting status.
func applyPaid(inv *Invoice, delta decimal.Decimal) (decimal.Decimal, InvoiceStatus) {
	paid := money.Clamp(money.Round(inv.PaidAmount.Add(delta)), money.Zero, inv.TotalAmount)
	return paid, DeriveInvoiceStatus(inv.TotalAmount, paid, inv.Status)
}
