package billing

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/hospital-core/internal/platform/apperr"
	"github.com/ehr/hospital-core/internal/platform/events"
	"github.com/ehr/hospital-core/pkg/money"
)

func validAmount(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return apperr.Validation("%s must be greater than 0", field)
	}
	if !d.Equal(money.Round(d)) {
		return apperr.Validation("%s supports at most 2 decimal places", field)
	}
	return nil
}

// CreatePayment applies a successful payment to an open invoice. Overpaying
// the outstanding balance is rejected.
func (s *Service) CreatePayment(ctx context.Context, in CreatePaymentInput) (*PaymentResult, error) {
	if in.InvoiceID == uuid.Nil {
		return nil, apperr.Validation("invoice_id is required")
	}
	if !validMethods[in.Method] {
		return nil, apperr.Validation("invalid payment method: %q", in.Method)
	}
	if err := validAmount("amount", in.Amount); err != nil {
		return nil, err
	}

	var res *PaymentResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == InvoiceVoid || inv.Status == InvoicePaid {
			return apperr.InvalidState("invoice %s is %s", inv.InvoiceNo, inv.Status)
		}
		if remaining := inv.Outstanding(); in.Amount.GreaterThan(remaining) {
			return apperr.InvalidState("amount exceeds remaining balance %s", money.Format(remaining))
		}

		no, err := s.paymentNos.Next(ctx, s.payments.NumberExists)
		if err != nil {
			return err
		}
		p := &Payment{
			ID:             uuid.New(),
			PaymentNo:      no,
			InvoiceID:      inv.ID,
			Method:         in.Method,
			Amount:         in.Amount,
			Status:         PaymentSuccess,
			TransactionRef: in.TransactionRef,
			PaidAt:         s.now().UTC(),
		}
		if err := s.payments.Create(ctx, p); err != nil {
			return err
		}

		paid, status := applyPaid(inv, in.Amount)
		if err := s.invoices.UpdateAmounts(ctx, inv.ID, inv.TotalAmount, paid, status); err != nil {
			return err
		}
		res = &PaymentResult{PaymentID: p.ID, PaymentNo: no, InvoiceID: inv.ID, InvoiceStatus: status, PaidAmount: paid}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.PaymentCreated, res)
	return res, nil
}

// CancelPayment reverses a successful payment. Only the part not already
// refunded comes off the invoice.
func (s *Service) CancelPayment(ctx context.Context, paymentID uuid.UUID) (*PaymentResult, error) {
	var res *PaymentResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != PaymentSuccess {
			return apperr.InvalidState("payment %s is %s", p.PaymentNo, p.Status)
		}
		inv, err := s.invoices.GetForUpdate(ctx, p.InvoiceID)
		if err != nil {
			return err
		}
		refunded, err := s.payments.RefundedTotal(ctx, p.ID)
		if err != nil {
			return err
		}

		if err := s.payments.SetStatus(ctx, p.ID, PaymentCancelled); err != nil {
			return err
		}
		paid, status := applyPaid(inv, p.Amount.Sub(refunded).Neg())
		if err := s.invoices.UpdateAmounts(ctx, inv.ID, inv.TotalAmount, paid, status); err != nil {
			return err
		}
		res = &PaymentResult{PaymentID: p.ID, PaymentNo: p.PaymentNo, InvoiceID: inv.ID, InvoiceStatus: status, PaidAmount: paid}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.PaymentCancelled, res)
	return res, nil
}

// CreateRefund returns part of a successful payment. Refunds on one payment
// never add up to more than the payment itself; the payment stays SUCCESS.
func (s *Service) CreateRefund(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal, reason *string) (*RefundResult, error) {
	if err := validAmount("amount", amount); err != nil {
		return nil, err
	}
	if reason != nil {
		trimmed := strings.TrimSpace(*reason)
		reason = &trimmed
	}

	var res *RefundResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != PaymentSuccess {
			return apperr.InvalidState("payment %s is %s", p.PaymentNo, p.Status)
		}
		refunded, err := s.payments.RefundedTotal(ctx, p.ID)
		if err != nil {
			return err
		}
		if refunded.Add(amount).GreaterThan(p.Amount) {
			return apperr.InvalidState("refund exceeds refundable balance %s", money.Format(p.Amount.Sub(refunded)))
		}
		inv, err := s.invoices.GetForUpdate(ctx, p.InvoiceID)
		if err != nil {
			return err
		}

		no, err := s.refundNos.Next(ctx, s.payments.RefundNumberExists)
		if err != nil {
			return err
		}
		rf := &Refund{
			ID:         uuid.New(),
			RefundNo:   no,
			PaymentID:  p.ID,
			Amount:     amount,
			Reason:     reason,
			RefundedAt: s.now().UTC(),
		}
		if err := s.payments.CreateRefund(ctx, rf); err != nil {
			return err
		}
		paid, status := applyPaid(inv, amount.Neg())
		if err := s.invoices.UpdateAmounts(ctx, inv.ID, inv.TotalAmount, paid, status); err != nil {
			return err
		}
		res = &RefundResult{
			RefundID:      rf.ID,
			RefundNo:      no,
			PaymentID:     p.ID,
			InvoiceID:     inv.ID,
			InvoiceStatus: status,
			PaidAmount:    paid,
			Refunded:      refunded.Add(amount),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.RefundCreated, res)
	return res, nil
}

func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.payments.GetByID(ctx, id)
}

func (s *Service) ListPayments(ctx context.Context, f PaymentFilter, limit, offset int) ([]*Payment, int, error) {
	return s.payments.List(ctx, f, limit, offset)
}

func (s *Service) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error) {
	if _, err := s.payments.GetByID(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.payments.ListRefunds(ctx, paymentID)
}
