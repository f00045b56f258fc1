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

func chargeIDs(charges []*Charge) ([]uuid.UUID, decimal.Decimal) {
	ids := make([]uuid.UUID, len(charges))
	amounts := make([]decimal.Decimal, len(charges))
	for i, c := range charges {
		ids[i] = c.ID
		amounts[i] = c.Amount
	}
	return ids, money.Sum(amounts...)
}

// markBilled flips the locked slice to BILLED. The locked rows cannot have
// changed status underneath us, so a short count is a store inconsistency.
func (s *Service) markBilled(ctx context.Context, ids []uuid.UUID) error {
	n, err := s.charges.SetStatus(ctx, ids, ChargeUnbilled, ChargeBilled)
	if err != nil {
		return err
	}
	if n != len(ids) {
		return apperr.Conflict("charges changed while billing: expected %d, updated %d", len(ids), n)
	}
	return nil
}

// CreateInvoiceForEncounter bills every UNBILLED charge of the encounter into
// a new OPEN invoice.
func (s *Service) CreateInvoiceForEncounter(ctx context.Context, encounterID uuid.UUID, note *string) (*InvoiceResult, error) {
	if encounterID == uuid.Nil {
		return nil, apperr.Validation("encounter_id is required")
	}

	var res *InvoiceResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		enc, err := s.encounters.Get(ctx, encounterID)
		if err != nil {
			return err
		}
		pending, err := s.charges.LockUnbilled(ctx, encounterID)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return apperr.InvalidState("no unbilled charges for encounter %s", enc.EncounterNo)
		}

		no, err := s.invoiceNos.Next(ctx, s.invoices.NumberExists)
		if err != nil {
			return err
		}
		ids, total := chargeIDs(pending)
		inv := &Invoice{
			ID:          uuid.New(),
			InvoiceNo:   no,
			PatientID:   enc.PatientID,
			EncounterID: &enc.ID,
			IssuedAt:    s.now().UTC(),
			TotalAmount: total,
			PaidAmount:  money.Zero,
			Status:      InvoiceOpen,
			Note:        note,
		}
		if err := s.invoices.Create(ctx, inv); err != nil {
			return err
		}
		if err := s.invoices.AddLines(ctx, inv.ID, ids); err != nil {
			return err
		}
		if err := s.markBilled(ctx, ids); err != nil {
			return err
		}

		res = &InvoiceResult{
			InvoiceID:   inv.ID,
			InvoiceNo:   inv.InvoiceNo,
			LineCount:   len(ids),
			TotalAmount: total,
			Status:      inv.Status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.InvoiceCreated, res)
	return res, nil
}

// AttachUnbilledCharges appends charges recorded after the invoice was issued.
// Nothing to attach is not an error.
func (s *Service) AttachUnbilledCharges(ctx context.Context, invoiceID uuid.UUID) (*AttachResult, error) {
	var res *AttachResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == InvoiceVoid || inv.Status == InvoicePaid {
			return apperr.InvalidState("invoice %s is %s", inv.InvoiceNo, inv.Status)
		}

		res = &AttachResult{InvoiceID: inv.ID, TotalAmount: inv.TotalAmount, Status: inv.Status}
		if inv.EncounterID == nil {
			return nil
		}
		pending, err := s.charges.LockUnbilledSince(ctx, *inv.EncounterID, inv.IssuedAt)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		ids, added := chargeIDs(pending)
		if err := s.invoices.AddLines(ctx, inv.ID, ids); err != nil {
			return err
		}
		if err := s.markBilled(ctx, ids); err != nil {
			return err
		}
		total := inv.TotalAmount.Add(added)
		status := DeriveInvoiceStatus(total, inv.PaidAmount, inv.Status)
		if err := s.invoices.UpdateAmounts(ctx, inv.ID, total, inv.PaidAmount, status); err != nil {
			return err
		}

		res.Attached, res.TotalAmount, res.Status = len(ids), total, status
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Attached > 0 {
		s.emit(ctx, events.InvoiceChargesAttached, res)
	}
	return res, nil
}

// VoidInvoice cancels an unpaid invoice and releases its charges back to
// UNBILLED. Totals and payments are left as they were.
func (s *Service) VoidInvoice(ctx context.Context, invoiceID uuid.UUID, reason *string) (*Invoice, error) {
	if reason != nil {
		trimmed := strings.TrimSpace(*reason)
		if len(trimmed) > 500 {
			return nil, apperr.Validation("reason must be at most 500 characters")
		}
		reason = &trimmed
	}

	var out *Invoice
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case InvoicePaid:
			return apperr.InvalidState("invoice %s is PAID and cannot be voided", inv.InvoiceNo)
		case InvoiceVoid:
			return apperr.InvalidState("invoice %s is already VOID", inv.InvoiceNo)
		}

		released, err := s.invoices.DeactivateLines(ctx, inv.ID)
		if err != nil {
			return err
		}
		if _, err := s.charges.SetStatus(ctx, released, ChargeBilled, ChargeUnbilled); err != nil {
			return err
		}
		at := s.now().UTC()
		if err := s.invoices.MarkVoid(ctx, inv.ID, reason, at); err != nil {
			return err
		}

		inv.Status, inv.VoidReason, inv.VoidedAt = InvoiceVoid, reason, &at
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.InvoiceVoided, out)
	return out, nil
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*InvoiceDetail, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	lines, err := s.invoices.ListLines(ctx, id)
	if err != nil {
		return nil, err
	}
	pays, err := s.payments.ListByInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return &InvoiceDetail{Invoice: inv, Lines: lines, Payments: pays}, nil
}

func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.List(ctx, f, limit, offset)
}

// GetInvoiceForPatient reads an invoice only if it belongs to patientID.
// Other patients' invoices are reported as missing.
func (s *Service) GetInvoiceForPatient(ctx context.Context, patientID, invoiceID uuid.UUID) (*InvoiceDetail, error) {
	d, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if d.PatientID != patientID {
		return nil, apperr.NotFound("invoice %s not found", invoiceID)
	}
	return d, nil
}

func (s *Service) ListInvoicesForPatient(ctx context.Context, patientID uuid.UUID, status InvoiceStatus, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.List(ctx, InvoiceFilter{PatientID: &patientID, Status: status}, limit, offset)
}
