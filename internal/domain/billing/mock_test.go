package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/hospital-core/internal/domain/encounter"
	"github.com/ehr/hospital-core/internal/platform/apperr"
	"github.com/ehr/hospital-core/pkg/money"
)

// -- Catalog --

type mockCatalog struct {
	items map[uuid.UUID]*CatalogItem
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{items: make(map[uuid.UUID]*CatalogItem)}
}

func (m *mockCatalog) add(code, price string, active bool) *CatalogItem {
	it := &CatalogItem{ID: uuid.New(), Code: code, Name: code, UnitPrice: money.MustParse(price), Active: active}
	m.items[it.ID] = it
	return it
}

func (m *mockCatalog) GetItem(_ context.Context, id uuid.UUID) (*CatalogItem, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("catalog item %s not found", id)
	}
	cp := *it
	return &cp, nil
}

func (m *mockCatalog) ListItems(_ context.Context, activeOnly bool) ([]*CatalogItem, error) {
	var out []*CatalogItem
	for _, it := range m.items {
		if activeOnly && !it.Active {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// -- Charges --

type mockCharges struct {
	charges map[uuid.UUID]*Charge
	seq     map[uuid.UUID]int
	next    int
	// shortUpdate makes SetStatus report one row fewer than asked.
	shortUpdate bool
}

func newMockCharges() *mockCharges {
	return &mockCharges{charges: make(map[uuid.UUID]*Charge), seq: make(map[uuid.UUID]int)}
}

func (m *mockCharges) Snapshot() func() {
	saved := make(map[uuid.UUID]Charge, len(m.charges))
	for id, c := range m.charges {
		saved[id] = *c
	}
	return func() {
		m.charges = make(map[uuid.UUID]*Charge, len(saved))
		for id, c := range saved {
			c := c
			m.charges[id] = &c
		}
	}
}

func (m *mockCharges) Create(_ context.Context, c *Charge) error {
	cp := *c
	m.charges[c.ID] = &cp
	m.next++
	m.seq[c.ID] = m.next
	return nil
}

func (m *mockCharges) GetByID(_ context.Context, id uuid.UUID) (*Charge, error) {
	c, ok := m.charges[id]
	if !ok {
		return nil, apperr.NotFound("charge %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockCharges) GetForUpdate(ctx context.Context, id uuid.UUID) (*Charge, error) {
	return m.GetByID(ctx, id)
}

func (m *mockCharges) ordered(encounterID uuid.UUID, only ChargeStatus) []*Charge {
	var out []*Charge
	for _, c := range m.charges {
		if c.EncounterID != encounterID || (only != "" && c.Status != only) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return m.seq[out[i].ID] < m.seq[out[j].ID] })
	return out
}

func (m *mockCharges) LockUnbilled(_ context.Context, encounterID uuid.UUID) ([]*Charge, error) {
	return m.ordered(encounterID, ChargeUnbilled), nil
}

func (m *mockCharges) LockUnbilledSince(_ context.Context, encounterID uuid.UUID, since time.Time) ([]*Charge, error) {
	var out []*Charge
	for _, c := range m.ordered(encounterID, ChargeUnbilled) {
		if c.ChargedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockCharges) SetStatus(_ context.Context, ids []uuid.UUID, from, to ChargeStatus) (int, error) {
	n := 0
	for _, id := range ids {
		if c, ok := m.charges[id]; ok && c.Status == from {
			c.Status = to
			n++
		}
	}
	if m.shortUpdate && n > 0 {
		n--
	}
	return n, nil
}

func (m *mockCharges) ListByEncounter(_ context.Context, encounterID uuid.UUID) ([]*Charge, error) {
	return m.ordered(encounterID, ""), nil
}

func (m *mockCharges) NumberExists(_ context.Context, no string) (bool, error) {
	for _, c := range m.charges {
		if c.ChargeNo == no {
			return true, nil
		}
	}
	return false, nil
}

// -- Invoices --

type mockInvoices struct {
	invoices map[uuid.UUID]*Invoice
	lines    []*InvoiceLine
	charges  *mockCharges
}

func newMockInvoices(charges *mockCharges) *mockInvoices {
	return &mockInvoices{invoices: make(map[uuid.UUID]*Invoice), charges: charges}
}

func (m *mockInvoices) Snapshot() func() {
	saved := make(map[uuid.UUID]Invoice, len(m.invoices))
	for id, inv := range m.invoices {
		saved[id] = *inv
	}
	lines := make([]InvoiceLine, len(m.lines))
	for i, l := range m.lines {
		lines[i] = *l
	}
	return func() {
		m.invoices = make(map[uuid.UUID]*Invoice, len(saved))
		for id, inv := range saved {
			inv := inv
			m.invoices[id] = &inv
		}
		m.lines = m.lines[:0]
		for _, l := range lines {
			l := l
			m.lines = append(m.lines, &l)
		}
	}
}

func (m *mockInvoices) Create(_ context.Context, inv *Invoice) error {
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockInvoices) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, apperr.NotFound("invoice %s not found", id)
	}
	cp := *inv
	return &cp, nil
}

func (m *mockInvoices) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetByID(ctx, id)
}

func (m *mockInvoices) UpdateAmounts(_ context.Context, id uuid.UUID, total, paid decimal.Decimal, status InvoiceStatus) error {
	inv, ok := m.invoices[id]
	if !ok {
		return apperr.NotFound("invoice %s not found", id)
	}
	inv.TotalAmount, inv.PaidAmount, inv.Status = total, paid, status
	return nil
}

func (m *mockInvoices) MarkVoid(_ context.Context, id uuid.UUID, reason *string, at time.Time) error {
	inv, ok := m.invoices[id]
	if !ok {
		return apperr.NotFound("invoice %s not found", id)
	}
	inv.Status, inv.VoidReason, inv.VoidedAt = InvoiceVoid, reason, &at
	return nil
}

func (m *mockInvoices) List(_ context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	var out []*Invoice
	for _, inv := range m.invoices {
		if f.PatientID != nil && inv.PatientID != *f.PatientID {
			continue
		}
		if f.EncounterID != nil && (inv.EncounterID == nil || *inv.EncounterID != *f.EncounterID) {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		cp := *inv
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNo < out[j].InvoiceNo })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockInvoices) NumberExists(_ context.Context, no string) (bool, error) {
	for _, inv := range m.invoices {
		if inv.InvoiceNo == no {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockInvoices) AddLines(_ context.Context, invoiceID uuid.UUID, chargeIDs []uuid.UUID) error {
	for _, cid := range chargeIDs {
		for _, l := range m.lines {
			if l.ChargeID == cid && l.Active {
				return apperr.Conflict("charge %s already on an active invoice line", cid)
			}
		}
		m.lines = append(m.lines, &InvoiceLine{
			ID: uuid.New(), InvoiceID: invoiceID, ChargeID: cid, Active: true, CreatedAt: time.Now(),
		})
	}
	return nil
}

func (m *mockInvoices) DeactivateLines(_ context.Context, invoiceID uuid.UUID) ([]uuid.UUID, error) {
	var released []uuid.UUID
	for _, l := range m.lines {
		if l.InvoiceID == invoiceID && l.Active {
			l.Active = false
			released = append(released, l.ChargeID)
		}
	}
	return released, nil
}

func (m *mockInvoices) ListLines(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceLine, error) {
	var out []*InvoiceLine
	for _, l := range m.lines {
		if l.InvoiceID != invoiceID {
			continue
		}
		cp := *l
		if c, err := m.charges.GetByID(ctx, l.ChargeID); err == nil {
			cp.Charge = c
		}
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockInvoices) activeLines(invoiceID uuid.UUID) int {
	n := 0
	for _, l := range m.lines {
		if l.InvoiceID == invoiceID && l.Active {
			n++
		}
	}
	return n
}

// -- Payments --

type mockPayments struct {
	payments map[uuid.UUID]*Payment
	refunds  []*Refund
}

func newMockPayments() *mockPayments {
	return &mockPayments{payments: make(map[uuid.UUID]*Payment)}
}

func (m *mockPayments) Snapshot() func() {
	saved := make(map[uuid.UUID]Payment, len(m.payments))
	for id, p := range m.payments {
		saved[id] = *p
	}
	refunds := append([]*Refund(nil), m.refunds...)
	return func() {
		m.payments = make(map[uuid.UUID]*Payment, len(saved))
		for id, p := range saved {
			p := p
			m.payments[id] = &p
		}
		m.refunds = refunds
	}
}

func (m *mockPayments) Create(_ context.Context, p *Payment) error {
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *mockPayments) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (m *mockPayments) GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return m.GetByID(ctx, id)
}

func (m *mockPayments) SetStatus(_ context.Context, id uuid.UUID, status PaymentStatus) error {
	p, ok := m.payments[id]
	if !ok {
		return apperr.NotFound("payment %s not found", id)
	}
	p.Status = status
	return nil
}

func (m *mockPayments) List(_ context.Context, f PaymentFilter, limit, offset int) ([]*Payment, int, error) {
	var out []*Payment
	for _, p := range m.payments {
		if f.InvoiceID != nil && p.InvoiceID != *f.InvoiceID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentNo < out[j].PaymentNo })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	if end := offset + limit; end < total {
		return out[offset:end], total, nil
	}
	return out[offset:], total, nil
}

func (m *mockPayments) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	out, _, err := m.List(ctx, PaymentFilter{InvoiceID: &invoiceID}, len(m.payments), 0)
	return out, err
}

func (m *mockPayments) NumberExists(_ context.Context, no string) (bool, error) {
	for _, p := range m.payments {
		if p.PaymentNo == no {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockPayments) CreateRefund(_ context.Context, r *Refund) error {
	cp := *r
	m.refunds = append(m.refunds, &cp)
	return nil
}

func (m *mockPayments) RefundedTotal(_ context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	total := money.Zero
	for _, r := range m.refunds {
		if r.PaymentID == paymentID {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

func (m *mockPayments) ListRefunds(_ context.Context, paymentID uuid.UUID) ([]*Refund, error) {
	var out []*Refund
	for _, r := range m.refunds {
		if r.PaymentID == paymentID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockPayments) RefundNumberExists(_ context.Context, no string) (bool, error) {
	for _, r := range m.refunds {
		if r.RefundNo == no {
			return true, nil
		}
	}
	return false, nil
}

// -- Encounters --

type mockEncounters struct {
	mu         sync.Mutex
	encounters map[uuid.UUID]*encounter.Encounter
}

func newMockEncounters() *mockEncounters {
	return &mockEncounters{encounters: make(map[uuid.UUID]*encounter.Encounter)}
}

func (m *mockEncounters) add(patientID uuid.UUID, status encounter.Status) *encounter.Encounter {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &encounter.Encounter{
		ID:          uuid.New(),
		EncounterNo: "ENC" + uuid.NewString()[:8],
		PatientID:   patientID,
		Type:        encounter.TypeOutpatient,
		Status:      status,
		StartedAt:   time.Now(),
	}
	m.encounters[e.ID] = e
	return e
}

func (m *mockEncounters) Get(_ context.Context, id uuid.UUID) (*encounter.Encounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.encounters[id]
	if !ok {
		return nil, apperr.NotFound("encounter %s not found", id)
	}
	cp := *e
	return &cp, nil
}
