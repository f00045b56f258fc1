package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ehr/hospital-core/internal/platform/apperr"
	"github.com/ehr/hospital-core/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type pgBase struct {
	pool *pgxpool.Pool
}

func (b *pgBase) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return b.pool
}

func (b *pgBase) exists(ctx context.Context, query string, arg interface{}) (bool, error) {
	var ok bool
	err := b.conn(ctx).QueryRow(ctx, `SELECT EXISTS (`+query+`)`, arg).Scan(&ok)
	return ok, err
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func notFound(err error, what string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("%s %s not found", what, id)
	}
	return err
}

// whereBuilder collects numbered predicates for the list queries.
type whereBuilder struct {
	conds []string
	args  []interface{}
}

func (w *whereBuilder) add(cond string, v interface{}) {
	w.args = append(w.args, v)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereBuilder) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// -- Catalog --

type catalogRepoPG struct{ pgBase }

func NewCatalogRepoPG(pool *pgxpool.Pool) CatalogRepository {
	return &catalogRepoPG{pgBase{pool}}
}

const catalogCols = `id, item_code, item_name, category, unit, unit_price, is_active`

func scanCatalogItem(row pgx.Row) (*CatalogItem, error) {
	var it CatalogItem
	if err := row.Scan(&it.ID, &it.Code, &it.Name, &it.Category, &it.Unit, &it.UnitPrice, &it.Active); err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *catalogRepoPG) GetItem(ctx context.Context, id uuid.UUID) (*CatalogItem, error) {
	it, err := scanCatalogItem(r.conn(ctx).QueryRow(ctx, `SELECT `+catalogCols+` FROM charge_catalog WHERE id = $1`, id))
	return it, notFound(err, "catalog item", id)
}

func (r *catalogRepoPG) ListItems(ctx context.Context, activeOnly bool) ([]*CatalogItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+catalogCols+` FROM charge_catalog WHERE ($1 = false OR is_active) ORDER BY item_code`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*CatalogItem
	for rows.Next() {
		it, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// -- Charges --

type chargeRepoPG struct{ pgBase }

func NewChargeRepoPG(pool *pgxpool.Pool) ChargeRepository {
	return &chargeRepoPG{pgBase{pool}}
}

const chargeCols = `id, charge_no, encounter_id, catalog_item_id, source_type, source_id,
	quantity, unit_price, amount, status, charged_at`

func scanCharge(row pgx.Row) (*Charge, error) {
	var c Charge
	err := row.Scan(&c.ID, &c.ChargeNo, &c.EncounterID, &c.CatalogItemID, &c.SourceType, &c.SourceID,
		&c.Quantity, &c.UnitPrice, &c.Amount, &c.Status, &c.ChargedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectCharges(rows pgx.Rows) ([]*Charge, error) {
	defer rows.Close()
	var out []*Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *chargeRepoPG) Create(ctx context.Context, c *Charge) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO charge (id, charge_no, encounter_id, catalog_item_id, source_type, source_id,
			quantity, unit_price, amount, status, charged_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		c.ID, c.ChargeNo, c.EncounterID, c.CatalogItemID, c.SourceType, c.SourceID,
		c.Quantity, c.UnitPrice, c.Amount, c.Status, c.ChargedAt)
	return err
}

func (r *chargeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Charge, error) {
	c, err := scanCharge(r.conn(ctx).QueryRow(ctx, `SELECT `+chargeCols+` FROM charge WHERE id = $1`, id))
	return c, notFound(err, "charge", id)
}

func (r *chargeRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Charge, error) {
	c, err := scanCharge(r.conn(ctx).QueryRow(ctx, `SELECT `+chargeCols+` FROM charge WHERE id = $1 FOR UPDATE`, id))
	return c, notFound(err, "charge", id)
}

func (r *chargeRepoPG) LockUnbilled(ctx context.Context, encounterID uuid.UUID) ([]*Charge, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+chargeCols+` FROM charge
		WHERE encounter_id = $1 AND status = 'UNBILLED'
		ORDER BY charged_at, id
		FOR UPDATE`, encounterID)
	if err != nil {
		return nil, err
	}
	return collectCharges(rows)
}

func (r *chargeRepoPG) LockUnbilledSince(ctx context.Context, encounterID uuid.UUID, since time.Time) ([]*Charge, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+chargeCols+` FROM charge
		WHERE encounter_id = $1 AND status = 'UNBILLED' AND charged_at > $2
		ORDER BY charged_at, id
		FOR UPDATE`, encounterID, since)
	if err != nil {
		return nil, err
	}
	return collectCharges(rows)
}

func (r *chargeRepoPG) SetStatus(ctx context.Context, ids []uuid.UUID, from, to ChargeStatus) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE charge SET status = $3, updated_at = now() WHERE id = ANY($1::uuid[]) AND status = $2`,
		uuidStrings(ids), from, to)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *chargeRepoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Charge, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+chargeCols+` FROM charge WHERE encounter_id = $1 ORDER BY charged_at, id`, encounterID)
	if err != nil {
		return nil, err
	}
	return collectCharges(rows)
}

func (r *chargeRepoPG) NumberExists(ctx context.Context, no string) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM charge WHERE charge_no = $1`, no)
}

// -- Invoices --

type invoiceRepoPG struct{ pgBase }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository {
	return &invoiceRepoPG{pgBase{pool}}
}

const invoiceCols = `id, invoice_no, patient_id, encounter_id, issued_at, total_amount, paid_amount,
	status, note, void_reason, voided_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNo, &inv.PatientID, &inv.EncounterID, &inv.IssuedAt,
		&inv.TotalAmount, &inv.PaidAmount, &inv.Status, &inv.Note, &inv.VoidReason, &inv.VoidedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice (id, invoice_no, patient_id, encounter_id, issued_at, total_amount, paid_amount, status, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		inv.ID, inv.InvoiceNo, inv.PatientID, inv.EncounterID, inv.IssuedAt,
		inv.TotalAmount, inv.PaidAmount, inv.Status, inv.Note)
	return err
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoice WHERE id = $1`, id))
	return inv, notFound(err, "invoice", id)
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoice WHERE id = $1 FOR UPDATE`, id))
	return inv, notFound(err, "invoice", id)
}

func (r *invoiceRepoPG) UpdateAmounts(ctx context.Context, id uuid.UUID, total, paid decimal.Decimal, status InvoiceStatus) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE invoice SET total_amount = $2, paid_amount = $3, status = $4, updated_at = now() WHERE id = $1`,
		id, total, paid, status)
	return err
}

func (r *invoiceRepoPG) MarkVoid(ctx context.Context, id uuid.UUID, reason *string, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE invoice SET status = 'VOID', void_reason = $2, voided_at = $3, updated_at = now() WHERE id = $1`,
		id, reason, at)
	return err
}

func (r *invoiceRepoPG) List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	var w whereBuilder
	if f.PatientID != nil {
		w.add("patient_id = $%d", *f.PatientID)
	}
	if f.EncounterID != nil {
		w.add("encounter_id = $%d", *f.EncounterID)
	}
	if f.Status != "" {
		w.add("status = $%d", f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoice`+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args := append(w.args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT %s FROM invoice%s ORDER BY issued_at DESC, id LIMIT $%d OFFSET $%d`,
		invoiceCols, w.clause(), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

func (r *invoiceRepoPG) NumberExists(ctx context.Context, no string) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM invoice WHERE invoice_no = $1`, no)
}

func (r *invoiceRepoPG) AddLines(ctx context.Context, invoiceID uuid.UUID, chargeIDs []uuid.UUID) error {
	if len(chargeIDs) == 0 {
		return nil
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice_line (id, invoice_id, charge_id, active)
		SELECT gen_random_uuid(), $1, c, true FROM unnest($2::uuid[]) AS c`,
		invoiceID, uuidStrings(chargeIDs))
	if db.IsUniqueViolation(err, "invoice_line_active_charge_idx") {
		return apperr.Conflict("charge already billed on another invoice")
	}
	return err
}

func (r *invoiceRepoPG) DeactivateLines(ctx context.Context, invoiceID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE invoice_line SET active = false, updated_at = now()
		WHERE invoice_id = $1 AND active
		RETURNING charge_id`, invoiceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *invoiceRepoPG) ListLines(ctx context.Context, invoiceID uuid.UUID) ([]*InvoiceLine, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT l.id, l.invoice_id, l.charge_id, l.active, l.created_at,
			c.id, c.charge_no, c.encounter_id, c.catalog_item_id, c.source_type, c.source_id,
			c.quantity, c.unit_price, c.amount, c.status, c.charged_at
		FROM invoice_line l JOIN charge c ON c.id = l.charge_id
		WHERE l.invoice_id = $1
		ORDER BY l.active DESC, c.charged_at, c.id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		var c Charge
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ChargeID, &l.Active, &l.CreatedAt,
			&c.ID, &c.ChargeNo, &c.EncounterID, &c.CatalogItemID, &c.SourceType, &c.SourceID,
			&c.Quantity, &c.UnitPrice, &c.Amount, &c.Status, &c.ChargedAt); err != nil {
			return nil, err
		}
		l.Charge = &c
		out = append(out, &l)
	}
	return out, rows.Err()
}

// -- Payments and refunds --

type paymentRepoPG struct{ pgBase }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pgBase{pool}}
}

const paymentCols = `id, payment_no, invoice_id, method, amount, status, transaction_ref, paid_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	if err := row.Scan(&p.ID, &p.PaymentNo, &p.InvoiceID, &p.Method, &p.Amount, &p.Status, &p.TransactionRef, &p.PaidAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payment (id, payment_no, invoice_id, method, amount, status, transaction_ref, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.PaymentNo, p.InvoiceID, p.Method, p.Amount, p.Status, p.TransactionRef, p.PaidAt)
	return err
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+paymentCols+` FROM payment WHERE id = $1`, id))
	return p, notFound(err, "payment", id)
}

func (r *paymentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+paymentCols+` FROM payment WHERE id = $1 FOR UPDATE`, id))
	return p, notFound(err, "payment", id)
}

func (r *paymentRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE payment SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

func (r *paymentRepoPG) List(ctx context.Context, f PaymentFilter, limit, offset int) ([]*Payment, int, error) {
	var w whereBuilder
	if f.InvoiceID != nil {
		w.add("invoice_id = $%d", *f.InvoiceID)
	}
	if f.Status != "" {
		w.add("status = $%d", f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payment`+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args := append(w.args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(
		`SELECT %s FROM payment%s ORDER BY paid_at, id LIMIT $%d OFFSET $%d`,
		paymentCols, w.clause(), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paymentCols+` FROM payment WHERE invoice_id = $1 ORDER BY paid_at, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *paymentRepoPG) NumberExists(ctx context.Context, no string) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM payment WHERE payment_no = $1`, no)
}

func (r *paymentRepoPG) CreateRefund(ctx context.Context, rf *Refund) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO refund (id, refund_no, payment_id, amount, reason, refunded_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rf.ID, rf.RefundNo, rf.PaymentID, rf.Amount, rf.Reason, rf.RefundedAt)
	return err
}

func (r *paymentRepoPG) RefundedTotal(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM refund WHERE payment_id = $1`, paymentID).Scan(&total)
	return total, err
}

func (r *paymentRepoPG) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, refund_no, payment_id, amount, reason, refunded_at
		FROM refund WHERE payment_id = $1 ORDER BY refunded_at, id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Refund
	for rows.Next() {
		var rf Refund
		if err := rows.Scan(&rf.ID, &rf.RefundNo, &rf.PaymentID, &rf.Amount, &rf.Reason, &rf.RefundedAt); err != nil {
			return nil, err
		}
		out = append(out, &rf)
	}
	return out, rows.Err()
}

func (r *paymentRepoPG) RefundNumberExists(ctx context.Context, no string) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM refund WHERE refund_no = $1`, no)
}
