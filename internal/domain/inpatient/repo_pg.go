package inpatient

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

	"github.com/ehr/hospital-core/internal/platform/apperr"
	"github.com/ehr/hospital-core/internal/platform/db"
)

// Partial unique index allowing one open assignment per bed.
const openBedIndex = "bed_assignment_open_bed_idx"

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) exists(ctx context.Context, query string, arg interface{}) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (`+query+`)`, arg).Scan(&ok)
	return ok, err
}

func missing(err error, what string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("%s %s not found", what, id)
	}
	return err
}

// -- Wards and beds --

func (r *repoPG) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	var w Ward
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, department_id, name FROM ward WHERE id = $1`, id).
		Scan(&w.ID, &w.DepartmentID, &w.Name)
	if err != nil {
		return nil, missing(err, "ward", id)
	}
	return &w, nil
}

const bedCols = `id, ward_id, bed_no, is_active`

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	if err := row.Scan(&b.ID, &b.WardID, &b.BedNo, &b.Active); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repoPG) getBed(ctx context.Context, id uuid.UUID, lock string) (*Bed, error) {
	b, err := scanBed(r.conn(ctx).QueryRow(ctx, `SELECT `+bedCols+` FROM bed WHERE id = $1`+lock, id))
	if err != nil {
		return nil, missing(err, "bed", id)
	}
	return b, nil
}

func (r *repoPG) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return r.getBed(ctx, id, "")
}

func (r *repoPG) GetBedForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return r.getBed(ctx, id, " FOR UPDATE")
}

func (r *repoPG) LockWardBeds(ctx context.Context, wardID uuid.UUID) ([]*Bed, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bedCols+` FROM bed WHERE ward_id = $1 ORDER BY bed_no, id FOR UPDATE`, wardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repoPG) BedOccupied(ctx context.Context, bedID uuid.UUID) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM bed_assignment WHERE bed_id = $1 AND end_at IS NULL`, bedID)
}

// -- Admissions --

const admissionCols = `id, admission_no, patient_id, encounter_id, department_id, attending_doctor_id,
	status, admitted_at, discharged_at, note, discharge_summary`

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.AdmissionNo, &a.PatientID, &a.EncounterID, &a.DepartmentID, &a.AttendingDoctorID,
		&a.Status, &a.AdmittedAt, &a.DischargedAt, &a.Note, &a.DischargeSummary)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) CreateAdmission(ctx context.Context, a *Admission) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO admission (id, admission_no, patient_id, encounter_id, department_id, attending_doctor_id,
			status, admitted_at, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.AdmissionNo, a.PatientID, a.EncounterID, a.DepartmentID, a.AttendingDoctorID,
		a.Status, a.AdmittedAt, a.Note)
	if db.IsUniqueViolation(err, "admission_patient_active_idx") {
		return apperr.InvalidState("patient %s is already admitted", a.PatientID)
	}
	return err
}

func (r *repoPG) getAdmission(ctx context.Context, id uuid.UUID, lock string) (*Admission, error) {
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admissionCols+` FROM admission WHERE id = $1`+lock, id))
	if err != nil {
		return nil, missing(err, "admission", id)
	}
	return a, nil
}

func (r *repoPG) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return r.getAdmission(ctx, id, "")
}

func (r *repoPG) GetAdmissionForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return r.getAdmission(ctx, id, " FOR UPDATE")
}

func (r *repoPG) MarkDischarged(ctx context.Context, id uuid.UUID, at time.Time, summary *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE admission SET status = $2, discharged_at = $3, discharge_summary = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5`,
		id, StatusDischarged, at, summary, StatusAdmitted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidState("admission %s is not ADMITTED", id)
	}
	return nil
}

func (r *repoPG) ListAdmissions(ctx context.Context, f AdmissionFilter, limit, offset int) ([]*Admission, int, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admission`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM admission%s ORDER BY admitted_at DESC, id LIMIT $%d OFFSET $%d`,
			admissionCols, clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *repoPG) PatientAdmitted(ctx context.Context, patientID uuid.UUID) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM admission WHERE patient_id = $1 AND status = 'ADMITTED'`, patientID)
}

func (r *repoPG) NumberExists(ctx context.Context, no string) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM admission WHERE admission_no = $1`, no)
}

// -- Bed assignments --

const assignmentCols = `id, admission_id, bed_id, start_at, end_at, reason`

func scanAssignment(row pgx.Row) (*BedAssignment, error) {
	var a BedAssignment
	if err := row.Scan(&a.ID, &a.AdmissionID, &a.BedID, &a.StartAt, &a.EndAt, &a.Reason); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) OpenAssignment(ctx context.Context, a *BedAssignment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bed_assignment (id, admission_id, bed_id, start_at, reason)
		VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.AdmissionID, a.BedID, a.StartAt, a.Reason)
	if db.IsUniqueViolation(err, openBedIndex) {
		return apperr.Conflict("bed %s is already occupied", a.BedID)
	}
	return err
}

func (r *repoPG) CloseOpenAssignment(ctx context.Context, admissionID uuid.UUID, at time.Time) (*BedAssignment, error) {
	a, err := scanAssignment(r.conn(ctx).QueryRow(ctx, `
		UPDATE bed_assignment SET end_at = $2
		WHERE admission_id = $1 AND end_at IS NULL
		RETURNING `+assignmentCols, admissionID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *repoPG) ListAssignments(ctx context.Context, admissionID uuid.UUID) ([]*BedAssignment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+assignmentCols+` FROM bed_assignment WHERE admission_id = $1 ORDER BY start_at, id`, admissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*BedAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// -- Boards --

func (r *repoPG) ListCurrentInpatients(ctx context.Context, wardID *uuid.UUID) ([]*Inpatient, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT admission_id, admission_no, patient_id, patient_name, department_id, department_name,
			attending_doctor_id, attending_doctor_name, admitted_at, admission_note,
			bed_assignment_id, bed_id, bed_no, ward_id, ward_name, bed_start_at
		FROM v_inpatient_current
		WHERE ($1::uuid IS NULL OR ward_id = $1)
		ORDER BY admitted_at DESC, admission_id`, wardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Inpatient
	for rows.Next() {
		var p Inpatient
		if err := rows.Scan(&p.AdmissionID, &p.AdmissionNo, &p.PatientID, &p.PatientName, &p.DepartmentID,
			&p.DepartmentName, &p.AttendingDoctorID, &p.AttendingDoctorName, &p.AdmittedAt, &p.Note,
			&p.AssignmentID, &p.BedID, &p.BedNo, &p.WardID, &p.WardName, &p.BedSince); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *repoPG) BedOccupancy(ctx context.Context, wardID *uuid.UUID) ([]*BedOccupancy, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT bed_id, bed_no, is_active, ward_id, ward_name, occupied,
			bed_assignment_id, start_at, admission_id, admission_no, patient_id, patient_name
		FROM v_bed_occupancy
		WHERE ($1::uuid IS NULL OR ward_id = $1)
		ORDER BY ward_name, bed_no`, wardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*BedOccupancy
	for rows.Next() {
		var b BedOccupancy
		if err := rows.Scan(&b.BedID, &b.BedNo, &b.Active, &b.WardID, &b.WardName, &b.Occupied,
			&b.AssignmentID, &b.StartAt, &b.AdmissionID, &b.AdmissionNo, &b.PatientID, &b.PatientName); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}
