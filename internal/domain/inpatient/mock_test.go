package inpatient

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/hospital-core/internal/domain/encounter"
	"github.com/ehr/hospital-core/internal/platform/apperr"
)

type mockRepo struct {
	wards       map[uuid.UUID]*Ward
	beds        map[uuid.UUID]*Bed
	admissions  map[uuid.UUID]*Admission
	assignments []*BedAssignment
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		wards:      make(map[uuid.UUID]*Ward),
		beds:       make(map[uuid.UUID]*Bed),
		admissions: make(map[uuid.UUID]*Admission),
	}
}

func (m *mockRepo) addWard(name string) *Ward {
	w := &Ward{ID: uuid.New(), DepartmentID: uuid.New(), Name: name}
	m.wards[w.ID] = w
	return w
}

func (m *mockRepo) addBed(wardID uuid.UUID, no string, active bool) *Bed {
	b := &Bed{ID: uuid.New(), WardID: wardID, BedNo: no, Active: active}
	m.beds[b.ID] = b
	return b
}

func (m *mockRepo) Snapshot() func() {
	admissions := make(map[uuid.UUID]Admission, len(m.admissions))
	for id, a := range m.admissions {
		admissions[id] = *a
	}
	assignments := make([]BedAssignment, len(m.assignments))
	for i, a := range m.assignments {
		assignments[i] = *a
	}
	return func() {
		m.admissions = make(map[uuid.UUID]*Admission, len(admissions))
		for id, a := range admissions {
			a := a
			m.admissions[id] = &a
		}
		m.assignments = nil
		for _, a := range assignments {
			a := a
			m.assignments = append(m.assignments, &a)
		}
	}
}

func (m *mockRepo) GetWard(_ context.Context, id uuid.UUID) (*Ward, error) {
	w, ok := m.wards[id]
	if !ok {
		return nil, apperr.NotFound("ward %s not found", id)
	}
	cp := *w
	return &cp, nil
}

func (m *mockRepo) GetBed(_ context.Context, id uuid.UUID) (*Bed, error) {
	b, ok := m.beds[id]
	if !ok {
		return nil, apperr.NotFound("bed %s not found", id)
	}
	cp := *b
	return &cp, nil
}

func (m *mockRepo) GetBedForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return m.GetBed(ctx, id)
}

func (m *mockRepo) LockWardBeds(_ context.Context, wardID uuid.UUID) ([]*Bed, error) {
	var out []*Bed
	for _, b := range m.beds {
		if b.WardID == wardID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BedNo < out[j].BedNo })
	return out, nil
}

func (m *mockRepo) openOn(bedID uuid.UUID) *BedAssignment {
	for _, a := range m.assignments {
		if a.BedID == bedID && a.Open() {
			return a
		}
	}
	return nil
}

func (m *mockRepo) BedOccupied(_ context.Context, bedID uuid.UUID) (bool, error) {
	return m.openOn(bedID) != nil, nil
}

func (m *mockRepo) CreateAdmission(_ context.Context, a *Admission) error {
	cp := *a
	m.admissions[a.ID] = &cp
	return nil
}

func (m *mockRepo) GetAdmission(_ context.Context, id uuid.UUID) (*Admission, error) {
	a, ok := m.admissions[id]
	if !ok {
		return nil, apperr.NotFound("admission %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) GetAdmissionForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return m.GetAdmission(ctx, id)
}

func (m *mockRepo) MarkDischarged(_ context.Context, id uuid.UUID, at time.Time, summary *string) error {
	a, ok := m.admissions[id]
	if !ok || a.Status != StatusAdmitted {
		return apperr.InvalidState("admission %s is not ADMITTED", id)
	}
	a.Status, a.DischargedAt, a.DischargeSummary = StatusDischarged, &at, summary
	return nil
}

func (m *mockRepo) ListAdmissions(_ context.Context, f AdmissionFilter, limit, offset int) ([]*Admission, int, error) {
	var out []*Admission
	for _, a := range m.admissions {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdmissionNo < out[j].AdmissionNo })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	if end := offset + limit; end < total {
		return out[offset:end], total, nil
	}
	return out[offset:], total, nil
}

func (m *mockRepo) PatientAdmitted(_ context.Context, patientID uuid.UUID) (bool, error) {
	for _, a := range m.admissions {
		if a.PatientID == patientID && a.Status == StatusAdmitted {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) NumberExists(_ context.Context, no string) (bool, error) {
	for _, a := range m.admissions {
		if a.AdmissionNo == no {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) OpenAssignment(_ context.Context, a *BedAssignment) error {
	if m.openOn(a.BedID) != nil {
		return apperr.Conflict("bed %s is already occupied", a.BedID)
	}
	cp := *a
	m.assignments = append(m.assignments, &cp)
	return nil
}

func (m *mockRepo) CloseOpenAssignment(_ context.Context, admissionID uuid.UUID, at time.Time) (*BedAssignment, error) {
	for _, a := range m.assignments {
		if a.AdmissionID == admissionID && a.Open() {
			a.EndAt = &at
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) ListAssignments(_ context.Context, admissionID uuid.UUID) ([]*BedAssignment, error) {
	var out []*BedAssignment
	for _, a := range m.assignments {
		if a.AdmissionID == admissionID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) ListCurrentInpatients(_ context.Context, wardID *uuid.UUID) ([]*Inpatient, error) {
	var out []*Inpatient
	for _, a := range m.admissions {
		if a.Status != StatusAdmitted {
			continue
		}
		row := &Inpatient{AdmissionID: a.ID, AdmissionNo: a.AdmissionNo, PatientID: a.PatientID,
			DepartmentID: a.DepartmentID, AttendingDoctorID: a.AttendingDoctorID, AdmittedAt: a.AdmittedAt}
		for _, asg := range m.assignments {
			if asg.AdmissionID == a.ID && asg.Open() {
				bed := m.beds[asg.BedID]
				row.AssignmentID, row.BedID, row.BedNo, row.WardID = &asg.ID, &bed.ID, &bed.BedNo, &bed.WardID
			}
		}
		if wardID != nil && (row.WardID == nil || *row.WardID != *wardID) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (m *mockRepo) BedOccupancy(_ context.Context, wardID *uuid.UUID) ([]*BedOccupancy, error) {
	var out []*BedOccupancy
	for _, b := range m.beds {
		if wardID != nil && b.WardID != *wardID {
			continue
		}
		row := &BedOccupancy{BedID: b.ID, BedNo: b.BedNo, Active: b.Active, WardID: b.WardID,
			WardName: m.wards[b.WardID].Name}
		if asg := m.openOn(b.ID); asg != nil {
			adm := m.admissions[asg.AdmissionID]
			row.Occupied = true
			row.AssignmentID, row.StartAt = &asg.ID, &asg.StartAt
			row.AdmissionID, row.AdmissionNo, row.PatientID = &adm.ID, &adm.AdmissionNo, &adm.PatientID
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BedNo < out[j].BedNo })
	return out, nil
}

// -- Encounters --

type fakeEncounters struct {
	patients   map[uuid.UUID]bool
	encounters map[uuid.UUID]*encounter.Encounter
	seq        int
}

func newFakeEncounters() *fakeEncounters {
	return &fakeEncounters{patients: make(map[uuid.UUID]bool), encounters: make(map[uuid.UUID]*encounter.Encounter)}
}

func (f *fakeEncounters) Snapshot() func() {
	saved := make(map[uuid.UUID]encounter.Encounter, len(f.encounters))
	for id, e := range f.encounters {
		saved[id] = *e
	}
	return func() {
		f.encounters = make(map[uuid.UUID]*encounter.Encounter, len(saved))
		for id, e := range saved {
			e := e
			f.encounters[id] = &e
		}
	}
}

func (f *fakeEncounters) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	return f.patients[id], nil
}

func (f *fakeEncounters) Open(_ context.Context, in encounter.OpenInput) (*encounter.Encounter, error) {
	f.seq++
	e := &encounter.Encounter{
		ID:           uuid.New(),
		EncounterNo:  fmt.Sprintf("ENC%04d", f.seq),
		PatientID:    in.PatientID,
		DepartmentID: in.DepartmentID,
		DoctorID:     in.DoctorID,
		Type:         in.Type,
		Status:       encounter.StatusOpen,
		StartedAt:    time.Now().UTC(),
	}
	cp := *e
	f.encounters[e.ID] = &cp
	return e, nil
}

func (f *fakeEncounters) Get(_ context.Context, id uuid.UUID) (*encounter.Encounter, error) {
	e, ok := f.encounters[id]
	if !ok {
		return nil, apperr.NotFound("encounter %s not found", id)
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEncounters) Close(_ context.Context, id uuid.UUID) (*encounter.Encounter, error) {
	e, ok := f.encounters[id]
	if !ok {
		return nil, apperr.NotFound("encounter %s not found", id)
	}
	if !e.IsOpen() {
		return nil, apperr.InvalidState("encounter %s is %s", e.EncounterNo, e.Status)
	}
	now := time.Now().UTC()
	e.Status, e.EndedAt = encounter.StatusClosed, &now
	cp := *e
	return &cp, nil
}
