package inpatient

import (
	"time"

	"github.com/google/uuid"
)

type AdmissionStatus string

const (
	StatusAdmitted   AdmissionStatus = "ADMITTED"
	StatusDischarged AdmissionStatus = "DISCHARGED"
)

type Ward struct {
	ID           uuid.UUID `json:"id"`
	DepartmentID uuid.UUID `json:"department_id"`
	Name         string    `json:"name"`
}

type Bed struct {
	ID     uuid.UUID `json:"id"`
	WardID uuid.UUID `json:"ward_id"`
	BedNo  string    `json:"bed_no"`
	Active bool      `json:"active"`
}

type Admission struct {
	ID                uuid.UUID       `json:"id"`
	AdmissionNo       string          `json:"admission_no"`
	PatientID         uuid.UUID       `json:"patient_id"`
	EncounterID       uuid.UUID       `json:"encounter_id"`
	DepartmentID      uuid.UUID       `json:"department_id"`
	AttendingDoctorID uuid.UUID       `json:"attending_doctor_id"`
	Status            AdmissionStatus `json:"status"`
	AdmittedAt        time.Time       `json:"admitted_at"`
	DischargedAt      *time.Time      `json:"discharged_at,omitempty"`
	Note              *string         `json:"note,omitempty"`
	DischargeSummary  *string         `json:"discharge_summary,omitempty"`
}

// BedAssignment is one stay of an admission in a bed. EndAt nil means the
// bed is occupied by it right now.
type BedAssignment struct {
	ID          uuid.UUID  `json:"id"`
	AdmissionID uuid.UUID  `json:"admission_id"`
	BedID       uuid.UUID  `json:"bed_id"`
	StartAt     time.Time  `json:"start_at"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	Reason      *string    `json:"reason,omitempty"`
}

func (a *BedAssignment) Open() bool { return a.EndAt == nil }

type AdmissionDetail struct {
	*Admission
	Assignments []*BedAssignment `json:"bed_assignments"`
}

type AdmissionFilter struct {
	PatientID *uuid.UUID
	Status    AdmissionStatus
}

// Inpatient is a row of the current-inpatients board.
type Inpatient struct {
	AdmissionID         uuid.UUID  `json:"admission_id"`
	AdmissionNo         string     `json:"admission_no"`
	PatientID           uuid.UUID  `json:"patient_id"`
	PatientName         string     `json:"patient_name"`
	DepartmentID        uuid.UUID  `json:"department_id"`
	DepartmentName      string     `json:"department_name"`
	AttendingDoctorID   uuid.UUID  `json:"attending_doctor_id"`
	AttendingDoctorName string     `json:"attending_doctor_name"`
	AdmittedAt          time.Time  `json:"admitted_at"`
	Note                *string    `json:"admission_note,omitempty"`
	AssignmentID        *uuid.UUID `json:"bed_assignment_id,omitempty"`
	BedID               *uuid.UUID `json:"bed_id,omitempty"`
	BedNo               *string    `json:"bed_no,omitempty"`
	WardID              *uuid.UUID `json:"ward_id,omitempty"`
	WardName            *string    `json:"ward_name,omitempty"`
	BedSince            *time.Time `json:"bed_start_at,omitempty"`
}

// BedOccupancy is a bed with its current occupant, if any. Occupancy is
// derived from open assignments.
type BedOccupancy struct {
	BedID        uuid.UUID  `json:"bed_id"`
	BedNo        string     `json:"bed_no"`
	Active       bool       `json:"active"`
	WardID       uuid.UUID  `json:"ward_id"`
	WardName     string     `json:"ward_name"`
	Occupied     bool       `json:"occupied"`
	AssignmentID *uuid.UUID `json:"bed_assignment_id,omitempty"`
	StartAt      *time.Time `json:"start_at,omitempty"`
	AdmissionID  *uuid.UUID `json:"admission_id,omitempty"`
	AdmissionNo  *string    `json:"admission_no,omitempty"`
	PatientID    *uuid.UUID `json:"patient_id,omitempty"`
	PatientName  *string    `json:"patient_name,omitempty"`
}

// -- Operation inputs and results --

type AdmitInput struct {
	PatientID      uuid.UUID  `json:"patient_id" validate:"required"`
	DepartmentID   uuid.UUID  `json:"department_id" validate:"required"`
	DoctorID       uuid.UUID  `json:"attending_doctor_id" validate:"required"`
	WardID         *uuid.UUID `json:"ward_id"`
	PreferredBedID *uuid.UUID `json:"preferred_bed_id"`
	Note           *string    `json:"note" validate:"omitempty,max=500"`
}

type AdmitResult struct {
	EncounterID  uuid.UUID `json:"encounter_id"`
	EncounterNo  string    `json:"encounter_no"`
	AdmissionID  uuid.UUID `json:"admission_id"`
	AdmissionNo  string    `json:"admission_no"`
	AssignmentID uuid.UUID `json:"bed_assignment_id"`
	BedID        uuid.UUID `json:"bed_id"`
	BedNo        string    `json:"bed_no"`
}

type TransferResult struct {
	AdmissionID  uuid.UUID  `json:"admission_id"`
	FromBedID    *uuid.UUID `json:"from_bed_id,omitempty"`
	ToBedID      uuid.UUID  `json:"to_bed_id"`
	AssignmentID uuid.UUID  `json:"bed_assignment_id"`
}

type DischargeResult struct {
	AdmissionID  uuid.UUID  `json:"admission_id"`
	EncounterID  uuid.UUID  `json:"encounter_id"`
	ReleasedBed  *uuid.UUID `json:"released_bed_id,omitempty"`
	DischargedAt time.Time  `json:"discharged_at"`
}
