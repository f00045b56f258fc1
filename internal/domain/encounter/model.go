package encounter

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeOutpatient Type = "OUTPATIENT"
	TypeInpatient  Type = "INPATIENT"
)

type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusClosed    Status = "CLOSED"
	StatusCancelled Status = "CANCELLED"
)

var validTypes = map[Type]bool{TypeOutpatient: true, TypeInpatient: true}

// Encounter is one patient visit. Charges hang off it; inpatient stays own
// exactly one.
type Encounter struct {
	ID           uuid.UUID  `json:"id"`
	EncounterNo  string     `json:"encounter_no"`
	PatientID    uuid.UUID  `json:"patient_id"`
	DepartmentID uuid.UUID  `json:"department_id"`
	DoctorID     *uuid.UUID `json:"doctor_id,omitempty"`
	Type         Type       `json:"type"`
	Status       Status     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Note         *string    `json:"note,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (e *Encounter) IsOpen() bool { return e.Status == StatusOpen }

type OpenInput struct {
	PatientID    uuid.UUID  `json:"patient_id" validate:"required"`
	DepartmentID uuid.UUID  `json:"department_id" validate:"required"`
	DoctorID     *uuid.UUID `json:"doctor_id"`
	Type         Type       `json:"type" validate:"required,oneof=OUTPATIENT INPATIENT"`
	Note         *string    `json:"note" validate:"omitempty,max=500"`
}

type ListFilter struct {
	PatientID *uuid.UUID
	Status    Status
	Type      Type
}
