package inpatient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	GetWard(ctx context.Context, id uuid.UUID) (*Ward, error)
	GetBed(ctx context.Context, id uuid.UUID) (*Bed, error)
	GetBedForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error)
	// LockWardBeds locks every bed of the ward ordered by bed_no.
	LockWardBeds(ctx context.Context, wardID uuid.UUID) ([]*Bed, error)
	BedOccupied(ctx context.Context, bedID uuid.UUID) (bool, error)

	CreateAdmission(ctx context.Context, a *Admission) error
	GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error)
	GetAdmissionForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error)
	MarkDischarged(ctx context.Context, id uuid.UUID, at time.Time, summary *string) error
	ListAdmissions(ctx context.Context, f AdmissionFilter, limit, offset int) ([]*Admission, int, error)
	PatientAdmitted(ctx context.Context, patientID uuid.UUID) (bool, error)
	NumberExists(ctx context.Context, admissionNo string) (bool, error)

	// OpenAssignment inserts an occupying assignment. A second open
	// assignment on the same bed is a Conflict.
	OpenAssignment(ctx context.Context, a *BedAssignment) error
	// CloseOpenAssignment ends the admission's open assignment and returns
	// it, or nil when there is none.
	CloseOpenAssignment(ctx context.Context, admissionID uuid.UUID, at time.Time) (*BedAssignment, error)
	ListAssignments(ctx context.Context, admissionID uuid.UUID) ([]*BedAssignment, error)

	ListCurrentInpatients(ctx context.Context, wardID *uuid.UUID) ([]*Inpatient, error)
	BedOccupancy(ctx context.Context, wardID *uuid.UUID) ([]*BedOccupancy, error)
}
