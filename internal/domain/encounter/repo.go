package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	// GetForUpdate locks the encounter row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status, endedAt *time.Time) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Encounter, int, error)
	NumberExists(ctx context.Context, encounterNo string) (bool, error)

	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
	DepartmentExists(ctx context.Context, id uuid.UUID) (bool, error)
	DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
}
