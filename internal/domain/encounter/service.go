package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/hospital-core/internal/platform/apperr"
	"github.com/ehr/hospital-core/internal/platform/db"
	"github.com/ehr/hospital-core/internal/platform/numbering"
)

type Service struct {
	repo    Repository
	tx      db.Transactor
	numbers *numbering.Generator
	now     func() time.Time
}

func NewService(repo Repository, tx db.Transactor, numbers *numbering.Generator) *Service {
	if numbers == nil {
		numbers = numbering.New(numbering.Encounter)
	}
	return &Service{repo: repo, tx: tx, numbers: numbers, now: time.Now}
}

// Open starts an encounter in OPEN status. Inside an enclosing unit of work
// (admission) it joins that transaction.
func (s *Service) Open(ctx context.Context, in OpenInput) (*Encounter, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if in.DepartmentID == uuid.Nil {
		return nil, apperr.Validation("department_id is required")
	}
	if !validTypes[in.Type] {
		return nil, apperr.Validation("invalid encounter type: %q", in.Type)
	}

	var enc *Encounter
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.mustExist(ctx, "patient", in.PatientID, s.repo.PatientExists); err != nil {
			return err
		}
		if err := s.mustExist(ctx, "department", in.DepartmentID, s.repo.DepartmentExists); err != nil {
			return err
		}
		if in.DoctorID != nil {
			if err := s.mustExist(ctx, "doctor", *in.DoctorID, s.repo.DoctorExists); err != nil {
				return err
			}
		}

		no, err := s.numbers.Next(ctx, s.repo.NumberExists)
		if err != nil {
			return err
		}
		enc = &Encounter{
			ID:           uuid.New(),
			EncounterNo:  no,
			PatientID:    in.PatientID,
			DepartmentID: in.DepartmentID,
			DoctorID:     in.DoctorID,
			Type:         in.Type,
			Status:       StatusOpen,
			StartedAt:    s.now().UTC(),
			Note:         in.Note,
		}
		return s.repo.Create(ctx, enc)
	})
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func (s *Service) mustExist(ctx context.Context, what string, id uuid.UUID, check func(context.Context, uuid.UUID) (bool, error)) error {
	ok, err := check(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("%s %s not found", what, id)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

// GetForUpdate locks the encounter; callers must already be in a unit of work.
func (s *Service) GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetForUpdate(ctx, id)
}

func (s *Service) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.PatientExists(ctx, id)
}

// Close moves an OPEN encounter to CLOSED and stamps ended_at.
func (s *Service) Close(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.finish(ctx, id, StatusClosed)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.finish(ctx, id, StatusCancelled)
}

func (s *Service) finish(ctx context.Context, id uuid.UUID, to Status) (*Encounter, error) {
	var enc *Encounter
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !e.IsOpen() {
			return apperr.InvalidState("encounter %s is %s", e.EncounterNo, e.Status)
		}
		now := s.now().UTC()
		if err := s.repo.SetStatus(ctx, id, to, &now); err != nil {
			return err
		}
		e.Status, e.EndedAt = to, &now
		enc = e
		return nil
	})
	return enc, err
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}
