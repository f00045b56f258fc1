package inpatient

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/hospital-core/internal/domain/encounter"
	"github.com/ehr/hospital-core/internal/platform/apperr"
	"github.com/ehr/hospital-core/internal/platform/db"
	"github.com/ehr/hospital-core/internal/platform/events"
	"github.com/ehr/hospital-core/internal/platform/numbering"
)

// Encounters opens and closes the INPATIENT encounter owned by an admission.
// Calls made inside a unit of work join it.
type Encounters interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
	Open(ctx context.Context, in encounter.OpenInput) (*encounter.Encounter, error)
	Get(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
	Close(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
}

type Service struct {
	repo       Repository
	encounters Encounters
	tx         db.Transactor
	numbers    *numbering.Generator
	events     *events.Emitter
	now        func() time.Time
}

func NewService(repo Repository, encounters Encounters, tx db.Transactor, numbers *numbering.Generator) *Service {
	if numbers == nil {
		numbers = numbering.New(numbering.Admission)
	}
	return &Service{repo: repo, encounters: encounters, tx: tx, numbers: numbers, now: time.Now}
}

func (s *Service) SetEventPublisher(pub events.Publisher, logger zerolog.Logger) {
	s.events = events.NewEmitter(pub, logger)
}

func (s *Service) emit(ctx context.Context, eventType string, data any) {
	s.events.Emit(ctx, eventType, db.TenantFromContext(ctx), data)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

// Admit opens an INPATIENT encounter, an admission and a bed assignment in
// one unit of work. A usable preferred bed wins; otherwise the ward's beds
// are scanned in bed_no order for the first active, unoccupied one.
func (s *Service) Admit(ctx context.Context, in AdmitInput) (*AdmitResult, error) {
	switch {
	case in.PatientID == uuid.Nil:
		return nil, apperr.Validation("patient_id is required")
	case in.DepartmentID == uuid.Nil:
		return nil, apperr.Validation("department_id is required")
	case in.DoctorID == uuid.Nil:
		return nil, apperr.Validation("attending_doctor_id is required")
	case in.WardID == nil && in.PreferredBedID == nil:
		return nil, apperr.Validation("ward_id or preferred_bed_id is required")
	}

	var res *AdmitResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.encounters.PatientExists(ctx, in.PatientID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("patient %s not found", in.PatientID)
		}
		admitted, err := s.repo.PatientAdmitted(ctx, in.PatientID)
		if err != nil {
			return err
		}
		if admitted {
			return apperr.InvalidState("patient %s is already admitted", in.PatientID)
		}

		bed, err := s.pickBed(ctx, in.WardID, in.PreferredBedID)
		if err != nil {
			return err
		}

		doctor := in.DoctorID
		enc, err := s.encounters.Open(ctx, encounter.OpenInput{
			PatientID:    in.PatientID,
			DepartmentID: in.DepartmentID,
			DoctorID:     &doctor,
			Type:         encounter.TypeInpatient,
			Note:         in.Note,
		})
		if err != nil {
			return err
		}

		no, err := s.numbers.Next(ctx, s.repo.NumberExists)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		adm := &Admission{
			ID:                uuid.New(),
			AdmissionNo:       no,
			PatientID:         in.PatientID,
			EncounterID:       enc.ID,
			DepartmentID:      in.DepartmentID,
			AttendingDoctorID: in.DoctorID,
			Status:            StatusAdmitted,
			AdmittedAt:        now,
			Note:              trimmed(in.Note),
		}
		if err := s.repo.CreateAdmission(ctx, adm); err != nil {
			return err
		}
		reason := "admission"
		asg := &BedAssignment{ID: uuid.New(), AdmissionID: adm.ID, BedID: bed.ID, StartAt: now, Reason: &reason}
		if err := s.repo.OpenAssignment(ctx, asg); err != nil {
			return err
		}

		res = &AdmitResult{
			EncounterID:  enc.ID,
			EncounterNo:  enc.EncounterNo,
			AdmissionID:  adm.ID,
			AdmissionNo:  adm.AdmissionNo,
			AssignmentID: asg.ID,
			BedID:        bed.ID,
			BedNo:        bed.BedNo,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.AdmissionAdmitted, res)
	return res, nil
}

// pickBed locks and returns the bed the admission will occupy.
func (s *Service) pickBed(ctx context.Context, wardID, preferredID *uuid.UUID) (*Bed, error) {
	if wardID != nil {
		if _, err := s.repo.GetWard(ctx, *wardID); err != nil {
			return nil, err
		}
	}

	scanWard := wardID
	if preferredID != nil {
		bed, err := s.repo.GetBedForUpdate(ctx, *preferredID)
		if err != nil {
			return nil, err
		}
		if wardID != nil && bed.WardID != *wardID {
			return nil, apperr.Validation("preferred bed %s is not in ward %s", bed.BedNo, *wardID)
		}
		free, err := s.bedFree(ctx, bed)
		if err != nil {
			return nil, err
		}
		if free {
			return bed, nil
		}
		scanWard = &bed.WardID
	}

	beds, err := s.repo.LockWardBeds(ctx, *scanWard)
	if err != nil {
		return nil, err
	}
	for _, b := range beds {
		free, err := s.bedFree(ctx, b)
		if err != nil {
			return nil, err
		}
		if free {
			return b, nil
		}
	}
	return nil, apperr.Conflict("no available bed in ward %s", *scanWard)
}

func (s *Service) bedFree(ctx context.Context, b *Bed) (bool, error) {
	if !b.Active {
		return false, nil
	}
	occupied, err := s.repo.BedOccupied(ctx, b.ID)
	return !occupied, err
}

// TransferBed moves an admitted patient to another bed, closing the current
// assignment and opening a new one at the same instant.
func (s *Service) TransferBed(ctx context.Context, admissionID, newBedID uuid.UUID, reason *string) (*TransferResult, error) {
	if newBedID == uuid.Nil {
		return nil, apperr.Validation("new_bed_id is required")
	}

	var res *TransferResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		adm, err := s.repo.GetAdmissionForUpdate(ctx, admissionID)
		if err != nil {
			return err
		}
		if adm.Status != StatusAdmitted {
			return apperr.NotFound("active admission %s not found", admissionID)
		}
		bed, err := s.repo.GetBedForUpdate(ctx, newBedID)
		if err != nil {
			return err
		}
		if !bed.Active {
			return apperr.Conflict("bed %s is inactive", bed.BedNo)
		}
		occupied, err := s.repo.BedOccupied(ctx, bed.ID)
		if err != nil {
			return err
		}
		if occupied {
			return apperr.Conflict("bed %s is occupied", bed.BedNo)
		}

		now := s.now().UTC()
		prev, err := s.repo.CloseOpenAssignment(ctx, adm.ID, now)
		if err != nil {
			return err
		}
		asg := &BedAssignment{ID: uuid.New(), AdmissionID: adm.ID, BedID: bed.ID, StartAt: now, Reason: trimmed(reason)}
		if err := s.repo.OpenAssignment(ctx, asg); err != nil {
			return err
		}

		res = &TransferResult{AdmissionID: adm.ID, ToBedID: bed.ID, AssignmentID: asg.ID}
		if prev != nil {
			res.FromBedID = &prev.BedID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.AdmissionTransferred, res)
	return res, nil
}

// Discharge releases the bed, discharges the admission and closes its
// encounter.
func (s *Service) Discharge(ctx context.Context, admissionID uuid.UUID, summary *string) (*DischargeResult, error) {
	var res *DischargeResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		adm, err := s.repo.GetAdmissionForUpdate(ctx, admissionID)
		if err != nil {
			return err
		}
		if adm.Status != StatusAdmitted {
			return apperr.InvalidState("admission %s is %s", adm.AdmissionNo, adm.Status)
		}

		now := s.now().UTC()
		released, err := s.repo.CloseOpenAssignment(ctx, adm.ID, now)
		if err != nil {
			return err
		}
		if err := s.repo.MarkDischarged(ctx, adm.ID, now, trimmed(summary)); err != nil {
			return err
		}
		enc, err := s.encounters.Get(ctx, adm.EncounterID)
		if err != nil {
			return err
		}
		if enc.IsOpen() {
			if _, err := s.encounters.Close(ctx, enc.ID); err != nil {
				return err
			}
		}

		res = &DischargeResult{AdmissionID: adm.ID, EncounterID: adm.EncounterID, DischargedAt: now}
		if released != nil {
			res.ReleasedBed = &released.BedID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.AdmissionDischarged, res)
	return res, nil
}

func (s *Service) GetAdmission(ctx context.Context, id uuid.UUID) (*AdmissionDetail, error) {
	adm, err := s.repo.GetAdmission(ctx, id)
	if err != nil {
		return nil, err
	}
	asgs, err := s.repo.ListAssignments(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AdmissionDetail{Admission: adm, Assignments: asgs}, nil
}

func (s *Service) ListAdmissions(ctx context.Context, f AdmissionFilter, limit, offset int) ([]*Admission, int, error) {
	return s.repo.ListAdmissions(ctx, f, limit, offset)
}

func (s *Service) ListCurrentInpatients(ctx context.Context, wardID *uuid.UUID) ([]*Inpatient, error) {
	return s.repo.ListCurrentInpatients(ctx, wardID)
}

// WardOccupancy lists the ward's beds with their current occupants.
func (s *Service) WardOccupancy(ctx context.Context, wardID uuid.UUID) ([]*BedOccupancy, error) {
	if _, err := s.repo.GetWard(ctx, wardID); err != nil {
		return nil, err
	}
	return s.repo.BedOccupancy(ctx, &wardID)
}

func (s *Service) BedOccupancy(ctx context.Context) ([]*BedOccupancy, error) {
	return s.repo.BedOccupancy(ctx, nil)
}
