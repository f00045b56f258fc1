//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/hospital-core/internal/domain/encounter"
	"github.com/ehr/hospital-core/internal/domain/inpatient"
	"github.com/ehr/hospital-core/internal/platform/apperr"
)

func admitInput(f *fixture, patient uuid.UUID) inpatient.AdmitInput {
	return inpatient.AdmitInput{
		PatientID:    patient,
		DepartmentID: f.Department,
		DoctorID:     f.Doctor,
		WardID:       &f.Ward,
	}
}

func TestAdmissionLifecycle(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("adm")
	createTenantSchema(t, ctx, tenantID)
	f := seed(t, ctx, tenantID, 2, 2)
	s := newServices()

	err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
		res, err := s.ip.Admit(ctx, admitInput(f, f.Patients[0]))
		require.NoError(t, err)
		assert.Equal(t, "A-01", res.BedNo)

		_, err = s.ip.Admit(ctx, admitInput(f, f.Patients[0]))
		assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err), "patient already admitted")

		board, err := s.ip.ListCurrentInpatients(ctx, &f.Ward)
		require.NoError(t, err)
		require.Len(t, board, 1)
		assert.Equal(t, "Patient 0", board[0].PatientName)
		require.NotNil(t, board[0].BedNo)
		assert.Equal(t, "A-01", *board[0].BedNo)

		tr, err := s.ip.TransferBed(ctx, res.AdmissionID, f.Beds[1], nil)
		require.NoError(t, err)
		require.NotNil(t, tr.FromBedID)
		assert.Equal(t, f.Beds[0], *tr.FromBedID)

		_, err = s.ip.TransferBed(ctx, res.AdmissionID, f.Beds[1], nil)
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "bed already held by this admission")

		occ, err := s.ip.WardOccupancy(ctx, f.Ward)
		require.NoError(t, err)
		require.Len(t, occ, 2)
		assert.False(t, occ[0].Occupied)
		assert.True(t, occ[1].Occupied)

		dis, err := s.ip.Discharge(ctx, res.AdmissionID, nil)
		require.NoError(t, err)
		require.NotNil(t, dis.ReleasedBed)
		assert.Equal(t, f.Beds[1], *dis.ReleasedBed)

		enc, err := s.enc.Get(ctx, res.EncounterID)
		require.NoError(t, err)
		assert.Equal(t, encounter.StatusClosed, enc.Status)

		detail, err := s.ip.GetAdmission(ctx, res.AdmissionID)
		require.NoError(t, err)
		assert.Equal(t, inpatient.StatusDischarged, detail.Status)
		require.Len(t, detail.Assignments, 2)
		for _, a := range detail.Assignments {
			assert.NotNil(t, a.EndAt)
		}

		_, err = s.ip.Discharge(ctx, res.AdmissionID, nil)
		assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

		again, err := s.ip.Admit(ctx, admitInput(f, f.Patients[0]))
		require.NoError(t, err, "a discharged patient can be readmitted")
		assert.Equal(t, "A-01", again.BedNo)
		return nil
	})
	require.NoError(t, err)
}

func TestConcurrentAdmissionsForLastBed(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("bed")
	createTenantSchema(t, ctx, tenantID)
	f := seed(t, ctx, tenantID, 2, 1)
	s := newServices()

	var wg sync.WaitGroup
	errs := make([]error, len(f.Patients))
	for i, p := range f.Patients {
		wg.Add(1)
		go func(i int, p uuid.UUID) {
			defer wg.Done()
			errs[i] = withTenantConn(ctx, tenantID, func(ctx context.Context) error {
				_, err := s.ip.Admit(ctx, admitInput(f, p))
				return err
			})
		}(i, p)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.KindOf(err) == apperr.KindConflict:
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	var open, encounters int
	require.NoError(t, globalDB.Pool.QueryRow(ctx,
		`SELECT count(*) FROM tenant_`+tenantID+`.bed_assignment WHERE end_at IS NULL`).Scan(&open))
	assert.Equal(t, 1, open)

	require.NoError(t, globalDB.Pool.QueryRow(ctx,
		`SELECT count(*) FROM tenant_`+tenantID+`.encounter WHERE type = 'INPATIENT'`).Scan(&encounters))
	assert.Equal(t, 1, encounters, "the losing admission rolled back its encounter")
}
