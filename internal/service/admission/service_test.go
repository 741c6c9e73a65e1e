package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository/memory"
	"github.com/jwalitptl/hospital-api/internal/service/ward"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/event"
	"github.com/jwalitptl/hospital-api/pkg/logger"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
)

var now = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *event.Recorder, *model.Ward) {
	t.Helper()
	store := memory.NewStore()
	w, err := ward.NewService(store.Wards(), nil).CreateWard(context.Background(), &model.CreateWardRequest{Name: "Ward 1", BedCount: 4})
	require.NoError(t, err)

	sink := event.NewRecorder()
	svc := NewService(store.Admissions(), sink, logger.Nop(), metrics.NewNop()).
		WithClock(func() time.Time { return now })
	return svc, sink, w
}

func TestAdmit(t *testing.T) {
	svc, sink, w := setup(t)
	ctx := context.Background()

	a, err := svc.Admit(ctx, &model.AdmitRequest{PatientID: uuid.New(), WardID: w.ID, BedNumber: " B3 "})
	require.NoError(t, err)
	assert.Equal(t, model.AdmissionStatusActive, a.Status)
	assert.Equal(t, "B3", a.BedNumber)
	assert.Equal(t, now, a.AdmissionDate)
	assert.Equal(t, []event.Type{event.AdmissionCreated}, sink.Types())

	_, err = svc.Admit(ctx, &model.AdmitRequest{PatientID: uuid.New(), WardID: w.ID, BedNumber: "B3"})
	assert.True(t, apperrors.IsConflict(err), "bed occupied")

	_, err = svc.Admit(ctx, &model.AdmitRequest{PatientID: a.PatientID, WardID: w.ID, BedNumber: "B4"})
	assert.True(t, apperrors.IsConflict(err), "patient already admitted")

	_, err = svc.Admit(ctx, &model.AdmitRequest{PatientID: uuid.New(), WardID: w.ID, BedNumber: "  "})
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.Admit(ctx, &model.AdmitRequest{PatientID: uuid.New(), WardID: uuid.New(), BedNumber: "B1"})
	assert.True(t, apperrors.IsNotFound(err))

	holder, err := svc.ActiveAtBed(ctx, w.ID, "B3 ")
	require.NoError(t, err)
	assert.Equal(t, a.ID, holder.ID)
}

func TestDischargeFreesBed(t *testing.T) {
	svc, sink, w := setup(t)
	ctx := context.Background()

	a, err := svc.Admit(ctx, &model.AdmitRequest{PatientID: uuid.New(), WardID: w.ID, BedNumber: "B1"})
	require.NoError(t, err)

	out, err := svc.Discharge(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AdmissionStatusDischarged, out.Status)
	require.NotNil(t, out.DischargeDate)
	assert.Equal(t, now, *out.DischargeDate)

	_, err = svc.Discharge(ctx, a.ID)
	assert.True(t, apperrors.IsInvalidState(err))

	_, err = svc.Discharge(ctx, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.ActiveAtBed(ctx, w.ID, "B1")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Admit(ctx, &model.AdmitRequest{PatientID: a.PatientID, WardID: w.ID, BedNumber: "B1"})
	assert.NoError(t, err)

	assert.Equal(t, []event.Type{event.AdmissionCreated, event.AdmissionDischarged, event.AdmissionCreated}, sink.Types())
}

func TestConcurrentAdmitsIntoOneBed(t *testing.T) {
	svc, _, w := setup(t)

	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		lost int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Admit(context.Background(), &model.AdmitRequest{PatientID: uuid.New(), WardID: w.ID, BedNumber: "B2"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if apperrors.IsConflict(err) {
				lost++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, lost)
}

func TestListByWardAndHistory(t *testing.T) {
	svc, _, w := setup(t)
	ctx := context.Background()
	patient := uuid.New()

	earlier := now.Add(-48 * time.Hour)
	first, err := svc.Admit(ctx, &model.AdmitRequest{PatientID: patient, WardID: w.ID, BedNumber: "B1", AdmittedAt: &earlier})
	require.NoError(t, err)
	_, err = svc.Discharge(ctx, first.ID)
	require.NoError(t, err)
	second, err := svc.Admit(ctx, &model.AdmitRequest{PatientID: patient, WardID: w.ID, BedNumber: "B2"})
	require.NoError(t, err)
	_, err = svc.Admit(ctx, &model.AdmitRequest{PatientID: uuid.New(), WardID: w.ID, BedNumber: "B3"})
	require.NoError(t, err)

	all, err := svc.ListByWard(ctx, w.ID, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active := model.AdmissionStatusActive
	current, err := svc.ListByWard(ctx, w.ID, &active)
	require.NoError(t, err)
	assert.Len(t, current, 2)

	history, err := svc.PatientHistory(ctx, patient)
	require.NoError(t, err)
	require.Len(t, history.Admissions, 2)
	assert.Equal(t, first.ID, history.Admissions[0].ID)
	assert.Equal(t, second.ID, history.Admissions[1].ID)
	assert.Empty(t, history.Transfers)
}
