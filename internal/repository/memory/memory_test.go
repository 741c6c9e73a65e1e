package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hospital-api/internal/model"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
)

var testDay = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func newMachine(code string) *model.Machine {
	return &model.Machine{
		Base:                    model.Base{ID: uuid.New(), CreatedAt: testDay, UpdatedAt: testDay},
		Code:                    code,
		Name:                    "Dialysis " + code,
		Status:                  model.MachineStatusActive,
		MaintenanceIntervalDays: model.DefaultMaintenanceIntervalDays,
	}
}

func newSession(machineID *uuid.UUID, startHour, endHour int) *model.Session {
	return &model.Session{
		Base:          model.Base{ID: uuid.New(), CreatedAt: testDay, UpdatedAt: testDay},
		MachineID:     machineID,
		PatientID:     uuid.New(),
		ScheduledDate: testDay,
		StartTime:     testDay.Add(time.Duration(startHour) * time.Hour),
		EndTime:       testDay.Add(time.Duration(endHour) * time.Hour),
		Status:        model.SessionStatusScheduled,
		Attendance:    model.AttendancePending,
	}
}

func TestMachineRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Machines()

	m := newMachine("HD-01")
	require.NoError(t, repo.Create(ctx, m))

	dup := newMachine("hd-01")
	assert.True(t, apperrors.IsConflict(repo.Create(ctx, dup)))

	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dialysis HD-01", again.Name)

	_, err = repo.Get(ctx, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMachineUpdateIsOptimistic(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Machines()

	m := newMachine("HD-02")
	require.NoError(t, repo.Create(ctx, m))

	first, _ := repo.Get(ctx, m.ID)
	second, _ := repo.Get(ctx, m.ID)

	first.Location = "Bay 1"
	first.TotalHoursUsed = 999
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, 1, first.Version)
	assert.Zero(t, first.TotalHoursUsed)

	second.Location = "Bay 2"
	assert.True(t, apperrors.IsConflict(repo.Update(ctx, second)))
}

func TestListDueForMaintenance(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Machines()

	due := newMachine("HD-03")
	next := testDay.AddDate(0, 0, -1)
	due.NextMaintenance = &next
	later := newMachine("HD-04")
	future := testDay.AddDate(0, 0, 30)
	later.NextMaintenance = &future
	retired := newMachine("HD-05")
	retired.NextMaintenance = &next
	retired.Status = model.MachineStatusRetired

	for _, m := range []*model.Machine{due, later, retired} {
		require.NoError(t, repo.Create(ctx, m))
	}

	out, err := repo.ListDueForMaintenance(ctx, testDay)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, due.ID, out[0].ID)
}

func TestCreateIfFreeRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := store.Sessions()
	machineID := uuid.New()

	require.NoError(t, repo.CreateIfFree(ctx, newSession(&machineID, 8, 12)))

	err := repo.CreateIfFree(ctx, newSession(&machineID, 10, 14))
	assert.True(t, apperrors.IsConflict(err))

	// touching windows do not overlap
	assert.NoError(t, repo.CreateIfFree(ctx, newSession(&machineID, 12, 16)))

	// sessions without a machine never conflict
	assert.NoError(t, repo.CreateIfFree(ctx, newSession(nil, 8, 12)))
	assert.NoError(t, repo.CreateIfFree(ctx, newSession(nil, 8, 12)))

	conflicts, err := repo.FindConflicts(ctx, machineID, testDay, model.TimeSlot{Start: testDay.Add(11 * time.Hour), End: testDay.Add(13 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, conflicts, 2)
	assert.True(t, conflicts[0].StartTime.Before(conflicts[1].StartTime))
}

func TestCreateIfFreeConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Sessions()
	machineID := uuid.New()

	const creators = 32
	var wins, conflicts int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := repo.CreateIfFree(ctx, newSession(&machineID, 8, 12))
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case apperrors.IsConflict(err):
				atomic.AddInt32(&conflicts, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(creators-1), conflicts)

	list, err := repo.List(ctx, &model.SessionFilters{MachineID: &machineID})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCancelledSessionFreesSlot(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Sessions()
	machineID := uuid.New()

	s := newSession(&machineID, 8, 12)
	require.NoError(t, repo.CreateIfFree(ctx, s))

	s.Status = model.SessionStatusCancelled
	require.NoError(t, repo.Update(ctx, s))

	assert.NoError(t, repo.CreateIfFree(ctx, newSession(&machineID, 8, 12)))

	busy, err := repo.BusyMachineIDs(ctx, testDay, model.TimeSlot{Start: testDay.Add(9 * time.Hour), End: testDay.Add(10 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{machineID}, busy)
}

func TestAssignMachineChecksOverlap(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Sessions()
	machineID := uuid.New()

	require.NoError(t, repo.CreateIfFree(ctx, newSession(&machineID, 8, 12)))

	floating := newSession(nil, 9, 11)
	require.NoError(t, repo.CreateIfFree(ctx, floating))

	floating.MachineID = &machineID
	assert.True(t, apperrors.IsConflict(repo.AssignMachine(ctx, floating)))

	other := uuid.New()
	floating.MachineID = &other
	assert.NoError(t, repo.AssignMachine(ctx, floating))
}

func TestCompleteAddsMachineHours(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	m := newMachine("HD-06")
	require.NoError(t, store.Machines().Create(ctx, m))

	s := newSession(&m.ID, 8, 12)
	require.NoError(t, store.Sessions().CreateIfFree(ctx, s))

	s.Status = model.SessionStatusCompleted
	require.NoError(t, store.Sessions().Complete(ctx, s, 3.5))

	got, err := store.Machines().Get(ctx, m.ID)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, got.TotalHoursUsed, 1e-9)

	stored, err := store.Sessions().Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, stored.Status)
}

func TestDeleteScheduled(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Sessions()

	s := newSession(nil, 8, 12)
	require.NoError(t, repo.CreateIfFree(ctx, s))

	s.Status = model.SessionStatusInProgress
	require.NoError(t, repo.Update(ctx, s))
	assert.True(t, apperrors.IsInvalidState(repo.DeleteScheduled(ctx, s.ID)))

	assert.True(t, apperrors.IsNotFound(repo.DeleteScheduled(ctx, uuid.New())))
}

func newWard(store *Store, name string) *model.Ward {
	w := &model.Ward{Base: model.Base{ID: uuid.New(), CreatedAt: testDay, UpdatedAt: testDay}, Name: name, BedCount: 10}
	if err := store.Wards().Create(context.Background(), w); err != nil {
		panic(err)
	}
	return w
}

func newAdmission(wardID uuid.UUID, bed string) *model.Admission {
	return &model.Admission{
		Base:          model.Base{ID: uuid.New(), CreatedAt: testDay, UpdatedAt: testDay},
		PatientID:     uuid.New(),
		WardID:        wardID,
		BedNumber:     bed,
		Status:        model.AdmissionStatusActive,
		AdmissionDate: testDay,
	}
}

func TestAdmitGuardsBedAndPatient(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	ward := newWard(store, "Renal")
	repo := store.Admissions()

	first := newAdmission(ward.ID, "B1")
	require.NoError(t, repo.Admit(ctx, first))

	assert.True(t, apperrors.IsConflict(repo.Admit(ctx, newAdmission(ward.ID, "B1"))))

	samePatient := newAdmission(ward.ID, "B2")
	samePatient.PatientID = first.PatientID
	assert.True(t, apperrors.IsConflict(repo.Admit(ctx, samePatient)))

	assert.True(t, apperrors.IsNotFound(repo.Admit(ctx, newAdmission(uuid.New(), "B1"))))

	_, err := repo.Discharge(ctx, first.ID, testDay.Add(48*time.Hour))
	require.NoError(t, err)
	_, err = repo.Discharge(ctx, first.ID, testDay.Add(49*time.Hour))
	assert.True(t, apperrors.IsInvalidState(err))

	assert.NoError(t, repo.Admit(ctx, newAdmission(ward.ID, "B1")))
}

func TestTransferMovesAtomically(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	renal := newWard(store, "Renal")
	icu := newWard(store, "ICU")
	repo := store.Admissions()

	from := newAdmission(renal.ID, "B1")
	require.NoError(t, repo.Admit(ctx, from))
	occupant := newAdmission(icu.ID, "B2")
	require.NoError(t, repo.Admit(ctx, occupant))

	at := testDay.Add(24 * time.Hour)
	transfer := func(bed string) (*model.Admission, *model.Transfer) {
		to := newAdmission(icu.ID, bed)
		to.PatientID = from.PatientID
		to.AdmissionDate = at
		return to, &model.Transfer{
			ID: uuid.New(), PatientID: from.PatientID,
			FromWardID: renal.ID, FromBedNumber: "B1", FromAdmissionID: from.ID,
			ToWardID: icu.ID, ToBedNumber: bed, ToAdmissionID: to.ID,
			TransferredAt: at,
		}
	}

	to, tr := transfer("B2")
	assert.True(t, apperrors.IsConflict(repo.Transfer(ctx, from, to, tr)))
	transfers, _ := repo.ListTransfers(ctx, from.PatientID)
	assert.Empty(t, transfers)

	to, tr = transfer("B3")
	require.NoError(t, repo.Transfer(ctx, from, to, tr))
	assert.Equal(t, model.AdmissionStatusTransferred, from.Status)

	old, err := repo.Get(ctx, from.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AdmissionStatusTransferred, old.Status)
	require.NotNil(t, old.DischargeDate)

	active, err := repo.FindActiveByBed(ctx, icu.ID, "B3")
	require.NoError(t, err)
	assert.Equal(t, to.ID, active.ID)

	_, err = repo.FindActiveByBed(ctx, renal.ID, "B1")
	assert.True(t, apperrors.IsNotFound(err))

	transfers, err = repo.ListTransfers(ctx, from.PatientID)
	require.NoError(t, err)
	assert.Len(t, transfers, 1)

	// the old admission can no longer be moved
	to, tr = transfer("B4")
	assert.True(t, apperrors.IsInvalidState(repo.Transfer(ctx, old, to, tr)))
}

func TestConcurrentAdmissionsIntoOneBed(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	ward := newWard(store, "Renal")
	repo := store.Admissions()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.Admit(ctx, newAdmission(ward.ID, "B7")) == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestOutboxProcessPending(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Outbox()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	events := []*model.OutboxEvent{
		{ID: uuid.New(), EventType: "session.created", CreatedAt: past},
		{ID: uuid.New(), EventType: "session.updated", CreatedAt: past.Add(time.Second)},
		{ID: uuid.New(), EventType: "machine.updated", CreatedAt: past, RetryAt: &future},
	}
	for _, e := range events {
		require.NoError(t, repo.Create(ctx, e))
	}

	var seen []string
	n, err := repo.ProcessPending(ctx, 10, func(ctx context.Context, e *model.OutboxEvent) {
		seen = append(seen, e.EventType)
		now := time.Now().Add(-2 * time.Hour)
		e.Status = model.OutboxStatusProcessed
		e.ProcessedAt = &now
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"session.created", "session.updated"}, seen)

	n, err = repo.ProcessPending(ctx, 10, func(context.Context, *model.OutboxEvent) {})
	require.NoError(t, err)
	assert.Zero(t, n)

	deleted, err := repo.DeleteProcessedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}
