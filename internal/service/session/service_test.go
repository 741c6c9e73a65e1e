package session

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
	"github.com/jwalitptl/hospital-api/internal/service/machine"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/event"
	"github.com/jwalitptl/hospital-api/pkg/logger"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
)

var day = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

type fixture struct {
	svc      *Service
	machines *machine.Service
	sink     *event.Recorder
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{sink: event.NewRecorder(), clock: at(7, 55)}
	now := func() time.Time { return f.clock }
	f.machines = machine.NewService(store.Machines(), nil, nil, nil).WithClock(now)
	f.svc = NewService(store.Sessions(), f.machines, f.sink, logger.Nop(), metrics.NewNop()).WithClock(now)
	return f
}

func (f *fixture) machine(t *testing.T, code string) *model.Machine {
	t.Helper()
	m, err := f.machines.CreateMachine(context.Background(), &model.CreateMachineRequest{Code: code, Name: code})
	require.NoError(t, err)
	return m
}

func (f *fixture) book(machineID *uuid.UUID, start, end time.Time) (*model.Session, error) {
	return f.svc.CreateSession(context.Background(), &model.CreateSessionRequest{
		MachineID: machineID,
		PatientID: uuid.New(),
		Date:      day,
		StartTime: start,
		EndTime:   end,
	})
}

func TestCreateSessionOverlapRules(t *testing.T) {
	f := newFixture(t)
	m1 := f.machine(t, "M1")

	first, err := f.book(&m1.ID, at(8, 0), at(12, 0))
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusScheduled, first.Status)
	assert.Equal(t, model.AttendancePending, first.Attendance)

	_, err = f.book(&m1.ID, at(10, 0), at(14, 0))
	assert.True(t, apperrors.IsConflict(err))

	touching, err := f.book(&m1.ID, at(12, 0), at(16, 0))
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusScheduled, touching.Status)

	other := f.machine(t, "M2")
	_, err = f.book(&other.ID, at(10, 0), at(14, 0))
	assert.NoError(t, err)

	assert.Equal(t, []event.Type{event.SessionCreated, event.SessionCreated, event.SessionCreated}, f.sink.Types())
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M1")

	tests := []struct {
		name       string
		start, end time.Time
	}{
		{"end before start", at(12, 0), at(8, 0)},
		{"empty window", at(8, 0), at(8, 0)},
		{"starts the day before", at(-1, 0), at(2, 0)},
		{"runs past midnight", at(22, 0), at(25, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.book(&m.ID, tt.start, tt.end)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
		})
	}

	_, err := f.svc.CreateSession(context.Background(), &model.CreateSessionRequest{Date: day, StartTime: at(8, 0), EndTime: at(9, 0)})
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.book(&m.ID, at(20, 0), at(24, 0))
	assert.NoError(t, err)
}

func TestCreateSessionMachineRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	missing := uuid.New()
	_, err := f.book(&missing, at(8, 0), at(9, 0))
	assert.True(t, apperrors.IsNotFound(err))

	retired := f.machine(t, "OLD")
	_, err = f.machines.RetireMachine(ctx, retired.ID)
	require.NoError(t, err)
	_, err = f.book(&retired.ID, at(8, 0), at(9, 0))
	assert.True(t, apperrors.IsInvalidState(err))

	serviced := f.machine(t, "SVC")
	_, err = f.machines.ScheduleMaintenance(ctx, serviced.ID, day, "")
	require.NoError(t, err)
	_, err = f.book(&serviced.ID, at(8, 0), at(9, 0))
	assert.NoError(t, err)

	unassigned, err := f.book(nil, at(8, 0), at(9, 0))
	require.NoError(t, err)
	assert.Nil(t, unassigned.MachineID)
}

func TestCreateSessionConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M1")

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := at(8, i)
			_, err := f.book(&m.ID, start, start.Add(2*time.Hour))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperrors.IsConflict(err):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

func TestCancelledSessionFreesSlot(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M1")
	ctx := context.Background()

	s, err := f.book(&m.ID, at(8, 0), at(12, 0))
	require.NoError(t, err)

	cancelled, err := f.svc.CancelSession(ctx, s.ID, "patient hospitalised")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCancelled, cancelled.Status)
	assert.Equal(t, "patient hospitalised", *cancelled.CancelReason)

	_, err = f.book(&m.ID, at(9, 0), at(11, 0))
	assert.NoError(t, err)

	_, err = f.svc.CancelSession(ctx, s.ID, "")
	assert.True(t, apperrors.IsInvalidState(err))
}

func TestRecordAttendancePresent(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M1")
	ctx := context.Background()

	s, err := f.book(&m.ID, at(8, 0), at(12, 0))
	require.NoError(t, err)

	f.clock = at(8, 3)
	started, err := f.svc.RecordAttendance(ctx, s.ID, model.AttendancePresent)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, started.Status)
	assert.Equal(t, model.AttendancePresent, started.Attendance)
	require.NotNil(t, started.ActualStartTime)
	assert.Equal(t, at(8, 3), *started.ActualStartTime)

	f.clock = at(8, 20)
	again, err := f.svc.RecordAttendance(ctx, s.ID, model.AttendancePresent)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, again.Status)
	assert.Equal(t, at(8, 3), *again.ActualStartTime)
	assert.Equal(t, at(8, 20), again.UpdatedAt)
}

func TestRecordAttendanceAbsent(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M1")
	ctx := context.Background()

	s, err := f.book(&m.ID, at(8, 0), at(12, 0))
	require.NoError(t, err)

	noShow, err := f.svc.RecordAttendance(ctx, s.ID, model.AttendanceAbsent)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusNoShow, noShow.Status)
	assert.Equal(t, model.AttendanceAbsent, noShow.Attendance)
	assert.Nil(t, noShow.ActualStartTime)

	// a no-show still holds its slot
	_, err = f.book(&m.ID, at(9, 0), at(10, 0))
	assert.True(t, apperrors.IsConflict(err))

	_, err = f.svc.RecordAttendance(ctx, s.ID, model.AttendanceAbsent)
	assert.NoError(t, err)

	unchanged, err := f.svc.RecordAttendance(ctx, s.ID, model.AttendancePresent)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusNoShow, unchanged.Status)

	_, err = f.svc.RecordAttendance(ctx, s.ID, model.AttendancePending)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.RecordAttendance(ctx, uuid.New(), model.AttendanceAbsent)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRecordAttendanceAbsentOnCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.book(nil, at(8, 0), at(12, 0))
	require.NoError(t, err)
	_, err = f.svc.CancelSession(ctx, s.ID, "")
	require.NoError(t, err)

	_, err = f.svc.RecordAttendance(ctx, s.ID, model.AttendanceAbsent)
	assert.True(t, apperrors.IsInvalidState(err))
}

func TestRecordSessionDetailsCompletesSession(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M1")
	ctx := context.Background()

	s, err := f.book(&m.ID, at(8, 0), at(12, 0))
	require.NoError(t, err)

	pre := 72.4
	_, err = f.svc.RecordSessionDetails(ctx, s.ID, &model.SessionDetails{PreWeightKg: &pre})
	require.NoError(t, err)

	post := 70.1
	_, err = f.svc.RecordSessionDetails(ctx, s.ID, &model.SessionDetails{PostWeightKg: &post})
	assert.True(t, apperrors.IsInvalidState(err))

	start, end := at(8, 0), at(11, 30)
	fluid := 2.3
	done, err := f.svc.RecordSessionDetails(ctx, s.ID, &model.SessionDetails{
		ActualStartTime:    &start,
		ActualEndTime:      &end,
		PostWeightKg:       &post,
		FluidRemovedLiters: &fluid,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, done.Status)
	assert.Equal(t, model.AttendancePresent, done.Attendance)
	assert.Equal(t, &pre, done.PreWeightKg)
	assert.Equal(t, 70.1, *done.PostWeightKg)

	updated, err := f.machines.GetMachine(ctx, m.ID)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, updated.TotalHoursUsed, 1e-9)

	notes := "mild hypotension at 3h"
	amended, err := f.svc.RecordSessionDetails(ctx, s.ID, &model.SessionDetails{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, notes, *amended.Notes)

	later := at(12, 0)
	_, err = f.svc.RecordSessionDetails(ctx, s.ID, &model.SessionDetails{ActualEndTime: &later})
	assert.True(t, apperrors.IsInvalidState(err))
}

func TestRecordSessionDetailsTimingRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.book(nil, at(8, 0), at(12, 0))
	require.NoError(t, err)

	end := at(11, 0)
	_, err = f.svc.RecordSessionDetails(ctx, s.ID, &model.SessionDetails{ActualEndTime: &end})
	assert.True(t, apperrors.IsValidation(err), "end without a start")

	start := at(11, 30)
	_, err = f.svc.RecordSessionDetails(ctx, s.ID, &model.SessionDetails{ActualStartTime: &start, ActualEndTime: &end})
	assert.True(t, apperrors.IsValidation(err), "end before start")

	heavy := 900.0
	_, err = f.svc.RecordSessionDetails(ctx, s.ID, &model.SessionDetails{PreWeightKg: &heavy})
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.RecordAttendance(ctx, s.ID, model.AttendanceAbsent)
	require.NoError(t, err)
	notes := "called twice"
	_, err = f.svc.RecordSessionDetails(ctx, s.ID, &model.SessionDetails{Notes: &notes})
	assert.True(t, apperrors.IsInvalidState(err))
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	m := f.machine(t, "M1")
	ctx := context.Background()

	s, err := f.book(&m.ID, at(8, 0), at(12, 0))
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteSession(ctx, s.ID))

	rec, ok := f.sink.Last(event.SessionDeleted)
	require.True(t, ok)
	assert.Equal(t, s.ID, rec.Payload.(*Deleted).ID)

	_, err = f.svc.GetSession(ctx, s.ID)
	assert.True(t, apperrors.IsNotFound(err))

	started, err := f.book(&m.ID, at(8, 0), at(12, 0))
	require.NoError(t, err)
	_, err = f.svc.RecordAttendance(ctx, started.ID, model.AttendancePresent)
	require.NoError(t, err)
	assert.True(t, apperrors.IsInvalidState(f.svc.DeleteSession(ctx, started.ID)))
}

func TestFindAvailableMachines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := f.machine(t, "M1")
	m2 := f.machine(t, "M2")
	m3 := f.machine(t, "M3")
	_, err := f.machines.ScheduleMaintenance(ctx, m3.ID, day, "")
	require.NoError(t, err)

	_, err = f.book(&m1.ID, at(8, 0), at(12, 0))
	require.NoError(t, err)

	free, err := f.svc.FindAvailableMachines(ctx, &model.AvailabilityQuery{Date: day, StartTime: at(9, 0), DurationMinutes: 240})
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, m2.ID, free[0].ID)

	end := at(16, 0)
	free, err = f.svc.FindAvailableMachines(ctx, &model.AvailabilityQuery{Date: day, StartTime: at(12, 0), EndTime: &end})
	require.NoError(t, err)
	assert.Len(t, free, 2)

	_, err = f.svc.FindAvailableMachines(ctx, &model.AvailabilityQuery{Date: day, StartTime: at(12, 0), EndTime: &end, DurationMinutes: 300})
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.FindAvailableMachines(ctx, &model.AvailabilityQuery{Date: day, StartTime: at(12, 0)})
	assert.True(t, apperrors.IsValidation(err))
}

func TestAssignMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := f.machine(t, "M1")

	_, err := f.book(&m1.ID, at(8, 0), at(12, 0))
	require.NoError(t, err)
	pending, err := f.book(nil, at(10, 0), at(13, 0))
	require.NoError(t, err)

	_, err = f.svc.AssignMachine(ctx, pending.ID, m1.ID)
	assert.True(t, apperrors.IsConflict(err))

	m2 := f.machine(t, "M2")
	assigned, err := f.svc.AssignMachine(ctx, pending.ID, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, m2.ID, *assigned.MachineID)

	stored, err := f.svc.GetSession(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, m2.ID, *stored.MachineID)
}
