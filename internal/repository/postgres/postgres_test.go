package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hospital-api/internal/model"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
)

var testDay = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func setupMockDB(t *testing.T) (*Repositories, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	return NewRepositories(db, metrics.NewNop()), mock
}

func testSession(machineID uuid.UUID) *model.Session {
	return &model.Session{
		Base:          model.Base{ID: uuid.New(), CreatedAt: testDay, UpdatedAt: testDay},
		MachineID:     &machineID,
		PatientID:     uuid.New(),
		ScheduledDate: testDay,
		StartTime:     testDay.Add(8 * time.Hour),
		EndTime:       testDay.Add(12 * time.Hour),
		Status:        model.SessionStatusScheduled,
		Attendance:    model.AttendancePending,
	}
}

func TestTranslate(t *testing.T) {
	assert.Nil(t, translate(nil, "machine", "get machine"))
	assert.True(t, apperrors.IsNotFound(translate(sql.ErrNoRows, "machine", "get machine")))
	assert.True(t, apperrors.IsConflict(translate(&pq.Error{Code: pqUniqueViolation}, "machine", "create machine")))
	assert.True(t, apperrors.IsConflict(translate(&pq.Error{Code: pqExclusionViolation}, "session", "create session")))

	wrapped := translate(errors.New("connection reset"), "machine", "get machine")
	assert.EqualError(t, wrapped, "failed to get machine: connection reset")

	inner := apperrors.InvalidState("nope", nil)
	assert.Same(t, inner, translate(inner, "session", "update session"))
}

func TestCreateIfFreeInsertsWhenSlotIsFree(t *testing.T) {
	repos, mock := setupMockDB(t)
	s := testSession(uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(slotLockKey(*s.MachineID, testDay)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM "sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO sessions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repos.Sessions.CreateIfFree(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIfFreeRejectsOverlap(t *testing.T) {
	repos, mock := setupMockDB(t)
	s := testSession(uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM "sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "machine_id", "start_time", "end_time", "status"}).
			AddRow(uuid.New().String(), s.MachineID.String(), testDay.Add(10*time.Hour), testDay.Add(14*time.Hour), "SCHEDULED"))
	mock.ExpectRollback()

	err := repos.Sessions.CreateIfFree(context.Background(), s)
	assert.True(t, apperrors.IsConflict(err))
	assert.Contains(t, err.Error(), "10:00")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIfFreeMapsExclusionViolation(t *testing.T) {
	repos, mock := setupMockDB(t)
	s := testSession(uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM "sessions"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO sessions`).WillReturnError(&pq.Error{Code: pqExclusionViolation})
	mock.ExpectRollback()

	assert.True(t, apperrors.IsConflict(repos.Sessions.CreateIfFree(context.Background(), s)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMachineUpdateStaleVersion(t *testing.T) {
	repos, mock := setupMockDB(t)
	m := &model.Machine{Base: model.Base{ID: uuid.New()}, Name: "HD", Status: model.MachineStatusActive, Version: 3}

	mock.ExpectQuery(`UPDATE machines`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(m.ID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	assert.True(t, apperrors.IsConflict(repos.Machines.Update(context.Background(), m)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMachineUpdateBumpsVersion(t *testing.T) {
	repos, mock := setupMockDB(t)
	m := &model.Machine{Base: model.Base{ID: uuid.New()}, Name: "HD", Status: model.MachineStatusActive, Version: 3}

	mock.ExpectQuery(`UPDATE machines`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "total_hours_used"}).AddRow(4, 12.5))

	require.NoError(t, repos.Machines.Update(context.Background(), m))
	assert.Equal(t, 4, m.Version)
	assert.Equal(t, 12.5, m.TotalHoursUsed)
}

func TestMachineGetNotFound(t *testing.T) {
	repos, mock := setupMockDB(t)

	mock.ExpectQuery(`SELECT .* FROM "machines"`).WillReturnError(sql.ErrNoRows)

	_, err := repos.Machines.Get(context.Background(), uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeleteScheduledRejectsStartedSession(t *testing.T) {
	repos, mock := setupMockDB(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM sessions`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("IN_PROGRESS"))
	mock.ExpectRollback()

	assert.True(t, apperrors.IsInvalidState(repos.Sessions.DeleteScheduled(context.Background(), id)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteAddsHoursInSameTransaction(t *testing.T) {
	repos, mock := setupMockDB(t)
	s := testSession(uuid.New())
	s.Status = model.SessionStatusCompleted

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE sessions`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
	mock.ExpectExec(`UPDATE machines`).
		WithArgs(3.5, sqlmock.AnyArg(), *s.MachineID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repos.Sessions.Complete(context.Background(), s, 3.5))
	assert.Equal(t, 1, s.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitRejectsOccupiedBed(t *testing.T) {
	repos, mock := setupMockDB(t)
	a := &model.Admission{
		Base:      model.Base{ID: uuid.New()},
		PatientID: uuid.New(),
		WardID:    uuid.New(),
		BedNumber: "B1",
		Status:    model.AdmissionStatusActive,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM wards`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "admissions"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "admissions"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repos.Admissions.Admit(context.Background(), a)
	assert.True(t, apperrors.IsConflict(err))
	assert.Contains(t, err.Error(), "occupied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferRejectsInactiveSource(t *testing.T) {
	repos, mock := setupMockDB(t)
	from := &model.Admission{Base: model.Base{ID: uuid.New()}, PatientID: uuid.New()}
	to := &model.Admission{Base: model.Base{ID: uuid.New()}, PatientID: from.PatientID, WardID: uuid.New(), BedNumber: "B2"}

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM "admissions" .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(from.ID.String(), "DISCHARGED"))
	mock.ExpectRollback()

	err := repos.Admissions.Transfer(context.Background(), from, to, &model.Transfer{ID: uuid.New(), TransferredAt: testDay})
	assert.True(t, apperrors.IsInvalidState(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxProcessPending(t *testing.T) {
	repos, mock := setupMockDB(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "outbox_events" .* FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "payload", "status", "retry_count"}).
			AddRow(id.String(), "session.created", []byte(`{"id":"x"}`), "PENDING", 0))
	mock.ExpectExec(`UPDATE outbox_events`).
		WithArgs("PROCESSED", nil, 0, nil, sqlmock.AnyArg(), sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repos.Outbox.ProcessPending(context.Background(), 10, func(ctx context.Context, evt *model.OutboxEvent) {
		assert.JSONEq(t, `{"id":"x"}`, string(evt.Payload))
		now := time.Now()
		evt.Status = model.OutboxStatusProcessed
		evt.ProcessedAt = &now
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockKeysAreSorted(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("b").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	base := NewBaseRepository(sqlx.NewDb(mockDB, "postgres"), nil)
	err = base.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return lockKeys(context.Background(), tx, "b", "a")
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
