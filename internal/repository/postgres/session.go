package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/hospital-api/internal/model"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
)

var sessionColumns = []interface{}{
	"id", "machine_id", "patient_id", "scheduled_date", "start_time", "end_time",
	"actual_start_time", "actual_end_time", "status", "attendance",
	"pre_weight_kg", "pre_blood_pressure", "post_weight_kg", "post_blood_pressure",
	"post_heart_rate", "fluid_removed_liters", "notes", "cancel_reason",
	"version", "created_at", "updated_at",
}

func slotLockKey(machineID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("machine:%s:%s", machineID, model.DateOf(day).Format(model.DateLayout))
}

// overlapping selects blocking sessions on day that intersect slot.
func overlapping(day time.Time, slot model.TimeSlot) exp.ExpressionList {
	return goqu.And(
		goqu.C("scheduled_date").Eq(model.DateOf(day)),
		goqu.C("status").Neq(string(model.SessionStatusCancelled)),
		goqu.C("start_time").Lt(slot.End),
		goqu.C("end_time").Gt(slot.Start),
	)
}

func findConflicts(ctx context.Context, q sqlx.QueryerContext, machineID, exclude uuid.UUID, day time.Time, slot model.TimeSlot) ([]*model.Session, error) {
	query, args, err := toSQL(dialect.From("sessions").Prepared(true).
		Select(sessionColumns...).
		Where(
			goqu.C("machine_id").Eq(machineID),
			goqu.C("id").Neq(exclude),
			overlapping(day, slot),
		).
		Order(goqu.C("start_time").Asc(), goqu.C("id").Asc()))
	if err != nil {
		return nil, err
	}

	sessions := make([]*model.Session, 0)
	if err := sqlx.SelectContext(ctx, q, &sessions, query, args...); err != nil {
		return nil, translate(err, "session", "find conflicting sessions")
	}
	return sessions, nil
}

func conflictError(machineID uuid.UUID, conflicts []*model.Session) error {
	return apperrors.Conflict(
		fmt.Sprintf("machine %s is already booked from %s to %s",
			machineID,
			conflicts[0].StartTime.Format(model.ClockLayout),
			conflicts[0].EndTime.Format(model.ClockLayout)),
		nil)
}

// ensureFree takes the slot lock for the session's machine and date and rejects overlaps.
func ensureFree(ctx context.Context, tx *sqlx.Tx, session *model.Session) error {
	if session.MachineID == nil {
		return nil
	}
	if err := lockKeys(ctx, tx, slotLockKey(*session.MachineID, session.ScheduledDate)); err != nil {
		return err
	}
	conflicts, err := findConflicts(ctx, tx, *session.MachineID, session.ID, session.ScheduledDate, session.Slot())
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return conflictError(*session.MachineID, conflicts)
	}
	return nil
}

func (r *sessionRepository) CreateIfFree(ctx context.Context, session *model.Session) (err error) {
	defer func() { r.observe("session.create", err) }()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := ensureFree(ctx, tx, session); err != nil {
			return err
		}

		query := `
			INSERT INTO sessions (
				id, machine_id, patient_id, scheduled_date, start_time, end_time,
				status, attendance, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		_, err := tx.ExecContext(ctx, query,
			session.ID,
			session.MachineID,
			session.PatientID,
			model.DateOf(session.ScheduledDate),
			session.StartTime,
			session.EndTime,
			string(session.Status),
			string(session.Attendance),
			session.Version,
			session.CreatedAt,
			session.UpdatedAt,
		)
		return translate(err, "session", "create session")
	})
}

func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (_ *model.Session, err error) {
	defer func() { r.observe("session.get", err) }()

	query, args, err := toSQL(dialect.From("sessions").Prepared(true).
		Select(sessionColumns...).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, err
	}

	var session model.Session
	if err = r.db.GetContext(ctx, &session, query, args...); err != nil {
		return nil, translate(err, "session", "get session")
	}
	return &session, nil
}

// putSession writes the mutable session columns guarded by the version counter.
func putSession(ctx context.Context, tx *sqlx.Tx, session *model.Session) error {
	query := `
		UPDATE sessions
		SET machine_id = $1, actual_start_time = $2, actual_end_time = $3,
			status = $4, attendance = $5, pre_weight_kg = $6, pre_blood_pressure = $7,
			post_weight_kg = $8, post_blood_pressure = $9, post_heart_rate = $10,
			fluid_removed_liters = $11, notes = $12, cancel_reason = $13,
			updated_at = $14, version = version + 1
		WHERE id = $15 AND version = $16
		RETURNING version
	`
	err := tx.QueryRowxContext(ctx, query,
		session.MachineID,
		session.ActualStartTime,
		session.ActualEndTime,
		string(session.Status),
		string(session.Attendance),
		session.PreWeightKg,
		session.PreBloodPressure,
		session.PostWeightKg,
		session.PostBloodPressure,
		session.PostHeartRate,
		session.FluidRemovedLiters,
		session.Notes,
		session.CancelReason,
		session.UpdatedAt,
		session.ID,
		session.Version,
	).Scan(&session.Version)
	if !errors.Is(err, sql.ErrNoRows) {
		return translate(err, "session", "update session")
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, session.ID); err != nil {
		return translate(err, "session", "check session")
	}
	if !exists {
		return apperrors.NotFound("session", nil)
	}
	return apperrors.Conflict("session was modified concurrently", nil)
}

func (r *sessionRepository) Update(ctx context.Context, session *model.Session) (err error) {
	defer func() { r.observe("session.update", err) }()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return putSession(ctx, tx, session)
	})
}

func (r *sessionRepository) AssignMachine(ctx context.Context, session *model.Session) (err error) {
	defer func() { r.observe("session.assign_machine", err) }()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := ensureFree(ctx, tx, session); err != nil {
			return err
		}
		return putSession(ctx, tx, session)
	})
}

func (r *sessionRepository) Complete(ctx context.Context, session *model.Session, machineHours float64) (err error) {
	defer func() { r.observe("session.complete", err) }()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := putSession(ctx, tx, session); err != nil {
			return err
		}
		if session.MachineID == nil || machineHours <= 0 {
			return nil
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE machines
			SET total_hours_used = total_hours_used + $1, updated_at = $2
			WHERE id = $3
		`, machineHours, session.UpdatedAt, *session.MachineID)
		if err != nil {
			return translate(err, "machine", "add machine hours")
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return apperrors.NotFound("machine", nil)
		}
		return nil
	})
}

func (r *sessionRepository) DeleteScheduled(ctx context.Context, id uuid.UUID) (err error) {
	defer func() { r.observe("session.delete", err) }()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var status model.SessionStatus
		err := tx.GetContext(ctx, &status, `SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return translate(err, "session", "load session")
		}
		if status != model.SessionStatusScheduled {
			return apperrors.InvalidState(fmt.Sprintf("cannot delete a session in status %s", status), nil)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
			return translate(err, "session", "delete session")
		}
		return nil
	})
}

func (r *sessionRepository) List(ctx context.Context, filters *model.SessionFilters) (_ []*model.Session, err error) {
	defer func() { r.observe("session.list", err) }()

	ds := dialect.From("sessions").Prepared(true).
		Select(sessionColumns...).
		Order(goqu.C("start_time").Asc(), goqu.C("id").Asc())
	if filters != nil {
		if filters.MachineID != nil {
			ds = ds.Where(goqu.C("machine_id").Eq(*filters.MachineID))
		}
		if filters.PatientID != nil {
			ds = ds.Where(goqu.C("patient_id").Eq(*filters.PatientID))
		}
		if filters.Date != nil {
			ds = ds.Where(goqu.C("scheduled_date").Eq(model.DateOf(*filters.Date)))
		}
		if filters.Status != nil {
			ds = ds.Where(goqu.C("status").Eq(string(*filters.Status)))
		}
	}
	query, args, err := toSQL(ds)
	if err != nil {
		return nil, err
	}

	sessions := make([]*model.Session, 0)
	if err = r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, translate(err, "session", "list sessions")
	}
	return sessions, nil
}

func (r *sessionRepository) FindConflicts(ctx context.Context, machineID uuid.UUID, day time.Time, slot model.TimeSlot) (_ []*model.Session, err error) {
	defer func() { r.observe("session.find_conflicts", err) }()
	return findConflicts(ctx, r.db, machineID, uuid.Nil, day, slot)
}

func (r *sessionRepository) BusyMachineIDs(ctx context.Context, day time.Time, slot model.TimeSlot) (_ []uuid.UUID, err error) {
	defer func() { r.observe("session.busy_machines", err) }()

	query, args, err := toSQL(dialect.From("sessions").Prepared(true).
		Select(goqu.C("machine_id")).Distinct().
		Where(goqu.C("machine_id").IsNotNull(), overlapping(day, slot)))
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0)
	if err = r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, translate(err, "session", "list busy machines")
	}
	return ids, nil
}
