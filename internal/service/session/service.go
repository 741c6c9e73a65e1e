package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/event"
	"github.com/jwalitptl/hospital-api/pkg/logger"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
	"github.com/jwalitptl/hospital-api/pkg/telemetry"
	"github.com/jwalitptl/hospital-api/pkg/validator"
)

// MachineDirectory is the read side of the machine registry the scheduler depends on.
type MachineDirectory interface {
	GetMachine(ctx context.Context, id uuid.UUID) (*model.Machine, error)
	ListMachines(ctx context.Context, filters *model.MachineFilters) ([]*model.Machine, error)
}

// Deleted is the payload of session.deleted.
type Deleted struct {
	ID        uuid.UUID  `json:"id"`
	MachineID *uuid.UUID `json:"machine_id,omitempty"`
	PatientID uuid.UUID  `json:"patient_id"`
}

type Service struct {
	repo      repository.SessionRepository
	machines  MachineDirectory
	sink      event.Sink
	validator validator.Validator
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(repo repository.SessionRepository, machines MachineDirectory, sink event.Sink, log *logger.Logger, m *metrics.Metrics) *Service {
	if sink == nil {
		sink = event.NopSink{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		repo:      repo,
		machines:  machines,
		sink:      sink,
		validator: validator.New(),
		logger:    log,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// checkWindow requires start < end with the whole window on day.
func checkWindow(day, start, end time.Time) error {
	if !start.Before(end) {
		return apperrors.Validation("start time must be before end time", nil)
	}
	d := model.DateOf(day)
	if start.Before(d) || end.After(d.AddDate(0, 0, 1)) {
		return apperrors.Validation(fmt.Sprintf("session window must fall on %s", d.Format(model.DateLayout)), nil)
	}
	return nil
}

// schedulableMachine loads a machine that may still take bookings.
func (s *Service) schedulableMachine(ctx context.Context, id uuid.UUID) (*model.Machine, error) {
	m, err := s.machines.GetMachine(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.Status.Schedulable() {
		return nil, apperrors.InvalidState(fmt.Sprintf("machine %s is %s and cannot take sessions", m.Code, m.Status), nil)
	}
	return m, nil
}

func (s *Service) CreateSession(ctx context.Context, req *model.CreateSessionRequest) (_ *model.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.CreateSession")
	defer telemetry.EndSpan(span, &err)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	if err := checkWindow(req.Date, req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if req.MachineID != nil {
		if _, err := s.schedulableMachine(ctx, *req.MachineID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	session := &model.Session{
		Base:          model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		MachineID:     req.MachineID,
		PatientID:     req.PatientID,
		ScheduledDate: model.DateOf(req.Date),
		StartTime:     req.StartTime.UTC(),
		EndTime:       req.EndTime.UTC(),
		Status:        model.SessionStatusScheduled,
		Attendance:    model.AttendancePending,
	}

	if err := s.repo.CreateIfFree(ctx, session); err != nil {
		if apperrors.IsConflict(err) {
			s.metrics.SchedulingConflicts.WithLabelValues("machine").Inc()
		}
		return nil, err
	}

	s.metrics.SessionsCreated.Inc()
	s.logger.Debug("Session scheduled",
		"session_id", session.ID.String(),
		"patient_id", session.PatientID.String(),
		"start", session.StartTime.Format(time.RFC3339))
	s.sink.Publish(ctx, event.SessionCreated, session)
	return session, nil
}

func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListSessions(ctx context.Context, filters *model.SessionFilters) ([]*model.Session, error) {
	return s.repo.List(ctx, filters)
}

// FindAvailableMachines lists ACTIVE machines with no blocking session in the window.
func (s *Service) FindAvailableMachines(ctx context.Context, q *model.AvailabilityQuery) (_ []*model.Machine, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.FindAvailableMachines")
	defer telemetry.EndSpan(span, &err)

	if q.DurationMinutes < 0 {
		return nil, apperrors.Validation("duration_minutes cannot be negative", nil)
	}
	duration := time.Duration(q.DurationMinutes) * time.Minute

	var end time.Time
	switch {
	case q.EndTime != nil:
		end = *q.EndTime
		if duration > 0 && end.Sub(q.StartTime) < duration {
			return nil, apperrors.Validation(fmt.Sprintf("window is shorter than %d minutes", q.DurationMinutes), nil)
		}
	case duration > 0:
		end = q.StartTime.Add(duration)
	default:
		return nil, apperrors.Validation("either end_time or a positive duration_minutes is required", nil)
	}
	if err := checkWindow(q.Date, q.StartTime, end); err != nil {
		return nil, err
	}

	active := model.MachineStatusActive
	candidates, err := s.machines.ListMachines(ctx, &model.MachineFilters{Status: &active})
	if err != nil {
		return nil, err
	}
	busy, err := s.repo.BusyMachineIDs(ctx, q.Date, model.TimeSlot{Start: q.StartTime, End: end})
	if err != nil {
		return nil, err
	}

	taken := make(map[uuid.UUID]struct{}, len(busy))
	for _, id := range busy {
		taken[id] = struct{}{}
	}
	out := make([]*model.Machine, 0, len(candidates))
	for _, m := range candidates {
		if _, ok := taken[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Service) RecordAttendance(ctx context.Context, id uuid.UUID, attendance model.Attendance) (_ *model.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.RecordAttendance")
	defer telemetry.EndSpan(span, &err)

	if attendance != model.AttendancePresent && attendance != model.AttendanceAbsent {
		return nil, apperrors.Validation(fmt.Sprintf("attendance must be %s or %s", model.AttendancePresent, model.AttendanceAbsent), nil)
	}

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := session.Status
	now := s.now()

	switch attendance {
	case model.AttendancePresent:
		if from.IsTerminal() {
			return session, nil
		}
		if from == model.SessionStatusScheduled {
			session.Status = model.SessionStatusInProgress
		}
		if session.ActualStartTime == nil {
			session.ActualStartTime = &now
		}
	case model.AttendanceAbsent:
		if from != model.SessionStatusNoShow {
			if !from.CanTransitionTo(model.SessionStatusNoShow) {
				return nil, apperrors.InvalidState(fmt.Sprintf("cannot mark a %s session absent", from), nil)
			}
			session.Status = model.SessionStatusNoShow
		}
	}
	session.Attendance = attendance
	session.UpdatedAt = now

	if err := s.repo.Update(ctx, session); err != nil {
		return nil, err
	}
	s.transitioned(ctx, session, from)
	return session, nil
}

func (s *Service) RecordSessionDetails(ctx context.Context, id uuid.UUID, details *model.SessionDetails) (_ *model.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.RecordSessionDetails")
	defer telemetry.EndSpan(span, &err)

	if err := s.validator.Validate(details); err != nil {
		return nil, err
	}

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := session.Status

	if from.IsTerminal() {
		if details.HasTiming() {
			return nil, apperrors.InvalidState(fmt.Sprintf("timing of a %s session cannot change", from), nil)
		}
		if from != model.SessionStatusCompleted {
			return nil, apperrors.InvalidState(fmt.Sprintf("cannot record details on a %s session", from), nil)
		}
	}

	completing := details.ActualEndTime != nil
	if details.HasPostTreatment() && !completing && from != model.SessionStatusCompleted {
		return nil, apperrors.InvalidState("post-treatment fields require the session to be completed", nil)
	}

	if completing {
		start := session.ActualStartTime
		if details.ActualStartTime != nil {
			start = details.ActualStartTime
		}
		if start == nil {
			return nil, apperrors.Validation("actual_end_time requires an actual start time", nil)
		}
		if !details.ActualEndTime.After(*start) {
			return nil, apperrors.Validation("actual_end_time must be after the actual start time", nil)
		}
	}

	details.Apply(session)
	session.UpdatedAt = s.now()

	if completing {
		session.Status = model.SessionStatusCompleted
		if session.Attendance == model.AttendancePending {
			session.Attendance = model.AttendancePresent
		}
		err = s.repo.Complete(ctx, session, session.TreatedHours())
	} else {
		err = s.repo.Update(ctx, session)
	}
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, session, from)
	return session, nil
}

func (s *Service) CancelSession(ctx context.Context, id uuid.UUID, reason string) (_ *model.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.CancelSession")
	defer telemetry.EndSpan(span, &err)

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := session.Status
	if from != model.SessionStatusScheduled {
		return nil, apperrors.InvalidState(fmt.Sprintf("only scheduled sessions can be cancelled, session is %s", from), nil)
	}

	session.Status = model.SessionStatusCancelled
	if reason != "" {
		session.CancelReason = &reason
	}
	session.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, err
	}

	s.transitioned(ctx, session, from)
	return session, nil
}

func (s *Service) DeleteSession(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.DeleteSession")
	defer telemetry.EndSpan(span, &err)

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteScheduled(ctx, id); err != nil {
		return err
	}

	s.sink.Publish(ctx, event.SessionDeleted, &Deleted{ID: session.ID, MachineID: session.MachineID, PatientID: session.PatientID})
	return nil
}

// AssignMachine books a machine for a scheduled session that has none, or moves it to another.
func (s *Service) AssignMachine(ctx context.Context, id, machineID uuid.UUID) (_ *model.Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.AssignMachine")
	defer telemetry.EndSpan(span, &err)

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionStatusScheduled {
		return nil, apperrors.InvalidState(fmt.Sprintf("cannot assign a machine to a %s session", session.Status), nil)
	}
	if _, err := s.schedulableMachine(ctx, machineID); err != nil {
		return nil, err
	}

	session.MachineID = &machineID
	session.UpdatedAt = s.now()
	if err := s.repo.AssignMachine(ctx, session); err != nil {
		if apperrors.IsConflict(err) {
			s.metrics.SchedulingConflicts.WithLabelValues("machine").Inc()
		}
		return nil, err
	}

	s.sink.Publish(ctx, event.SessionUpdated, session)
	return session, nil
}

func (s *Service) transitioned(ctx context.Context, session *model.Session, from model.SessionStatus) {
	if session.Status != from {
		s.metrics.StateTransitions.WithLabelValues("session", string(session.Status)).Inc()
		s.logger.Debug("Session status changed",
			"session_id", session.ID.String(),
			"from", string(from),
			"to", string(session.Status))
	}
	s.sink.Publish(ctx, event.SessionUpdated, session)
}
