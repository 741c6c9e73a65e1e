package machine

import (
	"context"
	"fmt"
	"strings"
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

// StatusChange is the payload of machine.status_changed.
type StatusChange struct {
	Machine *model.Machine      `json:"machine"`
	From    model.MachineStatus `json:"from"`
	To      model.MachineStatus `json:"to"`
}

type Service struct {
	repo      repository.MachineRepository
	sink      event.Sink
	validator validator.Validator
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(repo repository.MachineRepository, sink event.Sink, log *logger.Logger, m *metrics.Metrics) *Service {
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

func (s *Service) CreateMachine(ctx context.Context, req *model.CreateMachineRequest) (_ *model.Machine, err error) {
	ctx, span := telemetry.StartSpan(ctx, "machine.CreateMachine")
	defer telemetry.EndSpan(span, &err)

	req.Code = strings.TrimSpace(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	interval := model.DefaultMaintenanceIntervalDays
	if req.MaintenanceIntervalDays != nil {
		if *req.MaintenanceIntervalDays <= 0 {
			return nil, apperrors.Validation("maintenance_interval_days must be positive", nil)
		}
		interval = *req.MaintenanceIntervalDays
	}

	now := s.now()
	m := &model.Machine{
		Base:                    model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Code:                    req.Code,
		Name:                    req.Name,
		Model:                   req.Model,
		Manufacturer:            req.Manufacturer,
		Location:                req.Location,
		Status:                  model.MachineStatusActive,
		MaintenanceIntervalDays: interval,
	}
	if req.ID != nil && *req.ID != uuid.Nil {
		m.ID = *req.ID
	}
	if req.LastMaintenance != nil {
		last := model.DateOf(*req.LastMaintenance)
		m.LastMaintenance = &last
		m.RecomputeNextMaintenance()
		if req.NextMaintenance != nil && !model.DateOf(*req.NextMaintenance).Equal(*m.NextMaintenance) {
			return nil, apperrors.Validation(fmt.Sprintf(
				"next_maintenance must equal last_maintenance plus %d days (%s)",
				interval, m.NextMaintenance.Format(model.DateLayout)), nil)
		}
	} else if req.NextMaintenance != nil {
		next := model.DateOf(*req.NextMaintenance)
		m.NextMaintenance = &next
	}

	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info("Machine registered", "machine_id", m.ID.String(), "code", m.Code)
	s.sink.Publish(ctx, event.MachineCreated, m)
	return m, nil
}

func (s *Service) GetMachine(ctx context.Context, id uuid.UUID) (*model.Machine, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListMachines(ctx context.Context, filters *model.MachineFilters) ([]*model.Machine, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) UpdateMachine(ctx context.Context, id uuid.UUID, req *model.UpdateMachineRequest) (_ *model.Machine, err error) {
	ctx, span := telemetry.StartSpan(ctx, "machine.UpdateMachine")
	defer telemetry.EndSpan(span, &err)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == model.MachineStatusRetired {
		return nil, apperrors.InvalidState("retired machines cannot be modified", nil)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperrors.Validation("name cannot be blank", nil)
		}
		m.Name = name
	}
	if req.Model != nil {
		m.Model = *req.Model
	}
	if req.Manufacturer != nil {
		m.Manufacturer = *req.Manufacturer
	}
	if req.Location != nil {
		m.Location = *req.Location
	}
	if req.MaintenanceIntervalDays != nil {
		if *req.MaintenanceIntervalDays <= 0 {
			return nil, apperrors.Validation("maintenance_interval_days must be positive", nil)
		}
		m.MaintenanceIntervalDays = *req.MaintenanceIntervalDays
		m.RecomputeNextMaintenance()
	}

	from := m.Status
	if req.Status != nil && *req.Status != from {
		switch *req.Status {
		case model.MachineStatusOutOfOrder, model.MachineStatusRetired:
		default:
			return nil, apperrors.Validation(fmt.Sprintf(
				"status can only be set to %s or %s directly; use the maintenance operations for %s",
				model.MachineStatusOutOfOrder, model.MachineStatusRetired, *req.Status), nil)
		}
		if !from.CanTransitionTo(*req.Status) {
			return nil, apperrors.InvalidState(fmt.Sprintf("machine cannot move from %s to %s", from, *req.Status), nil)
		}
		m.Status = *req.Status
	}

	m.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}

	s.sink.Publish(ctx, event.MachineUpdated, m)
	if m.Status != from {
		s.statusChanged(ctx, m, from)
	}
	return m, nil
}

// RetireMachine takes a machine out of service for good. Machines are never deleted.
func (s *Service) RetireMachine(ctx context.Context, id uuid.UUID) (_ *model.Machine, err error) {
	ctx, span := telemetry.StartSpan(ctx, "machine.RetireMachine")
	defer telemetry.EndSpan(span, &err)

	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := m.Status
	if !from.CanTransitionTo(model.MachineStatusRetired) {
		return nil, apperrors.InvalidState(fmt.Sprintf("machine is already %s", from), nil)
	}

	now := s.now()
	m.Status = model.MachineStatusRetired
	m.UpdatedAt = now
	m.AppendLog(now, "retired", "")
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}

	s.statusChanged(ctx, m, from)
	return m, nil
}

func (s *Service) ScheduleMaintenance(ctx context.Context, id uuid.UUID, date time.Time, notes string) (_ *model.Machine, err error) {
	ctx, span := telemetry.StartSpan(ctx, "machine.ScheduleMaintenance")
	defer telemetry.EndSpan(span, &err)

	if date.IsZero() {
		return nil, apperrors.Validation("maintenance date is required", nil)
	}

	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := m.Status
	if !from.CanTransitionTo(model.MachineStatusMaintenance) {
		return nil, apperrors.InvalidState(fmt.Sprintf("cannot schedule maintenance for a machine that is %s", from), nil)
	}

	now := s.now()
	day := model.DateOf(date)
	m.Status = model.MachineStatusMaintenance
	m.LastMaintenance = &day
	m.RecomputeNextMaintenance()
	m.AppendLog(now, "scheduled", notes)
	m.UpdatedAt = now
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}

	s.sink.Publish(ctx, event.MachineMaintenanceScheduled, m)
	if from != m.Status {
		s.statusChanged(ctx, m, from)
	}
	return m, nil
}

func (s *Service) CompleteMaintenance(ctx context.Context, id uuid.UUID, notes string) (_ *model.Machine, err error) {
	ctx, span := telemetry.StartSpan(ctx, "machine.CompleteMaintenance")
	defer telemetry.EndSpan(span, &err)

	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status != model.MachineStatusMaintenance {
		return nil, apperrors.InvalidState(fmt.Sprintf("machine is %s, not under maintenance", m.Status), nil)
	}

	now := s.now()
	today := model.DateOf(now)
	m.Status = model.MachineStatusActive
	m.LastMaintenance = &today
	m.RecomputeNextMaintenance()
	m.AppendLog(now, "completed", notes)
	m.UpdatedAt = now
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}

	s.sink.Publish(ctx, event.MachineMaintenanceCompleted, m)
	s.statusChanged(ctx, m, model.MachineStatusMaintenance)
	return m, nil
}

func (s *Service) ListNeedingMaintenance(ctx context.Context, day time.Time) ([]*model.Machine, error) {
	if day.IsZero() {
		day = s.now()
	}
	return s.repo.ListDueForMaintenance(ctx, day)
}

func (s *Service) statusChanged(ctx context.Context, m *model.Machine, from model.MachineStatus) {
	s.metrics.StateTransitions.WithLabelValues("machine", string(m.Status)).Inc()
	s.logger.Debug("Machine status changed",
		"machine_id", m.ID.String(),
		"from", string(from),
		"to", string(m.Status))
	s.sink.Publish(ctx, event.MachineStatusChanged, &StatusChange{Machine: m, From: from, To: m.Status})
}
