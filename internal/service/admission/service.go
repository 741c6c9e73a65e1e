package admission

import (
	"context"
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

// Service is the occupancy ledger: who is in which bed.
type Service struct {
	repo      repository.AdmissionRepository
	sink      event.Sink
	validator validator.Validator
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(repo repository.AdmissionRepository, sink event.Sink, log *logger.Logger, m *metrics.Metrics) *Service {
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

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Admit(ctx context.Context, req *model.AdmitRequest) (_ *model.Admission, err error) {
	ctx, span := telemetry.StartSpan(ctx, "admission.Admit")
	defer telemetry.EndSpan(span, &err)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	bed := model.NormalizeBed(req.BedNumber)
	if bed == "" {
		return nil, apperrors.Validation("bed_number is required", nil)
	}

	now := s.now()
	admittedAt := now
	if req.AdmittedAt != nil {
		admittedAt = req.AdmittedAt.UTC()
	}
	admission := &model.Admission{
		Base:          model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		PatientID:     req.PatientID,
		WardID:        req.WardID,
		BedNumber:     bed,
		Status:        model.AdmissionStatusActive,
		AdmissionDate: admittedAt,
	}
	if err := s.repo.Admit(ctx, admission); err != nil {
		if apperrors.IsConflict(err) {
			s.metrics.SchedulingConflicts.WithLabelValues("bed").Inc()
		}
		return nil, err
	}

	s.metrics.StateTransitions.WithLabelValues("admission", string(model.AdmissionStatusActive)).Inc()
	s.logger.Info("Patient admitted",
		"admission_id", admission.ID.String(),
		"patient_id", admission.PatientID.String(),
		"ward_id", admission.WardID.String(),
		"bed", bed)
	s.sink.Publish(ctx, event.AdmissionCreated, admission)
	return admission, nil
}

func (s *Service) Discharge(ctx context.Context, id uuid.UUID) (_ *model.Admission, err error) {
	ctx, span := telemetry.StartSpan(ctx, "admission.Discharge")
	defer telemetry.EndSpan(span, &err)

	admission, err := s.repo.Discharge(ctx, id, s.now())
	if err != nil {
		return nil, err
	}

	s.metrics.StateTransitions.WithLabelValues("admission", string(model.AdmissionStatusDischarged)).Inc()
	s.logger.Info("Patient discharged", "admission_id", id.String(), "patient_id", admission.PatientID.String())
	s.sink.Publish(ctx, event.AdmissionDischarged, admission)
	return admission, nil
}

func (s *Service) GetAdmission(ctx context.Context, id uuid.UUID) (*model.Admission, error) {
	return s.repo.Get(ctx, id)
}

// ActiveAtBed returns the admission currently holding the bed, NotFound when it is free.
func (s *Service) ActiveAtBed(ctx context.Context, wardID uuid.UUID, bedNumber string) (*model.Admission, error) {
	return s.repo.FindActiveByBed(ctx, wardID, model.NormalizeBed(bedNumber))
}

func (s *Service) ListByWard(ctx context.Context, wardID uuid.UUID, status *model.AdmissionStatus) ([]*model.Admission, error) {
	return s.repo.List(ctx, &model.AdmissionFilters{WardID: &wardID, Status: status})
}

// PatientHistory returns every admission and transfer of the patient, oldest first.
func (s *Service) PatientHistory(ctx context.Context, patientID uuid.UUID) (*model.PatientHistory, error) {
	admissions, err := s.repo.List(ctx, &model.AdmissionFilters{PatientID: &patientID})
	if err != nil {
		return nil, err
	}
	transfers, err := s.repo.ListTransfers(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return &model.PatientHistory{PatientID: patientID, Admissions: admissions, Transfers: transfers}, nil
}
