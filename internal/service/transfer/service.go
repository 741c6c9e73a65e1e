package transfer

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

// Service moves a patient from one bed to another as a single unit.
type Service struct {
	admissions repository.AdmissionRepository
	sink       event.Sink
	validator  validator.Validator
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(admissions repository.AdmissionRepository, sink event.Sink, log *logger.Logger, m *metrics.Metrics) *Service {
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
		admissions: admissions,
		sink:       sink,
		validator:  validator.New(),
		logger:     log,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) TransferPatient(ctx context.Context, admissionID uuid.UUID, req *model.TransferRequest) (_ *model.TransferResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "transfer.TransferPatient")
	defer telemetry.EndSpan(span, &err)

	current, err := s.admissions.Get(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	if current.Status != model.AdmissionStatusActive {
		return nil, apperrors.InvalidState(fmt.Sprintf("cannot transfer an admission that is %s", current.Status), nil)
	}

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	bed := model.NormalizeBed(req.BedNumber)
	if bed == "" {
		return nil, apperrors.Validation("bed_number is required", nil)
	}
	if req.WardID == current.WardID && bed == current.BedNumber {
		return nil, apperrors.Conflict(fmt.Sprintf("patient already occupies bed %s", bed), nil)
	}

	now := s.now()
	next := &model.Admission{
		Base:          model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		PatientID:     current.PatientID,
		WardID:        req.WardID,
		BedNumber:     bed,
		Status:        model.AdmissionStatusActive,
		AdmissionDate: now,
	}
	record := &model.Transfer{
		ID:              uuid.New(),
		PatientID:       current.PatientID,
		FromWardID:      current.WardID,
		FromBedNumber:   current.BedNumber,
		ToWardID:        req.WardID,
		ToBedNumber:     bed,
		Reason:          strings.TrimSpace(req.Reason),
		FromAdmissionID: current.ID,
		ToAdmissionID:   next.ID,
		TransferredAt:   now,
	}

	if err := s.admissions.Transfer(ctx, current, next, record); err != nil {
		if apperrors.IsConflict(err) {
			s.metrics.SchedulingConflicts.WithLabelValues("bed").Inc()
		}
		return nil, err
	}

	s.metrics.Transfers.Inc()
	s.metrics.StateTransitions.WithLabelValues("admission", string(model.AdmissionStatusTransferred)).Inc()
	s.logger.Info("Patient transferred",
		"patient_id", record.PatientID.String(),
		"from_bed", record.FromBedNumber,
		"to_ward_id", record.ToWardID.String(),
		"to_bed", record.ToBedNumber)

	result := &model.TransferResult{Transfer: record, Admission: next}
	s.sink.Publish(ctx, event.PatientTransferred, result)
	return result, nil
}

func (s *Service) ListTransfers(ctx context.Context, patientID uuid.UUID) ([]*model.Transfer, error) {
	return s.admissions.ListTransfers(ctx, patientID)
}
