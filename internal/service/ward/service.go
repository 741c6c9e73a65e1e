package ward

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/pkg/logger"
	"github.com/jwalitptl/hospital-api/pkg/validator"
)

type Service struct {
	repo      repository.WardRepository
	validator validator.Validator
	logger    *logger.Logger
	now       func() time.Time
}

func NewService(repo repository.WardRepository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:      repo,
		validator: validator.New(),
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) CreateWard(ctx context.Context, req *model.CreateWardRequest) (*model.Ward, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	now := s.now()
	ward := &model.Ward{
		Base:       model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Name:       req.Name,
		Department: strings.TrimSpace(req.Department),
		BedCount:   req.BedCount,
	}
	if err := s.repo.Create(ctx, ward); err != nil {
		return nil, err
	}

	s.logger.Info("Ward created", "ward_id", ward.ID.String(), "name", ward.Name)
	return ward, nil
}

func (s *Service) GetWard(ctx context.Context, id uuid.UUID) (*model.Ward, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListWards(ctx context.Context) ([]*model.Ward, error) {
	return s.repo.List(ctx)
}
