package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
)

type machineRepository struct {
	BaseRepository
}

type sessionRepository struct {
	BaseRepository
}

type wardRepository struct {
	BaseRepository
}

type admissionRepository struct {
	BaseRepository
}

type outboxRepository struct {
	BaseRepository
}

func NewMachineRepository(base BaseRepository) repository.MachineRepository {
	return &machineRepository{base}
}

func NewSessionRepository(base BaseRepository) repository.SessionRepository {
	return &sessionRepository{base}
}

func NewWardRepository(base BaseRepository) repository.WardRepository {
	return &wardRepository{base}
}

func NewAdmissionRepository(base BaseRepository) repository.AdmissionRepository {
	return &admissionRepository{base}
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

// Repositories bundles every postgres repository over one connection pool.
type Repositories struct {
	Machines   repository.MachineRepository
	Sessions   repository.SessionRepository
	Wards      repository.WardRepository
	Admissions repository.AdmissionRepository
	Outbox     repository.OutboxRepository
}

func NewRepositories(db *sqlx.DB, m *metrics.Metrics) *Repositories {
	base := NewBaseRepository(db, m)
	return &Repositories{
		Machines:   NewMachineRepository(base),
		Sessions:   NewSessionRepository(base),
		Wards:      NewWardRepository(base),
		Admissions: NewAdmissionRepository(base),
		Outbox:     NewOutboxRepository(base),
	}
}
