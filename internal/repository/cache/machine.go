// Package cache puts a short-lived read cache in front of the machine repository.
// Machines are read on every booking and change rarely.
package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
)

const machineCache = "machine"

type MachineRepository struct {
	repository.MachineRepository
	cache   *gocache.Cache
	metrics *metrics.Metrics
}

func NewMachineRepository(repo repository.MachineRepository, ttl time.Duration, m *metrics.Metrics) *MachineRepository {
	if m == nil {
		m = metrics.NewNop()
	}
	return &MachineRepository{
		MachineRepository: repo,
		cache:             gocache.New(ttl, 2*ttl),
		metrics:           m,
	}
}

func (r *MachineRepository) Get(ctx context.Context, id uuid.UUID) (*model.Machine, error) {
	if v, found := r.cache.Get(id.String()); found {
		r.metrics.CacheLookups.WithLabelValues(machineCache, "hit").Inc()
		c := *v.(*model.Machine)
		return &c, nil
	}
	r.metrics.CacheLookups.WithLabelValues(machineCache, "miss").Inc()

	m, err := r.MachineRepository.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.remember(m)
	return m, nil
}

func (r *MachineRepository) Create(ctx context.Context, machine *model.Machine) error {
	if err := r.MachineRepository.Create(ctx, machine); err != nil {
		return err
	}
	r.remember(machine)
	return nil
}

func (r *MachineRepository) Update(ctx context.Context, machine *model.Machine) error {
	if err := r.MachineRepository.Update(ctx, machine); err != nil {
		// a stale version means our copy may be stale too
		r.Forget(machine.ID)
		return err
	}
	r.remember(machine)
	return nil
}

// Forget drops the cached copy of a machine changed outside this repository.
func (r *MachineRepository) Forget(id uuid.UUID) {
	r.cache.Delete(id.String())
}

func (r *MachineRepository) remember(m *model.Machine) {
	c := *m
	r.cache.Set(m.ID.String(), &c, gocache.DefaultExpiration)
}

// SessionRepository evicts a machine from the cache when session completion adds to its hours.
type SessionRepository struct {
	repository.SessionRepository
	machines *MachineRepository
}

func NewSessionRepository(repo repository.SessionRepository, machines *MachineRepository) *SessionRepository {
	return &SessionRepository{SessionRepository: repo, machines: machines}
}

func (r *SessionRepository) Complete(ctx context.Context, session *model.Session, machineHours float64) error {
	err := r.SessionRepository.Complete(ctx, session, machineHours)
	if session.MachineID != nil {
		r.machines.Forget(*session.MachineID)
	}
	return err
}
