package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
)

type machineRepository struct {
	s *Store
}

func (r *machineRepository) Create(ctx context.Context, machine *model.Machine) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.machines[machine.ID]; ok {
		return apperrors.Conflict(fmt.Sprintf("machine %s already exists", machine.ID), nil)
	}
	for _, m := range r.s.machines {
		if strings.EqualFold(m.Code, machine.Code) {
			return apperrors.Conflict(fmt.Sprintf("machine code %q already exists", machine.Code), nil)
		}
	}
	r.s.machines[machine.ID] = cloneMachine(machine)
	return nil
}

func (r *machineRepository) Get(ctx context.Context, id uuid.UUID) (*model.Machine, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.machines[id]
	if !ok {
		return nil, apperrors.NotFound("machine", nil)
	}
	return cloneMachine(m), nil
}

func (r *machineRepository) Update(ctx context.Context, machine *model.Machine) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.machines[machine.ID]
	if !ok {
		return apperrors.NotFound("machine", nil)
	}
	if current.Version != machine.Version {
		return apperrors.Conflict("machine was modified concurrently", nil)
	}

	next := cloneMachine(machine)
	// usage hours are only ever added by session completion
	next.TotalHoursUsed = current.TotalHoursUsed
	next.Version++
	r.s.machines[machine.ID] = next

	machine.Version = next.Version
	machine.TotalHoursUsed = next.TotalHoursUsed
	return nil
}

func (r *machineRepository) List(ctx context.Context, filters *model.MachineFilters) ([]*model.Machine, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*model.Machine, 0, len(r.s.machines))
	for _, m := range r.s.machines {
		if filters != nil && filters.Status != nil && m.Status != *filters.Status {
			continue
		}
		out = append(out, cloneMachine(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *machineRepository) ListDueForMaintenance(ctx context.Context, day time.Time) ([]*model.Machine, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*model.Machine
	for _, m := range r.s.machines {
		if m.DueForMaintenance(day) {
			out = append(out, cloneMachine(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextMaintenance.Equal(*out[j].NextMaintenance) {
			return out[i].NextMaintenance.Before(*out[j].NextMaintenance)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}
