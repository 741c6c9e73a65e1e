package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
)

type sessionRepository struct {
	s *Store
}

// conflicts must be called with the store lock held.
func (r *sessionRepository) conflicts(machineID uuid.UUID, day time.Time, slot model.TimeSlot, exclude uuid.UUID) []*model.Session {
	var out []*model.Session
	for _, existing := range r.s.sessions {
		if existing.ID == exclude {
			continue
		}
		if existing.ConflictsWith(machineID, day, slot) {
			out = append(out, cloneSession(existing))
		}
	}
	sortSessions(out)
	return out
}

func conflictError(machineID uuid.UUID, conflicts []*model.Session) error {
	return apperrors.Conflict(
		fmt.Sprintf("machine %s is already booked from %s to %s",
			machineID,
			conflicts[0].StartTime.Format(model.ClockLayout),
			conflicts[0].EndTime.Format(model.ClockLayout)),
		nil)
}

func (r *sessionRepository) CreateIfFree(ctx context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.sessions[session.ID]; ok {
		return apperrors.Conflict(fmt.Sprintf("session %s already exists", session.ID), nil)
	}
	if session.MachineID != nil {
		if c := r.conflicts(*session.MachineID, session.ScheduledDate, session.Slot(), session.ID); len(c) > 0 {
			return conflictError(*session.MachineID, c)
		}
	}
	r.s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	s, ok := r.s.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session", nil)
	}
	return cloneSession(s), nil
}

// put must be called with the store lock held.
func (r *sessionRepository) put(session *model.Session) error {
	current, ok := r.s.sessions[session.ID]
	if !ok {
		return apperrors.NotFound("session", nil)
	}
	if current.Version != session.Version {
		return apperrors.Conflict("session was modified concurrently", nil)
	}
	session.Version++
	r.s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *sessionRepository) Update(ctx context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.put(session)
}

func (r *sessionRepository) AssignMachine(ctx context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if session.MachineID != nil {
		if c := r.conflicts(*session.MachineID, session.ScheduledDate, session.Slot(), session.ID); len(c) > 0 {
			return conflictError(*session.MachineID, c)
		}
	}
	return r.put(session)
}

func (r *sessionRepository) Complete(ctx context.Context, session *model.Session, machineHours float64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var machine *model.Machine
	if session.MachineID != nil && machineHours > 0 {
		m, ok := r.s.machines[*session.MachineID]
		if !ok {
			return apperrors.NotFound("machine", nil)
		}
		machine = m
	}
	if err := r.put(session); err != nil {
		return err
	}
	if machine != nil {
		updated := cloneMachine(machine)
		updated.TotalHoursUsed += machineHours
		updated.UpdatedAt = session.UpdatedAt
		r.s.machines[updated.ID] = updated
	}
	return nil
}

func (r *sessionRepository) DeleteScheduled(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	s, ok := r.s.sessions[id]
	if !ok {
		return apperrors.NotFound("session", nil)
	}
	if s.Status != model.SessionStatusScheduled {
		return apperrors.InvalidState(fmt.Sprintf("cannot delete a session in status %s", s.Status), nil)
	}
	delete(r.s.sessions, id)
	return nil
}

func (r *sessionRepository) List(ctx context.Context, filters *model.SessionFilters) ([]*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*model.Session, 0)
	for _, s := range r.s.sessions {
		if filters != nil {
			if filters.MachineID != nil && (s.MachineID == nil || *s.MachineID != *filters.MachineID) {
				continue
			}
			if filters.PatientID != nil && s.PatientID != *filters.PatientID {
				continue
			}
			if filters.Date != nil && !model.DateOf(s.ScheduledDate).Equal(model.DateOf(*filters.Date)) {
				continue
			}
			if filters.Status != nil && s.Status != *filters.Status {
				continue
			}
		}
		out = append(out, cloneSession(s))
	}
	sortSessions(out)
	return out, nil
}

func (r *sessionRepository) FindConflicts(ctx context.Context, machineID uuid.UUID, day time.Time, slot model.TimeSlot) ([]*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.conflicts(machineID, day, slot, uuid.Nil), nil
}

func (r *sessionRepository) BusyMachineIDs(ctx context.Context, day time.Time, slot model.TimeSlot) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, s := range r.s.sessions {
		if s.MachineID == nil {
			continue
		}
		if _, dup := seen[*s.MachineID]; dup {
			continue
		}
		if s.ConflictsWith(*s.MachineID, day, slot) {
			seen[*s.MachineID] = struct{}{}
			out = append(out, *s.MachineID)
		}
	}
	return out, nil
}
