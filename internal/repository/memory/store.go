// Package memory is a process-local implementation of the repository interfaces.
// A single mutex guards all tables so that every check-then-write runs as one unit,
// including writes that span aggregates (transfers, session completion).
package memory

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
)

type Store struct {
	mu         sync.RWMutex
	machines   map[uuid.UUID]*model.Machine
	sessions   map[uuid.UUID]*model.Session
	wards      map[uuid.UUID]*model.Ward
	admissions map[uuid.UUID]*model.Admission
	transfers  []*model.Transfer
	outbox     map[uuid.UUID]*model.OutboxEvent
}

func NewStore() *Store {
	return &Store{
		machines:   make(map[uuid.UUID]*model.Machine),
		sessions:   make(map[uuid.UUID]*model.Session),
		wards:      make(map[uuid.UUID]*model.Ward),
		admissions: make(map[uuid.UUID]*model.Admission),
		outbox:     make(map[uuid.UUID]*model.OutboxEvent),
	}
}

func (s *Store) Machines() repository.MachineRepository     { return &machineRepository{s} }
func (s *Store) Sessions() repository.SessionRepository     { return &sessionRepository{s} }
func (s *Store) Wards() repository.WardRepository           { return &wardRepository{s} }
func (s *Store) Admissions() repository.AdmissionRepository { return &admissionRepository{s} }
func (s *Store) Outbox() repository.OutboxRepository        { return &outboxRepository{s} }

// Values are copied on the way in and out so callers never share state with the store.

func cloneMachine(m *model.Machine) *model.Machine {
	c := *m
	return &c
}

func cloneSession(s *model.Session) *model.Session {
	c := *s
	return &c
}

func cloneAdmission(a *model.Admission) *model.Admission {
	c := *a
	return &c
}

func sortSessions(out []*model.Session) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
}
