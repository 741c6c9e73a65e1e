package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
)

// All repository interfaces in one file.
//
// Methods that combine a check with a write (CreateIfFree, AssignMachine, Admit, Transfer,
// DeleteScheduled, Discharge) are atomic: implementations hold the check and the write in one
// critical section or transaction and report violations with the typed errors from pkg/errors.
type (
	MachineRepository interface {
		Create(ctx context.Context, machine *model.Machine) error
		Get(ctx context.Context, id uuid.UUID) (*model.Machine, error)
		// Update succeeds only if machine.Version still matches the stored row and bumps it.
		Update(ctx context.Context, machine *model.Machine) error
		List(ctx context.Context, filters *model.MachineFilters) ([]*model.Machine, error)
		ListDueForMaintenance(ctx context.Context, day time.Time) ([]*model.Machine, error)
	}

	SessionRepository interface {
		// CreateIfFree inserts the session unless a blocking session on the same machine and
		// date overlaps its window.
		CreateIfFree(ctx context.Context, session *model.Session) error
		Get(ctx context.Context, id uuid.UUID) (*model.Session, error)
		Update(ctx context.Context, session *model.Session) error
		// AssignMachine persists session.MachineID with the same overlap guard as CreateIfFree.
		AssignMachine(ctx context.Context, session *model.Session) error
		// Complete persists the session and adds machineHours to its machine in one unit.
		Complete(ctx context.Context, session *model.Session, machineHours float64) error
		DeleteScheduled(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filters *model.SessionFilters) ([]*model.Session, error)
		FindConflicts(ctx context.Context, machineID uuid.UUID, day time.Time, slot model.TimeSlot) ([]*model.Session, error)
		BusyMachineIDs(ctx context.Context, day time.Time, slot model.TimeSlot) ([]uuid.UUID, error)
	}

	WardRepository interface {
		Create(ctx context.Context, ward *model.Ward) error
		Get(ctx context.Context, id uuid.UUID) (*model.Ward, error)
		List(ctx context.Context) ([]*model.Ward, error)
	}

	AdmissionRepository interface {
		// Admit inserts the admission unless the patient or the bed already has an ACTIVE one.
		Admit(ctx context.Context, admission *model.Admission) error
		Get(ctx context.Context, id uuid.UUID) (*model.Admission, error)
		Discharge(ctx context.Context, id uuid.UUID, at time.Time) (*model.Admission, error)
		FindActiveByBed(ctx context.Context, wardID uuid.UUID, bedNumber string) (*model.Admission, error)
		List(ctx context.Context, filters *model.AdmissionFilters) ([]*model.Admission, error)
		// Transfer marks from TRANSFERRED, inserts to and records transfer, or does nothing.
		Transfer(ctx context.Context, from, to *model.Admission, transfer *model.Transfer) error
		ListTransfers(ctx context.Context, patientID uuid.UUID) ([]*model.Transfer, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// ProcessPending claims up to limit due events, lets handle set their outcome
		// (Status, ErrorMessage, RetryCount, RetryAt) and persists it.
		ProcessPending(ctx context.Context, limit int, handle func(ctx context.Context, event *model.OutboxEvent)) (int, error)
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
