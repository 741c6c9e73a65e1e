package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
)

var machineColumns = []interface{}{
	"id", "code", "name", "model", "manufacturer", "location", "status",
	"last_maintenance", "next_maintenance", "maintenance_interval_days",
	"total_hours_used", "maintenance_log", "version", "created_at", "updated_at",
}

func (r *machineRepository) Create(ctx context.Context, machine *model.Machine) (err error) {
	defer func() { r.observe("machine.create", err) }()

	query := `
		INSERT INTO machines (
			id, code, name, model, manufacturer, location, status,
			last_maintenance, next_maintenance, maintenance_interval_days,
			total_hours_used, maintenance_log, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.db.ExecContext(ctx, query,
		machine.ID,
		machine.Code,
		machine.Name,
		machine.Model,
		machine.Manufacturer,
		machine.Location,
		string(machine.Status),
		machine.LastMaintenance,
		machine.NextMaintenance,
		machine.MaintenanceIntervalDays,
		machine.TotalHoursUsed,
		machine.MaintenanceLog,
		machine.Version,
		machine.CreatedAt,
		machine.UpdatedAt,
	)
	return translate(err, "machine", "create machine")
}

func (r *machineRepository) Get(ctx context.Context, id uuid.UUID) (_ *model.Machine, err error) {
	defer func() { r.observe("machine.get", err) }()

	query, args, err := toSQL(dialect.From("machines").Prepared(true).
		Select(machineColumns...).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, err
	}

	var machine model.Machine
	if err = r.db.GetContext(ctx, &machine, query, args...); err != nil {
		return nil, translate(err, "machine", "get machine")
	}
	return &machine, nil
}

// Update writes descriptive, lifecycle and maintenance fields. Usage hours are owned by
// session completion and are never written here.
func (r *machineRepository) Update(ctx context.Context, machine *model.Machine) (err error) {
	defer func() { r.observe("machine.update", err) }()

	query := `
		UPDATE machines
		SET name = $1, model = $2, manufacturer = $3, location = $4, status = $5,
			last_maintenance = $6, next_maintenance = $7, maintenance_interval_days = $8,
			maintenance_log = $9, updated_at = $10, version = version + 1
		WHERE id = $11 AND version = $12
		RETURNING version, total_hours_used
	`
	row := r.db.QueryRowxContext(ctx, query,
		machine.Name,
		machine.Model,
		machine.Manufacturer,
		machine.Location,
		string(machine.Status),
		machine.LastMaintenance,
		machine.NextMaintenance,
		machine.MaintenanceIntervalDays,
		machine.MaintenanceLog,
		machine.UpdatedAt,
		machine.ID,
		machine.Version,
	)
	err = row.Scan(&machine.Version, &machine.TotalHoursUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return r.missingOrStale(ctx, machine.ID)
	}
	return translate(err, "machine", "update machine")
}

func (r *machineRepository) missingOrStale(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM machines WHERE id = $1)`, id); err != nil {
		return translate(err, "machine", "check machine")
	}
	if !exists {
		return apperrors.NotFound("machine", nil)
	}
	return apperrors.Conflict("machine was modified concurrently", nil)
}

func (r *machineRepository) List(ctx context.Context, filters *model.MachineFilters) (_ []*model.Machine, err error) {
	defer func() { r.observe("machine.list", err) }()

	ds := dialect.From("machines").Prepared(true).Select(machineColumns...).Order(goqu.C("code").Asc())
	if filters != nil && filters.Status != nil {
		ds = ds.Where(goqu.C("status").Eq(string(*filters.Status)))
	}
	query, args, err := toSQL(ds)
	if err != nil {
		return nil, err
	}

	machines := make([]*model.Machine, 0)
	if err = r.db.SelectContext(ctx, &machines, query, args...); err != nil {
		return nil, translate(err, "machine", "list machines")
	}
	return machines, nil
}

func (r *machineRepository) ListDueForMaintenance(ctx context.Context, day time.Time) (_ []*model.Machine, err error) {
	defer func() { r.observe("machine.list_due", err) }()

	query, args, err := toSQL(dialect.From("machines").Prepared(true).
		Select(machineColumns...).
		Where(
			goqu.C("status").Neq(string(model.MachineStatusRetired)),
			goqu.C("next_maintenance").IsNotNull(),
			goqu.C("next_maintenance").Lte(model.DateOf(day)),
		).
		Order(goqu.C("next_maintenance").Asc(), goqu.C("code").Asc()))
	if err != nil {
		return nil, err
	}

	machines := make([]*model.Machine, 0)
	if err = r.db.SelectContext(ctx, &machines, query, args...); err != nil {
		return nil, translate(err, "machine", "list machines due for maintenance")
	}
	return machines, nil
}
