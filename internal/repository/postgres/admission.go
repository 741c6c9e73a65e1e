package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/hospital-api/internal/model"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
)

var admissionColumns = []interface{}{
	"id", "patient_id", "ward_id", "bed_number", "status",
	"admission_date", "discharge_date", "created_at", "updated_at",
}

var transferColumns = []interface{}{
	"id", "patient_id", "from_ward_id", "from_bed_number", "to_ward_id", "to_bed_number",
	"reason", "from_admission_id", "to_admission_id", "transferred_at",
}

func bedLockKey(wardID uuid.UUID, bed string) string {
	return fmt.Sprintf("bed:%s:%s", wardID, bed)
}

func patientLockKey(patientID uuid.UUID) string {
	return fmt.Sprintf("patient:%s", patientID)
}

func wardExists(ctx context.Context, tx *sqlx.Tx, wardID uuid.UUID) error {
	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM wards WHERE id = $1)`, wardID); err != nil {
		return translate(err, "ward", "check ward")
	}
	if !exists {
		return apperrors.NotFound("ward", nil)
	}
	return nil
}

// activeCount counts ACTIVE admissions matching where, ignoring exclude.
func activeCount(ctx context.Context, tx *sqlx.Tx, exclude uuid.UUID, where goqu.Ex) (int, error) {
	query, args, err := toSQL(dialect.From("admissions").Prepared(true).
		Select(goqu.COUNT(goqu.Star())).
		Where(where, goqu.C("status").Eq(string(model.AdmissionStatusActive)), goqu.C("id").Neq(exclude)))
	if err != nil {
		return 0, err
	}
	var n int
	if err := tx.GetContext(ctx, &n, query, args...); err != nil {
		return 0, translate(err, "admission", "count active admissions")
	}
	return n, nil
}

func ensureBedFree(ctx context.Context, tx *sqlx.Tx, exclude, wardID uuid.UUID, bed string) error {
	n, err := activeCount(ctx, tx, exclude, goqu.Ex{"ward_id": wardID, "bed_number": bed})
	if err != nil {
		return err
	}
	if n > 0 {
		return apperrors.Conflict(fmt.Sprintf("bed %s in ward %s is occupied", bed, wardID), nil)
	}
	return nil
}

func insertAdmission(ctx context.Context, tx *sqlx.Tx, a *model.Admission) error {
	query := `
		INSERT INTO admissions (
			id, patient_id, ward_id, bed_number, status,
			admission_date, discharge_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.ExecContext(ctx, query,
		a.ID,
		a.PatientID,
		a.WardID,
		a.BedNumber,
		string(a.Status),
		a.AdmissionDate,
		a.DischargeDate,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return translate(err, "admission", "create admission")
}

func lockAdmission(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Admission, error) {
	query, args, err := toSQL(dialect.From("admissions").Prepared(true).
		Select(admissionColumns...).
		Where(goqu.C("id").Eq(id)).
		ForUpdate(goqu.Wait))
	if err != nil {
		return nil, err
	}
	var a model.Admission
	if err := tx.GetContext(ctx, &a, query, args...); err != nil {
		return nil, translate(err, "admission", "load admission")
	}
	return &a, nil
}

func closeAdmission(ctx context.Context, tx *sqlx.Tx, a *model.Admission, status model.AdmissionStatus, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE admissions
		SET status = $1, discharge_date = $2, updated_at = $2
		WHERE id = $3
	`, string(status), at, a.ID)
	if err != nil {
		return translate(err, "admission", "close admission")
	}
	a.Status = status
	a.DischargeDate = &at
	a.UpdatedAt = at
	return nil
}

func (r *admissionRepository) Admit(ctx context.Context, admission *model.Admission) (err error) {
	defer func() { r.observe("admission.admit", err) }()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockKeys(ctx, tx,
			bedLockKey(admission.WardID, admission.BedNumber),
			patientLockKey(admission.PatientID),
		); err != nil {
			return err
		}
		if err := wardExists(ctx, tx, admission.WardID); err != nil {
			return err
		}

		n, err := activeCount(ctx, tx, admission.ID, goqu.Ex{"patient_id": admission.PatientID})
		if err != nil {
			return err
		}
		if n > 0 {
			return apperrors.Conflict(fmt.Sprintf("patient %s already has an active admission", admission.PatientID), nil)
		}
		if err := ensureBedFree(ctx, tx, admission.ID, admission.WardID, admission.BedNumber); err != nil {
			return err
		}
		return insertAdmission(ctx, tx, admission)
	})
}

func (r *admissionRepository) Get(ctx context.Context, id uuid.UUID) (_ *model.Admission, err error) {
	defer func() { r.observe("admission.get", err) }()

	query, args, err := toSQL(dialect.From("admissions").Prepared(true).
		Select(admissionColumns...).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, err
	}

	var a model.Admission
	if err = r.db.GetContext(ctx, &a, query, args...); err != nil {
		return nil, translate(err, "admission", "get admission")
	}
	return &a, nil
}

func (r *admissionRepository) Discharge(ctx context.Context, id uuid.UUID, at time.Time) (_ *model.Admission, err error) {
	defer func() { r.observe("admission.discharge", err) }()

	var out *model.Admission
	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		a, err := lockAdmission(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Status != model.AdmissionStatusActive {
			return apperrors.InvalidState(fmt.Sprintf("admission is %s, not ACTIVE", a.Status), nil)
		}
		if err := closeAdmission(ctx, tx, a, model.AdmissionStatusDischarged, at); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (r *admissionRepository) FindActiveByBed(ctx context.Context, wardID uuid.UUID, bedNumber string) (_ *model.Admission, err error) {
	defer func() { r.observe("admission.find_by_bed", err) }()

	query, args, err := toSQL(dialect.From("admissions").Prepared(true).
		Select(admissionColumns...).
		Where(goqu.Ex{
			"ward_id":    wardID,
			"bed_number": bedNumber,
			"status":     string(model.AdmissionStatusActive),
		}))
	if err != nil {
		return nil, err
	}

	var a model.Admission
	if err = r.db.GetContext(ctx, &a, query, args...); err != nil {
		return nil, translate(err, "active admission", "find admission by bed")
	}
	return &a, nil
}

func (r *admissionRepository) List(ctx context.Context, filters *model.AdmissionFilters) (_ []*model.Admission, err error) {
	defer func() { r.observe("admission.list", err) }()

	ds := dialect.From("admissions").Prepared(true).
		Select(admissionColumns...).
		Order(goqu.C("admission_date").Asc(), goqu.C("created_at").Asc())
	if filters != nil {
		if filters.WardID != nil {
			ds = ds.Where(goqu.C("ward_id").Eq(*filters.WardID))
		}
		if filters.PatientID != nil {
			ds = ds.Where(goqu.C("patient_id").Eq(*filters.PatientID))
		}
		if filters.Status != nil {
			ds = ds.Where(goqu.C("status").Eq(string(*filters.Status)))
		}
	}
	query, args, err := toSQL(ds)
	if err != nil {
		return nil, err
	}

	admissions := make([]*model.Admission, 0)
	if err = r.db.SelectContext(ctx, &admissions, query, args...); err != nil {
		return nil, translate(err, "admission", "list admissions")
	}
	return admissions, nil
}

func (r *admissionRepository) Transfer(ctx context.Context, from, to *model.Admission, transfer *model.Transfer) (err error) {
	defer func() { r.observe("admission.transfer", err) }()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockKeys(ctx, tx,
			bedLockKey(to.WardID, to.BedNumber),
			patientLockKey(from.PatientID),
		); err != nil {
			return err
		}

		current, err := lockAdmission(ctx, tx, from.ID)
		if err != nil {
			return err
		}
		if current.Status != model.AdmissionStatusActive {
			return apperrors.InvalidState(fmt.Sprintf("admission is %s, not ACTIVE", current.Status), nil)
		}
		if err := wardExists(ctx, tx, to.WardID); err != nil {
			return err
		}
		if err := ensureBedFree(ctx, tx, current.ID, to.WardID, to.BedNumber); err != nil {
			return err
		}

		if err := closeAdmission(ctx, tx, current, model.AdmissionStatusTransferred, transfer.TransferredAt); err != nil {
			return err
		}
		if err := insertAdmission(ctx, tx, to); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO transfers (
				id, patient_id, from_ward_id, from_bed_number, to_ward_id, to_bed_number,
				reason, from_admission_id, to_admission_id, transferred_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			transfer.ID,
			transfer.PatientID,
			transfer.FromWardID,
			transfer.FromBedNumber,
			transfer.ToWardID,
			transfer.ToBedNumber,
			transfer.Reason,
			transfer.FromAdmissionID,
			transfer.ToAdmissionID,
			transfer.TransferredAt,
		)
		if err != nil {
			return translate(err, "transfer", "record transfer")
		}

		*from = *current
		return nil
	})
}

func (r *admissionRepository) ListTransfers(ctx context.Context, patientID uuid.UUID) (_ []*model.Transfer, err error) {
	defer func() { r.observe("admission.list_transfers", err) }()

	query, args, err := toSQL(dialect.From("transfers").Prepared(true).
		Select(transferColumns...).
		Where(goqu.C("patient_id").Eq(patientID)).
		Order(goqu.C("transferred_at").Asc()))
	if err != nil {
		return nil, err
	}

	transfers := make([]*model.Transfer, 0)
	if err = r.db.SelectContext(ctx, &transfers, query, args...); err != nil {
		return nil, translate(err, "transfer", "list transfers")
	}
	return transfers, nil
}
