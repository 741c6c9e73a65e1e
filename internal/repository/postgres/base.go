package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
)

const (
	pqUniqueViolation    = "23505"
	pqExclusionViolation = "23P01"
)

var dialect = goqu.Dialect("postgres")

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db      *sqlx.DB
	metrics *metrics.Metrics
}

// NewBaseRepository creates a new base repository. m may be nil.
func NewBaseRepository(db *sqlx.DB, m *metrics.Metrics) BaseRepository {
	return BaseRepository{db: db, metrics: m}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *BaseRepository) observe(operation string, err error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	if err != nil && !apperrors.IsNotFound(err) {
		status = "error"
	}
	r.metrics.DatabaseOperations.WithLabelValues(operation, status).Inc()
}

// lockKeys serialises writers on the same logical resource for the rest of tx.
// Keys are taken in sorted order so two transactions never wait on each other crosswise.
func lockKeys(ctx context.Context, tx *sqlx.Tx, keys ...string) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, key := range sorted {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("failed to lock %s: %w", key, err)
		}
	}
	return nil
}

// translate maps driver errors onto application errors.
func translate(err error, resource, op string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(resource, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation, pqExclusionViolation:
			return apperrors.Conflict(fmt.Sprintf("%s conflicts with an existing record", resource), err)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func toSQL(ds interface {
	ToSQL() (string, []interface{}, error)
}) (string, []interface{}, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build query: %w", err)
	}
	return query, args, nil
}
