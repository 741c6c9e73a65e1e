package postgres

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
)

var wardColumns = []interface{}{"id", "name", "department", "bed_count", "created_at", "updated_at"}

func (r *wardRepository) Create(ctx context.Context, ward *model.Ward) (err error) {
	defer func() { r.observe("ward.create", err) }()

	query, args, err := toSQL(dialect.Insert("wards").Prepared(true).Rows(goqu.Record{
		"id":         ward.ID,
		"name":       ward.Name,
		"department": ward.Department,
		"bed_count":  ward.BedCount,
		"created_at": ward.CreatedAt,
		"updated_at": ward.UpdatedAt,
	}))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return translate(err, "ward", "create ward")
}

func (r *wardRepository) Get(ctx context.Context, id uuid.UUID) (_ *model.Ward, err error) {
	defer func() { r.observe("ward.get", err) }()

	query, args, err := toSQL(dialect.From("wards").Prepared(true).
		Select(wardColumns...).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, err
	}

	var ward model.Ward
	if err = r.db.GetContext(ctx, &ward, query, args...); err != nil {
		return nil, translate(err, "ward", "get ward")
	}
	return &ward, nil
}

func (r *wardRepository) List(ctx context.Context) (_ []*model.Ward, err error) {
	defer func() { r.observe("ward.list", err) }()

	query, args, err := toSQL(dialect.From("wards").Prepared(true).
		Select(wardColumns...).
		Order(goqu.C("name").Asc()))
	if err != nil {
		return nil, err
	}

	wards := make([]*model.Ward, 0)
	if err = r.db.SelectContext(ctx, &wards, query, args...); err != nil {
		return nil, translate(err, "ward", "list wards")
	}
	return wards, nil
}
