package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
)

type wardRepository struct {
	s *Store
}

func (r *wardRepository) Create(ctx context.Context, ward *model.Ward) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, w := range r.s.wards {
		if w.ID == ward.ID || strings.EqualFold(w.Name, ward.Name) {
			return apperrors.Conflict(fmt.Sprintf("ward %q already exists", ward.Name), nil)
		}
	}
	c := *ward
	r.s.wards[ward.ID] = &c
	return nil
}

func (r *wardRepository) Get(ctx context.Context, id uuid.UUID) (*model.Ward, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	w, ok := r.s.wards[id]
	if !ok {
		return nil, apperrors.NotFound("ward", nil)
	}
	c := *w
	return &c, nil
}

func (r *wardRepository) List(ctx context.Context) ([]*model.Ward, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*model.Ward, 0, len(r.s.wards))
	for _, w := range r.s.wards {
		c := *w
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
