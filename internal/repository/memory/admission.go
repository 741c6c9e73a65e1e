package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
)

type admissionRepository struct {
	s *Store
}

// checkFree rejects a when its patient or bed already has an ACTIVE admission. Lock must be held.
func (r *admissionRepository) checkFree(a *model.Admission) error {
	for _, existing := range r.s.admissions {
		if existing.Status != model.AdmissionStatusActive {
			continue
		}
		if existing.PatientID == a.PatientID {
			return apperrors.Conflict(fmt.Sprintf("patient %s already has an active admission", a.PatientID), nil)
		}
		if existing.WardID == a.WardID && existing.BedNumber == a.BedNumber {
			return apperrors.Conflict(fmt.Sprintf("bed %s in ward %s is occupied", a.BedNumber, a.WardID), nil)
		}
	}
	return nil
}

func (r *admissionRepository) Admit(ctx context.Context, admission *model.Admission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.wards[admission.WardID]; !ok {
		return apperrors.NotFound("ward", nil)
	}
	if _, ok := r.s.admissions[admission.ID]; ok {
		return apperrors.Conflict(fmt.Sprintf("admission %s already exists", admission.ID), nil)
	}
	if err := r.checkFree(admission); err != nil {
		return err
	}
	r.s.admissions[admission.ID] = cloneAdmission(admission)
	return nil
}

func (r *admissionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Admission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.admissions[id]
	if !ok {
		return nil, apperrors.NotFound("admission", nil)
	}
	return cloneAdmission(a), nil
}

func (r *admissionRepository) Discharge(ctx context.Context, id uuid.UUID, at time.Time) (*model.Admission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.admissions[id]
	if !ok {
		return nil, apperrors.NotFound("admission", nil)
	}
	if a.Status != model.AdmissionStatusActive {
		return nil, apperrors.InvalidState(fmt.Sprintf("admission is %s, not ACTIVE", a.Status), nil)
	}
	updated := cloneAdmission(a)
	updated.Status = model.AdmissionStatusDischarged
	updated.DischargeDate = &at
	updated.UpdatedAt = at
	r.s.admissions[id] = updated
	return cloneAdmission(updated), nil
}

func (r *admissionRepository) FindActiveByBed(ctx context.Context, wardID uuid.UUID, bedNumber string) (*model.Admission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, a := range r.s.admissions {
		if a.Status == model.AdmissionStatusActive && a.WardID == wardID && a.BedNumber == bedNumber {
			return cloneAdmission(a), nil
		}
	}
	return nil, apperrors.NotFound("active admission", nil)
}

func (r *admissionRepository) List(ctx context.Context, filters *model.AdmissionFilters) ([]*model.Admission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*model.Admission, 0)
	for _, a := range r.s.admissions {
		if filters != nil {
			if filters.WardID != nil && a.WardID != *filters.WardID {
				continue
			}
			if filters.PatientID != nil && a.PatientID != *filters.PatientID {
				continue
			}
			if filters.Status != nil && a.Status != *filters.Status {
				continue
			}
		}
		out = append(out, cloneAdmission(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AdmissionDate.Equal(out[j].AdmissionDate) {
			return out[i].AdmissionDate.Before(out[j].AdmissionDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *admissionRepository) Transfer(ctx context.Context, from, to *model.Admission, transfer *model.Transfer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.admissions[from.ID]
	if !ok {
		return apperrors.NotFound("admission", nil)
	}
	if current.Status != model.AdmissionStatusActive {
		return apperrors.InvalidState(fmt.Sprintf("admission is %s, not ACTIVE", current.Status), nil)
	}
	if _, ok := r.s.wards[to.WardID]; !ok {
		return apperrors.NotFound("ward", nil)
	}
	for _, existing := range r.s.admissions {
		if existing.ID == from.ID || existing.Status != model.AdmissionStatusActive {
			continue
		}
		if existing.WardID == to.WardID && existing.BedNumber == to.BedNumber {
			return apperrors.Conflict(fmt.Sprintf("bed %s in ward %s is occupied", to.BedNumber, to.WardID), nil)
		}
	}

	closed := cloneAdmission(current)
	closed.Status = model.AdmissionStatusTransferred
	closed.DischargeDate = &transfer.TransferredAt
	closed.UpdatedAt = transfer.TransferredAt
	r.s.admissions[closed.ID] = closed
	r.s.admissions[to.ID] = cloneAdmission(to)
	t := *transfer
	r.s.transfers = append(r.s.transfers, &t)

	*from = *cloneAdmission(closed)
	return nil
}

func (r *admissionRepository) ListTransfers(ctx context.Context, patientID uuid.UUID) ([]*model.Transfer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*model.Transfer, 0)
	for _, t := range r.s.transfers {
		if t.PatientID == patientID {
			c := *t
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TransferredAt.Before(out[j].TransferredAt) })
	return out, nil
}
