package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
)

type sample struct {
	Name   string   `json:"name" validate:"required,max=5"`
	Weight *float64 `json:"weight" validate:"omitempty,gt=0"`
	Hidden string   `validate:"max=1"`
}

func TestValidate(t *testing.T) {
	v := New()

	assert.NoError(t, v.Validate(&sample{Name: "ok"}))

	err := v.Validate(&sample{})
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "name is required")

	neg := -1.0
	err = v.Validate(&sample{Name: "toolong", Weight: &neg, Hidden: "xx"})
	assert.Contains(t, err.Error(), "name must be at most 5")
	assert.Contains(t, err.Error(), "weight must be greater than 0")
	assert.Contains(t, err.Error(), "Hidden must be at most 1")
}
