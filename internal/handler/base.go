package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/hospital-api/internal/model"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
)

// Fail hands err to the error middleware, which writes the response.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
}

// BindJSON decodes the request body, reporting malformed input as a validation error.
func BindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		if apperrors.IsValidation(err) {
			return err
		}
		return apperrors.Validation(fmt.Sprintf("invalid request body: %v", err), err)
	}
	return nil
}

// ParamID parses the named path parameter as a UUID.
func ParamID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.Validation(fmt.Sprintf("invalid %s", name), err)
	}
	return id, nil
}

// QueryID parses an optional UUID query parameter.
func QueryID(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperrors.Validation(fmt.Sprintf("invalid %s", name), err)
	}
	return &id, nil
}

// QueryDate parses an optional YYYY-MM-DD query parameter.
func QueryDate(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// QueryInt parses an optional integer query parameter, zero when absent.
func QueryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validation(fmt.Sprintf("%s must be an integer", name), err)
	}
	return n, nil
}

// TimeOnDay reads either an HH:MM clock on day or a full RFC 3339 timestamp.
func TimeOnDay(day time.Time, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) == len(model.ClockLayout) {
		return model.AtClock(day, s)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperrors.Validation(fmt.Sprintf("invalid time %q, expected HH:MM or RFC 3339", s), err)
	}
	return t.UTC(), nil
}

// OptionalDate parses a YYYY-MM-DD string that may be empty.
func OptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
