package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
)

// Base contains common fields for all models
type Base struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// ErrUnknownValue is wrapped by every enum parse failure.
var ErrUnknownValue = fmt.Errorf("unrecognized value")

func unknownValue(kind, value string) error {
	return apperrors.Validation(fmt.Sprintf("unknown %s %q", kind, value), ErrUnknownValue)
}

// DateOf returns the calendar day of t as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, apperrors.Validation(fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s), err)
	}
	return t, nil
}

// AtClock combines a day with an HH:MM wall clock reading in UTC.
func AtClock(day time.Time, clock string) (time.Time, error) {
	c, err := time.Parse(ClockLayout, clock)
	if err != nil {
		return time.Time{}, apperrors.Validation(fmt.Sprintf("invalid time %q, expected HH:MM", clock), err)
	}
	d := DateOf(day)
	return d.Add(time.Duration(c.Hour())*time.Hour + time.Duration(c.Minute())*time.Minute), nil
}

// TimeSlot is a half-open [Start, End) window.
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open windows share any instant.
func (s TimeSlot) Overlaps(other TimeSlot) bool {
	return s.Start.Before(other.End) && s.End.After(other.Start)
}
