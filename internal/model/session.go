package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusScheduled  SessionStatus = "SCHEDULED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusCancelled  SessionStatus = "CANCELLED"
	SessionStatusNoShow     SessionStatus = "NO_SHOW"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusScheduled:  {SessionStatusInProgress, SessionStatusNoShow, SessionStatusCancelled, SessionStatusCompleted},
	SessionStatusInProgress: {SessionStatusCompleted, SessionStatusNoShow},
	SessionStatusCompleted:  {},
	SessionStatusCancelled:  {},
	SessionStatusNoShow:     {},
}

func ParseSessionStatus(s string) (SessionStatus, error) {
	status := SessionStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := sessionTransitions[status]; !ok {
		return "", unknownValue("session status", s)
	}
	return status, nil
}

func (s *SessionStatus) UnmarshalText(b []byte) error {
	v, err := ParseSessionStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SessionStatus) CanTransitionTo(to SessionStatus) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s SessionStatus) IsTerminal() bool {
	return len(sessionTransitions[s]) == 0
}

// BlocksSlot reports whether a session in this status holds its machine window.
func (s SessionStatus) BlocksSlot() bool {
	return s != SessionStatusCancelled
}

type Attendance string

const (
	AttendancePending Attendance = "PENDING"
	AttendancePresent Attendance = "PRESENT"
	AttendanceAbsent  Attendance = "ABSENT"
)

func ParseAttendance(s string) (Attendance, error) {
	switch a := Attendance(strings.ToUpper(strings.TrimSpace(s))); a {
	case AttendancePending, AttendancePresent, AttendanceAbsent:
		return a, nil
	}
	return "", unknownValue("attendance", s)
}

func (a *Attendance) UnmarshalText(b []byte) error {
	v, err := ParseAttendance(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

type Session struct {
	Base
	MachineID          *uuid.UUID    `json:"machine_id,omitempty" db:"machine_id"`
	PatientID          uuid.UUID     `json:"patient_id" db:"patient_id"`
	ScheduledDate      time.Time     `json:"scheduled_date" db:"scheduled_date"`
	StartTime          time.Time     `json:"start_time" db:"start_time"`
	EndTime            time.Time     `json:"end_time" db:"end_time"`
	ActualStartTime    *time.Time    `json:"actual_start_time,omitempty" db:"actual_start_time"`
	ActualEndTime      *time.Time    `json:"actual_end_time,omitempty" db:"actual_end_time"`
	Status             SessionStatus `json:"status" db:"status"`
	Attendance         Attendance    `json:"attendance" db:"attendance"`
	PreWeightKg        *float64      `json:"pre_weight_kg,omitempty" db:"pre_weight_kg"`
	PreBloodPressure   *string       `json:"pre_blood_pressure,omitempty" db:"pre_blood_pressure"`
	PostWeightKg       *float64      `json:"post_weight_kg,omitempty" db:"post_weight_kg"`
	PostBloodPressure  *string       `json:"post_blood_pressure,omitempty" db:"post_blood_pressure"`
	PostHeartRate      *int          `json:"post_heart_rate,omitempty" db:"post_heart_rate"`
	FluidRemovedLiters *float64      `json:"fluid_removed_liters,omitempty" db:"fluid_removed_liters"`
	Notes              *string       `json:"notes,omitempty" db:"notes"`
	CancelReason       *string       `json:"cancel_reason,omitempty" db:"cancel_reason"`
	Version            int           `json:"version" db:"version"`
}

func (s *Session) Slot() TimeSlot {
	return TimeSlot{Start: s.StartTime, End: s.EndTime}
}

// ConflictsWith reports whether s holds the same machine over an overlapping window.
func (s *Session) ConflictsWith(machineID uuid.UUID, day time.Time, slot TimeSlot) bool {
	if s.MachineID == nil || *s.MachineID != machineID {
		return false
	}
	if !s.Status.BlocksSlot() || !DateOf(s.ScheduledDate).Equal(DateOf(day)) {
		return false
	}
	return s.Slot().Overlaps(slot)
}

// TreatedHours is the measured treatment duration, zero when either stamp is missing.
func (s *Session) TreatedHours() float64 {
	if s.ActualStartTime == nil || s.ActualEndTime == nil {
		return 0
	}
	return s.ActualEndTime.Sub(*s.ActualStartTime).Hours()
}

type CreateSessionRequest struct {
	MachineID *uuid.UUID
	PatientID uuid.UUID `validate:"required"`
	Date      time.Time `validate:"required"`
	StartTime time.Time `validate:"required"`
	EndTime   time.Time `validate:"required"`
}

// SessionDetails is a partial update; nil fields are left untouched.
type SessionDetails struct {
	ActualStartTime    *time.Time `json:"actual_start_time"`
	ActualEndTime      *time.Time `json:"actual_end_time"`
	PreWeightKg        *float64   `json:"pre_weight_kg" validate:"omitempty,gt=0,lt=500"`
	PreBloodPressure   *string    `json:"pre_blood_pressure" validate:"omitempty,max=16"`
	PostWeightKg       *float64   `json:"post_weight_kg" validate:"omitempty,gt=0,lt=500"`
	PostBloodPressure  *string    `json:"post_blood_pressure" validate:"omitempty,max=16"`
	PostHeartRate      *int       `json:"post_heart_rate" validate:"omitempty,gt=0,lt=300"`
	FluidRemovedLiters *float64   `json:"fluid_removed_liters" validate:"omitempty,gte=0,lt=20"`
	Notes              *string    `json:"notes" validate:"omitempty,max=2000"`
}

func (d *SessionDetails) HasTiming() bool {
	return d.ActualStartTime != nil || d.ActualEndTime != nil
}

func (d *SessionDetails) HasPostTreatment() bool {
	return d.PostWeightKg != nil || d.PostBloodPressure != nil || d.PostHeartRate != nil || d.FluidRemovedLiters != nil
}

// Apply merges the supplied fields into s.
func (d *SessionDetails) Apply(s *Session) {
	if d.ActualStartTime != nil {
		s.ActualStartTime = d.ActualStartTime
	}
	if d.ActualEndTime != nil {
		s.ActualEndTime = d.ActualEndTime
	}
	if d.PreWeightKg != nil {
		s.PreWeightKg = d.PreWeightKg
	}
	if d.PreBloodPressure != nil {
		s.PreBloodPressure = d.PreBloodPressure
	}
	if d.PostWeightKg != nil {
		s.PostWeightKg = d.PostWeightKg
	}
	if d.PostBloodPressure != nil {
		s.PostBloodPressure = d.PostBloodPressure
	}
	if d.PostHeartRate != nil {
		s.PostHeartRate = d.PostHeartRate
	}
	if d.FluidRemovedLiters != nil {
		s.FluidRemovedLiters = d.FluidRemovedLiters
	}
	if d.Notes != nil {
		s.Notes = d.Notes
	}
}

type SessionFilters struct {
	MachineID *uuid.UUID
	PatientID *uuid.UUID
	Date      *time.Time
	Status    *SessionStatus
}

type AvailabilityQuery struct {
	Date            time.Time
	StartTime       time.Time
	EndTime         *time.Time
	DurationMinutes int
}
