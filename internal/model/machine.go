package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MachineStatus string

const (
	MachineStatusActive      MachineStatus = "ACTIVE"
	MachineStatusMaintenance MachineStatus = "MAINTENANCE"
	MachineStatusOutOfOrder  MachineStatus = "OUT_OF_ORDER"
	MachineStatusRetired     MachineStatus = "RETIRED"
)

const DefaultMaintenanceIntervalDays = 90

var machineTransitions = map[MachineStatus][]MachineStatus{
	MachineStatusActive:      {MachineStatusMaintenance, MachineStatusOutOfOrder, MachineStatusRetired},
	MachineStatusMaintenance: {MachineStatusActive, MachineStatusMaintenance, MachineStatusOutOfOrder, MachineStatusRetired},
	MachineStatusOutOfOrder:  {MachineStatusMaintenance, MachineStatusRetired},
	MachineStatusRetired:     {},
}

func ParseMachineStatus(s string) (MachineStatus, error) {
	status := MachineStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := machineTransitions[status]; !ok {
		return "", unknownValue("machine status", s)
	}
	return status, nil
}

func (s *MachineStatus) UnmarshalText(b []byte) error {
	v, err := ParseMachineStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s MachineStatus) CanTransitionTo(to MachineStatus) bool {
	for _, next := range machineTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Schedulable reports whether sessions may still be booked on the machine.
func (s MachineStatus) Schedulable() bool {
	return s == MachineStatusActive || s == MachineStatusMaintenance
}

type Machine struct {
	Base
	Code                    string        `json:"code" db:"code"`
	Name                    string        `json:"name" db:"name"`
	Model                   string        `json:"model,omitempty" db:"model"`
	Manufacturer            string        `json:"manufacturer,omitempty" db:"manufacturer"`
	Location                string        `json:"location,omitempty" db:"location"`
	Status                  MachineStatus `json:"status" db:"status"`
	LastMaintenance         *time.Time    `json:"last_maintenance,omitempty" db:"last_maintenance"`
	NextMaintenance         *time.Time    `json:"next_maintenance,omitempty" db:"next_maintenance"`
	MaintenanceIntervalDays int           `json:"maintenance_interval_days" db:"maintenance_interval_days"`
	TotalHoursUsed          float64       `json:"total_hours_used" db:"total_hours_used"`
	MaintenanceLog          string        `json:"maintenance_log,omitempty" db:"maintenance_log"`
	Version                 int           `json:"version" db:"version"`
}

// RecomputeNextMaintenance keeps next == last + interval.
func (m *Machine) RecomputeNextMaintenance() {
	if m.LastMaintenance == nil {
		return
	}
	next := DateOf(*m.LastMaintenance).AddDate(0, 0, m.MaintenanceIntervalDays)
	m.NextMaintenance = &next
}

// AppendLog adds a timestamped line to the maintenance log.
func (m *Machine) AppendLog(at time.Time, action, note string) {
	line := fmt.Sprintf("[%s] %s", at.UTC().Format(time.RFC3339), action)
	if note = strings.TrimSpace(note); note != "" {
		line += ": " + note
	}
	if m.MaintenanceLog == "" {
		m.MaintenanceLog = line
		return
	}
	m.MaintenanceLog += "\n" + line
}

func (m *Machine) DueForMaintenance(day time.Time) bool {
	if m.Status == MachineStatusRetired || m.NextMaintenance == nil {
		return false
	}
	return !DateOf(*m.NextMaintenance).After(DateOf(day))
}

type CreateMachineRequest struct {
	ID                      *uuid.UUID `json:"id"`
	Code                    string     `json:"code" validate:"required,max=64"`
	Name                    string     `json:"name" validate:"required,max=255"`
	Model                   string     `json:"model" validate:"max=255"`
	Manufacturer            string     `json:"manufacturer" validate:"max=255"`
	Location                string     `json:"location" validate:"max=255"`
	LastMaintenance         *time.Time `json:"last_maintenance"`
	NextMaintenance         *time.Time `json:"next_maintenance"`
	MaintenanceIntervalDays *int       `json:"maintenance_interval_days"`
}

type UpdateMachineRequest struct {
	Name                    *string        `json:"name" validate:"omitempty,max=255"`
	Model                   *string        `json:"model" validate:"omitempty,max=255"`
	Manufacturer            *string        `json:"manufacturer" validate:"omitempty,max=255"`
	Location                *string        `json:"location" validate:"omitempty,max=255"`
	MaintenanceIntervalDays *int           `json:"maintenance_interval_days"`
	Status                  *MachineStatus `json:"status"`
}

type MachineFilters struct {
	Status *MachineStatus
}
