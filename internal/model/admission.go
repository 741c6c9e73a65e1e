package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type AdmissionStatus string

const (
	AdmissionStatusActive      AdmissionStatus = "ACTIVE"
	AdmissionStatusDischarged  AdmissionStatus = "DISCHARGED"
	AdmissionStatusTransferred AdmissionStatus = "TRANSFERRED"
)

func ParseAdmissionStatus(s string) (AdmissionStatus, error) {
	switch a := AdmissionStatus(strings.ToUpper(strings.TrimSpace(s))); a {
	case AdmissionStatusActive, AdmissionStatusDischarged, AdmissionStatusTransferred:
		return a, nil
	}
	return "", unknownValue("admission status", s)
}

func (a *AdmissionStatus) UnmarshalText(b []byte) error {
	v, err := ParseAdmissionStatus(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

type Ward struct {
	Base
	Name       string `json:"name" db:"name"`
	Department string `json:"department,omitempty" db:"department"`
	BedCount   int    `json:"bed_count" db:"bed_count"`
}

type CreateWardRequest struct {
	Name       string `json:"name" validate:"required,max=255"`
	Department string `json:"department" validate:"max=255"`
	BedCount   int    `json:"bed_count" validate:"gte=0"`
}

type Admission struct {
	Base
	PatientID     uuid.UUID       `json:"patient_id" db:"patient_id"`
	WardID        uuid.UUID       `json:"ward_id" db:"ward_id"`
	BedNumber     string          `json:"bed_number" db:"bed_number"`
	Status        AdmissionStatus `json:"status" db:"status"`
	AdmissionDate time.Time       `json:"admission_date" db:"admission_date"`
	DischargeDate *time.Time      `json:"discharge_date,omitempty" db:"discharge_date"`
}

// NormalizeBed trims a bed number so "B1 " and "B1" name the same bed.
func NormalizeBed(bed string) string {
	return strings.TrimSpace(bed)
}

type AdmitRequest struct {
	PatientID  uuid.UUID  `json:"patient_id" validate:"required"`
	WardID     uuid.UUID  `json:"ward_id" validate:"required"`
	BedNumber  string     `json:"bed_number"`
	AdmittedAt *time.Time `json:"admitted_at"`
}

type TransferRequest struct {
	WardID    uuid.UUID `json:"ward_id" validate:"required"`
	BedNumber string    `json:"bed_number"`
	Reason    string    `json:"reason" validate:"max=1000"`
}

// Transfer is the audit record of one bed move; it is never updated.
type Transfer struct {
	ID              uuid.UUID `json:"id" db:"id"`
	PatientID       uuid.UUID `json:"patient_id" db:"patient_id"`
	FromWardID      uuid.UUID `json:"from_ward_id" db:"from_ward_id"`
	FromBedNumber   string    `json:"from_bed_number" db:"from_bed_number"`
	ToWardID        uuid.UUID `json:"to_ward_id" db:"to_ward_id"`
	ToBedNumber     string    `json:"to_bed_number" db:"to_bed_number"`
	Reason          string    `json:"reason,omitempty" db:"reason"`
	FromAdmissionID uuid.UUID `json:"from_admission_id" db:"from_admission_id"`
	ToAdmissionID   uuid.UUID `json:"to_admission_id" db:"to_admission_id"`
	TransferredAt   time.Time `json:"transferred_at" db:"transferred_at"`
}

type TransferResult struct {
	Transfer  *Transfer  `json:"transfer"`
	Admission *Admission `json:"admission"`
}

type PatientHistory struct {
	PatientID  uuid.UUID    `json:"patient_id"`
	Admissions []*Admission `json:"admissions"`
	Transfers  []*Transfer  `json:"transfers"`
}

type AdmissionFilters struct {
	WardID    *uuid.UUID
	PatientID *uuid.UUID
	Status    *AdmissionStatus
}
