// Package domain contains the core business types shared by the store, the
// aggregation engine, the report composer, and the HTTP layer.
package domain

import (
	"fmt"
	"time"
)

// InspectionType categorizes what kind of field work the inspection is.
type InspectionType string

const (
	TypeInspection   InspectionType = "INSPECTION"
	TypeInstallation InspectionType = "INSTALLATION"
	TypeMaintenance  InspectionType = "MAINTENANCE"
	TypeVerification InspectionType = "VERIFICATION"
)

// IsValid returns true if the type is a recognized value.
func (t InspectionType) IsValid() bool {
	switch t {
	case TypeInspection, TypeInstallation, TypeMaintenance, TypeVerification:
		return true
	}
	return false
}

// ScheduleType distinguishes routine daily checks from scheduled visits.
type ScheduleType string

const (
	ScheduleDaily     ScheduleType = "DAILY"
	ScheduleScheduled ScheduleType = "SCHEDULED"
)

// IsValid returns true if the schedule type is a recognized value.
func (s ScheduleType) IsValid() bool {
	return s == ScheduleDaily || s == ScheduleScheduled
}

// InspectionStatus represents the lifecycle state of an inspection.
type InspectionStatus string

const (
	StatusDraft      InspectionStatus = "DRAFT"
	StatusInProgress InspectionStatus = "IN_PROGRESS"
	StatusSubmitted  InspectionStatus = "SUBMITTED"
	StatusApproved   InspectionStatus = "APPROVED"
	StatusRejected   InspectionStatus = "REJECTED"
	StatusCanceled   InspectionStatus = "CANCELED"
)

// String returns the string representation of the status.
func (s InspectionStatus) String() string { return string(s) }

// IsValid returns true if the status is a recognized value.
func (s InspectionStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusSubmitted,
		StatusApproved, StatusRejected, StatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether the inspector is done writing sections.
func (s InspectionStatus) IsTerminal() bool {
	switch s {
	case StatusSubmitted, StatusApproved, StatusRejected, StatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo checks whether the status may move to target.
//
// Valid transitions:
//   - DRAFT -> IN_PROGRESS (first section write)
//   - IN_PROGRESS -> SUBMITTED (final-section completion)
//   - SUBMITTED -> APPROVED | REJECTED
//   - REJECTED -> IN_PROGRESS (rework)
//   - any non-terminal -> CANCELED
func (s InspectionStatus) CanTransitionTo(target InspectionStatus) bool {
	if target == StatusCanceled {
		return s == StatusDraft || s == StatusInProgress
	}
	switch s {
	case StatusDraft:
		return target == StatusInProgress
	case StatusInProgress:
		return target == StatusSubmitted
	case StatusSubmitted:
		return target == StatusApproved || target == StatusRejected
	case StatusRejected:
		return target == StatusInProgress
	}
	return false
}

// Inspection is the execution instance of a questionnaire against a device.
type Inspection struct {
	ID             int64
	OrganizationID int64
	DeviceID       int64
	SiteID         *int64
	ContractID     *int64
	TemplateID     *int64
	Title          string
	Type           InspectionType
	ScheduleType   ScheduleType
	Status         InspectionStatus
	Progress       int // 0-100
	AssignedTo     *int64
	CreatedBy      int64
	UpdatedBy      *int64
	ScheduledAt    *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time // soft-delete tombstone
}

// TransitionTo validates and applies a status transition.
func (i *Inspection) TransitionTo(target InspectionStatus) error {
	if !i.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: cannot transition inspection from %s to %s",
			ErrValidation, i.Status, target)
	}
	i.Status = target
	return nil
}

// IsDeleted reports whether the tombstone is set.
func (i *Inspection) IsDeleted() bool { return i.DeletedAt != nil }

// AccessibleBy implements the access rule: a non-administrator may reach an
// inspection iff it belongs to their organization, is assigned to them, or
// was created by them. Administrators reach everything.
func (i *Inspection) AccessibleBy(u *User) bool {
	if u.IsAdmin() {
		return true
	}
	if i.OrganizationID == u.OrganizationID {
		return true
	}
	if i.AssignedTo != nil && *i.AssignedTo == u.ID {
		return true
	}
	return i.CreatedBy == u.ID
}

// CreateInspectionParams carries validated parameters for creating an
// inspection in DRAFT state.
type CreateInspectionParams struct {
	OrganizationID int64
	DeviceID       int64
	SiteID         *int64
	ContractID     *int64
	TemplateID     *int64
	Title          string
	Type           InspectionType
	ScheduleType   ScheduleType
	AssignedTo     *int64
	CreatedBy      int64
	ScheduledAt    *time.Time
}

// Validate checks required fields and enum membership.
func (p *CreateInspectionParams) Validate() error {
	if p.OrganizationID == 0 || p.DeviceID == 0 || p.CreatedBy == 0 {
		return fmt.Errorf("%w: organization, device and creator are required", ErrValidation)
	}
	if !p.Type.IsValid() {
		return fmt.Errorf("%w: unknown inspection type %q", ErrValidation, p.Type)
	}
	if !p.ScheduleType.IsValid() {
		return fmt.Errorf("%w: unknown schedule type %q", ErrValidation, p.ScheduleType)
	}
	return nil
}
