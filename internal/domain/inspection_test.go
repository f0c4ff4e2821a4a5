package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from InspectionStatus
		to   InspectionStatus
		ok   bool
	}{
		{StatusDraft, StatusInProgress, true},
		{StatusInProgress, StatusSubmitted, true},
		{StatusSubmitted, StatusApproved, true},
		{StatusSubmitted, StatusRejected, true},
		{StatusRejected, StatusInProgress, true},
		{StatusDraft, StatusCanceled, true},
		{StatusInProgress, StatusCanceled, true},
		{StatusDraft, StatusSubmitted, false},
		{StatusSubmitted, StatusCanceled, false},
		{StatusApproved, StatusInProgress, false},
		{StatusCanceled, StatusInProgress, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
			i := &Inspection{Status: tt.from}
			err := i.TransitionTo(tt.to)
			if tt.ok {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, i.Status)
			} else {
				assert.ErrorIs(t, err, ErrValidation)
				assert.Equal(t, tt.from, i.Status)
			}
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusSubmitted.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
	assert.False(t, InspectionStatus("WHATEVER").IsValid())
	assert.True(t, StatusDraft.IsValid())
}

func TestAccessRule(t *testing.T) {
	assignee := int64(7)
	insp := &Inspection{OrganizationID: 1, AssignedTo: &assignee, CreatedBy: 3}

	sameOrg := &User{ID: 99, OrganizationID: 1, Role: RoleInspector}
	assert.True(t, insp.AccessibleBy(sameOrg))

	assigned := &User{ID: 7, OrganizationID: 2, Role: RoleInspector}
	assert.True(t, insp.AccessibleBy(assigned), "cross-org assignee has access")

	creator := &User{ID: 3, OrganizationID: 2, Role: RoleInspector}
	assert.True(t, insp.AccessibleBy(creator))

	stranger := &User{ID: 50, OrganizationID: 2, Role: RoleInspector}
	assert.False(t, insp.AccessibleBy(stranger))

	admin := &User{ID: 50, OrganizationID: 2, Role: RoleAdmin}
	assert.True(t, insp.AccessibleBy(admin))
}

func TestCreateParamsValidate(t *testing.T) {
	p := &CreateInspectionParams{
		OrganizationID: 1, DeviceID: 2, CreatedBy: 3,
		Type: TypeInspection, ScheduleType: ScheduleDaily,
	}
	assert.NoError(t, p.Validate())

	bad := *p
	bad.Type = "NOPE"
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = *p
	bad.DeviceID = 0
	assert.ErrorIs(t, bad.Validate(), ErrValidation)
}

func TestCrossCuttingSections(t *testing.T) {
	assert.True(t, IsCrossCuttingSection("remarks"))
	assert.True(t, IsCrossCuttingSection("signatures"))
	assert.False(t, IsCrossCuttingSection("exterior"))
}
