package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fadedreams/roadassist/internal/lifecycle"
	"fadedreams/roadassist/request-service/domain"
	"fadedreams/roadassist/request-service/service"
)

// interleave runs write once, right after the next GetRequest has read.
func (f *fixture) interleave(t *testing.T, write func()) {
	t.Helper()
	done := false
	f.repo.afterGet = func(string) {
		if done {
			return
		}
		done = true
		write()
	}
}

func Test_UpdatesBumpVersion(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	assert.Equal(t, int64(0), req.Version)

	f.assign(t, req.ID, "staff-1")
	f.move(t, f.admin, req.ID, lifecycle.Accepted)

	assert.Equal(t, int64(2), f.repo.stored(req.ID).Version)
}

func Test_CancellationDoesNotRevertConcurrentCompletion(t *testing.T) {
	// arrange
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t)
	f.assign(t, req.ID, "staff-1")
	f.move(t, f.admin, req.ID, lifecycle.Accepted)
	f.move(t, f.mechanic, req.ID, lifecycle.InProgress)

	f.interleave(t, func() {
		f.move(t, f.admin, req.ID, lifecycle.Completed)
	})

	// act
	_, err := f.svc.RequestCancellation(ctx, f.requester, req.ID, service.CancellationInput{Reason: service.ReasonIssueResolved})

	// assert
	assert.ErrorIs(t, err, service.ErrConflict)
	stored := f.repo.stored(req.ID)
	assert.Equal(t, lifecycle.Completed, stored.Status)
	assert.False(t, stored.CancellationRequested)
}

func Test_StaleMechanicWriteDoesNotRestoreAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t)
	f.assign(t, req.ID, "staff-1")
	f.move(t, f.admin, req.ID, lifecycle.Accepted)

	f.interleave(t, func() {
		_, err := f.svc.AssignStaff(ctx, f.admin, req.ID, nil)
		require.NoError(t, err)
	})

	_, err := f.svc.UpdateStatus(ctx, f.mechanic, req.ID, service.StatusChange{Status: string(lifecycle.InProgress)})

	assert.ErrorIs(t, err, domain.ErrConflict)
	stored := f.repo.stored(req.ID)
	assert.Nil(t, stored.AssignedStaffID)
	assert.Equal(t, lifecycle.Accepted, stored.Status)
}

func Test_StaleCancellationResponseIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t)
	f.assign(t, req.ID, "staff-1")
	f.move(t, f.admin, req.ID, lifecycle.Accepted)
	_, err := f.svc.RequestCancellation(ctx, f.requester, req.ID, service.CancellationInput{Reason: service.ReasonIssueResolved})
	require.NoError(t, err)

	f.interleave(t, func() {
		_, err := f.svc.RespondToCancellation(ctx, f.admin, req.ID, service.CancellationDecision{Approve: false, Notes: "on our way"})
		require.NoError(t, err)
	})

	_, err = f.svc.RespondToCancellation(ctx, f.mechanic, req.ID, service.CancellationDecision{Approve: true})

	assert.ErrorIs(t, err, service.ErrConflict)
	stored := f.repo.stored(req.ID)
	assert.Equal(t, lifecycle.Accepted, stored.Status)
	assert.Equal(t, "on our way", stored.CancellationResponse)
}

func Test_AssignedMechanicKeepsRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t)
	f.assign(t, req.ID, "staff-1")

	_, err := f.svc.UpdateStaff(ctx, f.admin, "staff-1", service.StaffInput{Name: "Jane", Email: "jane@garage.test", Role: domain.StaffRoleCustomerRelations})
	assert.ErrorIs(t, err, service.ErrConflict)

	err = f.svc.DeleteStaff(ctx, f.admin, "staff-1")
	assert.ErrorIs(t, err, service.ErrConflict)

	staff, err := f.repo.GetStaff(ctx, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StaffRoleMechanic, staff.Role)

	// Renaming keeps the role and is allowed.
	renamed, err := f.svc.UpdateStaff(ctx, f.admin, "staff-1", service.StaffInput{Name: "Jane K", Email: "jane@garage.test", Role: domain.StaffRoleMechanic})
	require.NoError(t, err)
	assert.Equal(t, "Jane K", renamed.Name)
}

func Test_UnassignedMechanicCanChangeRoleAndLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t)
	f.assign(t, req.ID, "staff-1")
	_, err := f.svc.AssignStaff(ctx, f.admin, req.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.UpdateStaff(ctx, f.admin, "staff-1", service.StaffInput{Name: "Jane", Email: "jane@garage.test", Role: domain.StaffRoleCustomerRelations})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteStaff(ctx, f.admin, "staff-1"))
}
