package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fadedreams/roadassist/internal/auth"
	"fadedreams/roadassist/internal/events"
	"fadedreams/roadassist/internal/lifecycle"
	"fadedreams/roadassist/request-service/domain"
	"fadedreams/roadassist/request-service/service"
)

type stubSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(context.Context, string) (string, error) {
	s.calls++
	return s.summary, s.err
}

type fixture struct {
	repo       *memRepo
	summarizer *stubSummarizer
	svc        *service.Service

	admin     auth.Session
	mechanic  auth.Session
	other     auth.Session
	relations auth.Session
	requester auth.Session
	stranger  auth.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemRepo()
	now := time.Now().UTC()

	for _, m := range []*domain.StaffMember{
		{ID: "staff-1", Name: "Jane", Email: "jane@garage.test", Role: domain.StaffRoleMechanic, CreatedAt: now},
		{ID: "staff-2", Name: "Omar", Email: "omar@garage.test", Role: domain.StaffRoleMechanic, CreatedAt: now},
		{ID: "staff-3", Name: "Ruth", Email: "ruth@garage.test", Role: domain.StaffRoleCustomerRelations, CreatedAt: now},
	} {
		require.NoError(t, repo.CreateStaff(context.Background(), m))
	}
	require.NoError(t, repo.CreateProvider(context.Background(), &domain.ServiceProvider{
		ID:         "p-tires",
		Name:       "Kampala Tyre Centre",
		Location:   domain.Location{Lat: 0.3316, Lng: 32.5811},
		Services:   []string{"Tire Services"},
		ETAMinutes: 15,
	}))

	summarizer := &stubSummarizer{}
	return &fixture{
		repo:       repo,
		summarizer: summarizer,
		svc:        service.NewService(repo, summarizer, slog.New(slog.NewTextHandler(io.Discard, nil))),
		admin:      auth.Session{UserID: "u-admin", Role: auth.RoleAdmin},
		mechanic:   auth.Session{UserID: "u-jane", Email: "jane@garage.test", Role: auth.RoleMechanic, StaffID: "staff-1"},
		other:      auth.Session{UserID: "u-omar", Email: "omar@garage.test", Role: auth.RoleMechanic, StaffID: "staff-2"},
		relations:  auth.Session{UserID: "u-ruth", Email: "ruth@garage.test", Role: auth.RoleCustomerRelations, StaffID: "staff-3"},
		requester:  auth.Session{UserID: "u-1", Role: auth.RoleUser, PhoneNumber: "+256700000001"},
		stranger:   auth.Session{UserID: "u-2", Role: auth.RoleUser},
	}
}

func validInput() service.CreateRequestInput {
	return service.CreateRequestInput{
		Location:         &domain.Location{Lat: 0.3136, Lng: 32.5811},
		IssueDescription: "Front left tyre is flat",
		IssueSummary:     "Flat Tire",
		Vehicle:          domain.Vehicle{Make: "Toyota", Model: "Premio", Year: "2012", Plate: "UBA 123X"},
		ProviderID:       "p-tires",
	}
}

func (f *fixture) create(t *testing.T) *domain.ServiceRequest {
	t.Helper()
	req, err := f.svc.CreateRequest(context.Background(), f.requester, validInput())
	require.NoError(t, err)
	return req
}

func (f *fixture) move(t *testing.T, s auth.Session, id string, to lifecycle.Status) {
	t.Helper()
	_, err := f.svc.UpdateStatus(context.Background(), s, id, service.StatusChange{Status: string(to)})
	require.NoError(t, err)
}

func (f *fixture) assign(t *testing.T, id, staffID string) {
	t.Helper()
	_, err := f.svc.AssignStaff(context.Background(), f.admin, id, &staffID)
	require.NoError(t, err)
}

func ptr(s string) *string { return &s }

func Test_CreateRequest(t *testing.T) {
	// arrange
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SaveDraft(ctx, f.requester, service.DraftInput{IssueDescription: "tyre"})
	require.NoError(t, err)

	// act
	req, err := f.svc.CreateRequest(ctx, f.requester, validInput())

	// assert
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^RR-[A-Z0-9]{5}$`), req.RequestID)
	assert.Equal(t, lifecycle.Pending, req.Status)
	assert.Equal(t, "Pending", req.DisplayStatus)
	assert.Nil(t, req.AssignedStaffID)
	assert.Equal(t, "u-1", req.RequesterID)
	assert.Equal(t, "Kampala Tyre Centre", req.Provider.Name, "provider snapshot embedded")
	assert.Equal(t, []string{events.TypeRequestCreated}, f.repo.outboxTypes())

	_, err = f.svc.GetDraft(ctx, f.requester)
	assert.ErrorIs(t, err, domain.ErrNotFound, "draft removed after submission")
	assert.Zero(t, f.summarizer.calls, "summary supplied")
}

func Test_CreateRequest_SnapshotSurvivesProviderEdit(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)

	_, err := f.svc.UpdateProvider(context.Background(), f.admin, "p-tires", service.ProviderInput{
		Name:     "Renamed",
		Location: domain.Location{Lat: 1, Lng: 1},
		Services: []string{"Towing"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Kampala Tyre Centre", f.repo.stored(req.ID).Provider.Name)
}

func Test_CreateRequest_StaffRolesAreBarred(t *testing.T) {
	f := newFixture(t)
	for _, s := range []auth.Session{f.admin, f.mechanic, f.relations} {
		_, err := f.svc.CreateRequest(context.Background(), s, validInput())
		assert.ErrorIs(t, err, auth.ErrPermissionDenied, s.Role.String())
	}
}

func Test_CreateRequest_Validation(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*service.CreateRequestInput)
	}{
		{"missing location", func(in *service.CreateRequestInput) { in.Location = nil }},
		{"latitude out of range", func(in *service.CreateRequestInput) { in.Location = &domain.Location{Lat: 91, Lng: 0} }},
		{"longitude out of range", func(in *service.CreateRequestInput) { in.Location = &domain.Location{Lat: 0, Lng: -181} }},
		{"missing description", func(in *service.CreateRequestInput) { in.IssueDescription = "  " }},
		{"incomplete vehicle", func(in *service.CreateRequestInput) { in.Vehicle.Plate = "" }},
		{"missing provider", func(in *service.CreateRequestInput) { in.ProviderID = "" }},
		{"unknown provider", func(in *service.CreateRequestInput) { in.ProviderID = "p-nope" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := validInput()
			tc.mutate(&in)

			_, err := f.svc.CreateRequest(context.Background(), f.requester, in)

			assert.ErrorIs(t, err, service.ErrValidation)
			assert.Empty(t, f.repo.requests)
		})
	}
}

func Test_CreateRequest_SummarizerFallback(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.IssueSummary = ""

	f.summarizer.summary = "Flat Tire"
	req, err := f.svc.CreateRequest(context.Background(), f.requester, in)
	require.NoError(t, err)
	assert.Equal(t, "Flat Tire", req.IssueSummary)

	f.summarizer.summary, f.summarizer.err = "", errors.New("model down")
	req, err = f.svc.CreateRequest(context.Background(), f.requester, in)
	require.NoError(t, err, "summarizer failure is not fatal")
	assert.Empty(t, req.IssueSummary)
	assert.Equal(t, 2, f.summarizer.calls)
}

func Test_OutboxFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.repo.outboxErr = errors.New("outbox unavailable")

	req := f.create(t)
	f.move(t, f.admin, req.ID, lifecycle.Accepted)

	assert.Equal(t, lifecycle.Accepted, f.repo.stored(req.ID).Status)
	assert.Empty(t, f.repo.outboxTypes())
}

func Test_Scenario_UnassignedMechanicCannotStartWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.create(t)

	_, err := f.svc.UpdateStatus(ctx, f.admin, r1.ID, service.StatusChange{Status: "Accepted"})
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, f.mechanic, r1.ID, service.StatusChange{Status: "In Progress"})

	assert.ErrorIs(t, err, auth.ErrPermissionDenied)
	assert.Equal(t, lifecycle.Accepted, f.repo.stored(r1.ID).Status)
}

func Test_AssignedMechanicWorkFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t)
	f.move(t, f.admin, req.ID, lifecycle.Accepted)
	f.assign(t, req.ID, "staff-1")

	_, err := f.svc.UpdateStatus(ctx, f.other, req.ID, service.StatusChange{Status: "In Progress"})
	assert.ErrorIs(t, err, auth.ErrPermissionDenied, "differently assigned mechanic")

	got, err := f.svc.UpdateStatus(ctx, f.mechanic, req.ID, service.StatusChange{
		Status: "In Progress", Notes: ptr("Replacing tyre"), ResourcesUsed: ptr("Jack"),
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.InProgress, got.Status)

	got, err = f.svc.UpdateStatus(ctx, f.mechanic, req.ID, service.StatusChange{
		Status: "In Progress", Notes: ptr("Spare fitted"),
	})
	require.NoError(t, err, "work log rewrite keeps status")
	assert.Equal(t, "Spare fitted", got.MechanicNotes)
	assert.Equal(t, "Jack", got.ResourcesUsed)

	got, err = f.svc.UpdateStatus(ctx, f.mechanic, req.ID, service.StatusChange{
		Status: "Completed", Notes: ptr("Done"), ResourcesUsed: ptr("Jack, spare tyre"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Done", got.MechanicNotes, "notes overwrite")
	assert.Equal(t, "Jack, spare tyre", got.ResourcesUsed)

	stored := f.repo.stored(req.ID)
	assert.Equal(t, lifecycle.Completed, stored.Status)
	assert.Equal(t, []string{
		events.TypeRequestCreated,
		events.TypeStatusChanged,
		events.TypeStaffAssigned,
		events.TypeStatusChanged,
		events.TypeStatusChanged,
		events.TypeStatusChanged,
	}, f.repo.outboxTypes())
}

func Test_MechanicCannotMoveBackward(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.move(t, f.admin, req.ID, lifecycle.Accepted)
	f.assign(t, req.ID, "staff-1")
	f.move(t, f.mechanic, req.ID, lifecycle.InProgress)

	for _, to := range []lifecycle.Status{lifecycle.Accepted, lifecycle.Pending} {
		_, err := f.svc.UpdateStatus(context.Background(), f.mechanic, req.ID, service.StatusChange{Status: string(to)})
		assert.ErrorIs(t, err, auth.ErrPermissionDenied)
	}
	assert.Equal(t, lifecycle.InProgress, f.repo.stored(req.ID).Status)
}

func Test_WorkLogOnlyForWorkStatuses(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)

	_, err := f.svc.UpdateStatus(context.Background(), f.admin, req.ID, service.StatusChange{Status: "Accepted", Notes: ptr("x")})
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = f.svc.UpdateStatus(context.Background(), f.admin, req.ID, service.StatusChange{Status: "Pending"})
	assert.ErrorIs(t, err, service.ErrValidation, "no-op move")

	_, err = f.svc.UpdateStatus(context.Background(), f.admin, req.ID, service.StatusChange{Status: "Closed"})
	assert.ErrorIs(t, err, service.ErrValidation)
}

func Test_StatusFollowsOnlyTableEdgesForMechanic(t *testing.T) {
	for _, from := range lifecycle.All {
		for _, to := range lifecycle.All {
			if from == to {
				continue
			}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				f := newFixture(t)
				req := f.create(t)
				stored := f.repo.stored(req.ID)
				stored.Status = from
				stored.AssignedStaffID = ptr("staff-1")
				f.repo.requests[req.ID] = stored

				_, err := f.svc.UpdateStatus(context.Background(), f.mechanic, req.ID, service.StatusChange{Status: string(to)})

				edge, ok := lifecycle.Edge(from, to)
				if ok && edge.Allows(lifecycle.ActorAssignedMechanic) {
					assert.NoError(t, err)
					assert.Equal(t, to, f.repo.stored(req.ID).Status)
				} else {
					assert.ErrorIs(t, err, auth.ErrPermissionDenied)
					assert.Equal(t, from, f.repo.stored(req.ID).Status)
				}
			})
		}
	}
}

func Test_TerminalStatesAcceptNothing(t *testing.T) {
	for _, terminal := range []lifecycle.Status{lifecycle.Completed, lifecycle.Cancelled} {
		t.Run(string(terminal), func(t *testing.T) {
			f := newFixture(t)
			req := f.create(t)
			f.move(t, f.admin, req.ID, terminal)

			for _, to := range lifecycle.All {
				if to == terminal {
					continue
				}
				_, err := f.svc.UpdateStatus(context.Background(), f.admin, req.ID, service.StatusChange{Status: string(to)})
				assert.ErrorIs(t, err, lifecycle.ErrTerminal)
			}
			_, err := f.svc.AssignStaff(context.Background(), f.admin, req.ID, ptr("staff-1"))
			assert.ErrorIs(t, err, auth.ErrPermissionDenied)
			_, err = f.svc.RequestCancellation(context.Background(), f.requester, req.ID, service.CancellationInput{Reason: service.ReasonIssueResolved})
			assert.ErrorIs(t, err, auth.ErrPermissionDenied)

			assert.Equal(t, terminal, f.repo.stored(req.ID).Status)
		})
	}
}

func Test_AdminOverrideMovesBackward(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.move(t, f.admin, req.ID, lifecycle.InProgress)
	f.move(t, f.admin, req.ID, lifecycle.Pending)

	assert.Equal(t, lifecycle.Pending, f.repo.stored(req.ID).Status)
}

func Test_CustomerRelationsIsReadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t)

	got, err := f.svc.GetRequest(ctx, f.relations, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	all, err := f.svc.ListRequests(ctx, f.relations, service.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.svc.UpdateStatus(ctx, f.relations, req.ID, service.StatusChange{Status: "Accepted"})
	assert.ErrorIs(t, err, auth.ErrPermissionDenied)
	_, err = f.svc.AssignStaff(ctx, f.relations, req.ID, ptr("staff-1"))
	assert.ErrorIs(t, err, auth.ErrPermissionDenied)
	assert.Equal(t, lifecycle.Pending, f.repo.stored(req.ID).Status)
}

func Test_AssignStaff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t)

	got, err := f.svc.AssignStaff(ctx, f.admin, req.ID, ptr("staff-1"))
	require.NoError(t, err)
	assert.Equal(t, "staff-1", got.AssignedTo())

	_, err = f.svc.AssignStaff(ctx, f.admin, req.ID, ptr("staff-3"))
	assert.ErrorIs(t, err, service.ErrValidation, "customer relations is not a mechanic")

	_, err = f.svc.AssignStaff(ctx, f.admin, req.ID, ptr("staff-404"))
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = f.svc.AssignStaff(ctx, f.mechanic, req.ID, ptr("staff-1"))
	assert.ErrorIs(t, err, auth.ErrPermissionDenied)

	got, err = f.svc.AssignStaff(ctx, f.admin, req.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedStaffID)
	assert.Nil(t, f.repo.stored(req.ID).AssignedStaffID)
}

func Test_ListRequests_Scopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.create(t)
	theirs, err := f.svc.CreateRequest(ctx, f.stranger, validInput())
	require.NoError(t, err)
	f.move(t, f.admin, theirs.ID, lifecycle.Accepted)
	f.assign(t, theirs.ID, "staff-1")

	own, err := f.svc.ListRequests(ctx, f.requester, service.ListFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.ID, own[0].ID)

	assigned, err := f.svc.ListRequests(ctx, f.mechanic, service.ListFilter{})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, theirs.ID, assigned[0].ID)

	none, err := f.svc.ListRequests(ctx, f.other, service.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)

	accepted, err := f.svc.ListRequests(ctx, f.admin, service.ListFilter{Statuses: []string{"Accepted"}})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, theirs.ID, accepted[0].ID)

	_, err = f.svc.ListRequests(ctx, f.admin, service.ListFilter{Statuses: []string{"Open"}})
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = f.svc.GetRequest(ctx, f.requester, theirs.ID)
	assert.ErrorIs(t, err, auth.ErrPermissionDenied)

	_, err = f.svc.ListRequests(ctx, auth.Session{UserID: "u-x"}, service.ListFilter{})
	assert.ErrorIs(t, err, auth.ErrPermissionDenied)
}

func Test_GetRequest_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetRequest(context.Background(), f.admin, "RR-00000")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func Test_Timeline(t *testing.T) {
	f := newFixture(t)
	req := f.create(t)
	f.repo.timeline = append(f.repo.timeline,
		&domain.TimelineEntry{EventID: "e1", RequestDocID: req.ID, EventType: events.TypeRequestCreated},
		&domain.TimelineEntry{EventID: "e2", RequestDocID: "other", EventType: events.TypeRequestCreated},
	)

	entries, err := f.svc.Timeline(context.Background(), f.requester, req.RequestID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].EventID)

	_, err = f.svc.Timeline(context.Background(), f.stranger, req.ID)
	assert.ErrorIs(t, err, auth.ErrPermissionDenied)
}
