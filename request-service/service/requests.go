package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/internal/auth"
	"fadedreams/roadassist/internal/events"
	"fadedreams/roadassist/internal/lifecycle"
	"fadedreams/roadassist/request-service/domain"
)

// createAttempts bounds request code regeneration on a code collision.
const createAttempts = 3

// CreateRequestInput is what a requester submits.
type CreateRequestInput struct {
	Location         *domain.Location `json:"location"`
	IssueDescription string           `json:"issueDescription"`
	IssueSummary     string           `json:"issueSummary"`
	Vehicle          domain.Vehicle   `json:"vehicle"`
	ProviderID       string           `json:"providerId"`
}

// CreateRequest stores a new Pending request with a snapshot of the chosen
// provider and removes the caller's draft.
func (s *Service) CreateRequest(ctx context.Context, sess auth.Session, in CreateRequestInput) (*domain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceCreateRequest")
	defer span.End()

	if err := auth.Authorize(sess, auth.ActionCreateRequest, auth.Target{}); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err, "userID", sess.UserID)
	}

	if in.Location == nil {
		return nil, s.fail(ctx, span, "Invalid request", validationError("location required"))
	}
	if err := validateLocation(*in.Location); err != nil {
		return nil, s.fail(ctx, span, "Invalid request", err)
	}
	description := strings.TrimSpace(in.IssueDescription)
	if description == "" {
		return nil, s.fail(ctx, span, "Invalid request", validationError("issue description required"))
	}
	if err := validateVehicle(in.Vehicle); err != nil {
		return nil, s.fail(ctx, span, "Invalid request", err)
	}
	if strings.TrimSpace(in.ProviderID) == "" {
		return nil, s.fail(ctx, span, "Invalid request", validationError("provider required"))
	}

	provider, err := s.repo.GetProvider(ctx, in.ProviderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, s.fail(ctx, span, "Invalid request", validationError("unknown provider %s", in.ProviderID))
	}
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to get provider", err, "providerID", in.ProviderID)
	}

	summary := strings.TrimSpace(in.IssueSummary)
	if summary == "" {
		summary = s.summarize(ctx, description)
	}

	now := s.now()
	req := &domain.ServiceRequest{
		ID:               primitive.NewObjectID().Hex(),
		RequesterID:      sess.UserID,
		Location:         *in.Location,
		IssueDescription: description,
		IssueSummary:     summary,
		Vehicle:          in.Vehicle,
		ProviderID:       provider.ID,
		Provider:         *provider,
		CreatedAt:        now,
		UpdatedAt:        now,
		Status:           lifecycle.Pending,
	}
	for attempt := 1; ; attempt++ {
		req.RequestID = newRequestCode()
		err = s.repo.CreateRequest(ctx, req)
		if err == nil || !errors.Is(err, domain.ErrDuplicate) || attempt == createAttempts {
			break
		}
		s.logger.Warn("Request code collision, generating another", "requestID", req.RequestID)
	}
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to create request", err, "userID", sess.UserID)
	}

	if err := s.repo.DeleteDraft(ctx, sess.UserID); err != nil {
		s.logger.Warn("Failed to delete draft after submission", "userID", sess.UserID, "error", err)
	}
	s.emit(ctx, sess, events.TypeRequestCreated, req, "", "")

	span.SetAttributes(
		attribute.String("requestID", req.RequestID),
		attribute.String("providerID", req.ProviderID),
		attribute.String("issueSummary", summary),
	)
	s.logger.Info("Created request", "requestID", req.RequestID, "requesterID", sess.UserID, "providerID", req.ProviderID)
	return req.Present(), nil
}

// load fetches a request and checks that sess may act on it with a.
func (s *Service) load(ctx context.Context, sess auth.Session, id string, a auth.Action, next lifecycle.Status) (*domain.ServiceRequest, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	target := targetOf(req)
	target.NextStatus = next
	if err := auth.Authorize(sess, a, target); err != nil {
		return nil, err
	}
	return req, nil
}

// GetRequest returns a request the caller may view.
func (s *Service) GetRequest(ctx context.Context, sess auth.Session, id string) (*domain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceGetRequest")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", id))

	req, err := s.load(ctx, sess, id, auth.ActionViewRequest, "")
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to get request", err, "requestID", id, "userID", sess.UserID)
	}
	return req.Present(), nil
}

// ListFilter narrows ListRequests for staff that see every request.
type ListFilter struct {
	Statuses []string
}

// ListRequests returns the requests in the caller's scope, newest first:
// everything for admin and customer relations, assigned requests for a
// mechanic, and own requests for a requester.
func (s *Service) ListRequests(ctx context.Context, sess auth.Session, f ListFilter) ([]*domain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceListRequests")
	defer span.End()

	var filter domain.RequestFilter
	for _, raw := range f.Statuses {
		st, err := lifecycle.Parse(raw)
		if err != nil {
			return nil, s.fail(ctx, span, "Invalid filter", validationError("%v", err))
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	scope, err := auth.ListScope(sess)
	if err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err, "userID", sess.UserID)
	}
	if scope.Empty {
		return []*domain.ServiceRequest{}, nil
	}
	filter.RequesterID = scope.RequesterID
	filter.AssignedStaffID = scope.AssignedStaffID

	requests, err := s.repo.ListRequests(ctx, filter)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to list requests", err)
	}
	visible := make([]*domain.ServiceRequest, 0, len(requests))
	for _, req := range requests {
		if auth.Authorize(sess, auth.ActionViewRequest, targetOf(req)) == nil {
			visible = append(visible, req.Present())
		}
	}
	span.SetAttributes(attribute.Int("requestCount", len(visible)))
	return visible, nil
}

// StatusChange moves a request to Status. Notes and ResourcesUsed, when set,
// replace the stored work log; they are only accepted for In Progress and
// Completed.
type StatusChange struct {
	Status        string  `json:"status"`
	Notes         *string `json:"notes"`
	ResourcesUsed *string `json:"resourcesUsed"`
}

// UpdateStatus applies a status change. Repeating the current status only
// rewrites the work log. Reaching a terminal status clears a pending
// cancellation.
func (s *Service) UpdateStatus(ctx context.Context, sess auth.Session, id string, c StatusChange) (*domain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceUpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", id), attribute.String("to", c.Status))

	to, err := lifecycle.Parse(c.Status)
	if err != nil {
		return nil, s.fail(ctx, span, "Invalid status", validationError("%v", err))
	}
	hasWorkLog := c.Notes != nil || c.ResourcesUsed != nil
	if hasWorkLog && !to.CapturesWorkLog() {
		return nil, s.fail(ctx, span, "Invalid status change", validationError("notes are only recorded for %s and %s", lifecycle.InProgress, lifecycle.Completed))
	}

	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to get request", err, "requestID", id)
	}
	from := req.Status

	target := targetOf(req)
	target.NextStatus = to
	action := auth.ActionChangeStatus
	if from == to {
		if !hasWorkLog {
			return nil, s.fail(ctx, span, "Invalid status change", validationError("request is already %s", to))
		}
		action = auth.ActionUpdateWorkLog
	}
	if err := auth.Authorize(sess, action, target); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err, "requestID", id, "userID", sess.UserID, "from", from, "to", to)
	}

	now := s.now()
	req.Status = to
	if c.Notes != nil {
		req.MechanicNotes = strings.TrimSpace(*c.Notes)
	}
	if c.ResourcesUsed != nil {
		req.ResourcesUsed = strings.TrimSpace(*c.ResourcesUsed)
	}
	if to.Terminal() && req.CancellationRequested {
		req.CancellationRequested = false
		req.CancellationResolvedAt = &now
	}
	req.UpdatedAt = now

	if err := s.repo.UpdateRequest(ctx, req); err != nil {
		return nil, s.fail(ctx, span, "Failed to update request", err, "requestID", id)
	}
	s.emit(ctx, sess, events.TypeStatusChanged, req, from, req.MechanicNotes)

	s.logger.Info("Changed request status", "requestID", req.RequestID, "from", from, "to", to, "by", sess.UserID, "role", sess.Role.String())
	return req.Present(), nil
}

// AssignStaff sets or, with a nil staffID, clears the assigned mechanic.
func (s *Service) AssignStaff(ctx context.Context, sess auth.Session, id string, staffID *string) (*domain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceAssignStaff")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", id))

	req, err := s.load(ctx, sess, id, auth.ActionAssignStaff, "")
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to assign staff", err, "requestID", id, "userID", sess.UserID)
	}

	var assigned *string
	if staffID != nil && strings.TrimSpace(*staffID) != "" {
		staff, err := s.repo.GetStaff(ctx, strings.TrimSpace(*staffID))
		if errors.Is(err, domain.ErrNotFound) {
			return nil, s.fail(ctx, span, "Invalid assignment", validationError("unknown staff member %s", *staffID))
		}
		if err != nil {
			return nil, s.fail(ctx, span, "Failed to get staff member", err)
		}
		if staff.Role != domain.StaffRoleMechanic {
			return nil, s.fail(ctx, span, "Invalid assignment", validationError("staff member %s is not a mechanic", staff.ID))
		}
		assigned = &staff.ID
		span.SetAttributes(attribute.String("staffID", staff.ID))
	}

	req.AssignedStaffID = assigned
	req.UpdatedAt = s.now()
	if err := s.repo.UpdateRequest(ctx, req); err != nil {
		return nil, s.fail(ctx, span, "Failed to update request", err, "requestID", id)
	}
	s.emit(ctx, sess, events.TypeStaffAssigned, req, req.Status, "")

	s.logger.Info("Assigned staff", "requestID", req.RequestID, "staffID", req.AssignedTo())
	return req.Present(), nil
}

// Timeline returns the recorded lifecycle events of a request.
func (s *Service) Timeline(ctx context.Context, sess auth.Session, id string) ([]*domain.TimelineEntry, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceTimeline")
	defer span.End()

	req, err := s.load(ctx, sess, id, auth.ActionViewRequest, "")
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to get request", err, "requestID", id)
	}
	entries, err := s.repo.ListTimeline(ctx, req.ID)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to list timeline", fmt.Errorf("failed to list timeline: %w", err), "requestID", id)
	}
	return entries, nil
}
