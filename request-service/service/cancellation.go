package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/internal/auth"
	"fadedreams/roadassist/internal/events"
	"fadedreams/roadassist/internal/lifecycle"
	"fadedreams/roadassist/request-service/domain"
)

// Canned cancellation reasons offered to requesters.
const (
	ReasonProviderTooSlow    = "Provider taking too long"
	ReasonFoundAlternative   = "Found alternative assistance"
	ReasonIssueResolved      = "Issue resolved"
	ReasonRequestedByMistake = "Requested by mistake"
	ReasonOther              = "Other"
)

// CancellationReasons lists the canned reasons in display order.
var CancellationReasons = []string{
	ReasonProviderTooSlow,
	ReasonFoundAlternative,
	ReasonIssueResolved,
	ReasonRequestedByMistake,
	ReasonOther,
}

// CancellationInput is a requester's cancellation request. OtherText is
// required with ReasonOther and is stored as the reason.
type CancellationInput struct {
	Reason    string `json:"reason"`
	OtherText string `json:"otherText"`
}

func (in CancellationInput) reason() (string, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return "", validationError("cancellation reason required")
	}
	if !slices.Contains(CancellationReasons, reason) {
		return "", validationError("unknown cancellation reason %q", reason)
	}
	if reason == ReasonOther {
		text := strings.TrimSpace(in.OtherText)
		if text == "" {
			return "", validationError("describe the reason for cancelling")
		}
		return text, nil
	}
	return reason, nil
}

// CancellationDecision is staff's answer to a pending cancellation.
type CancellationDecision struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes"`
}

// RequestCancellation records a requester's wish to cancel. The status is
// left as it is until staff respond.
func (s *Service) RequestCancellation(ctx context.Context, sess auth.Session, id string, in CancellationInput) (*domain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceRequestCancellation")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", id))

	reason, err := in.reason()
	if err != nil {
		return nil, s.fail(ctx, span, "Invalid cancellation", err)
	}

	req, err := s.load(ctx, sess, id, auth.ActionRequestCancellation, "")
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to request cancellation", err, "requestID", id, "userID", sess.UserID)
	}

	now := s.now()
	req.CancellationRequested = true
	req.CancellationReason = reason
	req.CancellationRequestedAt = &now
	req.CancellationResponse = ""
	req.CancellationResolvedAt = nil
	req.UpdatedAt = now

	if err := s.repo.UpdateRequest(ctx, req); err != nil {
		return nil, s.fail(ctx, span, "Failed to update request", err, "requestID", id)
	}
	s.emit(ctx, sess, events.TypeCancellationRequested, req, req.Status, reason)

	s.logger.Info("Cancellation requested", "requestID", req.RequestID, "status", req.Status, "reason", reason)
	return req.Present(), nil
}

// RespondToCancellation resolves a pending cancellation. Approval cancels the
// request; denial leaves the status unchanged. Either way the notes are kept
// as the response and the pending flag is cleared.
func (s *Service) RespondToCancellation(ctx context.Context, sess auth.Session, id string, d CancellationDecision) (*domain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceRespondToCancellation")
	defer span.End()
	span.SetAttributes(attribute.String("requestID", id), attribute.Bool("approve", d.Approve))

	req, err := s.load(ctx, sess, id, auth.ActionRespondCancellation, "")
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to respond to cancellation", err, "requestID", id, "userID", sess.UserID)
	}
	if !req.CancellationRequested {
		return nil, s.fail(ctx, span, "No pending cancellation", fmt.Errorf("%w: request %s has no pending cancellation", ErrConflict, req.RequestID))
	}

	previous := req.Status
	if d.Approve {
		if err := lifecycle.CheckForward(req.Status, lifecycle.Cancelled, lifecycle.ActorRequesterViaCancellation); err != nil {
			return nil, s.fail(ctx, span, "Cannot cancel request", fmt.Errorf("%w: %w", ErrConflict, err))
		}
		req.Status = lifecycle.Cancelled
	}

	now := s.now()
	req.CancellationRequested = false
	req.CancellationResponse = strings.TrimSpace(d.Notes)
	req.CancellationResolvedAt = &now
	req.UpdatedAt = now

	if err := s.repo.UpdateRequest(ctx, req); err != nil {
		return nil, s.fail(ctx, span, "Failed to update request", err, "requestID", id)
	}
	s.emit(ctx, sess, events.TypeCancellationResolved, req, previous, req.CancellationResponse)

	s.logger.Info("Cancellation resolved", "requestID", req.RequestID, "approved", d.Approve, "status", req.Status, "by", sess.UserID)
	return req.Present(), nil
}
