package service

import (
	"context"
	"strings"

	"fadedreams/roadassist/internal/auth"
	"fadedreams/roadassist/request-service/domain"
)

// DraftInput is what a requester has entered so far.
type DraftInput struct {
	Location         *domain.Location `json:"location"`
	IssueDescription string           `json:"issueDescription"`
	IssueSummary     string           `json:"issueSummary"`
	Vehicle          *domain.Vehicle  `json:"vehicle"`
	ProviderID       string           `json:"providerId"`
}

// SaveDraft overwrites the caller's draft.
func (s *Service) SaveDraft(ctx context.Context, sess auth.Session, in DraftInput) (*domain.Draft, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceSaveDraft")
	defer span.End()

	if err := auth.Authorize(sess, auth.ActionManageDraft, auth.Target{}); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err, "userID", sess.UserID)
	}
	if in.Location != nil {
		if err := validateLocation(*in.Location); err != nil {
			return nil, s.fail(ctx, span, "Invalid draft", err)
		}
	}

	draft := &domain.Draft{
		UserID:           sess.UserID,
		Location:         in.Location,
		IssueDescription: strings.TrimSpace(in.IssueDescription),
		IssueSummary:     strings.TrimSpace(in.IssueSummary),
		Vehicle:          in.Vehicle,
		ProviderID:       in.ProviderID,
		UpdatedAt:        s.now(),
	}
	if err := s.repo.SaveDraft(ctx, draft); err != nil {
		return nil, s.fail(ctx, span, "Failed to save draft", err, "userID", sess.UserID)
	}
	return draft, nil
}

func (s *Service) GetDraft(ctx context.Context, sess auth.Session) (*domain.Draft, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceGetDraft")
	defer span.End()

	if err := auth.Authorize(sess, auth.ActionManageDraft, auth.Target{}); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err, "userID", sess.UserID)
	}
	draft, err := s.repo.GetDraft(ctx, sess.UserID)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to get draft", err, "userID", sess.UserID)
	}
	return draft, nil
}

func (s *Service) DeleteDraft(ctx context.Context, sess auth.Session) error {
	ctx, span := s.tracer.Start(ctx, "ServiceDeleteDraft")
	defer span.End()

	if err := auth.Authorize(sess, auth.ActionManageDraft, auth.Target{}); err != nil {
		return s.fail(ctx, span, "Permission denied", err, "userID", sess.UserID)
	}
	if err := s.repo.DeleteDraft(ctx, sess.UserID); err != nil {
		return s.fail(ctx, span, "Failed to delete draft", err, "userID", sess.UserID)
	}
	return nil
}
