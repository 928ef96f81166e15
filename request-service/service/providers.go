package service

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/internal/auth"
	"fadedreams/roadassist/request-service/domain"
	"fadedreams/roadassist/request-service/ranking"
)

// ProviderInput is the editable part of a provider.
type ProviderInput struct {
	Name            string          `json:"name"`
	Phone           string          `json:"phone"`
	Location        domain.Location `json:"location"`
	GeneralLocation string          `json:"generalLocation"`
	Services        []string        `json:"services"`
	ETAMinutes      int             `json:"etaMinutes"`
}

func (in ProviderInput) normalize() (ProviderInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.GeneralLocation = strings.TrimSpace(in.GeneralLocation)
	services := make([]string, 0, len(in.Services))
	for _, svc := range in.Services {
		if svc = strings.TrimSpace(svc); svc != "" {
			services = append(services, svc)
		}
	}
	in.Services = services

	if in.Name == "" {
		return in, validationError("provider name required")
	}
	if len(in.Services) == 0 {
		return in, validationError("provider must offer at least one service")
	}
	if in.ETAMinutes < 0 {
		return in, validationError("eta must not be negative")
	}
	return in, validateLocation(in.Location)
}

func (s *Service) CreateProvider(ctx context.Context, sess auth.Session, in ProviderInput) (*domain.ServiceProvider, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceCreateProvider")
	defer span.End()

	if err := auth.Authorize(sess, auth.ActionManageProviders, auth.Target{}); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err, "userID", sess.UserID)
	}
	in, err := in.normalize()
	if err != nil {
		return nil, s.fail(ctx, span, "Invalid provider", err)
	}

	now := s.now()
	p := &domain.ServiceProvider{
		ID:              primitive.NewObjectID().Hex(),
		Name:            in.Name,
		Phone:           in.Phone,
		Location:        in.Location,
		GeneralLocation: in.GeneralLocation,
		Services:        in.Services,
		ETAMinutes:      in.ETAMinutes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateProvider(ctx, p); err != nil {
		return nil, s.fail(ctx, span, "Failed to create provider", err)
	}
	span.SetAttributes(attribute.String("providerID", p.ID))
	s.logger.Info("Created provider", "providerID", p.ID, "name", p.Name)
	return p, nil
}

func (s *Service) UpdateProvider(ctx context.Context, sess auth.Session, id string, in ProviderInput) (*domain.ServiceProvider, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceUpdateProvider")
	defer span.End()
	span.SetAttributes(attribute.String("providerID", id))

	if err := auth.Authorize(sess, auth.ActionManageProviders, auth.Target{}); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err, "userID", sess.UserID)
	}
	in, err := in.normalize()
	if err != nil {
		return nil, s.fail(ctx, span, "Invalid provider", err)
	}

	p, err := s.repo.GetProvider(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to get provider", err, "providerID", id)
	}
	p.Name = in.Name
	p.Phone = in.Phone
	p.Location = in.Location
	p.GeneralLocation = in.GeneralLocation
	p.Services = in.Services
	p.ETAMinutes = in.ETAMinutes
	p.UpdatedAt = s.now()

	if err := s.repo.UpdateProvider(ctx, p); err != nil {
		return nil, s.fail(ctx, span, "Failed to update provider", err, "providerID", id)
	}
	s.logger.Info("Updated provider", "providerID", id)
	return p, nil
}

// DeleteProvider removes a provider. Requests keep their embedded snapshot.
func (s *Service) DeleteProvider(ctx context.Context, sess auth.Session, id string) error {
	ctx, span := s.tracer.Start(ctx, "ServiceDeleteProvider")
	defer span.End()

	if err := auth.Authorize(sess, auth.ActionManageProviders, auth.Target{}); err != nil {
		return s.fail(ctx, span, "Permission denied", err, "userID", sess.UserID)
	}
	if err := s.repo.DeleteProvider(ctx, id); err != nil {
		return s.fail(ctx, span, "Failed to delete provider", err, "providerID", id)
	}
	s.logger.Info("Deleted provider", "providerID", id)
	return nil
}

func (s *Service) GetProvider(ctx context.Context, sess auth.Session, id string) (*domain.ServiceProvider, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceGetProvider")
	defer span.End()

	if err := requireRole(sess); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err)
	}
	p, err := s.repo.GetProvider(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to get provider", err, "providerID", id)
	}
	return p, nil
}

func (s *Service) ListProviders(ctx context.Context, sess auth.Session) ([]*domain.ServiceProvider, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceListProviders")
	defer span.End()

	if err := requireRole(sess); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err)
	}
	providers, err := s.repo.ListProviders(ctx)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to list providers", err)
	}
	return providers, nil
}

// RankQuery describes the requester for RankProviders. All fields are
// optional; a description is summarized when no summary is given.
type RankQuery struct {
	Location         *domain.Location `json:"location"`
	IssueSummary     string           `json:"issueSummary"`
	IssueDescription string           `json:"issueDescription"`
}

// RankResult carries the ranked providers and the summary used to filter them.
type RankResult struct {
	IssueSummary string                   `json:"issueSummary"`
	Providers    []ranking.RankedProvider `json:"providers"`
}

// RankProviders orders the providers for a requester.
func (s *Service) RankProviders(ctx context.Context, sess auth.Session, q RankQuery) (*RankResult, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceRankProviders")
	defer span.End()

	if err := requireRole(sess); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err)
	}
	if q.Location != nil {
		if err := validateLocation(*q.Location); err != nil {
			return nil, s.fail(ctx, span, "Invalid location", err)
		}
	}

	summary := strings.TrimSpace(q.IssueSummary)
	if summary == "" {
		summary = s.summarize(ctx, q.IssueDescription)
	}

	providers, err := s.repo.ListProviders(ctx)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to list providers", err)
	}
	ranked := ranking.Rank(ranking.Input{Location: q.Location, Providers: providers, IssueSummary: summary})

	span.SetAttributes(
		attribute.String("issueSummary", summary),
		attribute.Bool("hasLocation", q.Location != nil),
		attribute.Int("providerCount", len(ranked)),
	)
	return &RankResult{IssueSummary: summary, Providers: ranked}, nil
}

// summarize asks the helper for an issue type. Failures are logged and
// yield "", leaving the summary to manual entry.
func (s *Service) summarize(ctx context.Context, description string) string {
	description = strings.TrimSpace(description)
	if description == "" || s.summarizer == nil {
		return ""
	}
	summary, err := s.summarizer.Summarize(ctx, description)
	if err != nil {
		s.logger.Warn("Summarizer unavailable, continuing without summary", "error", err)
		return ""
	}
	return summary
}
