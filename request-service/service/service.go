package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fadedreams/roadassist/internal/auth"
	"fadedreams/roadassist/internal/events"
	"fadedreams/roadassist/internal/lifecycle"
	"fadedreams/roadassist/request-service/domain"
)

var (
	// ErrValidation marks input rejected before any remote call.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a request whose current state does not admit the
	// call, including one that changed after it was read.
	ErrConflict = domain.ErrConflict
)

// Summarizer turns an issue description into a short issue type.
type Summarizer interface {
	Summarize(ctx context.Context, description string) (string, error)
}

// Service implements the business logic for roadside assistance requests.
// Every operation takes the caller's Session and authorizes before writing.
type Service struct {
	repo       domain.Repository
	summarizer Summarizer
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a new instance of the request service. summarizer may be nil.
func NewService(repo domain.Repository, summarizer Summarizer, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		summarizer: summarizer,
		tracer:     otel.Tracer("request-service"),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// fail records err on span and logs it. Caller mistakes log at warn level.
func (s *Service) fail(ctx context.Context, span trace.Span, msg string, err error, args ...any) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)

	level := slog.LevelError
	if errors.Is(err, auth.ErrPermissionDenied) || errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) || errors.Is(err, domain.ErrNotFound) {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, msg, append(args, "error", err)...)
	return err
}

// requireRole rejects sessions whose profile carries no known role.
func requireRole(sess auth.Session) error {
	if sess.Role == auth.RoleUnknown {
		return fmt.Errorf("%w: no role", auth.ErrPermissionDenied)
	}
	return nil
}

func targetOf(req *domain.ServiceRequest) auth.Target {
	return auth.Target{
		RequesterID:           req.RequesterID,
		AssignedStaffID:       req.AssignedTo(),
		Status:                req.Status,
		CancellationRequested: req.CancellationRequested,
	}
}

func validateLocation(l domain.Location) error {
	if math.IsNaN(l.Lat) || l.Lat < -90 || l.Lat > 90 {
		return validationError("latitude %v out of range", l.Lat)
	}
	if math.IsNaN(l.Lng) || l.Lng < -180 || l.Lng > 180 {
		return validationError("longitude %v out of range", l.Lng)
	}
	return nil
}

func validateVehicle(v domain.Vehicle) error {
	var missing []string
	if strings.TrimSpace(v.Make) == "" {
		missing = append(missing, "make")
	}
	if strings.TrimSpace(v.Model) == "" {
		missing = append(missing, "model")
	}
	if strings.TrimSpace(v.Year) == "" {
		missing = append(missing, "year")
	}
	if strings.TrimSpace(v.Plate) == "" {
		missing = append(missing, "plate")
	}
	if len(missing) > 0 {
		return validationError("vehicle %s required", strings.Join(missing, ", "))
	}
	return nil
}

const requestCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newRequestCode returns a human-readable request id such as RR-7K2QD.
func newRequestCode() string {
	id := uuid.New()
	code := make([]byte, 5)
	for i := range code {
		code[i] = requestCodeAlphabet[int(id[i])%len(requestCodeAlphabet)]
	}
	return "RR-" + string(code)
}

// emit appends a lifecycle event to the outbox. The mutation it describes has
// already been stored, so a failure here is logged and not returned.
func (s *Service) emit(ctx context.Context, sess auth.Session, eventType string, req *domain.ServiceRequest, previous lifecycle.Status, note string) {
	ctx, span := s.tracer.Start(ctx, "ServiceEmitEvent")
	defer span.End()

	event := events.RequestEvent{
		EventID:               uuid.NewString(),
		EventType:             eventType,
		OccurredAt:            s.now(),
		RequestDocID:          req.ID,
		RequestID:             req.RequestID,
		RequesterID:           req.RequesterID,
		ProviderID:            req.ProviderID,
		Status:                string(req.Status),
		PreviousStatus:        string(previous),
		AssignedStaffID:       req.AssignedStaffID,
		CancellationRequested: req.CancellationRequested,
		Note:                  note,
		ActorID:               sess.UserID,
		ActorRole:             sess.Role.String(),
	}
	outbox := &domain.OutboxEvent{
		ID:        event.EventID,
		EventType: eventType,
		Event:     event,
		CreatedAt: event.OccurredAt,
	}
	if err := s.repo.SaveOutboxEvent(ctx, outbox); err != nil {
		// Log the error but don't fail the operation
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save outbox event")
		s.logger.Error("Failed to save outbox event", "eventType", eventType, "requestID", req.RequestID, "error", err)
	}
}
