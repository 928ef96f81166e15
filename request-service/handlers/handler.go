package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fadedreams/roadassist/internal/auth"
	"fadedreams/roadassist/internal/lifecycle"
	"fadedreams/roadassist/request-service/domain"
	"fadedreams/roadassist/request-service/service"
)

// RequestService is the business API served over HTTP.
type RequestService interface {
	ResolveSession(ctx context.Context, id auth.Identity) (auth.Session, error)

	GetProfile(ctx context.Context, sess auth.Session) (*domain.UserProfile, error)
	UpdateProfile(ctx context.Context, sess auth.Session, u service.ProfileUpdate) (*domain.UserProfile, error)
	ConfirmContactPhone(ctx context.Context, sess auth.Session) (*domain.UserProfile, error)
	SetRole(ctx context.Context, sess auth.Session, userID, role string) (*domain.UserProfile, error)

	GetDraft(ctx context.Context, sess auth.Session) (*domain.Draft, error)
	SaveDraft(ctx context.Context, sess auth.Session, in service.DraftInput) (*domain.Draft, error)
	DeleteDraft(ctx context.Context, sess auth.Session) error

	CreateProvider(ctx context.Context, sess auth.Session, in service.ProviderInput) (*domain.ServiceProvider, error)
	UpdateProvider(ctx context.Context, sess auth.Session, id string, in service.ProviderInput) (*domain.ServiceProvider, error)
	DeleteProvider(ctx context.Context, sess auth.Session, id string) error
	GetProvider(ctx context.Context, sess auth.Session, id string) (*domain.ServiceProvider, error)
	ListProviders(ctx context.Context, sess auth.Session) ([]*domain.ServiceProvider, error)
	RankProviders(ctx context.Context, sess auth.Session, q service.RankQuery) (*service.RankResult, error)

	CreateStaff(ctx context.Context, sess auth.Session, in service.StaffInput) (*domain.StaffMember, error)
	UpdateStaff(ctx context.Context, sess auth.Session, id string, in service.StaffInput) (*domain.StaffMember, error)
	DeleteStaff(ctx context.Context, sess auth.Session, id string) error
	ListStaff(ctx context.Context, sess auth.Session) ([]*domain.StaffMember, error)

	CreateRequest(ctx context.Context, sess auth.Session, in service.CreateRequestInput) (*domain.ServiceRequest, error)
	GetRequest(ctx context.Context, sess auth.Session, id string) (*domain.ServiceRequest, error)
	ListRequests(ctx context.Context, sess auth.Session, f service.ListFilter) ([]*domain.ServiceRequest, error)
	UpdateStatus(ctx context.Context, sess auth.Session, id string, c service.StatusChange) (*domain.ServiceRequest, error)
	AssignStaff(ctx context.Context, sess auth.Session, id string, staffID *string) (*domain.ServiceRequest, error)
	RequestCancellation(ctx context.Context, sess auth.Session, id string, in service.CancellationInput) (*domain.ServiceRequest, error)
	RespondToCancellation(ctx context.Context, sess auth.Session, id string, d service.CancellationDecision) (*domain.ServiceRequest, error)
	Timeline(ctx context.Context, sess auth.Session, id string) ([]*domain.TimelineEntry, error)
	Subscribe(ctx context.Context, sess auth.Session, requestID string) (<-chan *domain.ServiceRequest, error)
}

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

// RequestHandler handles request-service HTTP calls
type RequestHandler struct {
	service  RequestService
	verifier TokenVerifier
	upgrader websocket.Upgrader
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewRequestHandler creates a new RequestHandler
func NewRequestHandler(svc RequestService, verifier TokenVerifier, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{
		service:  svc,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		tracer: otel.Tracer("request-service"),
		logger: logger,
	}
}

// Router builds the mux with every route registered.
func (h *RequestHandler) Router(serviceName string) *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware(serviceName))
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(h.authenticate)

	api.HandleFunc("/profile", h.GetProfile).Methods(http.MethodGet)
	api.HandleFunc("/profile", h.UpdateProfile).Methods(http.MethodPut)
	api.HandleFunc("/profile/contact-phone/confirm", h.ConfirmContactPhone).Methods(http.MethodPost)
	api.HandleFunc("/profiles/{userID}/role", h.SetRole).Methods(http.MethodPut)

	api.HandleFunc("/draft", h.GetDraft).Methods(http.MethodGet)
	api.HandleFunc("/draft", h.SaveDraft).Methods(http.MethodPut)
	api.HandleFunc("/draft", h.DeleteDraft).Methods(http.MethodDelete)

	api.HandleFunc("/providers", h.ListProviders).Methods(http.MethodGet)
	api.HandleFunc("/providers", h.CreateProvider).Methods(http.MethodPost)
	api.HandleFunc("/providers/rank", h.RankProviders).Methods(http.MethodPost)
	api.HandleFunc("/providers/{providerID}", h.GetProvider).Methods(http.MethodGet)
	api.HandleFunc("/providers/{providerID}", h.UpdateProvider).Methods(http.MethodPut)
	api.HandleFunc("/providers/{providerID}", h.DeleteProvider).Methods(http.MethodDelete)

	api.HandleFunc("/staff", h.ListStaff).Methods(http.MethodGet)
	api.HandleFunc("/staff", h.CreateStaff).Methods(http.MethodPost)
	api.HandleFunc("/staff/{staffID}", h.UpdateStaff).Methods(http.MethodPut)
	api.HandleFunc("/staff/{staffID}", h.DeleteStaff).Methods(http.MethodDelete)

	api.HandleFunc("/cancellation-reasons", h.CancellationReasons).Methods(http.MethodGet)
	api.HandleFunc("/requests", h.ListRequests).Methods(http.MethodGet)
	api.HandleFunc("/requests", h.CreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{requestID}", h.GetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{requestID}/status", h.UpdateStatus).Methods(http.MethodPut)
	api.HandleFunc("/requests/{requestID}/assignment", h.AssignStaff).Methods(http.MethodPut)
	api.HandleFunc("/requests/{requestID}/cancellation", h.RequestCancellation).Methods(http.MethodPost)
	api.HandleFunc("/requests/{requestID}/cancellation", h.RespondToCancellation).Methods(http.MethodPut)
	api.HandleFunc("/requests/{requestID}/timeline", h.Timeline).Methods(http.MethodGet)

	api.HandleFunc("/ws/requests", h.Subscribe).Methods(http.MethodGet)
	api.HandleFunc("/ws/requests/{requestID}", h.Subscribe).Methods(http.MethodGet)
	return r
}

// HealthCheck provides a health endpoint
func (h *RequestHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// authenticate verifies the bearer token and stores the resolved session on
// the request context. Browsers cannot set headers on websocket upgrades, so
// the token may also arrive as ?token=.
func (h *RequestHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "Authenticate")
		defer span.End()

		raw := r.Header.Get("Authorization")
		if raw == "" {
			raw = r.URL.Query().Get("token")
		}
		identity, err := h.verifier.Verify(raw)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Unauthenticated")
			h.logger.Warn("Rejected request without valid token", "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			return
		}
		sess, err := h.service.ResolveSession(ctx, identity)
		if err != nil {
			h.writeError(w, r, "Failed to resolve session", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sess)))
	})
}

func session(r *http.Request) auth.Session {
	sess, _ := auth.SessionFromContext(r.Context())
	return sess
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, service.ErrValidation), errors.Is(err, lifecycle.ErrUnknownStatus):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError reports err to the client. Internal errors are not echoed.
func (h *RequestHandler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, "error", err, "path", r.URL.Path)
		message = msg
	} else {
		h.logger.Info(msg, "error", err, "status", status, "path", r.URL.Path)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v, answering 400 on failure.
func (h *RequestHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.Info("Failed to decode request body", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (h *RequestHandler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, msg string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	h.writeError(w, r, msg, err)
}
