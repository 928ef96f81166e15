// Package handlers implements the edge gateway: it rejects requests without a
// valid identity token and proxies the rest to request-service.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fadedreams/roadassist/internal/auth"
)

// TokenVerifier checks identity tokens.
type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

// Resolver finds a host:port for a named service.
type Resolver interface {
	Resolve(ctx context.Context, name, fallback string) string
}

// Gateway handles HTTP and websocket traffic at the edge.
type Gateway struct {
	verifier TokenVerifier
	resolver Resolver
	upstream string
	fallback string
	proxy    *httputil.ReverseProxy
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewGateway proxies to the service registered as upstream, or to fallbackURL
// when the registry has no healthy instance.
func NewGateway(verifier TokenVerifier, resolver Resolver, upstream, fallbackURL string, logger *slog.Logger) (*Gateway, error) {
	u, err := url.Parse(fallbackURL)
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		verifier: verifier,
		resolver: resolver,
		upstream: upstream,
		fallback: u.Host,
		tracer:   otel.Tracer("api-gateway"),
		logger:   logger,
	}
	g.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(&url.URL{Scheme: "http", Host: g.resolver.Resolve(pr.In.Context(), g.upstream, g.fallback)})
			pr.SetXForwarded()
		},
		Transport:    otelhttp.NewTransport(http.DefaultTransport),
		ErrorHandler: g.proxyError,
	}
	return g, nil
}

func (g *Gateway) Router(serviceName string) *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware(serviceName))
	r.HandleFunc("/health", g.HealthCheck).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(g.authenticate(g.proxy))
	return r
}

// HealthCheck reports gateway liveness.
func (g *Gateway) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authenticate rejects requests whose token does not verify. The token is
// forwarded untouched; request-service resolves the session itself.
func (g *Gateway) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, span := g.tracer.Start(r.Context(), "Authenticate")
		defer span.End()

		raw := r.Header.Get("Authorization")
		if raw == "" {
			raw = r.URL.Query().Get("token")
		}
		identity, err := g.verifier.Verify(raw)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Invalid token")
			g.logger.Info("Rejected unauthenticated request", "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
			return
		}
		span.SetAttributes(attribute.String("userID", identity.UserID))
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	g.logger.Error("Upstream request failed", "upstream", g.upstream, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Upstream unavailable"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
