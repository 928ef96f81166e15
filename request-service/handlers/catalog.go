package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/request-service/service"
)

func (h *RequestHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListProviders")
	defer span.End()

	providers, err := h.service.ListProviders(ctx, session(r))
	if err != nil {
		h.fail(w, r, span, "Failed to list providers", err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (h *RequestHandler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateProvider")
	defer span.End()

	var input service.ProviderInput
	if !h.decode(w, r, &input) {
		return
	}
	p, err := h.service.CreateProvider(ctx, session(r), input)
	if err != nil {
		h.fail(w, r, span, "Failed to create provider", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *RequestHandler) GetProvider(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetProvider")
	defer span.End()

	p, err := h.service.GetProvider(ctx, session(r), mux.Vars(r)["providerID"])
	if err != nil {
		h.fail(w, r, span, "Failed to get provider", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *RequestHandler) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateProvider")
	defer span.End()

	var input service.ProviderInput
	if !h.decode(w, r, &input) {
		return
	}
	p, err := h.service.UpdateProvider(ctx, session(r), mux.Vars(r)["providerID"], input)
	if err != nil {
		h.fail(w, r, span, "Failed to update provider", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *RequestHandler) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "DeleteProvider")
	defer span.End()

	if err := h.service.DeleteProvider(ctx, session(r), mux.Vars(r)["providerID"]); err != nil {
		h.fail(w, r, span, "Failed to delete provider", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RankProviders orders providers for the caller's location and issue.
func (h *RequestHandler) RankProviders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RankProviders")
	defer span.End()

	var query service.RankQuery
	if !h.decode(w, r, &query) {
		return
	}
	result, err := h.service.RankProviders(ctx, session(r), query)
	if err != nil {
		h.fail(w, r, span, "Failed to rank providers", err)
		return
	}
	span.SetAttributes(attribute.Int("providerCount", len(result.Providers)))
	writeJSON(w, http.StatusOK, result)
}

func (h *RequestHandler) ListStaff(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListStaff")
	defer span.End()

	staff, err := h.service.ListStaff(ctx, session(r))
	if err != nil {
		h.fail(w, r, span, "Failed to list staff", err)
		return
	}
	writeJSON(w, http.StatusOK, staff)
}

func (h *RequestHandler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateStaff")
	defer span.End()

	var input service.StaffInput
	if !h.decode(w, r, &input) {
		return
	}
	m, err := h.service.CreateStaff(ctx, session(r), input)
	if err != nil {
		h.fail(w, r, span, "Failed to create staff member", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *RequestHandler) UpdateStaff(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateStaff")
	defer span.End()

	var input service.StaffInput
	if !h.decode(w, r, &input) {
		return
	}
	m, err := h.service.UpdateStaff(ctx, session(r), mux.Vars(r)["staffID"], input)
	if err != nil {
		h.fail(w, r, span, "Failed to update staff member", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *RequestHandler) DeleteStaff(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "DeleteStaff")
	defer span.End()

	if err := h.service.DeleteStaff(ctx, session(r), mux.Vars(r)["staffID"]); err != nil {
		h.fail(w, r, span, "Failed to delete staff member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
