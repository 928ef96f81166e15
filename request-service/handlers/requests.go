package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/request-service/service"
)

// CancellationReasons lists the canned reasons a requester can pick.
func (h *RequestHandler) CancellationReasons(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, service.CancellationReasons)
}

// ListRequests handles GET /requests?status=Pending,Accepted
func (h *RequestHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListRequests")
	defer span.End()

	var filter service.ListFilter
	for _, raw := range r.URL.Query()["status"] {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				filter.Statuses = append(filter.Statuses, st)
			}
		}
	}

	requests, err := h.service.ListRequests(ctx, session(r), filter)
	if err != nil {
		h.fail(w, r, span, "Failed to list requests", err)
		return
	}
	span.SetAttributes(attribute.Int("requestCount", len(requests)))
	writeJSON(w, http.StatusOK, requests)
}

func (h *RequestHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateRequest")
	defer span.End()

	var input service.CreateRequestInput
	if !h.decode(w, r, &input) {
		return
	}
	req, err := h.service.CreateRequest(ctx, session(r), input)
	if err != nil {
		h.fail(w, r, span, "Failed to create request", err)
		return
	}
	span.SetAttributes(attribute.String("requestID", req.RequestID))
	writeJSON(w, http.StatusCreated, req)
}

func (h *RequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetRequest")
	defer span.End()

	req, err := h.service.GetRequest(ctx, session(r), mux.Vars(r)["requestID"])
	if err != nil {
		h.fail(w, r, span, "Failed to get request", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *RequestHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateStatus")
	defer span.End()

	var change service.StatusChange
	if !h.decode(w, r, &change) {
		return
	}
	req, err := h.service.UpdateStatus(ctx, session(r), mux.Vars(r)["requestID"], change)
	if err != nil {
		h.fail(w, r, span, "Failed to update status", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// AssignStaff handles PUT /requests/{requestID}/assignment with
// {"staffId": "..."}; a null or empty staffId clears the assignment.
func (h *RequestHandler) AssignStaff(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AssignStaff")
	defer span.End()

	var input struct {
		StaffID *string `json:"staffId"`
	}
	if !h.decode(w, r, &input) {
		return
	}
	req, err := h.service.AssignStaff(ctx, session(r), mux.Vars(r)["requestID"], input.StaffID)
	if err != nil {
		h.fail(w, r, span, "Failed to assign staff", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *RequestHandler) RequestCancellation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RequestCancellation")
	defer span.End()

	var input service.CancellationInput
	if !h.decode(w, r, &input) {
		return
	}
	req, err := h.service.RequestCancellation(ctx, session(r), mux.Vars(r)["requestID"], input)
	if err != nil {
		h.fail(w, r, span, "Failed to request cancellation", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *RequestHandler) RespondToCancellation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RespondToCancellation")
	defer span.End()

	var decision service.CancellationDecision
	if !h.decode(w, r, &decision) {
		return
	}
	req, err := h.service.RespondToCancellation(ctx, session(r), mux.Vars(r)["requestID"], decision)
	if err != nil {
		h.fail(w, r, span, "Failed to respond to cancellation", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *RequestHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Timeline")
	defer span.End()

	entries, err := h.service.Timeline(ctx, session(r), mux.Vars(r)["requestID"])
	if err != nil {
		h.fail(w, r, span, "Failed to get timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
