package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"fadedreams/roadassist/request-service/service"
)

func (h *RequestHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetProfile")
	defer span.End()

	profile, err := h.service.GetProfile(ctx, session(r))
	if err != nil {
		h.fail(w, r, span, "Failed to get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *RequestHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateProfile")
	defer span.End()

	var update service.ProfileUpdate
	if !h.decode(w, r, &update) {
		return
	}
	profile, err := h.service.UpdateProfile(ctx, session(r), update)
	if err != nil {
		h.fail(w, r, span, "Failed to update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *RequestHandler) ConfirmContactPhone(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmContactPhone")
	defer span.End()

	profile, err := h.service.ConfirmContactPhone(ctx, session(r))
	if err != nil {
		h.fail(w, r, span, "Failed to confirm contact phone", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// SetRole handles PUT /profiles/{userID}/role with {"role": "mechanic"}.
func (h *RequestHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SetRole")
	defer span.End()

	var input struct {
		Role string `json:"role"`
	}
	if !h.decode(w, r, &input) {
		return
	}
	profile, err := h.service.SetRole(ctx, session(r), mux.Vars(r)["userID"], input.Role)
	if err != nil {
		h.fail(w, r, span, "Failed to set role", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *RequestHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetDraft")
	defer span.End()

	draft, err := h.service.GetDraft(ctx, session(r))
	if err != nil {
		h.fail(w, r, span, "Failed to get draft", err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (h *RequestHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SaveDraft")
	defer span.End()

	var input service.DraftInput
	if !h.decode(w, r, &input) {
		return
	}
	draft, err := h.service.SaveDraft(ctx, session(r), input)
	if err != nil {
		h.fail(w, r, span, "Failed to save draft", err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (h *RequestHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "DeleteDraft")
	defer span.End()

	if err := h.service.DeleteDraft(ctx, session(r)); err != nil {
		h.fail(w, r, span, "Failed to delete draft", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
