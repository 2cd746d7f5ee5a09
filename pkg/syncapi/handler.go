// Package syncapi exposes the sync core's (C4) location, annotation, and
// message submission operations over HTTP, for clients that post samples
// instead of (or in addition to) streaming them over the realtime gateway.
package syncapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/tacops/internal/httpserver"
	"github.com/wisbric/tacops/pkg/authhttp"
	"github.com/wisbric/tacops/pkg/store"
	"github.com/wisbric/tacops/pkg/sync"
)

// Core is the slice of pkg/sync.Core this package needs.
type Core interface {
	SubmitLocation(ctx context.Context, userID uuid.UUID, p sync.LocationPayload) (store.LocationRow, error)
	SubmitAnnotation(ctx context.Context, userID uuid.UUID, p sync.AnnotationPayload) (store.AnnotationRow, error)
	SubmitMessage(ctx context.Context, userID uuid.UUID, p sync.MessagePayload) (store.MessageRow, error)
}

// Handler serves the HTTP submission routes that front the sync core.
type Handler struct {
	core   Core
	logger *slog.Logger
}

// NewHandler creates a syncapi Handler.
func NewHandler(core Core, logger *slog.Logger) *Handler {
	return &Handler{core: core, logger: logger}
}

// Routes returns the routes to mount under /api/sync.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/location", h.handleSubmitLocation)
	r.Post("/annotation", h.handleSubmitAnnotation)
	r.Post("/message", h.handleSubmitMessage)
	return r
}

func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := authhttp.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return uuid.UUID{}, false
	}
	return id.UserID, true
}

func (h *Handler) handleSubmitLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var payload sync.LocationPayload
	if err := httpserver.Decode(r, &payload); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	row, err := h.core.SubmitLocation(r.Context(), userID, payload)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, row)
}

func (h *Handler) handleSubmitAnnotation(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var payload sync.AnnotationPayload
	if err := httpserver.Decode(r, &payload); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	row, err := h.core.SubmitAnnotation(r.Context(), userID, payload)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, row)
}

func (h *Handler) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var payload sync.MessagePayload
	if err := httpserver.Decode(r, &payload); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	row, err := h.core.SubmitMessage(r.Context(), userID, payload)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, row)
}
