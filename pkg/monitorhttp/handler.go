// Package monitorhttp serves the social-media monitor CRUD/start-stop API
// and the threat review API that sits alongside it.
package monitorhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/tacops/internal/httpserver"
	"github.com/wisbric/tacops/pkg/authhttp"
	"github.com/wisbric/tacops/pkg/store"
)

// Supervisor is the slice of pkg/supervisor.Supervisor this package needs.
type Supervisor interface {
	Start(ctx context.Context, monitor store.MonitorRow) error
	Stop(ctx context.Context, monitorID uuid.UUID) error
}

// Store is the persistence-adapter slice this package needs.
type Store interface {
	CreateMonitor(ctx context.Context, p store.CreateMonitorParams) (store.MonitorRow, error)
	GetMonitor(ctx context.Context, id uuid.UUID) (store.MonitorRow, error)
	ListMonitors(ctx context.Context) ([]store.MonitorRow, error)
	UpdateMonitor(ctx context.Context, p store.UpdateMonitorParams) (store.MonitorRow, error)
	SetMonitorActive(ctx context.Context, id uuid.UUID, active bool) error
	DeleteMonitor(ctx context.Context, id uuid.UUID) error

	ListThreats(ctx context.Context, area string, limit int) ([]store.ThreatRow, error)
	GetThreat(ctx context.Context, id uuid.UUID) (store.ThreatRow, error)
	SetThreatAdminStatus(ctx context.Context, id uuid.UUID, status string) error
}

// Handler serves the monitor and threat-review routes.
type Handler struct {
	store      Store
	supervisor Supervisor
	logger     *slog.Logger
}

// NewHandler creates a monitorhttp Handler.
func NewHandler(s Store, supervisor Supervisor, logger *slog.Logger) *Handler {
	return &Handler{store: s, supervisor: supervisor, logger: logger}
}

// MonitorRoutes returns the routes to mount under /api/social-media/monitors.
func (h *Handler) MonitorRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreateMonitor)
	r.Get("/", h.handleListMonitors)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGetMonitor)
		r.Put("/", h.handleUpdateMonitor)
		r.Delete("/", h.handleDeleteMonitor)
		r.Post("/start", h.handleStartMonitor)
		r.Post("/stop", h.handleStopMonitor)
	})
	return r
}

// ThreatRoutes returns the routes to mount under /api/social-media/threats.
func (h *Handler) ThreatRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleListThreats)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGetThreat)
		r.Put("/status", h.handleSetThreatStatus)
	})
	return r
}

func parseMonitorID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// CreateMonitorRequest is the payload for POST /api/social-media/monitors.
type CreateMonitorRequest struct {
	Area            string   `json:"area" validate:"required,min=1,max=200"`
	TopicalFocus    string   `json:"topicalFocus" validate:"omitempty,max=500"`
	AllowedDomains  []string `json:"allowedDomains" validate:"omitempty,dive,required"`
	IntervalSeconds int      `json:"intervalSeconds" validate:"required,gte=30"`
}

func (h *Handler) handleCreateMonitor(w http.ResponseWriter, r *http.Request) {
	var req CreateMonitorRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id, ok := authhttp.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	var topicalFocus *string
	if req.TopicalFocus != "" {
		topicalFocus = &req.TopicalFocus
	}

	monitor, err := h.store.CreateMonitor(r.Context(), store.CreateMonitorParams{
		Area:            req.Area,
		TopicalFocus:    topicalFocus,
		AllowedDomains:  req.AllowedDomains,
		IntervalSeconds: req.IntervalSeconds,
		CreatedBy:       id.UserID,
	})
	if err != nil {
		h.logger.Error("creating monitor", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create monitor")
		return
	}
	httpserver.Respond(w, http.StatusCreated, monitor)
}

func (h *Handler) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListMonitors(r.Context())
	if err != nil {
		h.logger.Error("listing monitors", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list monitors")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	id, err := parseMonitorID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid monitor ID")
		return
	}
	monitor, err := h.store.GetMonitor(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "monitor not found")
			return
		}
		h.logger.Error("getting monitor", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get monitor")
		return
	}
	httpserver.Respond(w, http.StatusOK, monitor)
}

// UpdateMonitorRequest is the payload for PUT /api/social-media/monitors/{id}.
type UpdateMonitorRequest struct {
	Area            string   `json:"area" validate:"required,min=1,max=200"`
	TopicalFocus    string   `json:"topicalFocus" validate:"omitempty,max=500"`
	AllowedDomains  []string `json:"allowedDomains" validate:"omitempty,dive,required"`
	IntervalSeconds int      `json:"intervalSeconds" validate:"required,gte=30"`
}

func (h *Handler) handleUpdateMonitor(w http.ResponseWriter, r *http.Request) {
	id, err := parseMonitorID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid monitor ID")
		return
	}
	var req UpdateMonitorRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	var topicalFocus *string
	if req.TopicalFocus != "" {
		topicalFocus = &req.TopicalFocus
	}

	monitor, err := h.store.UpdateMonitor(r.Context(), store.UpdateMonitorParams{
		ID:              id,
		Area:            req.Area,
		TopicalFocus:    topicalFocus,
		AllowedDomains:  req.AllowedDomains,
		IntervalSeconds: req.IntervalSeconds,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "monitor not found")
			return
		}
		h.logger.Error("updating monitor", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update monitor")
		return
	}
	httpserver.Respond(w, http.StatusOK, monitor)
}

func (h *Handler) handleDeleteMonitor(w http.ResponseWriter, r *http.Request) {
	id, err := parseMonitorID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid monitor ID")
		return
	}
	if err := h.supervisor.Stop(r.Context(), id); err != nil {
		h.logger.Warn("stopping monitor before delete", "error", err, "id", id)
	}
	if err := h.store.DeleteMonitor(r.Context(), id); err != nil {
		h.logger.Error("deleting monitor", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete monitor")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleStartMonitor(w http.ResponseWriter, r *http.Request) {
	id, err := parseMonitorID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid monitor ID")
		return
	}
	monitor, err := h.store.GetMonitor(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "monitor not found")
			return
		}
		h.logger.Error("getting monitor to start", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to start monitor")
		return
	}

	if err := h.store.SetMonitorActive(r.Context(), id, true); err != nil {
		h.logger.Error("marking monitor active", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to start monitor")
		return
	}
	monitor.Active = true

	if err := h.supervisor.Start(r.Context(), monitor); err != nil {
		h.logger.Error("scheduling monitor", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to start monitor")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *Handler) handleStopMonitor(w http.ResponseWriter, r *http.Request) {
	id, err := parseMonitorID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid monitor ID")
		return
	}
	if err := h.store.SetMonitorActive(r.Context(), id, false); err != nil {
		h.logger.Error("marking monitor inactive", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to stop monitor")
		return
	}
	if err := h.supervisor.Stop(r.Context(), id); err != nil {
		h.logger.Error("stopping monitor", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to stop monitor")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handler) handleListThreats(w http.ResponseWriter, r *http.Request) {
	area := r.URL.Query().Get("area")
	limit := 50
	items, err := h.store.ListThreats(r.Context(), area, limit)
	if err != nil {
		h.logger.Error("listing threats", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list threats")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) handleGetThreat(w http.ResponseWriter, r *http.Request) {
	id, err := parseMonitorID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid threat ID")
		return
	}
	threat, err := h.store.GetThreat(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "threat not found")
			return
		}
		h.logger.Error("getting threat", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get threat")
		return
	}
	httpserver.Respond(w, http.StatusOK, threat)
}

// SetThreatStatusRequest is the payload for PUT /api/social-media/threats/{id}/status.
type SetThreatStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending reviewed approved dismissed"`
}

func (h *Handler) handleSetThreatStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseMonitorID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid threat ID")
		return
	}
	var req SetThreatStatusRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.store.SetThreatAdminStatus(r.Context(), id, req.Status); err != nil {
		h.logger.Error("setting threat status", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update threat status")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": req.Status})
}
