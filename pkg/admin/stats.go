package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/wisbric/tacops/internal/httpserver"
	"github.com/wisbric/tacops/pkg/configcache"
)

// statsResponse is GET /api/admin/stats's JSON shape.
type statsResponse struct {
	DB            dbStats      `json:"db"`
	Sockets       SocketStats  `json:"sockets"`
	Sync          syncStats    `json:"sync"`
	Threats       threatStats  `json:"threats"`
	Messages      messageStats `json:"messages"`
	UptimeSeconds int64        `json:"uptimeSeconds"`
	Memory        SystemStats  `json:"memory"`
	Load          loadStats    `json:"load"`
}

type dbStats struct {
	Users int `json:"users"`
	Teams int `json:"teams"`
}

type syncStats struct {
	Status string `json:"status"`
}

type threatStats struct {
	Active int `json:"active"`
}

type messageStats struct {
	Recent int `json:"recent"`
}

type loadStats struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// recentMessageWindowHours is the lookback window for messages.recent.
const recentMessageWindowHours = 24

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := h.store.CountUsers(ctx)
	if err != nil {
		h.logger.Error("counting users for stats", "error", err)
	}
	teams, err := h.store.CountTeams(ctx)
	if err != nil {
		h.logger.Error("counting teams for stats", "error", err)
	}
	active, err := h.store.CountActiveThreats(ctx)
	if err != nil {
		h.logger.Error("counting active threats for stats", "error", err)
	}
	recent, err := h.store.CountRecentMessages(ctx, recentMessageWindowHours)
	if err != nil {
		h.logger.Error("counting recent messages for stats", "error", err)
	}

	sys := sampleSystem(h.logger)

	resp := statsResponse{
		DB:            dbStats{Users: users, Teams: teams},
		Sockets:       h.gateway.Stats(),
		Sync:          syncStats{Status: "ok"},
		Threats:       threatStats{Active: active},
		Messages:      messageStats{Recent: recent},
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Memory:        sys,
		Load:          loadStats{Load1: sys.Load1, Load5: sys.Load5, Load15: sys.Load15},
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

// ConfigResponse is the shape of GET/PUT /api/admin/config.
type ConfigResponse struct {
	OrgName       string `json:"orgName"`
	CORSOrigin    string `json:"corsOrigin"`
	RetentionDays int    `json:"retentionDays"`
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := h.readConfig(ctx)
	if err != nil {
		h.logger.Error("reading admin config", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to read config")
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) readConfig(ctx context.Context) (ConfigResponse, error) {
	orgName, err := h.config.GetString(ctx, configcache.KeyOrgName)
	if err != nil {
		return ConfigResponse{}, err
	}
	retentionDays, err := h.config.GetInt(ctx, configcache.KeyRetentionDays)
	if err != nil {
		return ConfigResponse{}, err
	}
	return ConfigResponse{
		OrgName:       orgName,
		CORSOrigin:    h.config.CORSOrigin(),
		RetentionDays: retentionDays,
	}, nil
}

func (h *Handler) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigResponse
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := h.config.SetString(ctx, configcache.KeyOrgName, req.OrgName); err != nil {
		h.logger.Error("setting org name", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update config")
		return
	}
	if err := h.config.SetString(ctx, configcache.KeyCORSOrigin, req.CORSOrigin); err != nil {
		h.logger.Error("setting cors origin", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update config")
		return
	}
	if err := h.config.SetInt(ctx, configcache.KeyRetentionDays, req.RetentionDays); err != nil {
		h.logger.Error("setting retention days", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update config")
		return
	}

	httpserver.Respond(w, http.StatusOK, req)
}
