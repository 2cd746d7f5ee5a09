package admin

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/tacops/internal/httpserver"
)

func (h *Handler) handleListTeams(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListTeams(r.Context())
	if err != nil {
		h.logger.Error("listing teams", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list teams")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// CreateTeamRequest is the payload for POST /api/admin/teams.
type CreateTeamRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

func (h *Handler) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req CreateTeamRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	team, err := h.store.CreateTeam(r.Context(), req.Name)
	if err != nil {
		h.logger.Error("creating team", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create team")
		return
	}
	httpserver.Respond(w, http.StatusCreated, team)
}

// UpdateTeamRequest is the payload for PUT /api/admin/teams/{id}.
type UpdateTeamRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

func (h *Handler) handleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid team ID")
		return
	}
	var req UpdateTeamRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	team, err := h.store.UpdateTeamName(r.Context(), id, req.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "team not found")
			return
		}
		h.logger.Error("updating team", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update team")
		return
	}
	httpserver.Respond(w, http.StatusOK, team)
}

func (h *Handler) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid team ID")
		return
	}
	if err := h.store.DeleteTeam(r.Context(), id); err != nil {
		h.logger.Error("deleting team", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete team")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleListTeamMembers(w http.ResponseWriter, r *http.Request) {
	teamID, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid team ID")
		return
	}
	items, err := h.store.ListTeamMembers(r.Context(), teamID)
	if err != nil {
		h.logger.Error("listing team members", "error", err, "teamId", teamID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list team members")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// AddTeamMemberRequest is the payload for POST /api/admin/teams/{id}/members.
type AddTeamMemberRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
}

func (h *Handler) handleAddTeamMember(w http.ResponseWriter, r *http.Request) {
	teamID, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid team ID")
		return
	}
	var req AddTeamMemberRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	userID, err := parseUUID(req.UserID)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid user ID")
		return
	}
	if err := h.store.CreateMembership(r.Context(), userID, teamID); err != nil {
		h.logger.Error("adding team member", "error", err, "teamId", teamID, "userId", userID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to add team member")
		return
	}
	httpserver.Respond(w, http.StatusCreated, map[string]any{"teamId": teamID, "userId": userID})
}

func (h *Handler) handleRemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	teamID, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid team ID")
		return
	}
	userID, err := parseID(r, "userID")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid user ID")
		return
	}
	if err := h.store.RemoveMembership(r.Context(), userID, teamID); err != nil {
		h.logger.Error("removing team member", "error", err, "teamId", teamID, "userId", userID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to remove team member")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
