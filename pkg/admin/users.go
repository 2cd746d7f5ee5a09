package admin

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/tacops/internal/httpserver"
	"github.com/wisbric/tacops/pkg/store"
	"github.com/wisbric/tacops/pkg/vault"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("listing users", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list users")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// CreateUserRequest is the payload for POST /api/admin/users.
type CreateUserRequest struct {
	DisplayName string `json:"displayName" validate:"required,min=1,max=200"`
	Email       string `json:"email" validate:"omitempty,email"`
	Password    string `json:"password" validate:"required,min=8"`
	IsAdmin     bool   `json:"isAdmin"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	hash, err := vault.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hashing password for new user", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create user")
		return
	}

	var email *string
	if req.Email != "" {
		email = &req.Email
	}

	user, err := h.store.CreateUser(r.Context(), store.CreateUserParams{
		DisplayName:  req.DisplayName,
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      req.IsAdmin,
	})
	if err != nil {
		h.logger.Error("creating user", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create user")
		return
	}
	httpserver.Respond(w, http.StatusCreated, user)
}

// UpdateUserRequest is the payload for PUT /api/admin/users/{id}. Only the
// admin flag is mutable here; display name/email/password changes go
// through the user's own account flows, which this spec doesn't expose.
type UpdateUserRequest struct {
	IsAdmin bool `json:"isAdmin"`
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid user ID")
		return
	}
	var req UpdateUserRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.store.SetUserAdmin(r.Context(), id, req.IsAdmin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.logger.Error("updating user", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update user")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"id": id, "isAdmin": req.IsAdmin})
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid user ID")
		return
	}
	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.logger.Error("deleting user", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete user")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
