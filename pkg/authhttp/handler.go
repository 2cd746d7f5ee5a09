package authhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/tacops/internal/errs"
	"github.com/wisbric/tacops/internal/httpserver"
	"github.com/wisbric/tacops/pkg/configcache"
	"github.com/wisbric/tacops/pkg/store"
	"github.com/wisbric/tacops/pkg/vault"
)

// UserStore is the persistence-adapter slice this package needs. A small
// interface rather than *store.Store keeps this package decoupled from the
// concrete persistence layer, the same way pkg/configcache.Store does.
type UserStore interface {
	CreateUser(ctx context.Context, p store.CreateUserParams) (store.UserRow, error)
	GetUser(ctx context.Context, id uuid.UUID) (store.UserRow, error)
	GetUserByEmail(ctx context.Context, email string) (store.UserRow, error)
	GetUserByDisplayName(ctx context.Context, displayName string) (store.UserRow, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

// Handler serves the setup, login, and whoami endpoints.
type Handler struct {
	store   UserStore
	config  *configcache.Cache
	vault   *vault.Vault
	limiter *vault.RateLimiter
	logger  *slog.Logger
}

// NewHandler creates an authhttp Handler. limiter is C1's Redis-backed login
// rate limiter, shared with anything else that needs to throttle by client IP.
func NewHandler(s UserStore, config *configcache.Cache, v *vault.Vault, limiter *vault.RateLimiter, logger *slog.Logger) *Handler {
	return &Handler{store: s, config: config, vault: v, limiter: limiter, logger: logger}
}

// Routes returns a chi.Router with the setup and login routes mounted,
// intended for Server.PublicAPIRouter (no bearer token is available yet).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/setup/complete", h.handleCompleteSetup)
	r.Post("/auth/login", h.handleLogin)
	return r
}

// AuthenticatedRoutes returns the routes that require a valid bearer token,
// intended for Server.APIRouter.
func (h *Handler) AuthenticatedRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/auth/whoami", h.handleWhoami)
	return r
}

// CompleteSetupRequest is the one-shot setup payload: the initial
// administrator account plus the org-wide settings gated behind it.
type CompleteSetupRequest struct {
	AdminDisplayName string `json:"adminDisplayName" validate:"required,min=1,max=120"`
	AdminEmail       string `json:"adminEmail" validate:"omitempty,email"`
	AdminPassword    string `json:"adminPassword" validate:"required,min=8"`
	OrgName          string `json:"orgName" validate:"required,min=1,max=200"`
	CORSOrigin       string `json:"corsOrigin" validate:"required"`
	RetentionDays    int    `json:"retentionDays" validate:"required,gte=1"`
}

type setupResponse struct {
	UserID  uuid.UUID `json:"userId"`
	OrgName string    `json:"orgName"`
}

// handleCompleteSetup seeds the first administrator and persists the org
// config, rejecting a second call once setup has already completed.
func (h *Handler) handleCompleteSetup(w http.ResponseWriter, r *http.Request) {
	if h.config.IsSetupComplete(r.Context()) {
		httpserver.RespondError(w, http.StatusConflict, "conflict", "setup has already been completed")
		return
	}

	var req CompleteSetupRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	hash, err := vault.HashPassword(req.AdminPassword)
	if err != nil {
		h.logger.Error("hashing admin password", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to complete setup")
		return
	}

	var email *string
	if req.AdminEmail != "" {
		email = &req.AdminEmail
	}

	user, err := h.store.CreateUser(r.Context(), store.CreateUserParams{
		DisplayName:  req.AdminDisplayName,
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      true,
	})
	if err != nil {
		h.logger.Error("creating initial admin user", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to complete setup")
		return
	}

	ctx := r.Context()
	if err := h.config.SetString(ctx, configcache.KeyOrgName, req.OrgName); err != nil {
		h.logger.Error("persisting org name", "error", err)
	}
	if err := h.config.SetString(ctx, configcache.KeyCORSOrigin, req.CORSOrigin); err != nil {
		h.logger.Error("persisting cors origin", "error", err)
	}
	if err := h.config.SetInt(ctx, configcache.KeyRetentionDays, req.RetentionDays); err != nil {
		h.logger.Error("persisting retention days", "error", err)
	}
	if err := h.config.CompleteSetup(ctx); err != nil {
		h.logger.Error("marking setup complete", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to complete setup")
		return
	}

	h.logger.Info("setup completed", "admin_user_id", user.ID, "org_name", req.OrgName)
	httpserver.Respond(w, http.StatusCreated, setupResponse{UserID: user.ID, OrgName: req.OrgName})
}

// LoginRequest accepts either an email or a username (display name); exactly
// one of the two identifies the account.
type LoginRequest struct {
	Email    string `json:"email" validate:"omitempty,email"`
	Username string `json:"username" validate:"omitempty"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if req.Email == "" && req.Username == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "email or username is required")
		return
	}

	ip := httpserver.ClientIP(r)
	if h.limiter != nil {
		result, err := h.limiter.Check(r.Context(), ip)
		if err != nil {
			h.logger.Error("checking login rate limit", "error", err)
		} else if !result.Allowed {
			httpserver.RespondError(w, http.StatusTooManyRequests, "rate_limited",
				fmt.Sprintf("too many failed login attempts, retry after %s", result.RetryAt.UTC().Format(time.RFC3339)))
			return
		}
	}

	user, err := h.lookupUser(r.Context(), req.Email, req.Username)
	if err != nil {
		h.recordFailure(r.Context(), ip)
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "invalid credentials")
			return
		}
		h.logger.Error("looking up user for login", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "login failed")
		return
	}

	ok, needsRehash := vault.VerifyPassword(req.Password, user.PasswordHash)
	if !ok {
		h.recordFailure(r.Context(), ip)
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "invalid credentials")
		return
	}

	if needsRehash {
		if rehashed, err := vault.HashPassword(req.Password); err == nil {
			if err := h.store.UpdatePasswordHash(r.Context(), user.ID, rehashed); err != nil {
				h.logger.Warn("opportunistic password rehash failed", "error", err, "user_id", user.ID)
			}
		}
	}

	if h.limiter != nil {
		if err := h.limiter.Reset(r.Context(), ip); err != nil {
			h.logger.Warn("resetting login rate limit", "error", err)
		}
	}

	token, err := h.vault.Sign(vault.Claims{Subject: user.ID.String(), Admin: user.IsAdmin}, vault.DefaultTokenTTL)
	if err != nil {
		h.logger.Error("signing login token", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "login failed")
		return
	}

	httpserver.Respond(w, http.StatusOK, loginResponse{Token: token})
}

// lookupUser resolves whichever identifier the client supplied.
func (h *Handler) lookupUser(ctx context.Context, email, username string) (store.UserRow, error) {
	if email != "" {
		return h.store.GetUserByEmail(ctx, email)
	}
	return h.store.GetUserByDisplayName(ctx, username)
}

func (h *Handler) recordFailure(ctx context.Context, ip string) {
	if h.limiter == nil {
		return
	}
	if err := h.limiter.Record(ctx, ip); err != nil {
		h.logger.Warn("recording failed login attempt", "error", err)
	}
}

type whoamiResponse struct {
	ID      uuid.UUID `json:"id"`
	IsAdmin bool      `json:"isAdmin"`
	Name    string    `json:"name"`
}

func (h *Handler) handleWhoami(w http.ResponseWriter, r *http.Request) {
	id, ok := FromContext(r.Context())
	if !ok {
		httpserver.RespondErr(w, h.logger, errs.New(errs.Unauthenticated, "no identity on request"))
		return
	}

	user, err := h.store.GetUser(r.Context(), id.UserID)
	if err != nil {
		h.logger.Error("looking up user for whoami", "error", err, "user_id", id.UserID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load profile")
		return
	}

	httpserver.Respond(w, http.StatusOK, whoamiResponse{ID: id.UserID, IsAdmin: id.IsAdmin, Name: user.DisplayName})
}
