// Package admin serves the operator-facing administration API: system
// stats, org-wide config, and user/team management.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/tacops/pkg/configcache"
	"github.com/wisbric/tacops/pkg/store"
)

// Store is the persistence-adapter slice this package needs.
type Store interface {
	CountUsers(ctx context.Context) (int, error)
	CountTeams(ctx context.Context) (int, error)
	CountActiveThreats(ctx context.Context) (int, error)
	CountRecentMessages(ctx context.Context, sinceHours int) (int, error)

	ListUsers(ctx context.Context) ([]store.UserRow, error)
	CreateUser(ctx context.Context, p store.CreateUserParams) (store.UserRow, error)
	SetUserAdmin(ctx context.Context, id uuid.UUID, isAdmin bool) error
	DeleteUser(ctx context.Context, id uuid.UUID) error

	ListTeams(ctx context.Context) ([]store.TeamRow, error)
	CreateTeam(ctx context.Context, name string) (store.TeamRow, error)
	UpdateTeamName(ctx context.Context, id uuid.UUID, name string) (store.TeamRow, error)
	DeleteTeam(ctx context.Context, id uuid.UUID) error

	ListTeamMembers(ctx context.Context, teamID uuid.UUID) ([]store.TeamMemberRow, error)
	CreateMembership(ctx context.Context, userID, teamID uuid.UUID) error
	RemoveMembership(ctx context.Context, userID, teamID uuid.UUID) error
}

// SocketStats mirrors the fields of pkg/realtime.Gateway.Stats's return
// value. Duplicated here (rather than importing pkg/realtime) so this
// package's Gateway interface can be satisfied by a lightweight adapter,
// the same decoupling this package already applies to Store.
type SocketStats struct {
	TotalConnections         int              `json:"totalConnections"`
	AuthenticatedConnections int              `json:"authenticatedConnections"`
	Rooms                    []SocketRoomStat `json:"rooms"`
}

// SocketRoomStat mirrors pkg/realtime.RoomStat.
type SocketRoomStat struct {
	TeamID  uuid.UUID `json:"teamId"`
	Members int       `json:"members"`
}

// Gateway is the realtime-gateway slice this package needs. internal/app
// wires the concrete *realtime.Gateway in through a one-line adapter since
// its Stats method returns realtime.Stats rather than this package's
// SocketStats.
type Gateway interface {
	Stats() SocketStats
}

// Handler serves the admin API.
type Handler struct {
	store     Store
	config    *configcache.Cache
	gateway   Gateway
	startedAt time.Time
	logger    *slog.Logger
}

// NewHandler creates an admin Handler. startedAt is used to compute uptime.
func NewHandler(s Store, config *configcache.Cache, gateway Gateway, startedAt time.Time, logger *slog.Logger) *Handler {
	return &Handler{store: s, config: config, gateway: gateway, startedAt: startedAt, logger: logger}
}

// Routes returns a chi.Router with every admin route mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", h.handleStats)
	r.Get("/config", h.handleGetConfig)
	r.Put("/config", h.handlePutConfig)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.handleListUsers)
		r.Post("/", h.handleCreateUser)
		r.Route("/{id}", func(r chi.Router) {
			r.Put("/", h.handleUpdateUser)
			r.Delete("/", h.handleDeleteUser)
		})
	})

	r.Route("/teams", func(r chi.Router) {
		r.Get("/", h.handleListTeams)
		r.Post("/", h.handleCreateTeam)
		r.Route("/{id}", func(r chi.Router) {
			r.Put("/", h.handleUpdateTeam)
			r.Delete("/", h.handleDeleteTeam)
			r.Route("/members", func(r chi.Router) {
				r.Get("/", h.handleListTeamMembers)
				r.Post("/", h.handleAddTeamMember)
				r.Delete("/{userID}", h.handleRemoveTeamMember)
			})
		})
	})

	return r
}

func parseID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
