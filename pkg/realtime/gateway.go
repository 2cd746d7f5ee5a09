// Package realtime is the realtime gateway (C5): authenticated persistent
// sockets, team-scoped room membership, event routing, and admin broadcast
// channels, layered on gorilla/websocket.
package realtime

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wisbric/tacops/internal/telemetry"
	"github.com/wisbric/tacops/pkg/sync"
	"github.com/wisbric/tacops/pkg/vault"
)

// writeWait is the deadline for a single outbound frame write.
const writeWait = 10 * time.Second

// Verifier checks a bearer token and returns the claims it carries. C5
// depends on this narrow interface rather than *vault.Vault directly, so
// gateway tests can fake verification without signing real tokens.
type Verifier interface {
	Verify(token string) (*vault.Claims, error)
}

// Gateway owns the room registry and every connected Channel.
type Gateway struct {
	upgrader websocket.Upgrader
	verifier Verifier
	core     *sync.Core
	logger   *slog.Logger

	mu     sync.Mutex
	rooms  map[uuid.UUID]map[*Channel]struct{}
	admins map[*Channel]struct{}
	conns  map[*Channel]struct{}
}

// NewGateway creates a Gateway. verifier authenticates the handshake token;
// core handles every validated client event.
func NewGateway(verifier Verifier, core *sync.Core, logger *slog.Logger) *Gateway {
	return &Gateway{
		upgrader: websocket.Upgrader{
			// The upgrader accepts every origin; the websocket upgrade
			// is not subject to the HTTP layer's CORS origin check.
			// Connections are gated by the auth handshake instead.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		verifier: verifier,
		core:     core,
		logger:   logger,
		rooms:    make(map[uuid.UUID]map[*Channel]struct{}),
		admins:   make(map[*Channel]struct{}),
		conns:    make(map[*Channel]struct{}),
	}
}

// ServeHTTP upgrades the connection and authenticates it. The handshake
// carries the token either as an Authorization header or as the first
// frame the client sends ({"event":"auth","data":{"token":"..."}}). Per
// §4.5, a tokenless or invalid handshake terminates the connection in the
// Unauthenticated state.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ch := newChannel(g.logger)

	g.mu.Lock()
	g.conns[ch] = struct{}{}
	g.mu.Unlock()

	ch.enqueue("hello", struct{}{})

	if token := bearerToken(r); token != "" {
		if !g.tryAuthenticate(ch, token) {
			conn.Close()
			return
		}
	}

	telemetry.RealtimeConnectionsActive.Inc()
	defer telemetry.RealtimeConnectionsActive.Dec()

	g.runConnection(conn, ch)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	return strings.TrimPrefix(h, "Bearer ")
}

func (g *Gateway) tryAuthenticate(ch *Channel, token string) bool {
	claims, err := g.verifier.Verify(token)
	if err != nil {
		g.logger.Warn("websocket handshake failed verification", "error", err)
		return false
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		g.logger.Warn("websocket handshake token carried a non-UUID subject", "subject", claims.Subject)
		return false
	}
	ch.authenticate(userID, claims.Admin)
	if claims.Admin {
		g.mu.Lock()
		g.admins[ch] = struct{}{}
		g.mu.Unlock()
	}
	return true
}

// runConnection owns the connection's lifetime: a dedicated writer
// goroutine drains ch.send while the caller's goroutine reads inbound
// frames. Either side exiting tears down both and the room memberships.
func (g *Gateway) runConnection(conn *websocket.Conn, ch *Channel) {
	writerDone := make(chan struct{})
	go g.writePump(conn, ch, writerDone)

	g.readPump(conn, ch)

	close(ch.send)
	<-writerDone
	g.removeChannel(ch)
	conn.Close()
}

func (g *Gateway) writePump(conn *websocket.Conn, ch *Channel, done chan struct{}) {
	defer close(done)
	for body := range ch.send {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			return
		}
	}
}

func (g *Gateway) readPump(conn *websocket.Conn, ch *Channel) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !g.handleInbound(ch, raw) {
			return
		}
	}
}

// removeChannel drops ch from every room and the admin set, best-effort
// per §4.5's cancellation note.
func (g *Gateway) removeChannel(ch *Channel) {
	if !ch.markClosed() {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.conns, ch)
	delete(g.admins, ch)
	for _, teamID := range ch.joinedRooms() {
		members := g.rooms[teamID]
		delete(members, ch)
		if len(members) == 0 {
			delete(g.rooms, teamID)
			telemetry.RealtimeRoomsActive.Set(float64(len(g.rooms)))
		}
	}
}

// BroadcastToTeam implements pkg/sync.Broadcaster: fan out event to every
// channel currently joined to team:${teamId}, including the sender. The
// room-registry lock is held only long enough to snapshot the member set,
// per §5's "no lock across an I/O await" rule — enqueue is non-blocking,
// but we still copy out before iterating to avoid holding the lock during
// any per-channel work.
func (g *Gateway) BroadcastToTeam(teamID uuid.UUID, event string, payload any) {
	g.mu.Lock()
	members := make([]*Channel, 0, len(g.rooms[teamID]))
	for ch := range g.rooms[teamID] {
		members = append(members, ch)
	}
	g.mu.Unlock()

	for _, ch := range members {
		ch.enqueue(event, payload)
	}
}

// BroadcastAdmin fans an admin-only event out to every channel whose
// verified claim carries admin = true. These events are never delivered to
// non-admin channels, per §4.5.
func (g *Gateway) BroadcastAdmin(event string, payload any) {
	g.mu.Lock()
	admins := make([]*Channel, 0, len(g.admins))
	for ch := range g.admins {
		admins = append(admins, ch)
	}
	g.mu.Unlock()

	for _, ch := range admins {
		ch.enqueue(event, payload)
	}
}

// RoomStat summarizes one team room for GET /api/admin/stats.
type RoomStat struct {
	TeamID  uuid.UUID `json:"teamId"`
	Members int       `json:"members"`
}

// Stats is a snapshot of the gateway's connection and room state.
type Stats struct {
	TotalConnections         int        `json:"totalConnections"`
	AuthenticatedConnections int        `json:"authenticatedConnections"`
	Rooms                    []RoomStat `json:"rooms"`
}

// Stats returns the current connection and room counts for the admin stats
// endpoint.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	authenticated := 0
	for ch := range g.conns {
		if ch.authenticated() {
			authenticated++
		}
	}

	rooms := make([]RoomStat, 0, len(g.rooms))
	for teamID, members := range g.rooms {
		rooms = append(rooms, RoomStat{TeamID: teamID, Members: len(members)})
	}

	return Stats{
		TotalConnections:         len(g.conns),
		AuthenticatedConnections: authenticated,
		Rooms:                    rooms,
	}
}

func (g *Gateway) joinRoom(ch *Channel, teamID uuid.UUID) {
	g.mu.Lock()
	if g.rooms[teamID] == nil {
		g.rooms[teamID] = make(map[*Channel]struct{})
	}
	g.rooms[teamID][ch] = struct{}{}
	telemetry.RealtimeRoomsActive.Set(float64(len(g.rooms)))
	g.mu.Unlock()

	ch.joinRoom(teamID)
	ch.enqueue("team:joined", roomPayload{TeamID: teamID})
}

func (g *Gateway) leaveRoom(ch *Channel, teamID uuid.UUID) {
	g.mu.Lock()
	if members, ok := g.rooms[teamID]; ok {
		delete(members, ch)
		if len(members) == 0 {
			delete(g.rooms, teamID)
		}
	}
	telemetry.RealtimeRoomsActive.Set(float64(len(g.rooms)))
	g.mu.Unlock()

	ch.leaveRoom(teamID)
	ch.enqueue("team:left", roomPayload{TeamID: teamID})
}
