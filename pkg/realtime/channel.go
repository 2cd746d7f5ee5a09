package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/wisbric/tacops/internal/telemetry"
)

// outboundQueueSize bounds each channel's outbound buffer, per §4.5's
// per-channel backpressure contract.
const outboundQueueSize = 256

// connState is a Channel's position in the §4.5 state machine.
type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
)

// frame is the wire envelope for every event, inbound or outbound.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Channel is one connected client: its auth state, joined rooms, and a
// bounded outbound queue drained by a dedicated writer goroutine.
type Channel struct {
	logger *slog.Logger

	mu      sync.Mutex
	state   connState
	userID  uuid.UUID
	isAdmin bool
	rooms   map[uuid.UUID]struct{}
	closed  bool

	send chan []byte
}

func newChannel(logger *slog.Logger) *Channel {
	return &Channel{
		logger: logger,
		rooms:  make(map[uuid.UUID]struct{}),
		send:   make(chan []byte, outboundQueueSize),
	}
}

// authenticate transitions the channel to Authenticated{userID, isAdmin}.
func (c *Channel) authenticate(userID uuid.UUID, isAdmin bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = stateAuthenticated
	c.userID = userID
	c.isAdmin = isAdmin
}

// userIDSnapshot returns the authenticated user ID. Safe to call only after
// authenticated() reports true.
func (c *Channel) userIDSnapshot() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Channel) authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateAuthenticated
}

func (c *Channel) joinRoom(teamID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[teamID] = struct{}{}
}

func (c *Channel) leaveRoom(teamID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, teamID)
}

func (c *Channel) inRoom(teamID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[teamID]
	return ok
}

func (c *Channel) joinedRooms() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]uuid.UUID, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// enqueue sends event to the channel's outbound buffer without blocking. If
// the buffer is full, the oldest queued message is dropped to make room,
// per §4.5's oldest-first drop policy, and a structured log event records
// it.
func (c *Channel) enqueue(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("marshaling outbound event", "event", event, "error", err)
		return
	}
	body, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		c.logger.Error("marshaling outbound frame", "event", event, "error", err)
		return
	}

	select {
	case c.send <- body:
		return
	default:
	}

	select {
	case dropped := <-c.send:
		_ = dropped
		telemetry.RealtimeMessagesDroppedTotal.WithLabelValues(event).Inc()
		c.logger.Warn("dropping oldest queued message, outbound buffer full", "event", event)
	default:
	}

	select {
	case c.send <- body:
	default:
		telemetry.RealtimeMessagesDroppedTotal.WithLabelValues(event).Inc()
		c.logger.Warn("dropping outbound message, buffer still full after eviction", "event", event)
	}
}

func (c *Channel) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}
