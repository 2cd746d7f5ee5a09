package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/tacops/internal/errs"
	"github.com/wisbric/tacops/pkg/sync"
)

// inboundTimeout bounds how long a single inbound event's processing
// (validation, membership check, store write) may take.
const inboundTimeout = 10 * time.Second

type authPayload struct {
	Token string `json:"token"`
}

type roomPayload struct {
	TeamID uuid.UUID `json:"teamId"`
}

type errorFrame struct {
	Message string `json:"message"`
}

// handleInbound processes one inbound frame and reports whether the
// connection should stay open. Only "auth" is valid before the handshake
// completes; anything else while Unauthenticated terminates the connection,
// per §4.5.
func (g *Gateway) handleInbound(ch *Channel, raw []byte) bool {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		g.logger.Warn("dropping unparseable inbound frame", "error", err)
		return ch.authenticated()
	}

	if !ch.authenticated() {
		if f.Event != "auth" {
			return false
		}
		var p authPayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.Token == "" {
			return false
		}
		return g.tryAuthenticate(ch, p.Token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()

	switch f.Event {
	case "team:join":
		g.handleJoin(ctx, ch, f.Data)
	case "team:leave":
		g.handleLeave(ch, f.Data)
	case "location:update":
		g.handleLocation(ctx, ch, f.Data)
	case "annotation:update":
		g.handleAnnotation(ctx, ch, f.Data)
	case "message:send":
		g.handleMessage(ctx, ch, f.Data)
	default:
		g.logger.Warn("ignoring unrecognized inbound event", "event", f.Event)
	}

	return true
}

// handleJoin verifies membership and, on success, transitions the channel
// to Authenticated+Joined{rooms} per §4.5.
func (g *Gateway) handleJoin(ctx context.Context, ch *Channel, data json.RawMessage) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ch.enqueue("error", errorFrame{Message: "invalid team:join payload"})
		return
	}

	if err := g.core.AssertMembership(ctx, ch.userIDSnapshot(), p.TeamID); err != nil {
		ch.enqueue("error", errorFrame{Message: errs.KindOf(err).String()})
		return
	}

	g.joinRoom(ch, p.TeamID)
}

func (g *Gateway) handleLeave(ch *Channel, data json.RawMessage) {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ch.enqueue("error", errorFrame{Message: "invalid team:leave payload"})
		return
	}
	g.leaveRoom(ch, p.TeamID)
}

func (g *Gateway) handleLocation(ctx context.Context, ch *Channel, data json.RawMessage) {
	var p sync.LocationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ch.enqueue("error", errorFrame{Message: "invalid location:update payload"})
		return
	}
	if !ch.inRoom(p.TeamID) {
		ch.enqueue("error", errorFrame{Message: "not joined to this team"})
		return
	}
	if _, err := g.core.SubmitLocation(ctx, ch.userIDSnapshot(), p); err != nil {
		ch.enqueue("error", errorFrame{Message: err.Error()})
	}
}

func (g *Gateway) handleAnnotation(ctx context.Context, ch *Channel, data json.RawMessage) {
	var p sync.AnnotationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ch.enqueue("error", errorFrame{Message: "invalid annotation:update payload"})
		return
	}
	if !ch.inRoom(p.TeamID) {
		ch.enqueue("error", errorFrame{Message: "not joined to this team"})
		return
	}
	if _, err := g.core.SubmitAnnotation(ctx, ch.userIDSnapshot(), p); err != nil {
		ch.enqueue("error", errorFrame{Message: err.Error()})
	}
}

func (g *Gateway) handleMessage(ctx context.Context, ch *Channel, data json.RawMessage) {
	var p sync.MessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		ch.enqueue("error", errorFrame{Message: "invalid message:send payload"})
		return
	}
	if !ch.inRoom(p.TeamID) {
		ch.enqueue("error", errorFrame{Message: "not joined to this team"})
		return
	}
	if _, err := g.core.SubmitMessage(ctx, ch.userIDSnapshot(), p); err != nil {
		ch.enqueue("error", errorFrame{Message: err.Error()})
	}
}
