package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/wisbric/tacops/pkg/store"
	"github.com/wisbric/tacops/pkg/sync"
	"github.com/wisbric/tacops/pkg/vault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVerifier struct {
	claims *vault.Claims
	err    error
}

func (f *fakeVerifier) Verify(string) (*vault.Claims, error) {
	return f.claims, f.err
}

type fakeSyncStore struct {
	members map[uuid.UUID]bool
}

func (s *fakeSyncStore) IsMember(_ context.Context, _, teamID uuid.UUID) (bool, error) {
	return s.members[teamID], nil
}
func (s *fakeSyncStore) InsertLocation(_ context.Context, p store.InsertLocationParams) (store.LocationRow, error) {
	return store.LocationRow{ID: uuid.New(), UserID: p.UserID, TeamID: p.TeamID, Latitude: p.Latitude, Longitude: p.Longitude}, nil
}
func (s *fakeSyncStore) UpsertAnnotation(_ context.Context, p store.UpsertAnnotationParams) (store.AnnotationRow, error) {
	return store.AnnotationRow{ID: p.ID, TeamID: p.TeamID}, nil
}
func (s *fakeSyncStore) InsertMessage(_ context.Context, p store.InsertMessageParams) (store.MessageRow, error) {
	return store.MessageRow{ID: uuid.New(), TeamID: p.TeamID, Content: p.Content}, nil
}

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastToTeam(uuid.UUID, string, any) {}

func newTestCore(memberOf ...uuid.UUID) *sync.Core {
	members := make(map[uuid.UUID]bool)
	for _, id := range memberOf {
		members[id] = true
	}
	return sync.New(&fakeSyncStore{members: members}, noopBroadcaster{}, testLogger())
}

func drain(t *testing.T, ch *Channel) frame {
	t.Helper()
	select {
	case body := <-ch.send:
		var f frame
		if err := json.Unmarshal(body, &f); err != nil {
			t.Fatalf("unmarshaling queued frame: %v", err)
		}
		return f
	default:
		t.Fatal("expected a queued outbound frame, found none")
		return frame{}
	}
}

func TestChannelEnqueueDropsOldestWhenFull(t *testing.T) {
	ch := newChannel(testLogger())

	for i := 0; i < outboundQueueSize; i++ {
		ch.enqueue("event", map[string]int{"i": i})
	}
	// One more push should evict the oldest (i=0) rather than block or fail.
	ch.enqueue("event", map[string]int{"i": outboundQueueSize})

	if len(ch.send) != outboundQueueSize {
		t.Fatalf("len(ch.send) = %d, want %d", len(ch.send), outboundQueueSize)
	}

	first := drain(t, ch)
	var data map[string]int
	if err := json.Unmarshal(first.Data, &data); err != nil {
		t.Fatalf("unmarshaling data: %v", err)
	}
	if data["i"] != 1 {
		t.Errorf("oldest surviving message has i = %d, want 1 (i=0 should have been dropped)", data["i"])
	}
}

func TestGatewayBroadcastToTeamReachesJoinedMembersOnly(t *testing.T) {
	g := NewGateway(&fakeVerifier{}, newTestCore(), testLogger())
	team := uuid.New()
	other := uuid.New()

	joined := newChannel(testLogger())
	notJoined := newChannel(testLogger())
	g.joinRoom(joined, team)
	g.joinRoom(notJoined, other)

	// joinRoom itself queues a team:joined confirmation; drain it before
	// asserting on the broadcast below.
	if f := drain(t, joined); f.Event != "team:joined" {
		t.Fatalf("event = %q, want team:joined", f.Event)
	}
	drain(t, notJoined)

	g.BroadcastToTeam(team, "location:update", map[string]string{"hello": "world"})

	f := drain(t, joined)
	if f.Event != "location:update" {
		t.Errorf("event = %q, want location:update", f.Event)
	}
	if len(notJoined.send) != 0 {
		t.Error("expected the channel joined to a different room to receive nothing")
	}
}

func TestGatewayBroadcastAdminReachesAdminsOnly(t *testing.T) {
	g := NewGateway(&fakeVerifier{}, newTestCore(), testLogger())

	admin := newChannel(testLogger())
	admin.authenticate(uuid.New(), true)
	g.admins[admin] = struct{}{}

	nonAdmin := newChannel(testLogger())
	nonAdmin.authenticate(uuid.New(), false)

	g.BroadcastAdmin("admin:new_threat_detected", map[string]string{"id": "abc"})

	f := drain(t, admin)
	if f.Event != "admin:new_threat_detected" {
		t.Errorf("event = %q, want admin:new_threat_detected", f.Event)
	}
	if len(nonAdmin.send) != 0 {
		t.Error("expected a non-admin channel to never receive an admin broadcast")
	}
}

func TestHandleInboundRejectsNonAuthEventBeforeHandshake(t *testing.T) {
	g := NewGateway(&fakeVerifier{}, newTestCore(), testLogger())
	ch := newChannel(testLogger())

	raw, _ := json.Marshal(frame{Event: "team:join", Data: json.RawMessage(`{}`)})
	if keepOpen := g.handleInbound(ch, raw); keepOpen {
		t.Error("expected the connection to be closed for a non-auth event before handshake")
	}
}

func TestHandleInboundAuthSucceeds(t *testing.T) {
	userID := uuid.New()
	g := NewGateway(&fakeVerifier{claims: &vault.Claims{Subject: userID.String(), Admin: true}}, newTestCore(), testLogger())
	ch := newChannel(testLogger())

	data, _ := json.Marshal(authPayload{Token: "whatever"})
	raw, _ := json.Marshal(frame{Event: "auth", Data: data})

	if keepOpen := g.handleInbound(ch, raw); !keepOpen {
		t.Fatal("expected a valid auth frame to keep the connection open")
	}
	if !ch.authenticated() {
		t.Error("expected the channel to be authenticated after a valid auth frame")
	}
	if ch.userIDSnapshot() != userID {
		t.Errorf("userID = %v, want %v", ch.userIDSnapshot(), userID)
	}
}

func TestHandleInboundAuthFailureClosesConnection(t *testing.T) {
	g := NewGateway(&fakeVerifier{err: errors.New("bad signature")}, newTestCore(), testLogger())
	ch := newChannel(testLogger())

	data, _ := json.Marshal(authPayload{Token: "whatever"})
	raw, _ := json.Marshal(frame{Event: "auth", Data: data})

	if keepOpen := g.handleInbound(ch, raw); keepOpen {
		t.Error("expected a failed auth frame to close the connection")
	}
}

func TestHandleJoinGrantsRoomOnMembership(t *testing.T) {
	team := uuid.New()
	g := NewGateway(&fakeVerifier{}, newTestCore(team), testLogger())
	ch := newChannel(testLogger())
	ch.authenticate(uuid.New(), false)

	data, _ := json.Marshal(roomPayload{TeamID: team})
	raw, _ := json.Marshal(frame{Event: "team:join", Data: data})

	g.handleInbound(ch, raw)

	if !ch.inRoom(team) {
		t.Error("expected the channel to have joined the team room")
	}
}

func TestHandleJoinRejectsNonMember(t *testing.T) {
	team := uuid.New()
	g := NewGateway(&fakeVerifier{}, newTestCore(), testLogger())
	ch := newChannel(testLogger())
	ch.authenticate(uuid.New(), false)

	data, _ := json.Marshal(roomPayload{TeamID: team})
	raw, _ := json.Marshal(frame{Event: "team:join", Data: data})

	g.handleInbound(ch, raw)

	if ch.inRoom(team) {
		t.Error("expected a non-member join to be rejected")
	}
	f := drain(t, ch)
	if f.Event != "error" {
		t.Errorf("event = %q, want error", f.Event)
	}
}

func TestStatsCountsConnectionsAndRooms(t *testing.T) {
	g := NewGateway(&fakeVerifier{}, newTestCore(), testLogger())
	team := uuid.New()

	authed := newChannel(testLogger())
	authed.authenticate(uuid.New(), false)
	anon := newChannel(testLogger())

	g.mu.Lock()
	g.conns[authed] = struct{}{}
	g.conns[anon] = struct{}{}
	g.mu.Unlock()
	g.joinRoom(authed, team)

	stats := g.Stats()
	if stats.TotalConnections != 2 {
		t.Errorf("TotalConnections = %d, want 2", stats.TotalConnections)
	}
	if stats.AuthenticatedConnections != 1 {
		t.Errorf("AuthenticatedConnections = %d, want 1", stats.AuthenticatedConnections)
	}
	if len(stats.Rooms) != 1 || stats.Rooms[0].TeamID != team || stats.Rooms[0].Members != 1 {
		t.Errorf("Rooms = %+v, want one room for %v with 1 member", stats.Rooms, team)
	}
}

func TestRemoveChannelClearsRoomsAndAdmins(t *testing.T) {
	g := NewGateway(&fakeVerifier{}, newTestCore(), testLogger())
	team := uuid.New()

	ch := newChannel(testLogger())
	ch.authenticate(uuid.New(), true)
	g.joinRoom(ch, team)
	g.admins[ch] = struct{}{}

	g.removeChannel(ch)

	g.mu.Lock()
	_, stillAdmin := g.admins[ch]
	_, roomExists := g.rooms[team]
	g.mu.Unlock()

	if stillAdmin {
		t.Error("expected removeChannel to drop the channel from the admin set")
	}
	if roomExists {
		t.Error("expected removeChannel to clean up the now-empty room")
	}
}
