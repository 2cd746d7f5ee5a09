package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/tacops/pkg/configcache"
	"github.com/wisbric/tacops/pkg/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	users   map[uuid.UUID]store.UserRow
	teams   map[uuid.UUID]store.TeamRow
	members map[uuid.UUID]map[uuid.UUID]bool // teamID -> userID -> true

	activeThreats int
	recentMsgs    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[uuid.UUID]store.UserRow),
		teams:   make(map[uuid.UUID]store.TeamRow),
		members: make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

func (s *fakeStore) CountUsers(context.Context) (int, error) { return len(s.users), nil }
func (s *fakeStore) CountTeams(context.Context) (int, error) { return len(s.teams), nil }
func (s *fakeStore) CountActiveThreats(context.Context) (int, error) {
	return s.activeThreats, nil
}
func (s *fakeStore) CountRecentMessages(context.Context, int) (int, error) {
	return s.recentMsgs, nil
}

func (s *fakeStore) ListUsers(context.Context) ([]store.UserRow, error) {
	var items []store.UserRow
	for _, u := range s.users {
		items = append(items, u)
	}
	return items, nil
}

func (s *fakeStore) CreateUser(_ context.Context, p store.CreateUserParams) (store.UserRow, error) {
	u := store.UserRow{ID: uuid.New(), DisplayName: p.DisplayName, Email: p.Email, PasswordHash: p.PasswordHash, IsAdmin: p.IsAdmin}
	s.users[u.ID] = u
	return u, nil
}

func (s *fakeStore) SetUserAdmin(_ context.Context, id uuid.UUID, isAdmin bool) error {
	u, ok := s.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.IsAdmin = isAdmin
	s.users[id] = u
	return nil
}

func (s *fakeStore) DeleteUser(_ context.Context, id uuid.UUID) error {
	if _, ok := s.users[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(s.users, id)
	return nil
}

func (s *fakeStore) ListTeams(context.Context) ([]store.TeamRow, error) {
	var items []store.TeamRow
	for _, t := range s.teams {
		items = append(items, t)
	}
	return items, nil
}

func (s *fakeStore) CreateTeam(_ context.Context, name string) (store.TeamRow, error) {
	t := store.TeamRow{ID: uuid.New(), Name: name}
	s.teams[t.ID] = t
	return t, nil
}

func (s *fakeStore) UpdateTeamName(_ context.Context, id uuid.UUID, name string) (store.TeamRow, error) {
	t, ok := s.teams[id]
	if !ok {
		return store.TeamRow{}, pgx.ErrNoRows
	}
	t.Name = name
	s.teams[id] = t
	return t, nil
}

func (s *fakeStore) DeleteTeam(_ context.Context, id uuid.UUID) error {
	delete(s.teams, id)
	delete(s.members, id)
	return nil
}

func (s *fakeStore) ListTeamMembers(_ context.Context, teamID uuid.UUID) ([]store.TeamMemberRow, error) {
	var items []store.TeamMemberRow
	for userID := range s.members[teamID] {
		u := s.users[userID]
		items = append(items, store.TeamMemberRow{UserID: userID, DisplayName: u.DisplayName, Email: u.Email, IsAdmin: u.IsAdmin})
	}
	return items, nil
}

func (s *fakeStore) CreateMembership(_ context.Context, userID, teamID uuid.UUID) error {
	if s.members[teamID] == nil {
		s.members[teamID] = make(map[uuid.UUID]bool)
	}
	s.members[teamID][userID] = true
	return nil
}

func (s *fakeStore) RemoveMembership(_ context.Context, userID, teamID uuid.UUID) error {
	delete(s.members[teamID], userID)
	return nil
}

type fakeGateway struct {
	stats SocketStats
}

func (g *fakeGateway) Stats() SocketStats { return g.stats }

type fakeConfigStore struct {
	entries map[string]json.RawMessage
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{entries: make(map[string]json.RawMessage)}
}

func (f *fakeConfigStore) GetConfigEntry(_ context.Context, key string) (json.RawMessage, bool, error) {
	v, ok := f.entries[key]
	return v, ok, nil
}

func (f *fakeConfigStore) SetConfigEntry(_ context.Context, key string, value json.RawMessage) error {
	f.entries[key] = value
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeStore) {
	t.Helper()
	s := newFakeStore()
	cfg := configcache.New(newFakeConfigStore(), testLogger(), "http://localhost:3000")
	h := NewHandler(s, cfg, &fakeGateway{}, time.Now().Add(-time.Minute), testLogger())
	return h, s
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleStatsReturnsCounts(t *testing.T) {
	h, s := newTestHandler(t)
	s.users[uuid.New()] = store.UserRow{ID: uuid.New(), DisplayName: "alice"}
	s.activeThreats = 3
	router := h.Routes()

	rec := doJSON(t, router, http.MethodGet, "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshaling response: %v", err)
	}
	db, ok := resp["db"].(map[string]any)
	if !ok {
		t.Fatalf("missing db field in %v", resp)
	}
	if db["users"].(float64) != 1 {
		t.Errorf("db.users = %v, want 1", db["users"])
	}
	threats, ok := resp["threats"].(map[string]any)
	if !ok || threats["active"].(float64) != 3 {
		t.Errorf("threats.active = %v, want 3", resp["threats"])
	}
}

func TestConfigGetAndPutRoundTrip(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Routes()

	rec := doJSON(t, router, http.MethodPut, "/config", ConfigResponse{OrgName: "acme", CORSOrigin: "https://acme.example", RetentionDays: 30})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	rec2 := doJSON(t, router, http.MethodGet, "/config", nil)
	if rec2.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec2.Code)
	}
	var resp ConfigResponse
	if err := json.Unmarshal(rec2.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshaling response: %v", err)
	}
	if resp.OrgName != "acme" || resp.RetentionDays != 30 {
		t.Errorf("config = %+v, want org=acme retention=30", resp)
	}
}

func TestCreateAndListUsers(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Routes()

	rec := doJSON(t, router, http.MethodPost, "/users", CreateUserRequest{DisplayName: "bob", Password: "hunter2pass"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	rec2 := doJSON(t, router, http.MethodGet, "/users", nil)
	if rec2.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec2.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec2.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshaling response: %v", err)
	}
	if resp["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

func TestUpdateUserNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Routes()

	rec := doJSON(t, router, http.MethodPut, "/users/"+uuid.New().String(), UpdateUserRequest{IsAdmin: true})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestTeamMembershipLifecycle(t *testing.T) {
	h, s := newTestHandler(t)
	router := chi.NewRouter()
	router.Mount("/admin", h.Routes())

	teamRec := doJSON(t, router, http.MethodPost, "/admin/teams", CreateTeamRequest{Name: "alpha"})
	if teamRec.Code != http.StatusCreated {
		t.Fatalf("create team status = %d, want 201, body=%s", teamRec.Code, teamRec.Body.String())
	}
	var team store.TeamRow
	if err := json.Unmarshal(teamRec.Body.Bytes(), &team); err != nil {
		t.Fatalf("unmarshaling team: %v", err)
	}

	userID := uuid.New()
	s.users[userID] = store.UserRow{ID: userID, DisplayName: "carol"}

	addRec := doJSON(t, router, http.MethodPost, "/admin/teams/"+team.ID.String()+"/members", AddTeamMemberRequest{UserID: userID.String()})
	if addRec.Code != http.StatusCreated {
		t.Fatalf("add member status = %d, want 201, body=%s", addRec.Code, addRec.Body.String())
	}

	listRec := doJSON(t, router, http.MethodGet, "/admin/teams/"+team.ID.String()+"/members", nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list members status = %d, want 200", listRec.Code)
	}
	var listResp map[string]any
	if err := json.Unmarshal(listRec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("unmarshaling response: %v", err)
	}
	if listResp["count"].(float64) != 1 {
		t.Errorf("member count = %v, want 1", listResp["count"])
	}

	removeRec := doJSON(t, router, http.MethodDelete, "/admin/teams/"+team.ID.String()+"/members/"+userID.String(), nil)
	if removeRec.Code != http.StatusNoContent {
		t.Fatalf("remove member status = %d, want 204", removeRec.Code)
	}
	if s.members[team.ID][userID] {
		t.Error("expected membership to be removed")
	}
}
