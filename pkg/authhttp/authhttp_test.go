package authhttp

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
	"github.com/wisbric/tacops/pkg/vault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConfigStore struct {
	entries map[string]json.RawMessage
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{entries: make(map[string]json.RawMessage)}
}

func (s *fakeConfigStore) GetConfigEntry(_ context.Context, key string) (json.RawMessage, bool, error) {
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *fakeConfigStore) SetConfigEntry(_ context.Context, key string, value json.RawMessage) error {
	s.entries[key] = value
	return nil
}

type fakeUserStore struct {
	byID          map[uuid.UUID]store.UserRow
	byEmail       map[string]store.UserRow
	byDisplayName map[string]store.UserRow
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byID:          make(map[uuid.UUID]store.UserRow),
		byEmail:       make(map[string]store.UserRow),
		byDisplayName: make(map[string]store.UserRow),
	}
}

func (s *fakeUserStore) CreateUser(_ context.Context, p store.CreateUserParams) (store.UserRow, error) {
	u := store.UserRow{ID: uuid.New(), DisplayName: p.DisplayName, Email: p.Email, PasswordHash: p.PasswordHash, IsAdmin: p.IsAdmin}
	s.byID[u.ID] = u
	s.byDisplayName[u.DisplayName] = u
	if p.Email != nil {
		s.byEmail[*p.Email] = u
	}
	return u, nil
}

func (s *fakeUserStore) GetUser(_ context.Context, id uuid.UUID) (store.UserRow, error) {
	u, ok := s.byID[id]
	if !ok {
		return store.UserRow{}, pgx.ErrNoRows
	}
	return u, nil
}

func (s *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.UserRow, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return store.UserRow{}, pgx.ErrNoRows
	}
	return u, nil
}

func (s *fakeUserStore) GetUserByDisplayName(_ context.Context, name string) (store.UserRow, error) {
	u, ok := s.byDisplayName[name]
	if !ok {
		return store.UserRow{}, pgx.ErrNoRows
	}
	return u, nil
}

func (s *fakeUserStore) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	u := s.byID[id]
	u.PasswordHash = hash
	s.byID[id] = u
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeUserStore, *vault.Vault) {
	t.Helper()
	us := newFakeUserStore()
	cc := configcache.New(newFakeConfigStore(), testLogger(), "*")
	v := vault.New(bytes.Repeat([]byte("a"), 32), bytes.Repeat([]byte("b"), 32))
	return NewHandler(us, cc, v, nil, testLogger()), us, v
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCompleteSetupThenRejectsSecondCall(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := h.Routes()

	rec := doJSON(t, router, http.MethodPost, "/setup/complete", CompleteSetupRequest{
		AdminDisplayName: "admin",
		AdminPassword:    "supersecret",
		OrgName:          "Acme",
		CORSOrigin:       "*",
		RetentionDays:    30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	rec2 := doJSON(t, router, http.MethodPost, "/setup/complete", CompleteSetupRequest{
		AdminDisplayName: "admin2",
		AdminPassword:    "supersecret",
		OrgName:          "Acme",
		CORSOrigin:       "*",
		RetentionDays:    30,
	})
	if rec2.Code != http.StatusConflict {
		t.Errorf("second setup status = %d, want 409", rec2.Code)
	}
}

func TestLoginSucceedsWithDisplayNameAndPassword(t *testing.T) {
	h, us, _ := newTestHandler(t)
	hash, err := vault.HashPassword("correcthorse")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	us.byDisplayName["operator"] = store.UserRow{ID: uuid.New(), DisplayName: "operator", PasswordHash: hash, IsAdmin: true}
	us.byID[us.byDisplayName["operator"].ID] = us.byDisplayName["operator"]

	rec := doJSON(t, h.Routes(), http.MethodPost, "/auth/login", LoginRequest{Username: "operator", Password: "correcthorse"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshaling response: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a non-empty token")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	h, us, _ := newTestHandler(t)
	hash, _ := vault.HashPassword("correcthorse")
	us.byDisplayName["operator"] = store.UserRow{ID: uuid.New(), DisplayName: "operator", PasswordHash: hash}

	rec := doJSON(t, h.Routes(), http.MethodPost, "/auth/login", LoginRequest{Username: "operator", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := doJSON(t, h.Routes(), http.MethodPost, "/auth/login", LoginRequest{Username: "nobody", Password: "whatever"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestWhoamiReturnsIdentity(t *testing.T) {
	h, us, v := newTestHandler(t)
	user := store.UserRow{ID: uuid.New(), DisplayName: "operator", IsAdmin: true}
	us.byID[user.ID] = user

	token, err := v.Sign(vault.Claims{Subject: user.ID.String(), Admin: true}, time.Hour)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	router := chi.NewRouter()
	router.Use(Middleware(v, testLogger()))
	router.Mount("/", h.AuthenticatedRoutes())

	req := httptest.NewRequest(http.MethodGet, "/auth/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp whoamiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshaling response: %v", err)
	}
	if resp.ID != user.ID || !resp.IsAdmin || resp.Name != "operator" {
		t.Errorf("whoami = %+v, want id=%v isAdmin=true name=operator", resp, user.ID)
	}
}

func TestMiddlewareRejectsMissingBearerToken(t *testing.T) {
	_, _, v := newTestHandler(t)
	router := chi.NewRouter()
	router.Use(Middleware(v, testLogger()))
	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareRejectsInvalidToken(t *testing.T) {
	_, _, v := newTestHandler(t)
	router := chi.NewRouter()
	router.Use(Middleware(v, testLogger()))
	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAdminRejectsNonAdmin(t *testing.T) {
	_, _, v := newTestHandler(t)
	userID := uuid.New()
	token, _ := v.Sign(vault.Claims{Subject: userID.String(), Admin: false}, time.Hour)

	router := chi.NewRouter()
	router.Use(Middleware(v, testLogger()))
	router.With(RequireAdmin).Get("/admin-only", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/admin-only", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}
