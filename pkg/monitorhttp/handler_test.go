package monitorhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/tacops/pkg/authhttp"
	"github.com/wisbric/tacops/pkg/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	monitors map[uuid.UUID]store.MonitorRow
	threats  map[uuid.UUID]store.ThreatRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		monitors: make(map[uuid.UUID]store.MonitorRow),
		threats:  make(map[uuid.UUID]store.ThreatRow),
	}
}

func (s *fakeStore) CreateMonitor(_ context.Context, p store.CreateMonitorParams) (store.MonitorRow, error) {
	m := store.MonitorRow{ID: uuid.New(), Area: p.Area, TopicalFocus: p.TopicalFocus, AllowedDomains: p.AllowedDomains, IntervalSeconds: p.IntervalSeconds, CreatedBy: p.CreatedBy}
	s.monitors[m.ID] = m
	return m, nil
}

func (s *fakeStore) GetMonitor(_ context.Context, id uuid.UUID) (store.MonitorRow, error) {
	m, ok := s.monitors[id]
	if !ok {
		return store.MonitorRow{}, pgx.ErrNoRows
	}
	return m, nil
}

func (s *fakeStore) ListMonitors(_ context.Context) ([]store.MonitorRow, error) {
	var items []store.MonitorRow
	for _, m := range s.monitors {
		items = append(items, m)
	}
	return items, nil
}

func (s *fakeStore) UpdateMonitor(_ context.Context, p store.UpdateMonitorParams) (store.MonitorRow, error) {
	m, ok := s.monitors[p.ID]
	if !ok {
		return store.MonitorRow{}, pgx.ErrNoRows
	}
	m.Area, m.TopicalFocus, m.AllowedDomains, m.IntervalSeconds = p.Area, p.TopicalFocus, p.AllowedDomains, p.IntervalSeconds
	s.monitors[p.ID] = m
	return m, nil
}

func (s *fakeStore) SetMonitorActive(_ context.Context, id uuid.UUID, active bool) error {
	m, ok := s.monitors[id]
	if !ok {
		return pgx.ErrNoRows
	}
	m.Active = active
	s.monitors[id] = m
	return nil
}

func (s *fakeStore) DeleteMonitor(_ context.Context, id uuid.UUID) error {
	delete(s.monitors, id)
	return nil
}

func (s *fakeStore) ListThreats(_ context.Context, area string, limit int) ([]store.ThreatRow, error) {
	var items []store.ThreatRow
	for _, t := range s.threats {
		if area == "" || t.Area == area {
			items = append(items, t)
		}
	}
	return items, nil
}

func (s *fakeStore) GetThreat(_ context.Context, id uuid.UUID) (store.ThreatRow, error) {
	t, ok := s.threats[id]
	if !ok {
		return store.ThreatRow{}, pgx.ErrNoRows
	}
	return t, nil
}

func (s *fakeStore) SetThreatAdminStatus(_ context.Context, id uuid.UUID, status string) error {
	t, ok := s.threats[id]
	if !ok {
		return pgx.ErrNoRows
	}
	t.AdminStatus = status
	s.threats[id] = t
	return nil
}

type fakeSupervisor struct {
	started map[uuid.UUID]bool
	stopErr error
}

func (f *fakeSupervisor) Start(_ context.Context, monitor store.MonitorRow) error {
	if f.started == nil {
		f.started = make(map[uuid.UUID]bool)
	}
	f.started[monitor.ID] = true
	return nil
}

func (f *fakeSupervisor) Stop(_ context.Context, monitorID uuid.UUID) error {
	if f.started != nil {
		delete(f.started, monitorID)
	}
	return f.stopErr
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
	req = req.WithContext(authhttp.NewContext(req.Context(), authhttp.Identity{UserID: uuid.New(), IsAdmin: true}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListMonitors(t *testing.T) {
	s := newFakeStore()
	h := NewHandler(s, &fakeSupervisor{}, testLogger())
	router := h.MonitorRoutes()

	rec := doJSON(t, router, http.MethodPost, "/", CreateMonitorRequest{Area: "downtown", IntervalSeconds: 300})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	rec2 := doJSON(t, router, http.MethodGet, "/", nil)
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

func TestStartAndStopMonitor(t *testing.T) {
	s := newFakeStore()
	sup := &fakeSupervisor{}
	h := NewHandler(s, sup, testLogger())
	router := chi.NewRouter()
	router.Mount("/monitors", h.MonitorRoutes())

	m, _ := s.CreateMonitor(context.Background(), store.CreateMonitorParams{Area: "downtown", IntervalSeconds: 300})

	rec := doJSON(t, router, http.MethodPost, "/monitors/"+m.ID.String()+"/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if !sup.started[m.ID] {
		t.Error("expected supervisor.Start to have been called")
	}
	if !s.monitors[m.ID].Active {
		t.Error("expected monitor to be marked active")
	}

	rec2 := doJSON(t, router, http.MethodPost, "/monitors/"+m.ID.String()+"/stop", nil)
	if rec2.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", rec2.Code)
	}
	if sup.started[m.ID] {
		t.Error("expected supervisor.Stop to have been called")
	}
	if s.monitors[m.ID].Active {
		t.Error("expected monitor to be marked inactive")
	}
}

func TestGetMonitorNotFound(t *testing.T) {
	s := newFakeStore()
	h := NewHandler(s, &fakeSupervisor{}, testLogger())
	router := chi.NewRouter()
	router.Mount("/monitors", h.MonitorRoutes())

	rec := doJSON(t, router, http.MethodGet, "/monitors/"+uuid.New().String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListThreatsFiltersByArea(t *testing.T) {
	s := newFakeStore()
	s.threats[uuid.New()] = store.ThreatRow{ID: uuid.New(), Area: "downtown"}
	s.threats[uuid.New()] = store.ThreatRow{ID: uuid.New(), Area: "harbor"}
	h := NewHandler(s, &fakeSupervisor{}, testLogger())
	router := chi.NewRouter()
	router.Mount("/threats", h.ThreatRoutes())

	rec := doJSON(t, router, http.MethodGet, "/threats?area=downtown", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshaling response: %v", err)
	}
	if resp["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

func TestSetThreatStatus(t *testing.T) {
	s := newFakeStore()
	id := uuid.New()
	s.threats[id] = store.ThreatRow{ID: id, Area: "downtown", AdminStatus: "pending"}
	h := NewHandler(s, &fakeSupervisor{}, testLogger())
	router := chi.NewRouter()
	router.Mount("/threats", h.ThreatRoutes())

	rec := doJSON(t, router, http.MethodPut, "/threats/"+id.String()+"/status", SetThreatStatusRequest{Status: "dismissed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if s.threats[id].AdminStatus != "dismissed" {
		t.Errorf("admin_status = %q, want dismissed", s.threats[id].AdminStatus)
	}
}
