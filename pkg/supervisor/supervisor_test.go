package supervisor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/tacops/pkg/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]store.MonitorRow
	active  map[uuid.UUID]bool
	setCall int32
}

func newFakeStore(monitors ...store.MonitorRow) *fakeStore {
	fs := &fakeStore{byID: make(map[uuid.UUID]store.MonitorRow), active: make(map[uuid.UUID]bool)}
	for _, m := range monitors {
		fs.byID[m.ID] = m
		fs.active[m.ID] = m.Active
	}
	return fs
}

func (f *fakeStore) GetMonitor(ctx context.Context, id uuid.UUID) (store.MonitorRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id], nil
}

func (f *fakeStore) ListActiveMonitors(ctx context.Context) ([]store.MonitorRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.MonitorRow
	for id, m := range f.byID {
		if f.active[id] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) SetMonitorActive(ctx context.Context, id uuid.UUID, active bool) error {
	atomic.AddInt32(&f.setCall, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[id] = active
	return nil
}

type fakeTicker struct {
	calls  int32
	tickFn func(ctx context.Context, monitor store.MonitorRow) error
}

func (f *fakeTicker) Tick(ctx context.Context, monitor store.MonitorRow) error {
	atomic.AddInt32(&f.calls, 1)
	if f.tickFn != nil {
		return f.tickFn(ctx, monitor)
	}
	return nil
}

func TestJitterDelayDeterministicAndBounded(t *testing.T) {
	id := uuid.New()
	a := jitterDelay(id)
	b := jitterDelay(id)
	if a != b {
		t.Errorf("jitterDelay(%s) is not deterministic: %v != %v", id, a, b)
	}
	if a < 0 || a >= time.Duration(jitterModulus)*time.Second {
		t.Errorf("jitterDelay() = %v, want within [0, %ds)", a, jitterModulus)
	}
}

func TestJitterDelayVariesAcrossIDs(t *testing.T) {
	seen := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		seen[jitterDelay(uuid.New())] = true
	}
	if len(seen) < 2 {
		t.Error("expected jitterDelay to vary across different monitor IDs")
	}
}

func TestStartMarksActiveAndSchedulesExactlyOnce(t *testing.T) {
	monitor := store.MonitorRow{ID: uuid.New(), Area: "Seattle", IntervalSeconds: 3600}
	fs := newFakeStore()
	ft := &fakeTicker{}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sup := New(ctx, fs, ft, testLogger())

	if err := sup.Start(t.Context(), monitor); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !fs.active[monitor.ID] {
		t.Error("expected monitor to be marked active in storage")
	}

	sup.mu.Lock()
	_, scheduled := sup.scheduled[monitor.ID]
	sup.mu.Unlock()
	if !scheduled {
		t.Error("expected monitor to be present in the runtime scheduled map")
	}

	// A second Start call for the same monitor is a no-op, not a duplicate schedule.
	if err := sup.Start(t.Context(), monitor); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if got := atomic.LoadInt32(&fs.setCall); got != 1 {
		t.Errorf("SetMonitorActive called %d times, want exactly 1 (duplicate start should be a no-op)", got)
	}
}

func TestStopCancelsAndMarksInactive(t *testing.T) {
	monitor := store.MonitorRow{ID: uuid.New(), Area: "Seattle", IntervalSeconds: 3600}
	fs := newFakeStore()
	ft := &fakeTicker{}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sup := New(ctx, fs, ft, testLogger())

	if err := sup.Start(t.Context(), monitor); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sup.Stop(t.Context(), monitor.ID); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if fs.active[monitor.ID] {
		t.Error("expected monitor to be marked inactive after Stop")
	}
	sup.mu.Lock()
	_, scheduled := sup.scheduled[monitor.ID]
	sup.mu.Unlock()
	if scheduled {
		t.Error("expected monitor to be removed from the runtime scheduled map after Stop")
	}
}

func TestStartAllSchedulesEveryActiveMonitor(t *testing.T) {
	m1 := store.MonitorRow{ID: uuid.New(), Area: "A", IntervalSeconds: 3600, Active: true}
	m2 := store.MonitorRow{ID: uuid.New(), Area: "B", IntervalSeconds: 3600, Active: true}
	fs := newFakeStore(m1, m2)
	ft := &fakeTicker{}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sup := New(ctx, fs, ft, testLogger())

	if err := sup.StartAll(t.Context()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	sup.mu.Lock()
	count := len(sup.scheduled)
	sup.mu.Unlock()
	if count != 2 {
		t.Errorf("scheduled monitor count = %d, want 2", count)
	}
}

func TestRunTickSkipsWhenGateSaturated(t *testing.T) {
	fs := newFakeStore()
	block := make(chan struct{})
	ft := &fakeTicker{tickFn: func(ctx context.Context, monitor store.MonitorRow) error {
		<-block
		return nil
	}}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sup := New(ctx, fs, ft, testLogger())

	m := store.MonitorRow{ID: uuid.New(), Area: "Seattle"}
	var wg sync.WaitGroup
	for i := 0; i < concurrencyLimit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.runTick(ctx, m)
		}()
	}
	// Give the first two ticks a moment to acquire the gate before the third.
	time.Sleep(50 * time.Millisecond)
	sup.runTick(ctx, store.MonitorRow{ID: uuid.New(), Area: "Saturated"})

	close(block)
	wg.Wait()

	if got := atomic.LoadInt32(&ft.calls); got != concurrencyLimit {
		t.Errorf("ticker invoked %d times, want exactly %d (the saturated call should have been skipped)", got, concurrencyLimit)
	}
}

func TestReconcileRestartsMissingMonitor(t *testing.T) {
	monitor := store.MonitorRow{ID: uuid.New(), Area: "Seattle", IntervalSeconds: 3600, Active: true}
	fs := newFakeStore(monitor)
	ft := &fakeTicker{}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sup := New(ctx, fs, ft, testLogger())

	// The monitor is active in storage but absent from the runtime map.
	sup.reconcile(t.Context())

	sup.mu.Lock()
	_, scheduled := sup.scheduled[monitor.ID]
	sup.mu.Unlock()
	if !scheduled {
		t.Error("expected reconcile to restart a monitor active in storage but missing from the runtime map")
	}
}

func TestReconcileIsIdempotentForAlreadyRunningMonitor(t *testing.T) {
	monitor := store.MonitorRow{ID: uuid.New(), Area: "Seattle", IntervalSeconds: 3600, Active: true}
	fs := newFakeStore(monitor)
	ft := &fakeTicker{}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sup := New(ctx, fs, ft, testLogger())

	if err := sup.Start(t.Context(), monitor); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sup.reconcile(t.Context())

	if got := atomic.LoadInt32(&fs.setCall); got != 1 {
		t.Errorf("SetMonitorActive called %d times, want exactly 1 (reconcile should not re-start an already-running monitor)", got)
	}
}
