// Package supervisor owns the lifecycle of periodic threat pipeline ticks
// for each active monitor (C7): staggered first runs, a process-wide
// concurrency gate, and health/recovery loops that repair drift between
// the monitors marked active in storage and the timers actually running.
package supervisor

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/tacops/internal/telemetry"
	"github.com/wisbric/tacops/pkg/store"
)

const (
	concurrencyLimit = 2
	staggerInterval  = 15 * time.Second
	jitterModulus    = 90
	healthInterval   = 1 * time.Minute
	recoveryInterval = 5 * time.Minute
)

// State is a monitor's position in the §4.7 state machine.
type State string

const (
	StateStopped   State = "stopped"
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
)

// Store is the slice of the persistence adapter the supervisor needs.
type Store interface {
	GetMonitor(ctx context.Context, id uuid.UUID) (store.MonitorRow, error)
	ListActiveMonitors(ctx context.Context) ([]store.MonitorRow, error)
	SetMonitorActive(ctx context.Context, id uuid.UUID, active bool) error
}

// Ticker runs one pipeline iteration for a monitor. pkg/threatpipeline's
// Pipeline implements this; the supervisor never imports threatpipeline
// directly, matching the narrow-interface shape used throughout this
// module's domain packages.
type Ticker interface {
	Tick(ctx context.Context, monitor store.MonitorRow) error
}

type scheduledMonitor struct {
	cancel context.CancelFunc
	state  State
}

// Supervisor schedules and runs monitor ticks.
type Supervisor struct {
	store  Store
	ticker Ticker
	logger *slog.Logger

	gate chan struct{}

	mu        sync.Mutex
	scheduled map[uuid.UUID]*scheduledMonitor

	rootCtx    context.Context
	rootCancel context.CancelFunc
	loopsWG    sync.WaitGroup
}

// New creates a Supervisor bound to ctx: every monitor timer and loop it
// starts is a child of ctx and is cancelled when ctx is. Call Run to start
// the health/recovery loops; Start/StartAll may be called before or after
// Run, since both only depend on the context fixed here.
func New(ctx context.Context, st Store, ticker Ticker, logger *slog.Logger) *Supervisor {
	rootCtx, rootCancel := context.WithCancel(ctx)
	return &Supervisor{
		store:      st,
		ticker:     ticker,
		logger:     logger,
		gate:       make(chan struct{}, concurrencyLimit),
		scheduled:  make(map[uuid.UUID]*scheduledMonitor),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
}

// jitterDelay computes the deterministic first-run jitter for a monitor:
// (hash(monitorId) mod 90) * 1s, per §4.7.
func jitterDelay(monitorID uuid.UUID) time.Duration {
	h := fnv.New32a()
	_, _ = h.Write(monitorID[:])
	return time.Duration(h.Sum32()%jitterModulus) * time.Second
}

// Run starts the health and recovery loops. It blocks until the context
// passed to New is cancelled, then stops every scheduled monitor and
// returns.
func (s *Supervisor) Run() error {
	s.logger.Info("monitor supervisor started")

	s.loopsWG.Add(2)
	go s.healthLoop()
	go s.recoveryLoop()

	<-s.rootCtx.Done()
	s.shutdown()
	return nil
}

func (s *Supervisor) shutdown() {
	s.logger.Info("monitor supervisor stopping")
	s.rootCancel()
	s.loopsWG.Wait()

	s.mu.Lock()
	for id, sm := range s.scheduled {
		sm.cancel()
		delete(s.scheduled, id)
	}
	s.mu.Unlock()
	telemetry.MonitorsActive.Set(0)
}

// StartAll starts every monitor marked active in storage, staggering first
// runs by index*15s to avoid a thundering herd on boot, per §4.7.
func (s *Supervisor) StartAll(ctx context.Context) error {
	monitors, err := s.store.ListActiveMonitors(ctx)
	if err != nil {
		return err
	}
	for i, m := range monitors {
		delay := time.Duration(i) * staggerInterval
		if err := s.start(ctx, m, &delay); err != nil {
			s.logger.Error("starting monitor during startAll", "monitor_id", m.ID, "error", err)
		}
	}
	return nil
}

// Start transitions monitor into Scheduled with the deterministic jitter
// delay, marks it active in storage, and arranges for the first tick to
// fire after the delay.
func (s *Supervisor) Start(ctx context.Context, monitor store.MonitorRow) error {
	return s.start(ctx, monitor, nil)
}

func (s *Supervisor) start(ctx context.Context, monitor store.MonitorRow, optionalDelay *time.Duration) error {
	s.mu.Lock()
	if _, exists := s.scheduled[monitor.ID]; exists {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.store.SetMonitorActive(ctx, monitor.ID, true); err != nil {
		return err
	}

	delay := jitterDelay(monitor.ID)
	if optionalDelay != nil {
		delay = *optionalDelay
	}

	runCtx, cancel := context.WithCancel(s.rootCtx)
	sm := &scheduledMonitor{cancel: cancel, state: StateScheduled}

	s.mu.Lock()
	s.scheduled[monitor.ID] = sm
	s.mu.Unlock()
	telemetry.MonitorsActive.Inc()

	interval := time.Duration(monitor.IntervalSeconds) * time.Second
	go s.runMonitor(runCtx, monitor, delay, interval, sm)
	return nil
}

// Stop cancels monitor's pending timer or in-flight interval, marks it
// inactive in storage, and transitions it to Stopped. A currently
// executing tick is allowed to run to completion (best-effort).
func (s *Supervisor) Stop(ctx context.Context, monitorID uuid.UUID) error {
	s.mu.Lock()
	sm, ok := s.scheduled[monitorID]
	if ok {
		delete(s.scheduled, monitorID)
	}
	s.mu.Unlock()

	if ok {
		sm.cancel()
		telemetry.MonitorsActive.Dec()
	}
	return s.store.SetMonitorActive(ctx, monitorID, false)
}

// runMonitor waits out the initial delay, fires the first tick, transitions
// to Running, and then fires one tick per interval until ctx is cancelled.
func (s *Supervisor) runMonitor(ctx context.Context, monitor store.MonitorRow, delay, interval time.Duration, sm *scheduledMonitor) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.mu.Lock()
	sm.state = StateRunning
	s.mu.Unlock()
	// Ticks run under the supervisor's root context rather than ctx, so
	// Stop halts further ticks without cutting short one that is executing.
	s.runTick(s.rootCtx, monitor)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Re-read the monitor so interval/area edits since the last
			// tick take effect without requiring a restart.
			fresh, err := s.store.GetMonitor(ctx, monitor.ID)
			if err != nil {
				s.logger.Error("reading monitor before tick", "monitor_id", monitor.ID, "error", err)
				continue
			}
			monitor = fresh
			s.runTick(s.rootCtx, monitor)
		}
	}
}

// runTick acquires the concurrency gate and runs one tick, skipping as a
// no-op (logged) if the gate is saturated, per §4.7.
func (s *Supervisor) runTick(ctx context.Context, monitor store.MonitorRow) {
	select {
	case s.gate <- struct{}{}:
	default:
		telemetry.ConcurrencyGateSaturatedTotal.Inc()
		s.logger.Warn("concurrency gate saturated, skipping tick", "monitor_id", monitor.ID, "area", monitor.Area)
		return
	}
	defer func() { <-s.gate }()

	start := time.Now()
	if err := s.ticker.Tick(ctx, monitor); err != nil {
		s.logger.Error("monitor tick failed", "monitor_id", monitor.ID, "area", monitor.Area, "error", err)
	}
	telemetry.MonitorTickDuration.Observe(time.Since(start).Seconds())
}

func (s *Supervisor) healthLoop() {
	defer s.loopsWG.Done()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.rootCtx.Done():
			return
		case <-ticker.C:
			s.reconcile(s.rootCtx)
		}
	}
}

func (s *Supervisor) recoveryLoop() {
	defer s.loopsWG.Done()
	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.rootCtx.Done():
			return
		case <-ticker.C:
			s.reconcile(s.rootCtx)
		}
	}
}

// reconcile restarts any monitor marked active in storage that has no
// running timer. The recovery loop calls the same logic as the health loop
// on a longer period, an idempotent superset per §4.7.
func (s *Supervisor) reconcile(ctx context.Context) {
	monitors, err := s.store.ListActiveMonitors(ctx)
	if err != nil {
		s.logger.Error("listing active monitors during reconcile", "error", err)
		return
	}

	for _, m := range monitors {
		s.mu.Lock()
		_, running := s.scheduled[m.ID]
		s.mu.Unlock()
		if running {
			continue
		}
		s.logger.Warn("restarting monitor absent from runtime map", "monitor_id", m.ID, "area", m.Area)
		if err := s.start(ctx, m, nil); err != nil {
			s.logger.Error("restarting monitor", "monitor_id", m.ID, "error", err)
		}
	}
}
