package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keithk/siteherd/internal/history"
	"github.com/keithk/siteherd/internal/metrics"
	"github.com/keithk/siteherd/internal/netprobe"
	"github.com/keithk/siteherd/internal/registry"
	"github.com/keithk/siteherd/internal/resource"
	"github.com/keithk/siteherd/internal/restart"
	"github.com/keithk/siteherd/internal/runner"
)

// Default loop intervals and thresholds.
const (
	DefaultHealthInterval   = 30 * time.Second
	DefaultResourceInterval = 5 * time.Second

	healthFailureThreshold = 3
	maxPortAttempts        = 10
	restartStopTimeout     = 10 * time.Second
	restartSettleDelay     = 500 * time.Millisecond
	restartVerifyDelay     = 5 * time.Second
	portFreeGrace          = 2 * time.Second
	killGrace              = 500 * time.Millisecond
)

// Options configures a Supervisor. Zero-value fields get working defaults;
// only Store is required for durability (a memory store is used otherwise).
type Options struct {
	Store   registry.Store
	Prober  netprobe.Prober
	Sampler resource.Sampler
	Spawner runner.Spawner
	// Alive overrides the OS pid liveness probe. Used by crash recovery and
	// the health predicate.
	Alive            func(pid int) bool
	Logger           *slog.Logger
	HistorySinks     []history.Sink
	HealthInterval   time.Duration
	ResourceInterval time.Duration
	MaxSampleHistory int
}

// Supervisor owns the map of live process records and drives start, stop,
// restart, the health-check loop, the resource-monitor loop, crash recovery
// and shutdown. One instance supervises one host; construct it explicitly
// and pass it to callers.
type Supervisor struct {
	store   registry.Store
	prober  netprobe.Prober
	sampler resource.Sampler
	spawner runner.Spawner
	alive   func(pid int) bool
	log     *slog.Logger
	sinks   []history.Sink

	healthInterval   time.Duration
	resourceInterval time.Duration
	maxSamples       int

	mu      sync.RWMutex
	records map[string]*record
	idLocks *keyedLock
	hist    *restart.History

	// delayFn computes the backoff before a restart attempt; tests shrink it.
	delayFn func(restart.Policy, int) time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	loopWG   sync.WaitGroup
	shutdown atomic.Bool
}

// New constructs a Supervisor and reconciles the persisted registry against
// live OS processes before returning, so start decisions never act on stale
// rows. Background loops are running when New returns.
func New(opts Options) (*Supervisor, error) {
	if opts.Store == nil {
		opts.Store = registry.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Prober == nil {
		opts.Prober = netprobe.NewTCPProber(opts.Logger)
	}
	if opts.Sampler == nil {
		opts.Sampler = resource.GopsutilSampler{}
	}
	if opts.Spawner == nil {
		opts.Spawner = runner.ExecSpawner{}
	}
	if opts.Alive == nil {
		opts.Alive = runner.Alive
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.ResourceInterval <= 0 {
		opts.ResourceInterval = DefaultResourceInterval
	}
	if opts.MaxSampleHistory <= 0 {
		opts.MaxSampleHistory = resource.DefaultMaxHistory
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		store:            opts.Store,
		prober:           opts.Prober,
		sampler:          opts.Sampler,
		spawner:          opts.Spawner,
		alive:            opts.Alive,
		log:              opts.Logger,
		sinks:            append([]history.Sink(nil), opts.HistorySinks...),
		healthInterval:   opts.HealthInterval,
		resourceInterval: opts.ResourceInterval,
		maxSamples:       opts.MaxSampleHistory,
		records:          make(map[string]*record),
		idLocks:          newKeyedLock(),
		hist:             restart.NewHistory(),
		ctx:              ctx,
		cancel:           cancel,
	}
	s.delayFn = func(p restart.Policy, attempt int) time.Duration { return p.Delay(attempt) }

	if err := s.recover(context.Background()); err != nil {
		cancel()
		return nil, fmt.Errorf("crash recovery: %w", err)
	}

	s.loopWG.Add(2)
	go s.healthLoop()
	go s.resourceLoop()
	return s, nil
}

// recover reconciles persisted entries against actual OS process liveness.
// Live pids are adopted (status corrected to running); dead ones are deleted.
// Adopted processes have no in-memory record until explicitly restarted.
func (s *Supervisor) recover(ctx context.Context) error {
	entries, err := s.store.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if s.alive(e.PID) {
			if e.Status != registry.StatusRunning {
				if err := s.store.UpdateStatus(ctx, e.ID, registry.StatusRunning); err != nil {
					return err
				}
			}
			s.log.Info("adopted running process from registry",
				"id", e.ID, "pid", e.PID)
			continue
		}
		if err := s.store.Delete(ctx, e.ID); err != nil {
			return err
		}
		s.log.Info("removed stale registry entry", "id", e.ID, "pid", e.PID)
	}
	return nil
}

// HasProcess reports whether a process is supervised or adopted for the
// (site, port) identity.
func (s *Supervisor) HasProcess(ctx context.Context, site string, port int) bool {
	id := registry.ID(site, port)
	s.mu.RLock()
	_, ok := s.records[id]
	s.mu.RUnlock()
	if ok {
		return true
	}
	e, found, err := s.store.Get(ctx, id)
	if err != nil || !found {
		return false
	}
	return s.alive(e.PID)
}

// ListProcesses returns summaries of every supervised record plus adopted
// processes that only exist as live persisted entries.
func (s *Supervisor) ListProcesses() []Summary {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.records))
	seen := make(map[string]struct{}, len(s.records))
	for id, rec := range s.records {
		out = append(out, s.summarize(id, rec))
		seen[id] = struct{}{}
	}
	s.mu.RUnlock()

	entries, err := s.store.GetAll(context.Background())
	if err != nil {
		s.log.Error("list persisted entries", "err", err)
		return out
	}
	for _, e := range entries {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		if !s.alive(e.PID) {
			continue
		}
		out = append(out, summaryFromEntry(e))
	}
	return out
}

// healthy is the health predicate: the handle reports a pid, has not been
// killed, and the pid answers a no-op liveness probe.
func (s *Supervisor) healthy(rec *record) bool {
	if rec.handle == nil {
		return false
	}
	pid := rec.handle.PID()
	if pid == 0 || rec.handle.Killed() {
		return false
	}
	return s.alive(pid)
}

func (s *Supervisor) getRecord(id string) (*record, bool) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	return rec, ok
}

// removeRecord deletes id from the map only if it still holds rec, guarding
// against a record already replaced by a newer start.
func (s *Supervisor) removeRecord(id string, rec *record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.records[id]; ok && cur == rec {
		delete(s.records, id)
		metrics.SetRunningProcesses(len(s.records))
		return true
	}
	return false
}

func (s *Supervisor) emit(t history.EventType, e registry.Entry) {
	evt := history.Event{Type: t, OccurredAt: time.Now().UTC(), Entry: e}
	for _, sink := range s.sinks {
		_ = sink.Send(context.Background(), evt)
	}
}

// summaryFromEntry describes an adopted process, which has no in-memory
// record and therefore no health or resource state.
func summaryFromEntry(e registry.Entry) Summary {
	return Summary{
		ID:        e.ID,
		Site:      e.Site,
		Port:      e.Port,
		PID:       e.PID,
		Type:      e.Type,
		Script:    e.Script,
		StartTime: e.StartTime,
		Uptime:    time.Since(e.StartTime),
	}
}

func entryFor(rec *record, status registry.Status) registry.Entry {
	return registry.Entry{
		ID:        registry.ID(rec.spec.Site, rec.spec.Port),
		Site:      rec.spec.Site,
		Port:      rec.spec.Port,
		PID:       rec.pid(),
		Type:      rec.spec.Type,
		Script:    rec.spec.Script,
		Cwd:       rec.spec.Cwd,
		StartTime: rec.startTime,
		Status:    status,
	}
}

// ShutdownAll suppresses all future auto-restarts, cancels both background
// loops, then stops every record concurrently within the time budget.
// Idempotent; with no records it returns promptly.
func (s *Supervisor) ShutdownAll(timeout time.Duration) {
	s.shutdown.Store(true)
	s.cancel()
	s.loopWG.Wait()

	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.stopByID(id, timeout); err != nil {
				s.log.Warn("process did not stop gracefully during shutdown",
					"id", id, "err", err)
			}
		}(id)
	}
	wg.Wait()
}
