package supervisor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/keithk/siteherd/internal/history"
	"github.com/keithk/siteherd/internal/metrics"
	"github.com/keithk/siteherd/internal/netprobe"
	"github.com/keithk/siteherd/internal/registry"
	"github.com/keithk/siteherd/internal/resource"
	"github.com/keithk/siteherd/internal/restart"
	"github.com/keithk/siteherd/internal/runner"
	"github.com/keithk/siteherd/internal/syskill"
)

// Start launches the process described by spec. If a healthy process already
// holds the identity the call is a no-op returning its current state; an
// unhealthy holder is torn down and replaced. The returned Summary reflects
// the process actually supervised, including a substituted port when
// spec.AllowPortFallback permitted one.
func (s *Supervisor) Start(ctx context.Context, spec LaunchSpec) (Summary, error) {
	if s.shutdown.Load() {
		return Summary{}, ErrShuttingDown
	}
	unlock := s.idLocks.lock(registry.ID(spec.Site, spec.Port))
	defer unlock()
	return s.startLocked(ctx, spec)
}

// startLocked runs the start sequence with the identity lock already held.
func (s *Supervisor) startLocked(ctx context.Context, spec LaunchSpec) (Summary, error) {
	id := registry.ID(spec.Site, spec.Port)

	if sum, settled, err := s.claimIdentity(ctx, id); settled || err != nil {
		return sum, err
	}

	port := spec.Port
	if s.prober.IsPortInUse(port) {
		if !spec.AllowPortFallback {
			return Summary{}, fmt.Errorf("%w: %d", ErrPortUnavailable, port)
		}
		next, err := netprobe.FindAvailablePort(s.prober, port+1, maxPortAttempts)
		if err != nil {
			return Summary{}, fmt.Errorf("%w: no substitute near %d", ErrPortUnavailable, port)
		}
		s.log.Warn("requested port occupied, substituting",
			"site", spec.Site, "requested", port, "substitute", next)
		port = next
		spec.Port = port
		id = registry.ID(spec.Site, port)
		// the start now targets the substituted identity, so it must hold
		// that identity's lock too. Substitutes are always higher ports than
		// the requested one, so the nested acquisition cannot cycle.
		unlock := s.idLocks.lock(id)
		defer unlock()
		if sum, settled, err := s.claimIdentity(ctx, id); settled || err != nil {
			return sum, err
		}
		if s.prober.IsPortInUse(port) {
			return Summary{}, fmt.Errorf("%w: %d claimed during substitution", ErrPortUnavailable, port)
		}
	}

	return s.spawnLocked(ctx, id, spec)
}

// claimIdentity resolves whatever already holds id before a spawn, with the
// identity's lock held. settled=true means the start is answered by sum as-is
// (a healthy holder or an adopted survivor); otherwise any unhealthy holder
// or stale persisted row has been cleared and the caller may spawn.
func (s *Supervisor) claimIdentity(ctx context.Context, id string) (sum Summary, settled bool, err error) {
	if rec, ok := s.getRecord(id); ok {
		if s.healthy(rec) {
			s.log.Debug("start is a no-op, process already healthy", "id", id)
			return s.summarize(id, rec), true, nil
		}
		s.log.Info("replacing unhealthy process", "id", id, "pid", rec.pid())
		s.teardown(id, rec, restartStopTimeout)
		return Summary{}, false, nil
	}
	e, found, err := s.store.Get(ctx, id)
	if err != nil || !found {
		return Summary{}, false, nil
	}
	// a persisted entry with no in-memory record: either an adopted
	// survivor from a previous supervisor run, or a stale row
	if s.alive(e.PID) && s.prober.IsPortInUse(e.Port) {
		s.log.Info("adopted process already running, not spawning",
			"id", id, "pid", e.PID)
		return summaryFromEntry(e), true, nil
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return Summary{}, false, fmt.Errorf("delete stale entry %s: %w", id, err)
	}
	return Summary{}, false, nil
}

// spawnLocked spawns the process and books the record. The port in spec is
// final and the lock for id is held.
func (s *Supervisor) spawnLocked(ctx context.Context, id string, spec LaunchSpec) (Summary, error) {
	port := spec.Port
	stdout, stderr, err := spec.Log.Writers(spec.Site)
	if err != nil {
		return Summary{}, fmt.Errorf("open log sinks for %s: %w", spec.Site, err)
	}
	runner.WriteLaunchDelimiter(stdout, spec.Site, port)
	if stderr != stdout {
		runner.WriteLaunchDelimiter(stderr, spec.Site, port)
	}

	argv := runner.BuildCommand(spec.Script, port, spec.Env)
	env := runner.MergeEnv(os.Environ(), spec.Env, port)
	handle, err := s.spawner.Spawn(runner.LaunchSpec{
		Argv:   argv,
		Cwd:    spec.Cwd,
		Env:    env,
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("spawn %s: %w", id, err)
	}

	rec := &record{
		spec:      spec,
		handle:    handle,
		policy:    restart.PolicyFromEnv(spec.Env),
		limits:    resource.LimitsFromEnv(spec.Env),
		startTime: time.Now(),
		resources: resource.NewHistory(s.maxSamples),
	}
	s.mu.Lock()
	s.records[id] = rec
	metrics.SetRunningProcesses(len(s.records))
	s.mu.Unlock()

	entry := entryFor(rec, registry.StatusRunning)
	if err := s.store.Save(ctx, entry); err != nil {
		s.log.Error("persist process entry", "id", id, "err", err)
	}
	metrics.IncStart(spec.Site)
	s.emit(history.EventStart, entry)
	s.log.Info("process started",
		"id", id, "pid", handle.PID(), "script", spec.Script)

	go s.watchExit(id, rec)
	return s.summarize(id, rec), nil
}

// watchExit blocks on the handle until the OS process exits, then decides
// whether the exit warrants an automatic restart.
func (s *Supervisor) watchExit(id string, rec *record) {
	<-rec.handle.Done()
	exit := rec.handle.ExitState()

	// only the record that is still current gets exit handling; a stop or
	// replacement already removed superseded ones
	if cur, ok := s.getRecord(id); !ok || cur != rec {
		return
	}
	if rec.isStopRequested() || s.shutdown.Load() {
		return
	}

	s.removeRecord(id, rec)
	metrics.DropResourceSeries(id)

	if exit.Code == 0 {
		s.log.Info("process exited cleanly", "id", id)
		if err := s.store.UpdateStatus(context.Background(), id, registry.StatusStopped); err != nil {
			s.log.Error("mark stopped", "id", id, "err", err)
		}
		return
	}

	s.log.Warn("process exited unexpectedly",
		"id", id, "code", exit.Code, "err", exit.Err)
	s.attemptRestart(id, rec, "crash")
}

// attemptRestart applies the restart budget and backoff for id, then
// schedules the delayed re-spawn. reason feeds logs only.
func (s *Supervisor) attemptRestart(id string, rec *record, reason string) {
	if s.shutdown.Load() {
		return
	}
	if !rec.policy.Enabled {
		s.log.Info("auto-restart disabled for process", "id", id)
		s.markFailed(id)
		return
	}

	attempt := s.hist.Record(id, rec.policy.RestartWindow)
	if attempt > rec.policy.MaxRestarts {
		s.log.Error("restart budget exhausted, giving up",
			"id", id, "attempts", attempt, "window", rec.policy.RestartWindow)
		metrics.IncCrashLoop(rec.spec.Site)
		s.emit(history.EventCrashLoop, entryFor(rec, registry.StatusFailed))
		s.markFailed(id)
		return
	}

	delay := s.delayFn(rec.policy, attempt)
	s.log.Info("scheduling restart",
		"id", id, "reason", reason, "attempt", attempt, "delay", delay)
	if err := s.store.UpdateStatus(context.Background(), id, registry.StatusRestarting); err != nil {
		s.log.Error("mark restarting", "id", id, "err", err)
	}

	go func() {
		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}
		if s.shutdown.Load() {
			return
		}
		unlock := s.idLocks.lock(id)
		defer unlock()
		if s.shutdown.Load() {
			return
		}
		// a fresh start may have claimed the identity during the backoff
		if cur, ok := s.getRecord(id); ok && s.healthy(cur) {
			return
		}
		if s.prober.IsPortInUse(rec.spec.Port) {
			time.Sleep(portFreeGrace)
			if s.prober.IsPortInUse(rec.spec.Port) {
				s.log.Error("port still occupied, abandoning restart",
					"id", id, "port", rec.spec.Port)
				s.markFailed(id)
				return
			}
		}
		sum, err := s.startLocked(context.Background(), rec.spec)
		if err != nil {
			s.log.Error("restart re-spawn failed", "id", id, "err", err)
			s.markFailed(id)
			return
		}
		if next, ok := s.getRecord(sum.ID); ok {
			next.mu.Lock()
			next.lastRestart = time.Now()
			next.mu.Unlock()
			// the event must describe the replacement pid, not the dead one
			s.emit(history.EventRestart, entryFor(next, registry.StatusRunning))
		}
		metrics.IncRestart(rec.spec.Site)
		s.verifyLater(sum.ID)
	}()
}

// verifyLater re-checks a just-restarted process after a short delay. The
// outcome is informational only.
func (s *Supervisor) verifyLater(id string) {
	time.AfterFunc(restartVerifyDelay, func() {
		rec, ok := s.getRecord(id)
		if !ok {
			return
		}
		if s.healthy(rec) {
			s.log.Debug("restarted process verified healthy", "id", id)
		} else {
			s.log.Warn("restarted process not healthy after grace period", "id", id)
		}
	})
}

func (s *Supervisor) markFailed(id string) {
	if err := s.store.UpdateStatus(context.Background(), id, registry.StatusFailed); err != nil {
		s.log.Error("mark failed", "id", id, "err", err)
	}
}

// Stop terminates the process for (site, port) and removes all bookkeeping.
// Termination escalates from the graceful signal to the forceful one after
// timeout; bookkeeping is removed even if the process refuses to die.
func (s *Supervisor) Stop(ctx context.Context, site string, port int, timeout time.Duration) error {
	return s.stopByID(registry.ID(site, port), timeout)
}

func (s *Supervisor) stopByID(id string, timeout time.Duration) error {
	unlock := s.idLocks.lock(id)
	defer unlock()

	rec, ok := s.getRecord(id)
	if !ok {
		// persisted-only identity: an adopted survivor from a previous run
		e, found, err := s.store.Get(context.Background(), id)
		if err != nil || !found {
			return ErrNotFound
		}
		if s.alive(e.PID) {
			syskill.Terminate(e.PID, timeout, killGrace, s.alive)
		}
		if err := s.store.UpdateStatus(context.Background(), id, registry.StatusStopped); err != nil {
			s.log.Error("mark stopped", "id", id, "err", err)
		}
		return s.store.Delete(context.Background(), id)
	}

	rec.markStopRequested()
	err := s.terminateHandle(rec, timeout)
	s.teardownBookkeeping(id, rec)
	s.log.Info("process stopped", "id", id)
	return err
}

// terminateHandle escalates SIGTERM to SIGKILL on the handle and waits for
// the reaper to confirm exit.
func (s *Supervisor) terminateHandle(rec *record, timeout time.Duration) error {
	if rec.handle == nil {
		return nil
	}
	_ = rec.handle.Terminate()
	select {
	case <-rec.handle.Done():
		return nil
	case <-time.After(timeout):
	}
	s.log.Warn("graceful stop timed out, killing", "pid", rec.pid())
	_ = rec.handle.Kill()
	select {
	case <-rec.handle.Done():
		return nil
	case <-time.After(killGrace):
		return ErrStopTimeout
	}
}

// teardownBookkeeping removes the record, metrics series and persisted row
// for a deliberate stop.
func (s *Supervisor) teardownBookkeeping(id string, rec *record) {
	s.removeRecord(id, rec)
	metrics.DropResourceSeries(id)
	s.hist.Reset(id)
	entry := entryFor(rec, registry.StatusStopped)
	if err := s.store.UpdateStatus(context.Background(), id, registry.StatusStopped); err != nil {
		s.log.Error("mark stopped", "id", id, "err", err)
	}
	if err := s.store.Delete(context.Background(), id); err != nil {
		s.log.Error("delete process entry", "id", id, "err", err)
	}
	metrics.IncStop(rec.spec.Site)
	s.emit(history.EventStop, entry)
}

// teardown is the replace-an-unhealthy-holder variant: it kills and unbooks
// without emitting a stop event for the new start that follows.
func (s *Supervisor) teardown(id string, rec *record, timeout time.Duration) {
	rec.markStopRequested()
	_ = s.terminateHandle(rec, timeout)
	s.removeRecord(id, rec)
	metrics.DropResourceSeries(id)
	if err := s.store.Delete(context.Background(), id); err != nil {
		s.log.Error("delete process entry", "id", id, "err", err)
	}
}

// Restart performs a deliberate stop-then-start cycle for (site, port). It
// does not consume the automatic restart budget. When only a persisted entry
// exists the relaunch is reconstructed from it; persisted rows do not carry
// the launch environment, so such a relaunch runs with an empty Env.
func (s *Supervisor) Restart(ctx context.Context, site string, port int) (Summary, error) {
	if s.shutdown.Load() {
		return Summary{}, ErrShuttingDown
	}
	id := registry.ID(site, port)
	unlock := s.idLocks.lock(id)
	defer unlock()

	// a deliberate restart grants a fresh crash budget, so an operator can
	// revive a crash-looped process without waiting out the window
	s.hist.Reset(id)

	var spec LaunchSpec
	if rec, ok := s.getRecord(id); ok {
		spec = rec.spec
		if err := s.store.UpdateStatus(ctx, id, registry.StatusRestarting); err != nil {
			s.log.Error("mark restarting", "id", id, "err", err)
		}
		rec.markStopRequested()
		if err := s.terminateHandle(rec, restartStopTimeout); err != nil {
			s.log.Warn("restart stop escalated", "id", id, "err", err)
		}
		s.removeRecord(id, rec)
		metrics.DropResourceSeries(id)
	} else {
		e, found, err := s.store.Get(ctx, id)
		if err != nil {
			return Summary{}, err
		}
		if !found {
			return Summary{}, ErrNotFound
		}
		if s.alive(e.PID) {
			syskill.Terminate(e.PID, restartStopTimeout, killGrace, s.alive)
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return Summary{}, err
		}
		s.log.Warn("restarting from persisted entry, launch env is lost", "id", id)
		spec = LaunchSpec{
			Site:   e.Site,
			Port:   e.Port,
			Script: e.Script,
			Cwd:    e.Cwd,
			Type:   e.Type,
		}
	}

	time.Sleep(restartSettleDelay)
	if s.prober.IsPortInUse(spec.Port) {
		time.Sleep(portFreeGrace)
		if s.prober.IsPortInUse(spec.Port) {
			s.markFailed(id)
			return Summary{}, fmt.Errorf("%w: %d still bound after stop", ErrPortUnavailable, spec.Port)
		}
	}
	sum, err := s.startLocked(ctx, spec)
	if err != nil {
		return Summary{}, err
	}
	if rec, ok := s.getRecord(sum.ID); ok {
		rec.mu.Lock()
		rec.lastRestart = time.Now()
		sum.LastRestart = rec.lastRestart
		rec.mu.Unlock()
	}
	metrics.IncRestart(site)
	s.log.Info("process restarted", "id", sum.ID, "pid", sum.PID)
	return sum, nil
}

// RestartAll restarts every supervised process belonging to site. Failures
// are collected per identity; one bad slot does not block the others.
func (s *Supervisor) RestartAll(ctx context.Context, site string) ([]Summary, error) {
	if s.shutdown.Load() {
		return nil, ErrShuttingDown
	}
	s.mu.RLock()
	var ports []int
	for _, rec := range s.records {
		if rec.spec.Site == site {
			ports = append(ports, rec.spec.Port)
		}
	}
	s.mu.RUnlock()
	if len(ports) == 0 {
		return nil, ErrNotFound
	}

	var sums []Summary
	var firstErr error
	for _, port := range ports {
		sum, err := s.Restart(ctx, site, port)
		if err != nil {
			s.log.Error("restart failed", "site", site, "port", port, "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("restart %s: %w", registry.ID(site, port), err)
			}
			continue
		}
		sums = append(sums, sum)
	}
	return sums, firstErr
}

func (s *Supervisor) summarize(id string, rec *record) Summary {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	sum := Summary{
		ID:           id,
		Site:         rec.spec.Site,
		Port:         rec.spec.Port,
		PID:          rec.pid(),
		Type:         rec.spec.Type,
		Script:       rec.spec.Script,
		StartTime:    rec.startTime,
		Uptime:       time.Since(rec.startTime),
		LastRestart:  rec.lastRestart,
		Restarts:     s.hist.Count(id, rec.policy.RestartWindow),
		HealthChecks: rec.health,
	}
	if rec.current != nil {
		c := *rec.current
		sum.Resources = &c
	}
	return sum
}
