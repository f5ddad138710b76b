package supervisor

import (
	"time"

	"github.com/keithk/siteherd/internal/metrics"
)

// healthLoop probes every supervised pid on a fixed interval. Three
// consecutive failed probes make a process unhealthy, which tears it down
// and hands it to the restart path. Ticker bodies run synchronously, so a
// slow sweep skips ticks instead of piling up.
func (s *Supervisor) healthLoop() {
	defer s.loopWG.Done()
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepHealth()
		}
	}
}

func (s *Supervisor) sweepHealth() {
	for id, rec := range s.snapshot() {
		if rec.isStopRequested() {
			continue
		}
		ok := s.healthy(rec)

		rec.mu.Lock()
		rec.health.Total++
		rec.health.LastCheck = time.Now()
		if ok {
			rec.health.ConsecutiveFailed = 0
			rec.mu.Unlock()
			continue
		}
		rec.health.Failed++
		rec.health.ConsecutiveFailed++
		failed := rec.health.ConsecutiveFailed
		if failed >= healthFailureThreshold {
			rec.health.ConsecutiveFailed = 0
		}
		rec.mu.Unlock()

		if failed < healthFailureThreshold {
			s.log.Warn("health check failed",
				"id", id, "consecutive", failed)
			continue
		}
		if !rec.policy.Enabled {
			s.log.Error("process unhealthy, auto-restart disabled",
				"id", id, "consecutive_failures", failed)
			continue
		}
		s.log.Error("process unhealthy, restarting",
			"id", id, "consecutive_failures", failed)
		s.restartAsync(id, rec)
	}
}

// resourceLoop samples cpu/rss for every supervised pid on a fast interval,
// feeds the per-process ring and the exported gauges, and enforces opt-in
// resource limits.
func (s *Supervisor) resourceLoop() {
	defer s.loopWG.Done()
	ticker := time.NewTicker(s.resourceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepResources()
		}
	}
}

// cpuMeanWindow smooths transient spikes out of the CPU limit check.
const cpuMeanWindow = 3

func (s *Supervisor) sweepResources() {
	for id, rec := range s.snapshot() {
		if rec.isStopRequested() {
			continue
		}
		pid := rec.pid()
		if pid == 0 {
			continue
		}
		sample, err := s.sampler.Sample(pid)
		if err != nil {
			// pid already gone; exit handling owns the consequence
			s.log.Debug("resource sample failed", "id", id, "err", err)
			continue
		}

		rec.mu.Lock()
		rec.current = &sample
		rec.resources.Add(sample)
		limits := rec.limits
		overMem := limits.MaxMemory > 0 && sample.MemoryRSS > limits.MaxMemory
		overCPU := limits.MaxCPU > 0 &&
			rec.resources.Len() >= cpuMeanWindow &&
			rec.resources.MeanCPU(cpuMeanWindow) > limits.MaxCPU
		// trip at most one limit restart per process instance
		shouldRestart := (overMem || overCPU) && limits.RestartOnLimit && !rec.limitTripped
		if shouldRestart {
			rec.limitTripped = true
		}
		rec.mu.Unlock()

		metrics.ObserveResources(id, sample.CPUPercent, sample.MemoryRSS)

		if !overMem && !overCPU {
			continue
		}
		if !limits.RestartOnLimit || !rec.policy.Enabled {
			s.log.Warn("resource limit exceeded",
				"id", id, "cpu", sample.CPUPercent, "rss", sample.MemoryRSS)
			continue
		}
		if !shouldRestart {
			continue
		}
		s.log.Warn("resource limit exceeded, restarting",
			"id", id, "cpu", sample.CPUPercent, "rss", sample.MemoryRSS,
			"max_cpu", limits.MaxCPU, "max_memory", limits.MaxMemory)
		s.restartAsync(id, rec)
	}
}

// restartAsync runs the deliberate stop-and-start cycle off the sweep
// goroutine so one slow restart cannot stall the whole loop.
func (s *Supervisor) restartAsync(id string, rec *record) {
	go func() {
		if _, err := s.Restart(s.ctx, rec.spec.Site, rec.spec.Port); err != nil {
			s.log.Error("loop-triggered restart failed", "id", id, "err", err)
		}
	}()
}

// snapshot copies the record map so sweeps never iterate under the lock.
func (s *Supervisor) snapshot() map[string]*record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*record, len(s.records))
	for id, rec := range s.records {
		out[id] = rec
	}
	return out
}
