package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keithk/siteherd/internal/history"
	"github.com/keithk/siteherd/internal/registry"
	"github.com/keithk/siteherd/internal/resource"
	"github.com/keithk/siteherd/internal/restart"
	"github.com/keithk/siteherd/internal/runner"
)

type fakeHandle struct {
	pid  int
	done chan struct{}

	mu     sync.Mutex
	exit   runner.ExitState
	killed bool
	exited bool

	// a stubborn handle ignores the graceful signal, a wedged one ignores
	// the forceful signal too
	ignoreTerm bool
	ignoreKill bool
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, done: make(chan struct{})}
}

func (h *fakeHandle) exitNow(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return
	}
	h.exited = true
	h.exit = runner.ExitState{Code: code}
	close(h.done)
}

func (h *fakeHandle) PID() int              { return h.pid }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) ExitState() runner.ExitState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit
}

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	stubborn := h.ignoreTerm
	h.mu.Unlock()
	if !stubborn {
		h.exitNow(-1)
	}
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	h.killed = true
	wedged := h.ignoreKill
	h.mu.Unlock()
	if !wedged {
		h.exitNow(-1)
	}
	return nil
}

func (h *fakeHandle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

func (h *fakeHandle) isExited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

type fakeSpawner struct {
	mu      sync.Mutex
	nextPID int
	handles []*fakeHandle
	specs   []runner.LaunchSpec
	failErr error
}

func newFakeSpawner() *fakeSpawner { return &fakeSpawner{nextPID: 1000} }

func (f *fakeSpawner) Spawn(spec runner.LaunchSpec) (runner.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.nextPID++
	h := newFakeHandle(f.nextPID)
	f.handles = append(f.handles, h)
	f.specs = append(f.specs, spec)
	return h, nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *fakeSpawner) handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[i]
}

func (f *fakeSpawner) last() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[len(f.handles)-1]
}

// alive mirrors spawned handles: a pid is alive until its handle has exited.
func (f *fakeSpawner) alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.handles {
		if h.pid == pid {
			return !h.isExited()
		}
	}
	return false
}

type fakeProber struct {
	mu   sync.Mutex
	used map[int]bool
}

func newFakeProber(usedPorts ...int) *fakeProber {
	p := &fakeProber{used: make(map[int]bool)}
	for _, port := range usedPorts {
		p.used[port] = true
	}
	return p
}

func (p *fakeProber) IsPortInUse(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used[port]
}

// gatedProber parks the first probe of gatePort until released, so a test
// can hold one start mid-substitution while another start runs to completion.
type gatedProber struct {
	used     map[int]bool
	gatePort int
	entered  chan struct{}
	release  chan struct{}
	gated    atomic.Bool
}

func (p *gatedProber) IsPortInUse(port int) bool {
	if port == p.gatePort && p.gated.CompareAndSwap(false, true) {
		close(p.entered)
		<-p.release
	}
	return p.used[port]
}

type fakeSampler struct {
	mu     sync.Mutex
	sample resource.Sample
	err    error
}

func (f *fakeSampler) Sample(pid int) (resource.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return resource.Sample{}, f.err
	}
	s := f.sample
	s.Timestamp = time.Now()
	return s, nil
}

type harness struct {
	sup     *Supervisor
	spawner *fakeSpawner
	prober  *fakeProber
	sampler *fakeSampler
	store   registry.Store
	sink    *history.MemorySink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		spawner: newFakeSpawner(),
		prober:  newFakeProber(),
		sampler: &fakeSampler{},
		store:   registry.NewMemory(),
		sink:    history.NewMemorySink(),
	}
	sup, err := New(Options{
		Store:   h.store,
		Prober:  h.prober,
		Sampler: h.sampler,
		Spawner: h.spawner,
		Alive:   h.spawner.alive,
		HistorySinks: []history.Sink{h.sink},
		// keep the loops out of the way; sweeps are invoked directly
		HealthInterval:   time.Hour,
		ResourceInterval: time.Hour,
	})
	require.NoError(t, err)
	sup.delayFn = func(restart.Policy, int) time.Duration { return time.Millisecond }
	h.sup = sup
	t.Cleanup(func() { sup.ShutdownAll(time.Second) })
	return h
}

func spec(site string, port int) LaunchSpec {
	return LaunchSpec{
		Site:   site,
		Port:   port,
		Script: "start",
		Cwd:    "/tmp",
		Type:   "node",
		Env:    map[string]string{},
	}
}

func TestStartAndHasProcess(t *testing.T) {
	h := newHarness(t)
	sum, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)
	require.Equal(t, "blog:3000", sum.ID)
	require.Equal(t, 3000, sum.Port)
	require.NotZero(t, sum.PID)

	require.True(t, h.sup.HasProcess(context.Background(), "blog", 3000))
	require.False(t, h.sup.HasProcess(context.Background(), "blog", 3001))

	e, found, err := h.store.Get(context.Background(), "blog:3000")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, registry.StatusRunning, e.Status)
	require.Equal(t, sum.PID, e.PID)
}

func TestStartIdempotentWhileHealthy(t *testing.T) {
	h := newHarness(t)
	first, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)
	second, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)
	require.Equal(t, first.PID, second.PID)
	require.Equal(t, 1, h.spawner.count())
}

func TestStartReplacesUnhealthyHolder(t *testing.T) {
	h := newHarness(t)
	first, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)

	// dead pid but the exit has not been routed yet: mark the handle
	// killed so the health predicate fails without triggering watchExit
	h.spawner.handle(0).mu.Lock()
	h.spawner.handle(0).killed = true
	h.spawner.handle(0).mu.Unlock()

	second, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)
	require.NotEqual(t, first.PID, second.PID)
	require.Equal(t, 2, h.spawner.count())
}

func TestStartAdoptsPersistedRunning(t *testing.T) {
	h := newHarness(t)
	// a survivor from a previous supervisor run, still bound to its port
	live, err := h.spawner.Spawn(runner.LaunchSpec{Argv: []string{"x"}})
	require.NoError(t, err)
	require.NoError(t, h.store.Save(context.Background(), registry.Entry{
		ID: "blog:3000", Site: "blog", Port: 3000, PID: live.PID(),
		Script: "start", StartTime: time.Now(), Status: registry.StatusRunning,
	}))
	h.prober.used[3000] = true

	sum, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)
	require.Equal(t, live.PID(), sum.PID)
	require.Equal(t, 1, h.spawner.count())

	list := h.sup.ListProcesses()
	require.Len(t, list, 1)
	require.Equal(t, "blog:3000", list[0].ID)
	require.Equal(t, live.PID(), list[0].PID)
}

func TestStartPortOccupied(t *testing.T) {
	h := newHarness(t)
	h.prober.used[3000] = true

	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.ErrorIs(t, err, ErrPortUnavailable)
	require.Zero(t, h.spawner.count())
}

func TestStartPortFallback(t *testing.T) {
	h := newHarness(t)
	h.prober.used[3000] = true
	h.prober.used[3001] = true

	sp := spec("blog", 3000)
	sp.AllowPortFallback = true
	sum, err := h.sup.Start(context.Background(), sp)
	require.NoError(t, err)
	require.Equal(t, 3002, sum.Port)
	require.Equal(t, "blog:3002", sum.ID)
	require.True(t, h.sup.HasProcess(context.Background(), "blog", 3002))
	require.False(t, h.sup.HasProcess(context.Background(), "blog", 3000))
}

func TestPortFallbackSerializesSubstitutedIdentity(t *testing.T) {
	spawner := newFakeSpawner()
	prober := &gatedProber{
		used:     map[int]bool{3000: true},
		gatePort: 3001,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	sup, err := New(Options{
		Store:            registry.NewMemory(),
		Prober:           prober,
		Sampler:          &fakeSampler{},
		Spawner:          spawner,
		Alive:            spawner.alive,
		HealthInterval:   time.Hour,
		ResourceInterval: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { sup.ShutdownAll(time.Second) })

	// first caller finds 3000 busy and is parked probing substitute 3001
	type result struct {
		sum Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sp := spec("blog", 3000)
		sp.AllowPortFallback = true
		sum, err := sup.Start(context.Background(), sp)
		done <- result{sum, err}
	}()
	<-prober.entered

	// second caller claims blog:3001 directly while the first is parked
	direct, err := sup.Start(context.Background(), spec("blog", 3001))
	require.NoError(t, err)
	close(prober.release)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, "blog:3001", res.sum.ID)
	require.Equal(t, direct.PID, res.sum.PID)
	require.Equal(t, 1, spawner.count())
	require.Len(t, sup.ListProcesses(), 1)
}

func TestStopRemovesProcess(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)

	require.NoError(t, h.sup.Stop(context.Background(), "blog", 3000, time.Second))
	require.False(t, h.sup.HasProcess(context.Background(), "blog", 3000))
	require.True(t, h.spawner.handle(0).isExited())

	_, found, err := h.store.Get(context.Background(), "blog:3000")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStopUnknownProcess(t *testing.T) {
	h := newHarness(t)
	err := h.sup.Stop(context.Background(), "ghost", 4000, time.Second)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStopSuppressesRestart(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)

	require.NoError(t, h.sup.Stop(context.Background(), "blog", 3000, time.Second))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, h.spawner.count())
}

func TestStopEscalatesToKill(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)

	handle := h.spawner.handle(0)
	handle.mu.Lock()
	handle.ignoreTerm = true
	handle.mu.Unlock()

	require.NoError(t, h.sup.Stop(context.Background(), "blog", 3000, 50*time.Millisecond))
	require.True(t, handle.Killed())
	require.True(t, handle.isExited())
	require.False(t, h.sup.HasProcess(context.Background(), "blog", 3000))
}

func TestStopWedgedProcessStillUnbooks(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)

	handle := h.spawner.handle(0)
	handle.mu.Lock()
	handle.ignoreTerm = true
	handle.ignoreKill = true
	handle.mu.Unlock()

	err = h.sup.Stop(context.Background(), "blog", 3000, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrStopTimeout)
	require.True(t, handle.Killed())
	// bookkeeping goes away even when the process refuses to die
	require.False(t, h.sup.HasProcess(context.Background(), "blog", 3000))
	_, found, err := h.store.Get(context.Background(), "blog:3000")
	require.NoError(t, err)
	require.False(t, found)
}

func TestCrashTriggersRestart(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)

	h.spawner.handle(0).exitNow(1)

	require.Eventually(t, func() bool { return h.spawner.count() == 2 },
		2*time.Second, 10*time.Millisecond)
	require.True(t, h.sup.HasProcess(context.Background(), "blog", 3000))

	sums := h.sup.ListProcesses()
	require.Len(t, sums, 1)
	require.NotZero(t, sums[0].LastRestart)
}

func TestRestartEventCarriesNewPID(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)
	oldPID := h.spawner.handle(0).PID()

	h.spawner.handle(0).exitNow(1)
	require.Eventually(t, func() bool { return h.spawner.count() == 2 },
		2*time.Second, 10*time.Millisecond)
	newPID := h.spawner.handle(1).PID()
	require.NotEqual(t, oldPID, newPID)

	require.Eventually(t, func() bool {
		for _, evt := range h.sink.Events() {
			if evt.Type == history.EventRestart {
				return evt.Entry.PID == newPID
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCleanExitDoesNotRestart(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)

	h.spawner.handle(0).exitNow(0)

	require.Eventually(t, func() bool {
		e, found, _ := h.store.Get(context.Background(), "blog:3000")
		return found && e.Status == registry.StatusStopped
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, h.spawner.count())
}

func TestCrashLoopExhaustsBudget(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)

	// each spawned replacement crashes immediately
	for i := 0; i < restart.DefaultMaxRestarts+1; i++ {
		n := h.spawner.count()
		h.spawner.last().exitNow(1)
		require.Eventually(t, func() bool {
			if h.spawner.count() > n {
				return true
			}
			e, found, _ := h.store.Get(context.Background(), "blog:3000")
			return found && e.Status == registry.StatusFailed
		}, 2*time.Second, 5*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		e, found, _ := h.store.Get(context.Background(), "blog:3000")
		return found && e.Status == registry.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, restart.DefaultMaxRestarts+1, h.spawner.count())

	var sawCrashLoop bool
	for _, e := range h.sink.Events() {
		if e.Type == history.EventCrashLoop {
			sawCrashLoop = true
		}
	}
	require.True(t, sawCrashLoop)
}

func TestRestartDisabledByPolicy(t *testing.T) {
	h := newHarness(t)
	sp := spec("blog", 3000)
	sp.Env["DISABLE_RESTART"] = "true"
	_, err := h.sup.Start(context.Background(), sp)
	require.NoError(t, err)

	h.spawner.handle(0).exitNow(1)

	require.Eventually(t, func() bool {
		e, found, _ := h.store.Get(context.Background(), "blog:3000")
		return found && e.Status == registry.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, h.spawner.count())
}

func TestRestartCycle(t *testing.T) {
	h := newHarness(t)
	first, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)

	sum, err := h.sup.Restart(context.Background(), "blog", 3000)
	require.NoError(t, err)
	require.NotEqual(t, first.PID, sum.PID)
	require.NotZero(t, sum.LastRestart)
	require.True(t, h.spawner.handle(0).isExited())
}

func TestRestartGrantsFreshCrashBudget(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)

	// identity has already burned its whole crash budget
	for i := 0; i <= restart.DefaultMaxRestarts; i++ {
		h.sup.hist.Record("blog:3000", restart.DefaultRestartWindow)
	}

	_, err = h.sup.Restart(context.Background(), "blog", 3000)
	require.NoError(t, err)

	// the next crash counts as attempt one again
	h.spawner.last().exitNow(1)
	require.Eventually(t, func() bool { return h.spawner.count() == 3 },
		2*time.Second, 10*time.Millisecond)
	require.True(t, h.sup.HasProcess(context.Background(), "blog", 3000))
}

func TestRestartUnknown(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Restart(context.Background(), "ghost", 4000)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRestartFromPersistedEntry(t *testing.T) {
	h := newHarness(t)
	// a row with a dead pid and no in-memory record, as left behind by a
	// previous supervisor run
	require.NoError(t, h.store.Save(context.Background(), registry.Entry{
		ID: "blog:3000", Site: "blog", Port: 3000, PID: 99999,
		Script: "start", Cwd: "/tmp", Type: "node",
		StartTime: time.Now(), Status: registry.StatusRunning,
	}))

	sum, err := h.sup.Restart(context.Background(), "blog", 3000)
	require.NoError(t, err)
	require.Equal(t, "blog:3000", sum.ID)
	require.Equal(t, 1, h.spawner.count())
}

func TestRestartAll(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)
	_, err = h.sup.Start(context.Background(), spec("blog", 3001))
	require.NoError(t, err)
	_, err = h.sup.Start(context.Background(), spec("shop", 4000))
	require.NoError(t, err)

	sums, err := h.sup.RestartAll(context.Background(), "blog")
	require.NoError(t, err)
	require.Len(t, sums, 2)
	require.Equal(t, 5, h.spawner.count())

	_, err = h.sup.RestartAll(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListProcesses(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)
	_, err = h.sup.Start(context.Background(), spec("shop", 4000))
	require.NoError(t, err)

	sums := h.sup.ListProcesses()
	require.Len(t, sums, 2)
	sites := map[string]bool{}
	for _, s := range sums {
		sites[s.Site] = true
		require.NotZero(t, s.PID)
	}
	require.True(t, sites["blog"])
	require.True(t, sites["shop"])
}

func TestShutdownAll(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)
	_, err = h.sup.Start(context.Background(), spec("shop", 4000))
	require.NoError(t, err)

	h.sup.ShutdownAll(time.Second)
	require.True(t, h.spawner.handle(0).isExited())
	require.True(t, h.spawner.handle(1).isExited())
	require.Empty(t, h.sup.ListProcesses())

	_, err = h.sup.Start(context.Background(), spec("blog", 3000))
	require.ErrorIs(t, err, ErrShuttingDown)
	_, err = h.sup.Restart(context.Background(), "blog", 3000)
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdownSuppressesPendingRestart(t *testing.T) {
	h := newHarness(t)
	h.sup.delayFn = func(restart.Policy, int) time.Duration { return 200 * time.Millisecond }
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)

	h.spawner.handle(0).exitNow(1)
	time.Sleep(20 * time.Millisecond) // let the restart get scheduled
	h.sup.ShutdownAll(time.Second)

	time.Sleep(300 * time.Millisecond)
	require.Equal(t, 1, h.spawner.count())
}

func TestNewRecoversRegistry(t *testing.T) {
	spawner := newFakeSpawner()
	store := registry.NewMemory()
	// one live pid, one dead
	liveHandle, _ := spawner.Spawn(runner.LaunchSpec{Argv: []string{"x"}})
	require.NoError(t, store.Save(context.Background(), registry.Entry{
		ID: "blog:3000", Site: "blog", Port: 3000, PID: liveHandle.PID(),
		Status: registry.StatusRestarting,
	}))
	require.NoError(t, store.Save(context.Background(), registry.Entry{
		ID: "shop:4000", Site: "shop", Port: 4000, PID: 88888,
		Status: registry.StatusRunning,
	}))

	sup, err := New(Options{
		Store:            store,
		Prober:           newFakeProber(),
		Sampler:          &fakeSampler{},
		Spawner:          spawner,
		Alive:            spawner.alive,
		HealthInterval:   time.Hour,
		ResourceInterval: time.Hour,
	})
	require.NoError(t, err)
	defer sup.ShutdownAll(time.Second)

	e, found, err := store.Get(context.Background(), "blog:3000")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, registry.StatusRunning, e.Status)

	_, found, err = store.Get(context.Background(), "shop:4000")
	require.NoError(t, err)
	require.False(t, found)

	// the adopted survivor is visible through HasProcess
	require.True(t, sup.HasProcess(context.Background(), "blog", 3000))
	require.False(t, sup.HasProcess(context.Background(), "shop", 4000))
}

func TestHealthSweepRestartsAfterThreshold(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)

	rec, ok := h.sup.getRecord("blog:3000")
	require.True(t, ok)

	// make the liveness probe fail without routing an exit
	h.sup.alive = func(int) bool { return false }

	h.sup.sweepHealth()
	h.sup.sweepHealth()
	require.Equal(t, 1, h.spawner.count())
	rec.mu.Lock()
	require.Equal(t, 2, rec.health.Failed)
	require.Equal(t, 2, rec.health.ConsecutiveFailed)
	rec.mu.Unlock()

	h.sup.sweepHealth()
	require.Eventually(t, func() bool { return h.spawner.count() == 2 },
		2*time.Second, 10*time.Millisecond)
	h.sup.alive = h.spawner.alive
}

func TestHealthSweepResetsOnSuccess(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)
	rec, _ := h.sup.getRecord("blog:3000")

	h.sup.alive = func(int) bool { return false }
	h.sup.sweepHealth()
	h.sup.alive = h.spawner.alive
	h.sup.sweepHealth()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, 2, rec.health.Total)
	require.Equal(t, 1, rec.health.Failed)
	require.Equal(t, 0, rec.health.ConsecutiveFailed)
}

func TestResourceSweepRecordsSamples(t *testing.T) {
	h := newHarness(t)
	h.sampler.sample = resource.Sample{CPUPercent: 12.5, MemoryRSS: 64 << 20}
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)

	h.sup.sweepResources()

	sums := h.sup.ListProcesses()
	require.Len(t, sums, 1)
	require.NotNil(t, sums[0].Resources)
	require.InDelta(t, 12.5, sums[0].Resources.CPUPercent, 0.01)
	require.Equal(t, uint64(64<<20), sums[0].Resources.MemoryRSS)
}

func TestResourceSweepMemoryLimitRestart(t *testing.T) {
	h := newHarness(t)
	h.sampler.sample = resource.Sample{CPUPercent: 1, MemoryRSS: 512 << 20}
	sp := spec("blog", 3000)
	sp.Env["MAX_MEMORY"] = "104857600" // 100 MB
	sp.Env["RESTART_ON_LIMIT"] = "true"
	_, err := h.sup.Start(context.Background(), sp)
	require.NoError(t, err)

	h.sup.sweepResources()
	require.Eventually(t, func() bool { return h.spawner.count() == 2 },
		2*time.Second, 10*time.Millisecond)
}

func TestResourceSweepLimitWithoutRestart(t *testing.T) {
	h := newHarness(t)
	h.sampler.sample = resource.Sample{CPUPercent: 1, MemoryRSS: 512 << 20}
	sp := spec("blog", 3000)
	sp.Env["MAX_MEMORY"] = "104857600"
	_, err := h.sup.Start(context.Background(), sp)
	require.NoError(t, err)

	h.sup.sweepResources()
	h.sup.sweepResources()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, h.spawner.count())
}

func TestStartEmitsHistory(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.NoError(t, err)
	require.NoError(t, h.sup.Stop(context.Background(), "blog", 3000, time.Second))

	events := h.sink.Events()
	require.Len(t, events, 2)
	require.Equal(t, history.EventStart, events[0].Type)
	require.Equal(t, history.EventStop, events[1].Type)
	require.Equal(t, "blog:3000", events[0].Entry.ID)
}

func TestSpawnFailure(t *testing.T) {
	h := newHarness(t)
	h.spawner.mu.Lock()
	h.spawner.failErr = errors.New("exec format error")
	h.spawner.mu.Unlock()

	_, err := h.sup.Start(context.Background(), spec("blog", 3000))
	require.Error(t, err)
	require.False(t, h.sup.HasProcess(context.Background(), "blog", 3000))
}
