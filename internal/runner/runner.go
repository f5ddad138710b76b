package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ExitState is the terminal state of a spawned process.
type ExitState struct {
	Code int
	Err  error
}

// Handle is a live reference to one spawned OS process.
type Handle interface {
	PID() int
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// ExitState is valid only after Done is closed.
	ExitState() ExitState
	// Terminate sends the graceful termination signal to the process group.
	Terminate() error
	// Kill sends the forceful termination signal to the process group.
	Kill() error
	// Killed reports whether Kill has been invoked on this handle.
	Killed() bool
}

// LaunchSpec is everything the spawner needs to start one process.
type LaunchSpec struct {
	Argv   []string
	Cwd    string
	Env    []string
	Stdout io.WriteCloser
	Stderr io.WriteCloser
}

// Spawner starts OS processes. The supervisor depends on this interface so
// tests can substitute fake processes.
type Spawner interface {
	Spawn(spec LaunchSpec) (Handle, error)
}

// ExecSpawner spawns real OS processes via os/exec. Children are placed in
// their own process group so termination signals reach the whole tree.
type ExecSpawner struct{}

func (ExecSpawner) Spawn(spec LaunchSpec) (Handle, error) {
	if len(spec.Argv) == 0 {
		return nil, errors.New("empty command")
	}
	// #nosec G204 -- argv is built from operator-supplied launch parameters
	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Cwd
	cmd.Env = spec.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if spec.Stderr != nil {
		cmd.Stderr = spec.Stderr
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if err := cmd.Start(); err != nil {
		closeSinks(spec)
		return nil, err
	}
	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go h.reap(spec)
	return h, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu     sync.Mutex
	exit   ExitState
	killed bool
}

func (h *execHandle) reap(spec LaunchSpec) {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		code = -1
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code = ee.ExitCode()
		}
	}
	closeSinks(spec)
	h.mu.Lock()
	h.exit = ExitState{Code: code, Err: err}
	h.mu.Unlock()
	close(h.done)
}

func closeSinks(spec LaunchSpec) {
	if spec.Stdout != nil {
		_ = spec.Stdout.Close()
	}
	if spec.Stderr != nil && spec.Stderr != spec.Stdout {
		_ = spec.Stderr.Close()
	}
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) ExitState() ExitState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit
}

func (h *execHandle) Terminate() error {
	return h.signalGroup(syscall.SIGTERM)
}

func (h *execHandle) Kill() error {
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	return h.signalGroup(syscall.SIGKILL)
}

func (h *execHandle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

func (h *execHandle) signalGroup(sig syscall.Signal) error {
	pid := h.PID()
	if pid == 0 {
		return errors.New("process not started")
	}
	// signal the whole group; fall back to the single pid when the group
	// is already gone
	if err := syscall.Kill(-pid, sig); err != nil {
		return syscall.Kill(pid, sig)
	}
	return nil
}

// WriteLaunchDelimiter marks the beginning of a launch in a process log sink
// so interleaved runs stay distinguishable.
func WriteLaunchDelimiter(w io.Writer, site string, port int) {
	if w == nil {
		return
	}
	_, _ = fmt.Fprintf(w, "\n----- %s launch %s:%d -----\n",
		time.Now().UTC().Format(time.RFC3339), site, port)
}
