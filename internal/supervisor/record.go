package supervisor

import (
	"sync"
	"time"

	"github.com/keithk/siteherd/internal/logger"
	"github.com/keithk/siteherd/internal/resource"
	"github.com/keithk/siteherd/internal/restart"
	"github.com/keithk/siteherd/internal/runner"
)

// LaunchSpec carries the immutable launch parameters for one site process.
// Env holds the loosely-typed launch variables (PACKAGE_MANAGER, MODE,
// MAX_MEMORY, ...); the supervisor parses them into typed policy and limit
// structs once, at start time.
type LaunchSpec struct {
	Site   string            `json:"site"`
	Port   int               `json:"port"`
	Script string            `json:"script"`
	Cwd    string            `json:"cwd"`
	Type   string            `json:"type"`
	Env    map[string]string `json:"env"`
	// AllowPortFallback opts in to sequential port substitution when the
	// requested port is occupied. Off by default.
	AllowPortFallback bool          `json:"allow_port_fallback"`
	Log               logger.Config `json:"log"`
}

// HealthStats tracks liveness-probe outcomes. It is mutated only by the health-check loop, under record.mu.
type HealthStats struct {
	Total             int       `json:"total"`
	Failed            int       `json:"failed"`
	ConsecutiveFailed int       `json:"consecutive_failed"`
	LastCheck         time.Time `json:"last_check"`
}

// record is the in-memory live state for one supervised OS process. The
// supervisor owns all records exclusively; mu guards the mutable fields
// against loop/reader races.
type record struct {
	spec   LaunchSpec // port already resolved
	handle runner.Handle
	policy restart.Policy
	limits resource.Limits

	startTime time.Time

	mu            sync.Mutex
	lastRestart   time.Time
	stopRequested bool
	health        HealthStats
	current       *resource.Sample
	resources     *resource.History
	limitTripped  bool // a limit-triggered restart is already in flight
}

func (r *record) pid() int {
	if r.handle == nil {
		return 0
	}
	return r.handle.PID()
}

func (r *record) markStopRequested() {
	r.mu.Lock()
	r.stopRequested = true
	r.mu.Unlock()
}

func (r *record) isStopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopRequested
}

// Summary is the externally consumable view of one supervised process.
type Summary struct {
	ID           string           `json:"id"`
	Site         string           `json:"site"`
	Port         int              `json:"port"`
	PID          int              `json:"pid"`
	Type         string           `json:"type"`
	Script       string           `json:"script"`
	StartTime    time.Time        `json:"start_time"`
	Uptime       time.Duration    `json:"uptime"`
	LastRestart  time.Time        `json:"last_restart,omitzero"`
	Restarts     int              `json:"restarts"`
	HealthChecks HealthStats      `json:"health_checks"`
	Resources    *resource.Sample `json:"resources,omitempty"`
}
