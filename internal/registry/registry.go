package registry

import (
	"context"
	"fmt"
	"time"
)

// Status is the persisted lifecycle state of a supervised process.
type Status string

const (
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusRestarting Status = "restarting"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusStopped, StatusRestarting, StatusFailed:
		return true
	}
	return false
}

// Entry is the durable record for one supervised process slot. ID is the
// process identity ("<site>:<port>"). Entries survive supervisor restarts
// and are the basis for crash recovery.
type Entry struct {
	ID        string    `json:"id"`
	Site      string    `json:"site"`
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	Type      string    `json:"type"`
	Script    string    `json:"script"`
	Cwd       string    `json:"cwd"`
	StartTime time.Time `json:"start_time"`
	Status    Status    `json:"status"`
}

// Store persists process entries across supervisor restarts. Save is an
// idempotent upsert keyed by Entry.ID. Implementations must be safe for
// concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Save(ctx context.Context, e Entry) error
	Get(ctx context.Context, id string) (Entry, bool, error)
	GetAll(ctx context.Context) ([]Entry, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// ID derives the process identity from (site, port).
func ID(site string, port int) string {
	return fmt.Sprintf("%s:%d", site, port)
}
