// Package siteherd supervises the long-running dev-server processes behind a
// multi-tenant site platform: one OS process per (site, port) slot, with
// crash restarts under a budget, periodic health and resource monitoring,
// and a persistent registry that survives supervisor restarts.
package siteherd

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keithk/siteherd/internal/config"
	"github.com/keithk/siteherd/internal/history"
	"github.com/keithk/siteherd/internal/metrics"
	"github.com/keithk/siteherd/internal/registry"
	"github.com/keithk/siteherd/internal/registry/factory"
	iapi "github.com/keithk/siteherd/internal/server"
	"github.com/keithk/siteherd/internal/supervisor"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type LaunchSpec = supervisor.LaunchSpec

type Summary = supervisor.Summary

type Options = supervisor.Options

type Status = registry.Status

type Entry = registry.Entry

type Store = registry.Store

type HistorySink = history.Sink

type Event = history.Event

const (
	StatusRunning    = registry.StatusRunning
	StatusStopped    = registry.StatusStopped
	StatusRestarting = registry.StatusRestarting
	StatusFailed     = registry.StatusFailed
)

var (
	ErrPortUnavailable = supervisor.ErrPortUnavailable
	ErrNotFound        = supervisor.ErrNotFound
	ErrShuttingDown    = supervisor.ErrShuttingDown
)

// Supervisor is a thin facade over the internal supervisor. It provides a
// stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

// New constructs a supervisor. Crash recovery against the configured store
// completes before New returns.
func New(opts Options) (*Supervisor, error) {
	inner, err := supervisor.New(opts)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: inner}, nil
}

// NewStore builds a registry store from a DSN: "memory", "sqlite://<path>"
// (or a bare file path), or a postgres:// DSN.
func NewStore(dsn string) (Store, error) { return factory.NewFromDSN(dsn) }

func (s *Supervisor) Start(ctx context.Context, spec LaunchSpec) (Summary, error) {
	return s.inner.Start(ctx, spec)
}

func (s *Supervisor) Stop(ctx context.Context, site string, port int, wait time.Duration) error {
	return s.inner.Stop(ctx, site, port, wait)
}

func (s *Supervisor) Restart(ctx context.Context, site string, port int) (Summary, error) {
	return s.inner.Restart(ctx, site, port)
}

func (s *Supervisor) RestartAll(ctx context.Context, site string) ([]Summary, error) {
	return s.inner.RestartAll(ctx, site)
}

func (s *Supervisor) HasProcess(ctx context.Context, site string, port int) bool {
	return s.inner.HasProcess(ctx, site, port)
}

func (s *Supervisor) ListProcesses() []Summary { return s.inner.ListProcesses() }

func (s *Supervisor) ShutdownAll(timeout time.Duration) { s.inner.ShutdownAll(timeout) }

// LoadConfig reads a daemon TOML config file.
func LoadConfig(path string) (config.FileConfig, error) { return config.Load(path) }

// NewHTTPServer starts an HTTP control API for the supervisor on addr.
func NewHTTPServer(addr, basePath string, s *Supervisor, withMetrics bool) *http.Server {
	return iapi.NewServer(addr, basePath, s.inner, withMetrics)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

func MetricsHandler() http.Handler { return metrics.Handler() }
