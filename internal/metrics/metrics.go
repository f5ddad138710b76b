package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siteherd",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process spawns.",
		}, []string{"site"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siteherd",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of restart attempts.",
		}, []string{"site"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siteherd",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"site"},
	)
	crashLoops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "siteherd",
			Subsystem: "process",
			Name:      "crash_loops_total",
			Help:      "Number of times the restart budget was exhausted.",
		}, []string{"site"},
	)
	runningProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "siteherd",
			Subsystem: "process",
			Name:      "running",
			Help:      "Current number of supervised processes.",
		},
	)
	processCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "siteherd",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "Latest sampled CPU percent per process identity.",
		}, []string{"id"},
	)
	processRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "siteherd",
			Subsystem: "process",
			Name:      "memory_rss_bytes",
			Help:      "Latest sampled resident memory per process identity.",
		}, []string{"id"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processStarts, processRestarts, processStops, crashLoops, runningProcesses, processCPU, processRSS}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op if Register hasn't been called.

func IncStart(site string) {
	if regOK.Load() {
		processStarts.WithLabelValues(site).Inc()
	}
}
func IncRestart(site string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(site).Inc()
	}
}
func IncStop(site string) {
	if regOK.Load() {
		processStops.WithLabelValues(site).Inc()
	}
}
func IncCrashLoop(site string) {
	if regOK.Load() {
		crashLoops.WithLabelValues(site).Inc()
	}
}
func SetRunningProcesses(n int) {
	if regOK.Load() {
		runningProcesses.Set(float64(n))
	}
}
func ObserveResources(id string, cpuPercent float64, rssBytes uint64) {
	if regOK.Load() {
		processCPU.WithLabelValues(id).Set(cpuPercent)
		processRSS.WithLabelValues(id).Set(float64(rssBytes))
	}
}
func DropResourceSeries(id string) {
	if regOK.Load() {
		processCPU.DeleteLabelValues(id)
		processRSS.DeleteLabelValues(id)
	}
}
