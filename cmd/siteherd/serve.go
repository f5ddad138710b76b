package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/keithk/siteherd"
	"github.com/keithk/siteherd/internal/history"
	chsink "github.com/keithk/siteherd/internal/history/clickhouse"
	"github.com/keithk/siteherd/internal/logger"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the supervision daemon",
		Long: `Run the daemon: recover the process registry, launch declared sites,
and serve the HTTP control API.

Examples:
  siteherd serve --config=/etc/siteherd/siteherd.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(globalFlags.ConfigPath)
		},
	}
}

func runServe(configPath string) error {
	if configPath == "" {
		return fmt.Errorf("serve requires --config")
	}
	fc, err := siteherd.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(slog.LevelInfo, true)
	slog.SetDefault(log)

	store, err := siteherd.NewStore(fc.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.EnsureSchema(context.Background()); err != nil {
		return fmt.Errorf("ensure store schema: %w", err)
	}

	var sinks []history.Sink
	if fc.History.Type == "clickhouse" && fc.History.Addr != "" {
		table := fc.History.Table
		if table == "" {
			table = "process_events"
		}
		sink, err := chsink.New(fc.History.Addr, table)
		if err != nil {
			return fmt.Errorf("connect history sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
		if err := sink.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("ensure history schema: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if fc.Metrics {
		if err := siteherd.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Warn("metrics registration failed", "err", err)
		}
	}

	sup, err := siteherd.New(siteherd.Options{
		Store:            store,
		Logger:           log,
		HistorySinks:     sinks,
		HealthInterval:   fc.HealthInterval,
		ResourceInterval: fc.ResourceInterval,
	})
	if err != nil {
		return fmt.Errorf("construct supervisor: %w", err)
	}

	for _, spec := range fc.LaunchSpecs() {
		if _, err := sup.Start(context.Background(), spec); err != nil {
			log.Error("launch declared site", "site", spec.Site, "port", spec.Port, "err", err)
		}
	}

	srv := siteherd.NewHTTPServer(fc.Listen, "", sup, fc.Metrics)
	log.Info("daemon listening", "addr", fc.Listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), fc.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	sup.ShutdownAll(fc.ShutdownTimeout)
	log.Info("daemon stopped")
	return nil
}
