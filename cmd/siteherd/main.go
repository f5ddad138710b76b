package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// ClientFlags holds daemon connection settings for client commands.
type ClientFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// StartFlags holds flags for the start command.
type StartFlags struct {
	Site              string
	Port              int
	Script            string
	Cwd               string
	Type              string
	Env               []string
	LogDir            string
	AllowPortFallback bool
	Client            ClientFlags
}

// IdentityFlags selects one supervised process for stop/restart/status.
type IdentityFlags struct {
	Site   string
	Port   int
	Wait   time.Duration
	Client ClientFlags
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	startFlags := &StartFlags{}
	stopFlags := &IdentityFlags{}
	restartFlags := &IdentityFlags{}
	statusFlags := &IdentityFlags{}

	root := &cobra.Command{
		Use:   "siteherd",
		Short: "Site process supervision daemon",
		Long: `Siteherd supervises the dev-server processes behind a multi-tenant site
platform: one process per (site, port) slot with crash restarts, health
checks, resource monitoring and a persistent process registry.

Examples:
  siteherd serve --config=/etc/siteherd/siteherd.toml
  siteherd start --site=blog --port=3000 --script=start --cwd=/srv/blog
  siteherd status --site=blog --port=3000
  siteherd restart --site=blog`,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file")

	root.AddCommand(
		createServeCommand(globalFlags),
		createStartCommand(startFlags),
		createStopCommand(stopFlags),
		createRestartCommand(restartFlags),
		createStatusCommand(statusFlags),
	)
	return root
}

func addClientFlags(cmd *cobra.Command, cf *ClientFlags) {
	cmd.Flags().StringVar(&cf.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8420)")
	cmd.Flags().DurationVar(&cf.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createStartCommand(flags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a site process",
		Long: `Start a site process through the daemon.

Examples:
  siteherd start --site=blog --port=3000 --script=start --cwd=/srv/blog
  siteherd start --site=shop --port=4000 --script=dev --cwd=/srv/shop \
    --env=PACKAGE_MANAGER=pnpm --env=MODE=dev --allow-port-fallback`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Site, "site", "", "site name (required)")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "port to bind (required)")
	cmd.Flags().StringVar(&flags.Script, "script", "start", "package script to run")
	cmd.Flags().StringVar(&flags.Cwd, "cwd", "", "working directory (required)")
	cmd.Flags().StringVar(&flags.Type, "type", "", "site type label")
	cmd.Flags().StringArrayVar(&flags.Env, "env", nil, "launch env KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&flags.LogDir, "log-dir", "", "directory for process log files")
	cmd.Flags().BoolVar(&flags.AllowPortFallback, "allow-port-fallback", false,
		"substitute the next free port when the requested one is taken")
	addClientFlags(cmd, &flags.Client)
	for _, f := range []string{"site", "port", "cwd"} {
		if err := cmd.MarkFlagRequired(f); err != nil {
			panic(err)
		}
	}
	return cmd
}

func createStopCommand(flags *IdentityFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a site process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Site, "site", "", "site name (required)")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "port (required)")
	cmd.Flags().DurationVar(&flags.Wait, "wait", 5*time.Second, "graceful stop timeout")
	addClientFlags(cmd, &flags.Client)
	for _, f := range []string{"site", "port"} {
		if err := cmd.MarkFlagRequired(f); err != nil {
			panic(err)
		}
	}
	return cmd
}

func createRestartCommand(flags *IdentityFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a site process, or all processes of a site",
		Long: `Restart one process, or every process of a site when --port is omitted.

Examples:
  siteherd restart --site=blog --port=3000
  siteherd restart --site=blog`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestart(cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Site, "site", "", "site name (required)")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "port (omit to restart the whole site)")
	addClientFlags(cmd, &flags.Client)
	if err := cmd.MarkFlagRequired("site"); err != nil {
		panic(err)
	}
	return cmd
}

func createStatusCommand(flags *IdentityFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervised processes",
		Long: `Show the status of one process, or list all when no selector is given.

Examples:
  siteherd status
  siteherd status --site=blog --port=3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Site, "site", "", "site name")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "port")
	addClientFlags(cmd, &flags.Client)
	return cmd
}
