package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/keithk/siteherd"
	"github.com/keithk/siteherd/internal/logger"
)

func runStart(out io.Writer, flags StartFlags) error {
	env, err := parseEnv(flags.Env)
	if err != nil {
		return err
	}
	spec := siteherd.LaunchSpec{
		Site:              flags.Site,
		Port:              flags.Port,
		Script:            flags.Script,
		Cwd:               flags.Cwd,
		Type:              flags.Type,
		Env:               env,
		AllowPortFallback: flags.AllowPortFallback,
		Log:               logger.Config{Dir: flags.LogDir},
	}
	client := NewAPIClient(flags.Client.APIUrl, flags.Client.APITimeout)
	sum, err := client.StartProcess(spec)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "started %s (pid %d)\n", sum.ID, sum.PID)
	if sum.Port != flags.Port {
		_, _ = fmt.Fprintf(out, "note: port %d was taken, using %d\n", flags.Port, sum.Port)
	}
	return nil
}

func runStop(out io.Writer, flags IdentityFlags) error {
	client := NewAPIClient(flags.Client.APIUrl, flags.Client.APITimeout)
	if err := client.StopProcess(flags.Site, flags.Port, flags.Wait); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "stopped %s:%d\n", flags.Site, flags.Port)
	return nil
}

func runRestart(out io.Writer, flags IdentityFlags) error {
	client := NewAPIClient(flags.Client.APIUrl, flags.Client.APITimeout)
	if flags.Port == 0 {
		sums, err := client.RestartSite(flags.Site)
		if err != nil {
			return err
		}
		for _, sum := range sums {
			_, _ = fmt.Fprintf(out, "restarted %s (pid %d)\n", sum.ID, sum.PID)
		}
		return nil
	}
	sum, err := client.RestartProcess(flags.Site, flags.Port)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "restarted %s (pid %d)\n", sum.ID, sum.PID)
	return nil
}

func runStatus(out io.Writer, flags IdentityFlags) error {
	client := NewAPIClient(flags.Client.APIUrl, flags.Client.APITimeout)
	if flags.Site != "" && flags.Port != 0 {
		running, err := client.ProcessStatus(flags.Site, flags.Port)
		if err != nil {
			return err
		}
		state := "stopped"
		if running {
			state = "running"
		}
		_, _ = fmt.Fprintf(out, "%s:%d %s\n", flags.Site, flags.Port, state)
		return nil
	}
	sums, err := client.ListProcesses()
	if err != nil {
		return err
	}
	if len(sums) == 0 {
		_, _ = fmt.Fprintln(out, "no supervised processes")
		return nil
	}
	for _, sum := range sums {
		_, _ = fmt.Fprintf(out, "%-24s pid %-8d up %-12s restarts %d\n",
			sum.ID, sum.PID, sum.Uptime.Truncate(time.Second), sum.Restarts)
	}
	return nil
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			return nil, fmt.Errorf("invalid env entry %q, want KEY=VALUE", kv)
		}
		env[kv[:i]] = kv[i+1:]
	}
	return env, nil
}
