package runner

import (
	"strconv"
	"strings"
)

// Known package runners for site projects. The launch environment selects one
// via PACKAGE_MANAGER; npm is the default.
const (
	PMNpm  = "npm"
	PMYarn = "yarn"
	PMPnpm = "pnpm"
	PMBun  = "bun"
)

// PackageManager returns the configured package runner, defaulting to npm.
func PackageManager(env map[string]string) string {
	switch env["PACKAGE_MANAGER"] {
	case PMYarn:
		return PMYarn
	case PMPnpm:
		return PMPnpm
	case PMBun:
		return PMBun
	default:
		return PMNpm
	}
}

// BuildCommand constructs the argv for launching the given script with the
// detected package runner. When devMode is set the framework-specific port
// flag is appended so the dev server binds the resolved port; frameworks that
// only honor the PORT environment variable get no flag.
func BuildCommand(script string, port int, env map[string]string) []string {
	pm := PackageManager(env)
	var argv []string
	switch pm {
	case PMYarn:
		argv = []string{PMYarn, script}
	case PMBun:
		argv = []string{PMBun, "run", script}
	default:
		argv = []string{pm, "run", script}
	}
	if env["MODE"] == "dev" {
		if flag := portFlag(script, port); len(flag) > 0 {
			// npm needs "--" to forward flags to the underlying script
			if pm == PMNpm || pm == PMPnpm {
				argv = append(argv, "--")
			}
			argv = append(argv, flag...)
		}
	}
	return argv
}

// portFlag picks the dev-server port flag for the framework implied by the
// run command string. Detection is best-effort; unknown frameworks get the
// common --port flag. react-scripts reads PORT from the environment only.
func portFlag(command string, port int) []string {
	c := strings.ToLower(command)
	p := strconv.Itoa(port)
	switch {
	case strings.Contains(c, "react-scripts"):
		return nil
	case strings.Contains(c, "next"):
		return []string{"-p", p}
	case strings.Contains(c, "astro"),
		strings.Contains(c, "vite"),
		strings.Contains(c, "nuxt"),
		strings.Contains(c, "remix"),
		strings.Contains(c, "svelte"):
		return []string{"--port", p}
	default:
		return []string{"--port", p}
	}
}

// MergeEnv layers caller-supplied launch variables over the inherited
// process environment and forces PORT to the resolved port.
func MergeEnv(base []string, overrides map[string]string, port int) []string {
	merged := make(map[string]string, len(base)+len(overrides)+1)
	order := make([]string, 0, len(base)+len(overrides)+1)
	set := func(k, v string) {
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			set(kv[:i], kv[i+1:])
		}
	}
	for k, v := range overrides {
		set(k, v)
	}
	set("PORT", strconv.Itoa(port))
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+merged[k])
	}
	return out
}
