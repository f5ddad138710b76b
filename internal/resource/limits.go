package resource

import "strconv"

// Limits are optional resource ceilings for one supervised process.
// Zero means unlimited. Fixed for the life of a process record.
type Limits struct {
	MaxMemory      uint64  // bytes of resident memory
	MaxCPU         float64 // percent
	RestartOnLimit bool
}

// LimitsFromEnv builds Limits from loosely-typed launch environment values.
// Recognized keys: MAX_MEMORY (bytes), MAX_CPU (percent),
// RESTART_ON_LIMIT ("true" enables). Unparseable values are ignored.
func LimitsFromEnv(env map[string]string) Limits {
	var l Limits
	if v, ok := env["MAX_MEMORY"]; ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			l.MaxMemory = n
		}
	}
	if v, ok := env["MAX_CPU"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			l.MaxCPU = f
		}
	}
	l.RestartOnLimit = env["RESTART_ON_LIMIT"] == "true"
	return l
}
