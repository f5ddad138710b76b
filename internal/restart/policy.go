package restart

import (
	"math"
	"math/rand"
	"strconv"
	"time"
)

// Defaults applied when the launch environment does not set a value.
const (
	DefaultMaxRestarts       = 3
	DefaultRestartWindow     = 60 * time.Second
	DefaultBackoffMultiplier = 2.0

	baseDelay = time.Second
	// Backoff growth is capped at this attempt count so delays stay bounded
	// (about 64s at multiplier 2 before jitter).
	maxBackoffExponent = 6
)

// Policy bounds automatic restarts for one supervised process. Fields are
// fixed for the life of a process record.
type Policy struct {
	MaxRestarts       int
	RestartWindow     time.Duration
	BackoffMultiplier float64
	Enabled           bool
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRestarts:       DefaultMaxRestarts,
		RestartWindow:     DefaultRestartWindow,
		BackoffMultiplier: DefaultBackoffMultiplier,
		Enabled:           true,
	}
}

// PolicyFromEnv builds a Policy from loosely-typed launch environment values.
// Recognized keys: MAX_RESTARTS, RESTART_WINDOW (ms), BACKOFF_MULTIPLIER,
// DISABLE_RESTART ("true" disables). Unparseable values fall back to defaults.
func PolicyFromEnv(env map[string]string) Policy {
	p := DefaultPolicy()
	if v, ok := env["MAX_RESTARTS"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.MaxRestarts = n
		}
	}
	if v, ok := env["RESTART_WINDOW"]; ok {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			p.RestartWindow = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := env["BACKOFF_MULTIPLIER"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 1 {
			p.BackoffMultiplier = f
		}
	}
	if env["DISABLE_RESTART"] == "true" {
		p.Enabled = false
	}
	return p
}

// Delay computes the backoff before restart attempt number attempt (1-based),
// with jitter in [0.85, 1.15) to avoid thundering-herd on a shared port.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, 0.85+rand.Float64()*0.3)
}

// BaseDelay is Delay without jitter; it is monotonically non-decreasing in
// attempt up to the exponent cap.
func (p Policy) BaseDelay(attempt int) time.Duration {
	return p.delay(attempt, 1.0)
}

func (p Policy) delay(attempt int, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = DefaultBackoffMultiplier
	}
	d := float64(baseDelay) * math.Pow(mult, float64(exp)) * jitter
	return time.Duration(d)
}
