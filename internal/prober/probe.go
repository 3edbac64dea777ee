package prober

import (
	"context"
	"fmt"
	"math"
	"net"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/xtxerr/netmon/config"
	"github.com/xtxerr/netmon/internal/constants"
	"github.com/xtxerr/netmon/internal/errors"
	"github.com/xtxerr/netmon/internal/network"
)

// =============================================================================
// Types
// =============================================================================

// Target is one probed host with its resolved probe settings.
type Target struct {
	Host     string        `json:"host"`
	Method   string        `json:"method"`
	Port     int           `json:"port,omitempty"`
	Interval time.Duration `json:"-"`
	Timeout  time.Duration `json:"-"`
}

// String returns the host.
func (t Target) String() string {
	return t.Host
}

// Result is the outcome of one probe attempt.
type Result struct {
	// LatencyMs is the round trip time. Meaningful only when OK.
	LatencyMs float64

	// OK is false for timeouts and every kind of failure.
	OK bool

	// Err describes the failure, if any.
	Err error
}

// Success builds a successful Result.
func Success(d time.Duration) Result {
	return Result{LatencyMs: float64(d) / float64(time.Millisecond), OK: true}
}

// Failure builds a failed Result.
func Failure(err error) Result {
	return Result{Err: err}
}

// Probe measures the round trip time to a target once.
// Implementations must return within the context deadline.
type Probe interface {
	Probe(ctx context.Context, t Target) Result
}

// FuncProbe adapts a function to the Probe interface.
type FuncProbe func(ctx context.Context, t Target) Result

// Probe calls f.
func (f FuncProbe) Probe(ctx context.Context, t Target) Result {
	return f(ctx, t)
}

// Dispatch selects a Probe by the target's method.
type Dispatch map[string]Probe

// Probe implements Probe.
func (d Dispatch) Probe(ctx context.Context, t Target) Result {
	method := t.Method
	if method == "" {
		method = constants.ProbeICMP
	}
	p, ok := d[method]
	if !ok {
		return Failure(fmt.Errorf("method %q: %w", method, errors.ErrProbe))
	}
	return p.Probe(ctx, t)
}

// NewDefaultDispatch returns the ICMP and TCP probes backed by the host.
func NewDefaultDispatch(r network.Runner) Dispatch {
	return Dispatch{
		constants.ProbeICMP: &ICMPProbe{Runner: r},
		constants.ProbeTCP:  &TCPProbe{},
	}
}

// =============================================================================
// ICMP
// =============================================================================

// ICMPProbe sends a single echo request through the system ping binary.
type ICMPProbe struct {
	Runner network.Runner

	// GOOS selects the ping flavour. Empty means the running platform.
	GOOS string
}

var pingTimeRe = regexp.MustCompile(`time[=<]\s*([0-9]+(?:\.[0-9]+)?)\s*ms`)

// Probe implements Probe.
func (p *ICMPProbe) Probe(ctx context.Context, t Target) Result {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = config.DefaultProbeTimeout
	}

	out, err := p.Runner.Output(ctx, "ping", PingArgs(p.goos(), t.Host, timeout)...)
	if err != nil {
		if ctx.Err() != nil {
			return Failure(errors.ErrTimeout)
		}
		return Failure(fmt.Errorf("ping %s: %v: %w", t.Host, err, errors.ErrProbe))
	}

	ms, ok := ParsePingLatency(out)
	if !ok {
		return Failure(fmt.Errorf("ping %s: no reply: %w", t.Host, errors.ErrProbe))
	}
	return Result{LatencyMs: ms, OK: true}
}

func (p *ICMPProbe) goos() string {
	if p.GOOS != "" {
		return p.GOOS
	}
	return runtime.GOOS
}

// PingArgs returns the arguments of a single ping with a reply timeout.
func PingArgs(goos, host string, timeout time.Duration) []string {
	secs := int(math.Ceil(timeout.Seconds()))
	if secs < 1 {
		secs = 1
	}

	switch goos {
	case "windows":
		return []string{"-n", "1", "-w", strconv.FormatInt(timeout.Milliseconds(), 10), host}
	case "darwin", "freebsd", "openbsd", "netbsd":
		return []string{"-c", "1", "-t", strconv.Itoa(secs), host}
	default:
		return []string{"-c", "1", "-W", strconv.Itoa(secs), host}
	}
}

// ParsePingLatency extracts the round trip time in milliseconds from ping
// output. "time<1ms" reads as 1.
func ParsePingLatency(out string) (float64, bool) {
	m := pingTimeRe.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// =============================================================================
// TCP
// =============================================================================

// TCPProbe measures the time to complete a TCP handshake.
type TCPProbe struct {
	// Dialer is used when set; tests point it at local listeners.
	Dialer *net.Dialer
}

// Probe implements Probe.
func (p *TCPProbe) Probe(ctx context.Context, t Target) Result {
	port := t.Port
	if port == 0 {
		port = config.DefaultTCPPort
	}

	d := p.Dialer
	if d == nil {
		d = &net.Dialer{}
	}

	addr := net.JoinHostPort(t.Host, strconv.Itoa(port))
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return Failure(errors.ErrTimeout)
		}
		return Failure(fmt.Errorf("dial %s: %v: %w", addr, err, errors.ErrProbe))
	}
	conn.Close()

	return Success(elapsed)
}
