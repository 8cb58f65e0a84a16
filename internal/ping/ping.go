package ping

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"voip-monitor/internal/models"
)

// Probe methods.
const (
	MethodICMP = "icmp"
	MethodExec = "exec"
)

// New returns the probe primitive for method.
func New(method string, privileged bool, logger *zap.Logger) (models.Pinger, error) {
	switch method {
	case MethodICMP, "":
		return NewICMPPinger(privileged, NewResolver(5*time.Minute)), nil
	case MethodExec:
		if _, err := exec.LookPath("ping"); err != nil {
			return nil, fmt.Errorf("ping binary not available: %w", err)
		}
		logger.Info("using system ping binary")
		return NewExecPinger(), nil
	default:
		return nil, fmt.Errorf("unknown probe method %q", method)
	}
}

// ExecPinger runs the platform ping binary once per probe.
type ExecPinger struct{}

// NewExecPinger creates an ExecPinger.
func NewExecPinger() *ExecPinger {
	return &ExecPinger{}
}

// Ping sends one echo request through the system ping binary. An exit
// failure or unparseable output is reported as an error.
func (p *ExecPinger) Ping(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "ping", "-n", "1", "-w", strconv.Itoa(int(timeout.Milliseconds())), address)
	} else {
		secs := int(timeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		cmd = exec.CommandContext(ctx, "ping", "-c", "1", "-W", strconv.Itoa(secs), address)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ping %s: %w", address, err)
	}

	rtt, err := parsePingOutput(string(output))
	if err != nil {
		return 0, fmt.Errorf("ping %s: %w", address, err)
	}
	return time.Duration(rtt * float64(time.Millisecond)), nil
}

var rttPatterns = []*regexp.Regexp{
	regexp.MustCompile(`time[=<]([0-9.]+)\s*ms`),
	regexp.MustCompile(`round-trip min/avg/max(?:/stddev)? = [0-9.]+/([0-9.]+)/`),
	regexp.MustCompile(`rtt min/avg/max/mdev = [0-9.]+/([0-9.]+)/`),
}

// parsePingOutput extracts the RTT in milliseconds from ping output.
func parsePingOutput(output string) (float64, error) {
	for _, re := range rttPatterns {
		matches := re.FindStringSubmatch(output)
		if len(matches) > 1 {
			if rtt, err := strconv.ParseFloat(matches[1], 64); err == nil {
				return rtt, nil
			}
		}
	}
	return 0, fmt.Errorf("no round-trip time in ping output")
}
