// Package streamtool wraps the external stream tool (streamlink-compatible
// CLI) used both to probe targets for liveness and to capture a live stream to
// disk. Probing never returns a Go error: every failure mode is encoded in the
// ProbeResult so one flaky target cannot abort a poll pass.
package streamtool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"
)

// DefaultProbeTimeout bounds one liveness probe.
const DefaultProbeTimeout = 30 * time.Second

// ProbeResult reports what the stream tool saw for one target address.
type ProbeResult struct {
	Live      bool            `json:"live"`
	Qualities []string        `json:"qualities,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Tool invokes the configured stream tool binary.
type Tool struct {
	binary       string
	probeTimeout time.Duration
}

func New(binary string, probeTimeout time.Duration) *Tool {
	if binary == "" {
		binary = "streamlink"
	}
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &Tool{binary: binary, probeTimeout: probeTimeout}
}

func (t *Tool) Binary() string { return t.binary }

// AssertAvailable verifies the binary resolves and runs. The daemon refuses to
// start when this fails.
func (t *Tool) AssertAvailable() error {
	path, err := exec.LookPath(t.binary)
	if err != nil {
		return fmt.Errorf("stream tool %q not found: %w", t.binary, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, path, "--version").Run(); err != nil {
		return fmt.Errorf("stream tool %q is not runnable: %w", t.binary, err)
	}
	return nil
}

// toolJSON is the subset of the tool's --json output the daemon acts on.
type toolJSON struct {
	Error   string                     `json:"error"`
	Streams map[string]json.RawMessage `json:"streams"`
}

// Probe checks whether address is live and which renditions it offers.
func (t *Tool) Probe(ctx context.Context, address string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, t.probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.binary, "--json", address)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Kill the whole process group so helper children die with the probe.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return ProbeResult{Error: fmt.Sprintf("probe timed out after %s", t.probeTimeout)}
	}

	var payload toolJSON
	parseErr := json.Unmarshal(stdout.Bytes(), &payload)

	if runErr != nil && parseErr != nil {
		// Non-zero exit with unparseable output: surface the raw error text.
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return ProbeResult{Error: msg}
	}
	if parseErr != nil {
		// Tool exited zero but printed nothing recognizable.
		return ProbeResult{}
	}
	if payload.Error != "" {
		return ProbeResult{Error: payload.Error, Raw: json.RawMessage(stdout.Bytes())}
	}
	if len(payload.Streams) == 0 {
		return ProbeResult{Raw: json.RawMessage(stdout.Bytes())}
	}

	qualities := make([]string, 0, len(payload.Streams))
	for q := range payload.Streams {
		qualities = append(qualities, q)
	}
	sort.Strings(qualities)
	return ProbeResult{Live: true, Qualities: qualities, Raw: json.RawMessage(stdout.Bytes())}
}

// SpawnRecording launches the capture subprocess and returns without waiting.
// The caller owns cmd.Wait and the lifetime of output.
func (t *Tool) SpawnRecording(address, qualityLabel, outputPath string, output io.Writer) (*exec.Cmd, error) {
	cmd := exec.Command(t.binary, address, qualityLabel, "-o", outputPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if output != nil {
		cmd.Stdout = output
		cmd.Stderr = output
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn recording for %s: %w", address, err)
	}
	return cmd, nil
}
