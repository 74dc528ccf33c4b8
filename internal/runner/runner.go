// Package runner implements the Runner/Sandbox Shim (spec component C10):
// executing a compiled solve binary as a length-prefixed child process
// under resource limits, classifying how it terminated.
//
// Grounded on the teacher's internal/eval_harness process-execution helpers
// (threaded stdout/stderr capture to avoid pipe deadlock, a wall-clock
// watchdog that kills the process group) and, for the platform-specific
// setrlimit split, on the pack's theRebelliousNerd-codenerd/internal/tactile
// platform_linux.go / platform_darwin.go build-tag layout.
package runner

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sunholo/x07c/internal/policy"
)

// Limits mirrors the fields of policy.Limits the runner actually enforces
// at the OS level (spec §4.10).
type Limits struct {
	CPUSeconds int64
	MemBytes   int64
	FDs        int64
	Procs      int64
	CoreDumps  bool
}

func limitsFromPolicy(p policy.Policy) Limits {
	return Limits{
		CPUSeconds: (p.Limits.CPUMs + 999) / 1000,
		MemBytes:   p.Limits.MemBytes,
		FDs:        p.Limits.FDs,
		Procs:      p.Limits.Procs,
		CoreDumps:  p.Limits.CoreDumps,
	}
}

// Metrics is the stderr-carried counters a solve binary reports on success
// (spec §4.9's metrics JSON line).
type Metrics struct {
	FuelUsed uint64 `json:"fuel_used"`
	HeapUsed uint64 `json:"heap_used"`
	FSCalls  uint64 `json:"fs_calls"`
	RRCalls  uint64 `json:"rr_calls"`
	KVCalls  uint64 `json:"kv_calls"`
}

// TrapKind classifies why a run did not complete cleanly (spec §4.10).
type TrapKind string

const (
	TrapNone            TrapKind = ""
	TrapTimedOut        TrapKind = "timed_out"
	TrapStdoutTruncated TrapKind = "stdout_truncated"
	TrapStderrTruncated TrapKind = "stderr_truncated"
	TrapNonZeroExit     TrapKind = "non_zero_exit"
	TrapSignaled        TrapKind = "signaled"
	TrapMissingMetrics  TrapKind = "missing_metrics"
)

// Result is the outcome of one sandboxed run. CorrelationID identifies this
// particular invocation across logs and report output (spec §6's run
// report), minted fresh per call to Run rather than threaded in by the
// caller so every invocation, including retries, gets a distinct id.
type Result struct {
	CorrelationID string
	ExitCode      int
	Stdout        []byte
	Metrics       Metrics
	Trap          TrapKind
	TrapMsg       string
}

// Options configures a single sandboxed invocation.
type Options struct {
	Policy      policy.Policy
	Timeout     time.Duration
	MaxStdout   int
	MaxStderr   int
}

const (
	defaultMaxStdout = 16 << 20
	defaultMaxStderr = 1 << 20
)

// Run executes binaryPath with the length-prefixed input framing the
// emitted solve entry expects, under the limits and timeout carried in
// opts, and classifies the outcome (spec §4.10, §6).
func Run(ctx context.Context, binaryPath string, input []byte, opts Options) (*Result, error) {
	if opts.MaxStdout <= 0 {
		opts.MaxStdout = defaultMaxStdout
	}
	if opts.MaxStderr <= 0 {
		opts.MaxStderr = defaultMaxStderr
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	correlationID := uuid.New().String()

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binaryPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("runner: stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("runner: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("runner: stderr pipe: %w", err)
	}

	if err := applyLimits(limitsFromPolicy(opts.Policy)); err != nil {
		return nil, fmt.Errorf("runner: applying resource limits: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("runner: start: %w", err)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	var stdoutTrunc, stderrTrunc bool
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		stdoutTrunc = copyCapped(&stdoutBuf, stdoutPipe, opts.MaxStdout)
	}()
	go func() {
		defer wg.Done()
		stderrTrunc = copyCapped(&stderrBuf, stderrPipe, opts.MaxStderr)
	}()

	go func() {
		var lenPrefix [4]byte
		binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(input)))
		stdin.Write(lenPrefix[:])
		stdin.Write(input)
		stdin.Close()
	}()

	waitErr := cmd.Wait()
	wg.Wait()

	res := &Result{CorrelationID: correlationID, Stdout: stdoutBuf.Bytes()}

	if runCtx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)
		res.Trap = TrapTimedOut
		res.TrapMsg = "runner: wall-clock timeout exceeded"
		return res, nil
	}
	if stdoutTrunc {
		res.Trap = TrapStdoutTruncated
		res.TrapMsg = fmt.Sprintf("runner: stdout exceeded %d byte cap", opts.MaxStdout)
		return res, nil
	}
	if stderrTrunc {
		res.Trap = TrapStderrTruncated
		res.TrapMsg = fmt.Sprintf("runner: stderr exceeded %d byte cap", opts.MaxStderr)
		return res, nil
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			if res.ExitCode < 0 {
				res.Trap = TrapSignaled
				res.TrapMsg = classifyStderr(stderrBuf.String())
				if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() && stderrBuf.Len() == 0 {
					res.TrapMsg = fmt.Sprintf("terminated by signal %d", int(ws.Signal()))
				}
				return res, nil
			}
			res.Trap = TrapNonZeroExit
			res.TrapMsg = classifyStderr(stderrBuf.String())
			return res, nil
		}
		return nil, fmt.Errorf("runner: wait: %w", waitErr)
	}

	metrics, ok := parseMetrics(stderrBuf.String())
	if !ok {
		res.Trap = TrapMissingMetrics
		res.TrapMsg = "missing metrics json line on stderr"
		return res, nil
	}
	res.Metrics = metrics
	return res, nil
}

// copyCapped copies src into dst up to max bytes, reporting whether the
// stream was truncated.
func copyCapped(dst *bytes.Buffer, src io.Reader, max int) bool {
	limited := io.LimitReader(src, int64(max)+1)
	n, _ := io.Copy(dst, limited)
	if n > int64(max) {
		dst.Truncate(max)
		io.Copy(io.Discard, src)
		return true
	}
	io.Copy(io.Discard, src)
	return false
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		cmd.Process.Kill()
		return
	}
	syscall.Kill(-pgid, syscall.SIGKILL)
}

// parseMetrics finds the last line of stderr and parses it as a Metrics
// JSON object, per the emitted solve entry's contract (spec §4.9).
func parseMetrics(stderr string) (Metrics, bool) {
	lines := strings.Split(strings.TrimRight(stderr, "\n"), "\n")
	if len(lines) == 0 {
		return Metrics{}, false
	}
	last := lines[len(lines)-1]
	var m Metrics
	if err := json.Unmarshal([]byte(last), &m); err != nil {
		return Metrics{}, false
	}
	return m, true
}

// classifyStderr extracts a trap payload from stderr, falling back to a
// synthesized description when the child produced no parseable trap line
// (spec §4.10: "terminated by signal N" for unparseable signal deaths).
func classifyStderr(stderr string) string {
	lines := strings.Split(strings.TrimRight(stderr, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		var payload struct {
			Trap string `json:"trap"`
		}
		if err := json.Unmarshal([]byte(lines[i]), &payload); err == nil && payload.Trap != "" {
			return payload.Trap
		}
	}
	if stderr == "" {
		return "terminated by signal"
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
