package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/joseph-ayodele/repo-auditor/internal/common"
)

var (
	// ErrSpawn means the subprocess never started (missing binary,
	// permission denied). Always a hard failure.
	ErrSpawn = errors.New("agent spawn failed")
	// ErrKilled means the subprocess died without an exit code (killed by a
	// signal outside our control). Treated as a hard failure: its output
	// cannot be trusted.
	ErrKilled = errors.New("agent terminated by signal")
)

// Invocation describes one agent run. Dir must be absolute; the subprocess
// gets its working directory set explicitly, the host process never chdirs.
type Invocation struct {
	Binary string
	Args   []string
	Dir    string
	Env    map[string]string // overrides merged over the host environment
}

// Result records what the supervisor observed. A non-zero ExitCode is not a
// failure by itself: the caller combines it with the harvest outcome,
// because the agent may exit non-zero after writing usable reports (e.g. an
// output-token limit warning).
type Result struct {
	ExitCode int
	Output   string // stdout and stderr interleaved in arrival order
	Duration time.Duration
}

// Runner spawns and supervises agent subprocesses.
type Runner struct {
	logger *slog.Logger
	grace  time.Duration
}

type Option func(*Runner)

// WithGracePeriod sets how long a cancelled agent gets between SIGTERM and
// SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.grace = d
		}
	}
}

func NewRunner(logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		logger: logger,
		grace:  5 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes the invocation and blocks until the subprocess exits. On ctx
// cancellation it sends SIGTERM, waits out the grace period, then SIGKILLs.
// The partial Result (whatever output was captured) is returned alongside
// the cancellation error.
func (r *Runner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	log := r.logger
	if jobID := common.JobIDFromContext(ctx); jobID != "" {
		log = log.With("job_id", jobID)
	}

	cmd := exec.Command(inv.Binary, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = mergeEnv(os.Environ(), inv.Env)

	var output syncBuffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	if err := cmd.Start(); err != nil {
		log.Error("agent.spawn.failed", "binary", inv.Binary, "dir", inv.Dir, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	log.Info("agent.started", "binary", inv.Binary, "pid", cmd.Process.Pid, "dir", inv.Dir)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		log.Warn("agent.cancelling", "pid", cmd.Process.Pid, "grace", r.grace)
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case waitErr = <-done:
		case <-time.After(r.grace):
			log.Warn("agent.killing", "pid", cmd.Process.Pid)
			_ = cmd.Process.Kill()
			waitErr = <-done
		}
		res := &Result{
			ExitCode: exitCode(cmd, waitErr),
			Output:   output.String(),
			Duration: time.Since(start),
		}
		return res, ctx.Err()
	}

	res := &Result{
		ExitCode: exitCode(cmd, waitErr),
		Output:   output.String(),
		Duration: time.Since(start),
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			log.Error("agent.wait.failed", "error", waitErr)
			return res, fmt.Errorf("wait for agent: %w", waitErr)
		}
		if res.ExitCode < 0 {
			log.Error("agent.killed", "pid", cmd.Process.Pid)
			return res, ErrKilled
		}
		// Non-zero exit: recorded, not failed. The caller decides after
		// harvesting.
		log.Warn("agent.exited", "exit_code", res.ExitCode, "duration", res.Duration)
		return res, nil
	}

	log.Info("agent.exited", "exit_code", 0, "duration", res.Duration)
	return res, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr == nil {
		return 0
	}
	return -1
}

func mergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, len(base), len(base)+len(overrides))
	copy(out, base)
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}

// syncBuffer keeps stdout and stderr writes ordered in a single buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
