package agent

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-based subprocess tests require a unix shell")
	}
}

func shInvocation(dir, script string) Invocation {
	return Invocation{
		Binary: "/bin/sh",
		Args:   []string{"-c", script},
		Dir:    dir,
	}
}

func TestRunnerCapturesOutputAndExitCode(t *testing.T) {
	t.Parallel()
	requireUnix(t)

	r := NewRunner(nil)
	res, err := r.Run(context.Background(), shInvocation(t.TempDir(), `echo out; echo err 1>&2; exit 0`))
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, res.Output, "out")
	require.Contains(t, res.Output, "err")
}

func TestRunnerNonZeroExitIsNotAnError(t *testing.T) {
	t.Parallel()
	requireUnix(t)

	r := NewRunner(nil)
	res, err := r.Run(context.Background(), shInvocation(t.TempDir(), `echo partial; exit 3`))
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
	require.Contains(t, res.Output, "partial")
}

func TestRunnerSpawnFailure(t *testing.T) {
	t.Parallel()

	r := NewRunner(nil)
	_, err := r.Run(context.Background(), Invocation{
		Binary: filepath.Join(t.TempDir(), "no-such-binary"),
		Dir:    t.TempDir(),
	})
	require.ErrorIs(t, err, ErrSpawn)
}

func TestRunnerRunsInGivenDirectory(t *testing.T) {
	t.Parallel()
	requireUnix(t)

	dir := t.TempDir()
	r := NewRunner(nil)
	res, err := r.Run(context.Background(), shInvocation(dir, `pwd`))
	require.NoError(t, err)

	// macOS tempdirs live behind /private symlinks
	got, resolveErr := filepath.EvalSymlinks(filepath.Clean(res.Output[:len(res.Output)-1]))
	require.NoError(t, resolveErr)
	want, resolveErr := filepath.EvalSymlinks(dir)
	require.NoError(t, resolveErr)
	require.Equal(t, want, got)
}

func TestRunnerMergesEnvOverrides(t *testing.T) {
	t.Parallel()
	requireUnix(t)

	inv := shInvocation(t.TempDir(), `printf '%s' "$AUDIT_TEST_TOKEN"`)
	inv.Env = map[string]string{"AUDIT_TEST_TOKEN": "sekrit"}

	r := NewRunner(nil)
	res, err := r.Run(context.Background(), inv)
	require.NoError(t, err)
	require.Equal(t, "sekrit", res.Output)
}

func TestRunnerCancellationTerminatesGracefully(t *testing.T) {
	t.Parallel()
	requireUnix(t)

	marker := filepath.Join(t.TempDir(), "got-term")
	script := `trap 'touch ` + marker + `; exit 0' TERM; echo ready; sleep 30`

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	r := NewRunner(nil, WithGracePeriod(2*time.Second))
	start := time.Now()
	res, err := r.Run(ctx, shInvocation(t.TempDir(), script))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	require.Contains(t, res.Output, "ready")
	require.Less(t, time.Since(start), 10*time.Second)

	_, statErr := os.Stat(marker)
	require.NoError(t, statErr, "subprocess should have seen SIGTERM")
}

func TestRunnerKillsAfterGracePeriod(t *testing.T) {
	t.Parallel()
	requireUnix(t)

	// ignore TERM so only the KILL can end it
	script := `trap '' TERM; echo stubborn; sleep 30`

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	r := NewRunner(nil, WithGracePeriod(300*time.Millisecond))
	start := time.Now()
	res, err := r.Run(ctx, shInvocation(t.TempDir(), script))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	require.Less(t, time.Since(start), 10*time.Second, "SIGKILL must cut the sleep short")
}
