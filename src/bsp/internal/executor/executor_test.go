package executor

import (
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// Instantiates the new Executor through fx provider
func fxExecutor(t *testing.T, opts ...Option) (Executor, *observer.ObservedLogs) {
	var e Executor
	core, recorded := observer.New(zap.InfoLevel)
	logger := zap.New(core).Sugar()

	fxtest.New(t,
		fx.Provide(
			func() Executor {
				return NewExecutor(append([]Option{WithLogger(logger)}, opts...)...)
			},
		),
		fx.Populate(&e),
	).RequireStart().RequireStop()

	return e, recorded
}

func TestRun(t *testing.T) {
	e, recorded := fxExecutor(t)

	t.Run("CapturesOutput", func(t *testing.T) {
		if _, err := exec.LookPath("sh"); errors.Is(err, exec.ErrNotFound) {
			t.Skip("no sh available")
		}

		cmd := exec.Command("sh", "-c", "echo from-stdout; echo from-stderr 1>&2")
		cmd.Dir = "/"
		stdout, stderr, exitCode, err := e.Run(cmd)
		require.NoError(t, err)

		assert.Equal(t, "from-stdout\n", stdout)
		assert.Equal(t, "from-stderr\n", stderr)
		assert.Zero(t, exitCode)

		logs := recorded.TakeAll()
		require.Len(t, logs, 1)
		assert.Equal(t, map[string]interface{}{
			"Path": cmd.Path,
			"Dir":  "/",
			"Args": []interface{}{"-c", "echo from-stdout; echo from-stderr 1>&2"},
		}, logs[0].ContextMap())
	})

	t.Run("ReportsExitCode", func(t *testing.T) {
		if _, err := exec.LookPath("sh"); errors.Is(err, exec.ErrNotFound) {
			t.Skip("no sh available")
		}

		cmd := exec.Command("sh", "-c", "exit 3")
		_, _, exitCode, err := e.Run(cmd)
		assert.Error(t, err)
		assert.Equal(t, 3, exitCode)
	})
}

func TestRunWithFakeExecFunc(t *testing.T) {
	var ran *exec.Cmd
	e, _ := fxExecutor(t, WithExecFunc(func(cmd *exec.Cmd) error {
		ran = cmd
		cmd.Stdout.Write([]byte("fake output"))
		return nil
	}))

	cmd := exec.Command("bsp-server", "--workspace", "/tmp/w")
	stdout, _, exitCode, err := e.Run(cmd)
	require.NoError(t, err)

	assert.Same(t, cmd, ran)
	assert.Equal(t, "fake output", stdout)
	// The fake never produced a process, so no real exit status exists.
	assert.Equal(t, -1, exitCode)
}

func TestStart(t *testing.T) {
	var started *exec.Cmd
	e, recorded := fxExecutor(t, WithStartFunc(func(cmd *exec.Cmd) error {
		started = cmd
		return nil
	}))

	cmd := exec.Command("bsp-server", "--endpoint-kind", "tcp")
	require.NoError(t, e.Start(cmd))
	assert.Same(t, cmd, started)

	logs := recorded.TakeAll()
	require.Len(t, logs, 1)
	assert.Equal(t, []interface{}{"--endpoint-kind", "tcp"}, logs[0].ContextMap()["Args"])
}

func TestStartPropagatesError(t *testing.T) {
	wantErr := errors.New("spawn failed")
	e, _ := fxExecutor(t, WithStartFunc(func(cmd *exec.Cmd) error {
		return wantErr
	}))

	assert.ErrorIs(t, e.Start(exec.Command("bsp-server")), wantErr)
}
