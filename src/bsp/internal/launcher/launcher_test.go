package launcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bsperrors "github.com/uber/bsp-go/src/bsp/internal/errors"
	"github.com/uber/bsp-go/src/bsp/internal/executor"
	"github.com/uber/bsp-go/src/bsp/internal/transport"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startStub builds an executor around a fake start function and closes the
// child's stderr handle at test end, standing in for the process exit that
// lets the registry's drain goroutine observe EOF.
func startStub(t *testing.T, fn func(cmd *exec.Cmd) error) executor.Executor {
	t.Helper()
	return executor.NewExecutor(executor.WithStartFunc(func(cmd *exec.Cmd) error {
		if f, ok := cmd.Stderr.(*os.File); ok {
			t.Cleanup(func() { f.Close() })
		}
		return fn(cmd)
	}))
}

// freeEndpoint reserves a TCP port and returns it closed, so nothing answers
// until a test opens its own listener there.
func freeEndpoint(t *testing.T) transport.TCP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return transport.TCP{Host: "127.0.0.1", Port: port}
}

func listenOn(t *testing.T, endpoint transport.TCP) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", endpoint.Host, endpoint.Port))
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { defer conn.Close(); buf := make([]byte, 1); conn.Read(buf) }()
		}
	}()
	return ln
}

func TestConnectToRunningServer(t *testing.T) {
	endpoint := freeEndpoint(t)
	listenOn(t, endpoint)

	var spawns atomic.Int32
	registry := NewRegistry(startStub(t, func(cmd *exec.Cmd) error {
		spawns.Add(1)
		return nil
	}))

	conn, err := registry.Connect(context.Background(), Spec{Endpoint: endpoint})
	require.NoError(t, err)
	defer conn.Stream.Close()

	assert.False(t, conn.Spawned)
	assert.Zero(t, spawns.Load())

	// A second connect reuses the cached connection.
	again, err := registry.Connect(context.Background(), Spec{Endpoint: endpoint})
	require.NoError(t, err)
	assert.Same(t, conn, again)
}

func TestConnectRedialsAfterStreamClose(t *testing.T) {
	endpoint := freeEndpoint(t)
	listenOn(t, endpoint)
	registry := NewRegistry(executor.NewExecutor())

	conn, err := registry.Connect(context.Background(), Spec{Endpoint: endpoint})
	require.NoError(t, err)
	require.NoError(t, conn.Stream.Close())

	// A cached connection whose stream was closed is discarded, not handed back.
	again, err := registry.Connect(context.Background(), Spec{Endpoint: endpoint})
	require.NoError(t, err)
	defer again.Stream.Close()
	assert.NotSame(t, conn, again)
}

func TestSpawnWhenNothingAnswers(t *testing.T) {
	endpoint := freeEndpoint(t)

	var spawns atomic.Int32
	registry := NewRegistry(startStub(t, func(cmd *exec.Cmd) error {
		spawns.Add(1)
		// Simulate server startup: bind the endpoint shortly after launch.
		go func() {
			time.Sleep(20 * time.Millisecond)
			listenOn(t, endpoint)
		}()
		return nil
	}))

	conn, err := registry.Connect(context.Background(), Spec{
		Endpoint:     endpoint,
		Command:      []string{"bsp-server"},
		ReadyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer conn.Stream.Close()

	assert.True(t, conn.Spawned)
	assert.EqualValues(t, 1, spawns.Load())
}

func TestSpawnReadyViaSentinel(t *testing.T) {
	endpoint := freeEndpoint(t)

	registry := NewRegistry(startStub(t, func(cmd *exec.Cmd) error {
		listenOn(t, endpoint)
		go fmt.Fprintln(cmd.Stderr, "level=warn msg=\""+ReadySentinel+"\" address=127.0.0.1")
		return nil
	}))

	conn, err := registry.Connect(context.Background(), Spec{
		Endpoint:     endpoint,
		Command:      []string{"bsp-server"},
		ReadyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer conn.Stream.Close()
	assert.True(t, conn.Spawned)
}

func TestSpawnVersionMismatch(t *testing.T) {
	endpoint := freeEndpoint(t)

	registry := NewRegistry(startStub(t, func(cmd *exec.Cmd) error {
		go fmt.Fprintln(cmd.Stderr, VersionSentinel+": client 3.0.0, server 2.1.0")
		return nil
	}))

	_, err := registry.Connect(context.Background(), Spec{
		Endpoint:        endpoint,
		Command:         []string{"bsp-server", "--workspace", "/tmp/w"},
		ProtocolVersion: "3.0.0",
		ReadyTimeout:    5 * time.Second,
	})
	require.Error(t, err)

	var lerr *bsperrors.LauncherError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, bsperrors.LauncherVersionMismatch, lerr.Kind)
}

func TestSpawnWithoutCommand(t *testing.T) {
	registry := NewRegistry(executor.NewExecutor())

	_, err := registry.Connect(context.Background(), Spec{Endpoint: freeEndpoint(t)})
	var lerr *bsperrors.LauncherError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, bsperrors.LauncherSpawnFailed, lerr.Kind)
}

func TestSpawnReadinessTimeout(t *testing.T) {
	registry := NewRegistry(startStub(t, func(cmd *exec.Cmd) error {
		// Server never becomes ready.
		return nil
	}))

	_, err := registry.Connect(context.Background(), Spec{
		Endpoint:     freeEndpoint(t),
		Command:      []string{"bsp-server"},
		ReadyTimeout: 150 * time.Millisecond,
	})
	var lerr *bsperrors.LauncherError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, bsperrors.LauncherReadinessTimeout, lerr.Kind)
}

func TestConcurrentConnectsShareOneSpawn(t *testing.T) {
	endpoint := freeEndpoint(t)

	var spawns atomic.Int32
	registry := NewRegistry(startStub(t, func(cmd *exec.Cmd) error {
		spawns.Add(1)
		go func() {
			time.Sleep(50 * time.Millisecond)
			listenOn(t, endpoint)
		}()
		return nil
	}))

	spec := Spec{Endpoint: endpoint, Command: []string{"bsp-server"}, ReadyTimeout: 5 * time.Second}

	var wg sync.WaitGroup
	conns := make([]*Connection, 4)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := registry.Connect(context.Background(), spec)
			assert.NoError(t, err)
			conns[i] = conn
		}(i)
	}
	wg.Wait()

	require.NotNil(t, conns[0])
	defer conns[0].Stream.Close()

	assert.EqualValues(t, 1, spawns.Load())
	for _, conn := range conns[1:] {
		assert.Same(t, conns[0], conn)
	}
}

func TestRestartForcesFreshSpawn(t *testing.T) {
	endpoint := freeEndpoint(t)
	listenOn(t, endpoint)

	var spawns atomic.Int32
	registry := NewRegistry(startStub(t, func(cmd *exec.Cmd) error {
		spawns.Add(1)
		return nil
	}))

	spec := Spec{Endpoint: endpoint, Command: []string{"bsp-server"}, ReadyTimeout: 5 * time.Second}

	conn, err := registry.Connect(context.Background(), spec)
	require.NoError(t, err)
	assert.False(t, conn.Spawned)
	assert.Zero(t, spawns.Load())

	// Restart discards the healthy connection and spawns regardless.
	restarted, err := registry.Restart(context.Background(), spec)
	require.NoError(t, err)
	defer restarted.Stream.Close()

	assert.True(t, restarted.Spawned)
	assert.EqualValues(t, 1, spawns.Load())
}

func TestSpawnKeepsDrainingChildOutput(t *testing.T) {
	endpoint := freeEndpoint(t)

	stderrs := make(chan *os.File, 1)
	registry := NewRegistry(startStub(t, func(cmd *exec.Cmd) error {
		listenOn(t, endpoint)
		stderrs <- cmd.Stderr.(*os.File)
		go fmt.Fprintln(cmd.Stderr, ReadySentinel)
		return nil
	}))

	conn, err := registry.Connect(context.Background(), Spec{
		Endpoint:     endpoint,
		Command:      []string{"bsp-server"},
		ReadyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer conn.Stream.Close()

	// A long-lived server keeps logging to stderr well past readiness; those
	// writes must not block once the pipe buffer fills.
	w := <-stderrs
	done := make(chan struct{})
	go func() {
		defer close(done)
		line := append(bytes.Repeat([]byte("x"), 1024), '\n')
		for i := 0; i < 512; i++ {
			if _, err := w.Write(line); err != nil {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("post-readiness stderr writes blocked")
	}
}

func TestSpawnedServerExitClearsConnection(t *testing.T) {
	endpoint := freeEndpoint(t)

	registry := NewRegistry(startStub(t, func(cmd *exec.Cmd) error {
		listenOn(t, endpoint)
		return cmd.Start()
	}))

	spec := Spec{
		Endpoint:     endpoint,
		Command:      []string{"/bin/sh", "-c", "exit 0"},
		ReadyTimeout: 5 * time.Second,
	}

	conn, err := registry.Connect(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, conn.Spawned)

	// The child has already exited; the monitor reaps it and discards the
	// cached connection, so a later connect starts over instead of returning
	// the dead stream.
	require.Eventually(t, func() bool {
		again, err := registry.Connect(context.Background(), spec)
		if err != nil || again == conn {
			return false
		}
		again.Stream.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)
}
