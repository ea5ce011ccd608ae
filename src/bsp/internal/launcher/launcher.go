// Package launcher makes "a build server is reachable" true: it dials the
// expected endpoint and, when nothing answers, spawns the server process and
// waits for it to become ready before dialing again.
package launcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tally "github.com/uber-go/tally/v4"
	"github.com/uber/bsp-go/src/bsp/internal/clock"
	"github.com/uber/bsp-go/src/bsp/internal/errors"
	"github.com/uber/bsp-go/src/bsp/internal/executor"
	"github.com/uber/bsp-go/src/bsp/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// ReadySentinel is the line fragment a freshly spawned server emits once
	// its listener is bound. The launcher scans the child's output for it.
	ReadySentinel = "bsp server listening"
	// VersionSentinel is emitted instead when the server rejects the
	// protocol-version token passed on its command line.
	VersionSentinel = "incompatible protocol version"

	_initialBackoff = 50 * time.Millisecond
	_maxBackoff     = time.Second
)

// Spec tells the launcher where the server should be and how to start one.
type Spec struct {
	Endpoint transport.Endpoint
	// Command is the argv used to spawn the server when dialing fails.
	// Endpoint and protocol-version flags are appended by the launcher.
	Command []string
	// ProtocolVersion is the compatibility token passed to the spawned server.
	ProtocolVersion string
	// ReadyTimeout bounds the whole spawn-and-wait sequence.
	ReadyTimeout time.Duration
}

// Connection is an established, launcher-owned connection to a server.
type Connection struct {
	Stream   io.ReadWriteCloser
	Endpoint transport.Endpoint
	// Spawned is true when this launcher started the server process.
	Spawned bool
}

// Registry hands out connections, spawning servers as needed. Spawn attempts
// for the same endpoint are serialized: callers arriving while an attempt is
// in flight wait for and share its result rather than spawning again.
type Registry interface {
	// Connect dials the endpoint, spawning the server if nothing answers.
	Connect(ctx context.Context, spec Spec) (*Connection, error)
	// Restart discards any cached connection and process handle for the
	// endpoint and forces a fresh spawn, even if a connection looks healthy.
	Restart(ctx context.Context, spec Spec) (*Connection, error)
}

type endpointState struct {
	mu   sync.Mutex
	conn *Connection
	proc *exec.Cmd
}

// trackedStream flags when a launcher-owned stream is closed, by its consumer
// or by the process monitor, so a cached connection with a dead stream is
// never handed back.
type trackedStream struct {
	io.ReadWriteCloser
	closed atomic.Bool
}

func (s *trackedStream) Close() error {
	s.closed.Store(true)
	return s.ReadWriteCloser.Close()
}

func stale(conn *Connection) bool {
	ts, ok := conn.Stream.(*trackedStream)
	return ok && ts.closed.Load()
}

type registry struct {
	executor executor.Executor
	clock    clock.Clock
	logger   *zap.SugaredLogger
	stats    tally.Scope

	mu        sync.Mutex
	endpoints map[string]*endpointState
	group     singleflight.Group
}

// Option customizes a Registry.
type Option func(*registry)

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *registry) { r.logger = logger }
}

// WithClock overrides the real clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(r *registry) { r.clock = c }
}

// WithStats overrides the default noop metrics scope.
func WithStats(stats tally.Scope) Option {
	return func(r *registry) { r.stats = stats }
}

// NewRegistry creates a connection registry backed by the given executor.
func NewRegistry(exec executor.Executor, opts ...Option) Registry {
	r := &registry{
		executor:  exec,
		clock:     clock.New(),
		logger:    zap.NewNop().Sugar(),
		stats:     tally.NoopScope,
		endpoints: make(map[string]*endpointState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *registry) state(key string) *endpointState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.endpoints[key]
	if !ok {
		st = &endpointState{}
		r.endpoints[key] = st
	}
	return st
}

func (r *registry) Connect(ctx context.Context, spec Spec) (*Connection, error) {
	key := spec.Endpoint.String()

	// Concurrent connects to one endpoint share a single attempt.
	result, err, _ := r.group.Do(key, func() (interface{}, error) {
		st := r.state(key)
		st.mu.Lock()
		defer st.mu.Unlock()
		return r.connectLocked(ctx, st, spec)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Connection), nil
}

func (r *registry) Restart(ctx context.Context, spec Spec) (*Connection, error) {
	key := spec.Endpoint.String()
	st := r.state(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	// Forcibly discard cached state, healthy or not.
	if st.conn != nil {
		st.conn.Stream.Close()
		st.conn = nil
	}
	r.reapLocked(st)

	conn, err := r.spawnAndDial(ctx, st, spec)
	if err != nil {
		return nil, err
	}
	st.conn = conn
	return conn, nil
}

// connectLocked implements try-connect-else-spawn for one endpoint.
func (r *registry) connectLocked(ctx context.Context, st *endpointState, spec Spec) (*Connection, error) {
	if st.conn != nil {
		if !stale(st.conn) {
			return st.conn, nil
		}
		// The cached stream was closed; start over rather than handing back a
		// known-dead connection.
		st.conn = nil
	}

	stream, err := transport.Dial(ctx, spec.Endpoint)
	if err == nil {
		conn := &Connection{Stream: &trackedStream{ReadWriteCloser: stream}, Endpoint: spec.Endpoint}
		st.conn = conn
		return conn, nil
	}
	r.logger.Infow("no server answering, spawning one",
		"endpoint", spec.Endpoint.String(), "dialError", err)

	conn, err := r.spawnAndDial(ctx, st, spec)
	if err != nil {
		return nil, err
	}
	st.conn = conn
	return conn, nil
}

// spawnAndDial starts the server process and waits for readiness by both
// strategies at once: scanning the child's output for the listening sentinel,
// and polling the endpoint with bounded exponential backoff. Whichever signal
// arrives first wins; on any failure the spawned process is reaped so it is
// never leaked.
func (r *registry) spawnAndDial(ctx context.Context, st *endpointState, spec Spec) (*Connection, error) {
	if len(spec.Command) == 0 {
		return nil, &errors.LauncherError{
			Kind:     errors.LauncherSpawnFailed,
			Endpoint: spec.Endpoint.String(),
			Err:      errors.New("no server command configured"),
		}
	}

	timeout := spec.ReadyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	args := append(append([]string{}, spec.Command[1:]...), endpointArgs(spec)...)
	cmd := exec.Command(spec.Command[0], args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &errors.LauncherError{Kind: errors.LauncherSpawnFailed, Endpoint: spec.Endpoint.String(), Err: err}
	}

	if err := r.executor.Start(cmd); err != nil {
		stderr.Close()
		return nil, &errors.LauncherError{Kind: errors.LauncherSpawnFailed, Endpoint: spec.Endpoint.String(), Err: err}
	}
	st.proc = cmd
	if cmd.Process != nil {
		go r.monitorProcess(st, cmd)
	}
	r.stats.Counter("spawns").Inc(1)

	// One-shot readiness: first resolution wins, later sends are dropped.
	ready := make(chan error, 1)
	resolve := func(err error) {
		select {
		case ready <- err:
		default:
		}
	}

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	go r.scanForSentinel(stderr, resolve)
	go r.pollEndpoint(pollCtx, spec.Endpoint, timeout, resolve)

	select {
	case err := <-ready:
		if err != nil {
			stderr.Close()
			r.reapLocked(st)
			return nil, err
		}
	case <-r.clock.After(timeout):
		stderr.Close()
		r.reapLocked(st)
		return nil, &errors.LauncherError{Kind: errors.LauncherReadinessTimeout, Endpoint: spec.Endpoint.String()}
	case <-ctx.Done():
		stderr.Close()
		r.reapLocked(st)
		return nil, &errors.LauncherError{Kind: errors.LauncherReadinessTimeout, Endpoint: spec.Endpoint.String(), Err: ctx.Err()}
	}

	stream, err := transport.Dial(ctx, spec.Endpoint)
	if err != nil {
		stderr.Close()
		r.reapLocked(st)
		return nil, &errors.LauncherError{Kind: errors.LauncherReadinessTimeout, Endpoint: spec.Endpoint.String(), Err: err}
	}

	r.logger.Infow("spawned server is ready", "endpoint", spec.Endpoint.String())
	return &Connection{Stream: &trackedStream{ReadWriteCloser: stream}, Endpoint: spec.Endpoint, Spawned: true}, nil
}

// scanForSentinel resolves readiness from the child's own output. The child
// logs to this pipe for its whole lifetime, so once a sentinel is matched the
// scanner keeps draining; a reader must exist until EOF or the child's writes
// block on a full pipe and wedge it.
func (r *registry) scanForSentinel(output io.Reader, resolve func(error)) {
	scanner := bufio.NewScanner(output)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, VersionSentinel) {
			resolve(&errors.LauncherError{Kind: errors.LauncherVersionMismatch, Err: errors.New(line)})
			break
		}
		if strings.Contains(line, ReadySentinel) {
			resolve(nil)
			break
		}
	}
	io.Copy(io.Discard, output)
}

// pollEndpoint resolves readiness by probing the endpoint with bounded
// exponential backoff until the deadline.
func (r *registry) pollEndpoint(ctx context.Context, endpoint transport.Endpoint, timeout time.Duration, resolve func(error)) {
	deadline := r.clock.Now().Add(timeout)
	backoff := _initialBackoff

	for r.clock.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		probe, err := transport.Dial(ctx, endpoint)
		if err == nil {
			probe.Close()
			resolve(nil)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(backoff):
		}
		backoff *= 2
		if backoff > _maxBackoff {
			backoff = _maxBackoff
		}
	}
}

// reapLocked kills the endpoint's spawned process, if any. The monitor
// goroutine waiting on the process observes the exit and reaps it. Must be
// called with the endpoint state locked.
func (r *registry) reapLocked(st *endpointState) {
	if st.proc == nil || st.proc.Process == nil {
		st.proc = nil
		return
	}
	if err := st.proc.Process.Kill(); err != nil {
		r.logger.Warnw("killing spawned server", "error", err)
	}
	st.proc = nil
}

// monitorProcess reaps the spawned server when it exits, so a child that dies
// on its own never lingers as a zombie. An exit while the process is still the
// endpoint's current one also discards the cached connection, so the next
// connect re-dials or re-spawns instead of returning a dead stream.
func (r *registry) monitorProcess(st *endpointState, cmd *exec.Cmd) {
	err := cmd.Wait()

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.proc != cmd {
		// Already killed or superseded by a restart; state was handled there.
		return
	}
	r.logger.Warnw("spawned server exited", "error", err)
	st.proc = nil
	if st.conn != nil {
		st.conn.Stream.Close()
		st.conn = nil
	}
}

func endpointArgs(spec Spec) []string {
	args := []string{}
	switch e := spec.Endpoint.(type) {
	case transport.TCP:
		args = append(args, "--endpoint-kind", string(transport.KindTCP),
			"--address", fmt.Sprintf("%s:%d", e.Host, e.Port))
	case transport.Socket:
		args = append(args, "--endpoint-kind", string(transport.KindSocket), "--socket", e.Path)
	}
	if spec.ProtocolVersion != "" {
		args = append(args, "--protocol-version", spec.ProtocolVersion)
	}
	return args
}
