// Package client implements the build-server protocol session used by editor
// and build-tool front ends: typed requests over a dialed transport stream,
// notification dispatch into the compile-result cache, and session lifecycle.
package client

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	tally "github.com/uber-go/tally/v4"
	"github.com/uber/bsp-go/src/bsp/internal/clock"
	"github.com/uber/bsp-go/src/bsp/internal/errors"
	"github.com/uber/bsp-go/src/bsp/internal/resultcache"
	"github.com/uber/bsp-go/src/bsp/mapper"
	"github.com/uber/bsp-go/src/bsp/protocol"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

// sessionState is the client session lifecycle.
type sessionState int32

const (
	stateUninitialized sessionState = iota
	stateInitializing
	stateActive
	stateShuttingDown
	stateClosed
)

// Sink receives server notifications that are not compile task events.
type Sink interface {
	LogMessage(params *protocol.LogMessageParams)
	ShowMessage(params *protocol.ShowMessageParams)
	PublishDiagnostics(params *protocol.PublishDiagnosticsParams)
}

// Session is a typed protocol peer over one connection.
//
// Initialize must complete before other requests are sent; requests issued
// earlier park on an arrival-ordered gate and are released once the session
// is active. All methods are safe for concurrent use.
type Session interface {
	Initialize(ctx context.Context, params *protocol.InitializeBuildParams) (*protocol.InitializeBuildResult, error)
	ListBuildTargets(ctx context.Context) ([]protocol.BuildTarget, error)
	CompilerOptions(ctx context.Context, targets []protocol.BuildTargetIdentifier) (*protocol.CompilerOptionsResult, error)
	Sources(ctx context.Context, targets []protocol.BuildTargetIdentifier) (*protocol.SourcesResult, error)
	DependencySources(ctx context.Context, targets []protocol.BuildTargetIdentifier) (*protocol.DependencySourcesResult, error)
	// Compile acknowledges the request; per-target outcomes arrive through
	// Results as task notifications are processed.
	Compile(ctx context.Context, targets []protocol.BuildTargetIdentifier, originID string) (*protocol.CompileResult, error)
	// CancelCompile propagates a cancellation notification for an in-flight
	// compile. Already-published outcomes are never retracted.
	CancelCompile(ctx context.Context, originID string) error
	Shutdown(ctx context.Context) error
	Exit(ctx context.Context) error

	// Results exposes the compile-result cache fed by this session.
	Results() resultcache.Cache
	// Done closes when the underlying connection is gone.
	Done() <-chan struct{}
	Close() error
}

type session struct {
	conn   jsonrpc2.Conn
	cache  resultcache.Cache
	sink   Sink
	logger *zap.SugaredLogger
	stats  tally.Scope
	clock  clock.Clock

	idleTimeout time.Duration
	// Unix nanos of the last inbound frame, updated by the I/O goroutine.
	lastActivity atomic.Int64

	mu      sync.Mutex
	state   sessionState
	waiters []chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
	userClose atomic.Bool
}

// Option customizes a Session.
type Option func(*session)

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *session) { s.logger = logger }
}

// WithSink registers a sink for log, show-message and diagnostic notifications.
func WithSink(sink Sink) Option {
	return func(s *session) { s.sink = sink }
}

// WithStats overrides the default noop metrics scope.
func WithStats(stats tally.Scope) Option {
	return func(s *session) { s.stats = stats }
}

// WithIdleTimeout fails the session when no inbound traffic is seen for the
// given window. Zero disables the watchdog.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(s *session) { s.idleTimeout = timeout }
}

// WithClock overrides the real clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(s *session) { s.clock = c }
}

// New wraps a dialed stream in a Session. The caller retains ownership of the
// result cache; it outlives the session so outcomes stay awaitable after a
// disconnect.
func New(stream io.ReadWriteCloser, cache resultcache.Cache, opts ...Option) Session {
	s := &session{
		cache:  cache,
		logger: zap.NewNop().Sugar(),
		stats:  tally.NoopScope,
		clock:  clock.New(),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.conn = jsonrpc2.NewConn(jsonrpc2.NewStream(stream))
	s.lastActivity.Store(s.clock.Now().UnixNano())
	s.conn.Go(context.Background(), s.handle)

	go s.monitor()
	if s.idleTimeout > 0 {
		go s.watchdog()
	}
	return s
}

// monitor fails all pending awaits when the connection ends for any reason
// other than a caller-initiated close.
func (s *session) monitor() {
	<-s.conn.Done()
	s.closeOnce.Do(func() { close(s.closed) })

	s.mu.Lock()
	wasShutdown := s.state == stateShuttingDown || s.state == stateClosed
	s.state = stateClosed
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}

	if !s.userClose.Load() && !wasShutdown {
		err := s.conn.Err()
		if err == nil {
			err = errors.New("connection closed")
		}
		s.logger.Warnw("session connection lost", "error", err)
		s.cache.FailAll(err)
	}
}

// watchdog enforces the global idle timeout: a connection with no inbound
// traffic for the configured window is treated as lost.
func (s *session) watchdog() {
	for {
		select {
		case <-s.closed:
			return
		case <-s.clock.After(s.idleTimeout / 4):
		}

		idle := s.clock.Now().UnixNano() - s.lastActivity.Load()
		if time.Duration(idle) < s.idleTimeout {
			continue
		}

		s.logger.Warnw("session idle timeout exceeded", "idle", time.Duration(idle))
		s.stats.Counter("idle_timeouts").Inc(1)
		s.cache.FailAll(errors.New("connection idle timeout"))
		s.conn.Close()
		return
	}
}

// handle dispatches inbound frames on the connection's I/O goroutine.
// Expensive work (analysis decoding) is handed to the result cache's worker
// pool so notification delivery is never blocked.
func (s *session) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	s.lastActivity.Store(s.clock.Now().UnixNano())

	switch req.Method() {
	case protocol.MethodBuildTaskStart:
		s.onTaskStart(req)
	case protocol.MethodBuildTaskProgress:
		// Progress frames refresh the idle watchdog but carry no cache state.
	case protocol.MethodBuildTaskFinish:
		s.onTaskFinish(req)
	case protocol.MethodBuildLogMessage:
		if params, err := decodeNotification[protocol.LogMessageParams](req); err == nil && s.sink != nil {
			s.sink.LogMessage(params)
		}
	case protocol.MethodBuildShowMessage:
		if params, err := decodeNotification[protocol.ShowMessageParams](req); err == nil && s.sink != nil {
			s.sink.ShowMessage(params)
		}
	case protocol.MethodBuildPublishDiagnostics:
		if params, err := decodeNotification[protocol.PublishDiagnosticsParams](req); err == nil && s.sink != nil {
			s.sink.PublishDiagnostics(params)
		}
	default:
		// Unrecognized notification kinds are intentionally ignored.
		s.logger.Debugw("ignoring notification", "method", req.Method())
	}

	return reply(ctx, nil, nil)
}

func (s *session) onTaskStart(req jsonrpc2.Request) {
	params, err := decodeNotification[protocol.TaskStartParams](req)
	if err != nil {
		s.logger.Warnw("malformed taskStart", "error", err)
		return
	}
	if params.DataKind != protocol.DataKindCompileTask {
		return
	}
	task, err := mapper.TaskDataToCompileTask(params.Data)
	if err != nil {
		s.logger.Warnw("malformed compile-task data", "error", err)
		return
	}
	s.cache.Start(task.OriginID, task.Target)
}

func (s *session) onTaskFinish(req jsonrpc2.Request) {
	params, err := decodeNotification[protocol.TaskFinishParams](req)
	if err != nil {
		s.logger.Warnw("malformed taskFinish", "error", err)
		return
	}
	if params.DataKind != protocol.DataKindCompileReport {
		return
	}
	report, err := mapper.TaskDataToCompileReport(params.Data)
	if err != nil {
		s.logger.Warnw("malformed compile-report data", "error", err)
		return
	}
	if err := s.cache.Finish(report.OriginID, report.Target, params.Status, report); err != nil {
		s.logger.Warnw("dropping compile report", "error", err)
	}
}

func decodeNotification[T any](req jsonrpc2.Request) (*T, error) {
	var params T
	if err := mapper.UnmarshalParams(req, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
