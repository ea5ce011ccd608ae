package notifier

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber/bsp-go/src/bsp/entity"
	"github.com/uber/bsp-go/src/bsp/factory"
	"github.com/uber/bsp-go/src/bsp/mapper"
	"github.com/uber/bsp-go/src/bsp/protocol"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

// clientRecorder collects notifications arriving on the client end of a piped
// connection.
type clientRecorder struct {
	mu       sync.Mutex
	received map[string]int
}

func (r *clientRecorder) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	r.mu.Lock()
	r.received[req.Method()]++
	r.mu.Unlock()
	return reply(ctx, nil, nil)
}

func (r *clientRecorder) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received[method]
}

func newRegisteredClient(t *testing.T, g Gateway) (context.Context, *clientRecorder) {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	serverConn := jsonrpc2.NewConn(jsonrpc2.NewStream(serverSide))
	serverConn.Go(context.Background(), jsonrpc2.MethodNotFoundHandler)

	recorder := &clientRecorder{received: map[string]int{}}
	clientConn := jsonrpc2.NewConn(jsonrpc2.NewStream(clientSide))
	clientConn.Go(context.Background(), recorder.handle)

	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})

	id := factory.UUID()
	require.NoError(t, g.RegisterClient(context.Background(), id, &serverConn))

	ctx := context.WithValue(context.Background(), entity.SessionContextKey, id)
	return ctx, recorder
}

func TestNotificationsRouteToRegisteredClient(t *testing.T) {
	g := New(zap.NewNop().Sugar())
	ctx, recorder := newRegisteredClient(t, g)

	taskData, err := mapper.MarshalTaskData(&protocol.CompileTask{
		Target:   factory.BuildTargetID("/w", "core"),
		OriginID: "origin-1",
	})
	require.NoError(t, err)

	require.NoError(t, g.TaskStart(ctx, &protocol.TaskStartParams{
		TaskID:   protocol.TaskID{ID: "task-1"},
		DataKind: protocol.DataKindCompileTask,
		Data:     taskData,
	}))
	require.NoError(t, g.TaskProgress(ctx, &protocol.TaskProgressParams{
		TaskID:   protocol.TaskID{ID: "task-1"},
		Progress: 1,
		Total:    2,
	}))
	require.NoError(t, g.TaskFinish(ctx, &protocol.TaskFinishParams{
		TaskID: protocol.TaskID{ID: "task-1"},
		Status: protocol.StatusOk,
	}))
	require.NoError(t, g.LogMessage(ctx, &protocol.LogMessageParams{
		Type:    protocol.MessageInfo,
		Message: "compiling",
	}))
	require.NoError(t, g.ShowMessage(ctx, &protocol.ShowMessageParams{
		Type:    protocol.MessageWarning,
		Message: "low disk space",
	}))
	require.NoError(t, g.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///w/Main.scala"},
		BuildTarget:  factory.BuildTargetID("/w", "core"),
		Reset:        true,
	}))

	for _, method := range []string{
		protocol.MethodBuildTaskStart,
		protocol.MethodBuildTaskProgress,
		protocol.MethodBuildTaskFinish,
		protocol.MethodBuildLogMessage,
		protocol.MethodBuildShowMessage,
		protocol.MethodBuildPublishDiagnostics,
	} {
		method := method
		require.Eventually(t, func() bool {
			return recorder.count(method) == 1
		}, 3*time.Second, 5*time.Millisecond, "missing %s", method)
	}
}

func TestNotifyWithoutSessionContext(t *testing.T) {
	g := New(zap.NewNop().Sugar())

	err := g.TaskStart(context.Background(), &protocol.TaskStartParams{})
	assert.Error(t, err)
}

func TestNotifyUnknownSession(t *testing.T) {
	g := New(zap.NewNop().Sugar())

	ctx := context.WithValue(context.Background(), entity.SessionContextKey, factory.UUID())
	err := g.LogMessage(ctx, &protocol.LogMessageParams{Message: "lost"})
	assert.Error(t, err)
}

func TestDeregisterStopsRouting(t *testing.T) {
	g := New(zap.NewNop().Sugar())
	ctx, _ := newRegisteredClient(t, g)

	id, err := mapper.ContextToSessionUUID(ctx)
	require.NoError(t, err)
	require.NoError(t, g.DeregisterClient(context.Background(), id))

	assert.Error(t, g.LogMessage(ctx, &protocol.LogMessageParams{Message: "gone"}))
}
