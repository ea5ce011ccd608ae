// Package notifier sends outbound notifications to connected build clients.
package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/uber/bsp-go/src/bsp/mapper"
	"github.com/uber/bsp-go/src/bsp/protocol"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

const _errSendToClient = "sending notification to build client: %w"

// Gateway is used to send outbound notifications to the build client.
// All calls should include a context carrying a session UUID, which routes
// the notification to the correct client connection.
type Gateway interface {
	// RegisterClient registers a new client connection. Called once per new connection.
	RegisterClient(ctx context.Context, id uuid.UUID, conn *jsonrpc2.Conn) error
	// DeregisterClient removes a client connection. Called when a connection closes.
	DeregisterClient(ctx context.Context, id uuid.UUID) error

	TaskStart(ctx context.Context, params *protocol.TaskStartParams) error
	TaskProgress(ctx context.Context, params *protocol.TaskProgressParams) error
	TaskFinish(ctx context.Context, params *protocol.TaskFinishParams) error
	LogMessage(ctx context.Context, params *protocol.LogMessageParams) error
	ShowMessage(ctx context.Context, params *protocol.ShowMessageParams) error
	PublishDiagnostics(ctx context.Context, params *protocol.PublishDiagnosticsParams) error
}

type gateway struct {
	connections map[uuid.UUID]jsonrpc2.Conn
	mu          sync.Mutex
	logger      *zap.SugaredLogger
}

// New returns a Gateway for sending build client notifications.
func New(logger *zap.SugaredLogger) Gateway {
	return &gateway{
		connections: make(map[uuid.UUID]jsonrpc2.Conn),
		logger:      logger,
	}
}

func (g *gateway) RegisterClient(ctx context.Context, id uuid.UUID, conn *jsonrpc2.Conn) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.connections[id] = *conn
	return nil
}

func (g *gateway) DeregisterClient(ctx context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.connections, id)
	return nil
}

func (g *gateway) TaskStart(ctx context.Context, params *protocol.TaskStartParams) error {
	return g.notify(ctx, protocol.MethodBuildTaskStart, params)
}

func (g *gateway) TaskProgress(ctx context.Context, params *protocol.TaskProgressParams) error {
	return g.notify(ctx, protocol.MethodBuildTaskProgress, params)
}

func (g *gateway) TaskFinish(ctx context.Context, params *protocol.TaskFinishParams) error {
	return g.notify(ctx, protocol.MethodBuildTaskFinish, params)
}

func (g *gateway) LogMessage(ctx context.Context, params *protocol.LogMessageParams) error {
	return g.notify(ctx, protocol.MethodBuildLogMessage, params)
}

func (g *gateway) ShowMessage(ctx context.Context, params *protocol.ShowMessageParams) error {
	return g.notify(ctx, protocol.MethodBuildShowMessage, params)
}

func (g *gateway) PublishDiagnostics(ctx context.Context, params *protocol.PublishDiagnosticsParams) error {
	return g.notify(ctx, protocol.MethodBuildPublishDiagnostics, params)
}

func (g *gateway) notify(ctx context.Context, method string, params interface{}) error {
	conn, err := g.getConnection(ctx)
	if err != nil {
		return fmt.Errorf(_errSendToClient, err)
	}
	if err := conn.Notify(ctx, method, params); err != nil {
		return fmt.Errorf(_errSendToClient, err)
	}
	return nil
}

func (g *gateway) getConnection(ctx context.Context) (jsonrpc2.Conn, error) {
	id, err := mapper.ContextToSessionUUID(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	conn, ok := g.connections[id]
	if !ok {
		return nil, fmt.Errorf("no registered connection for session %s", id)
	}
	return conn, nil
}
