package bspserver

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/uber/bsp-go/src/bsp/entity"
	"github.com/uber/bsp-go/src/bsp/internal/errors"
	"github.com/uber/bsp-go/src/bsp/mapper"
	"github.com/uber/bsp-go/src/bsp/protocol"
	"go.lsp.dev/jsonrpc2"
)

// Initialize performs the handshake for a new connection. The session stays
// unusable for other requests until the initialized notification follows.
func (c *controller) Initialize(ctx context.Context, params *protocol.InitializeBuildParams) (*protocol.InitializeBuildResult, error) {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting session from context: %w", err)
	}

	if s.State != entity.SessionUninitialized {
		return nil, jsonrpc2.Errorf(jsonrpc2.InvalidRequest, "session already initialized")
	}

	if !compatibleVersions(params.BspVersion, c.protocolVersion) {
		// Spawning launchers scan stderr for this line.
		fmt.Fprintf(os.Stderr, "incompatible protocol version: client %s, server %s\n", params.BspVersion, c.protocolVersion)
		return nil, &errors.ProtocolError{
			Kind: errors.ProtocolVersionIncompatible,
			Err:  fmt.Errorf("client %s vs server %s", params.BspVersion, c.protocolVersion),
		}
	}

	s.InitializeParams = params
	s.State = entity.SessionInitializing
	if err := c.sessions.Set(ctx, s); err != nil {
		return nil, fmt.Errorf("setting updated session state: %w", err)
	}

	c.logger.Infow("session initializing",
		"uuid", s.UUID,
		"client", params.DisplayName,
		"bspVersion", params.BspVersion,
	)

	return &protocol.InitializeBuildResult{
		DisplayName: _serverName,
		Version:     "1.0.0",
		BspVersion:  c.protocolVersion,
		Capabilities: protocol.BuildServerCapabilities{
			CompileProvider:   &protocol.CompileProvider{LanguageIDs: []string{"scala", "java"}},
			DependencySources: true,
			CanReload:         true,
		},
	}, nil
}

// Initialized acknowledges the client's handshake confirmation. The session
// becomes usable for other requests only now.
func (c *controller) Initialized(ctx context.Context) error {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return fmt.Errorf("getting session from context: %w", err)
	}

	if s.State != entity.SessionInitializing {
		return jsonrpc2.Errorf(jsonrpc2.InvalidRequest, "initialized sent before initialize completed")
	}

	s.State = entity.SessionActive
	if err := c.sessions.Set(ctx, s); err != nil {
		return fmt.Errorf("setting updated session state: %w", err)
	}
	return nil
}

// Shutdown is sent just before Exit to indicate that the session will end.
// In-flight compiles for the session are cancelled.
func (c *controller) Shutdown(ctx context.Context) error {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return fmt.Errorf("getting session from context: %w", err)
	}

	s.State = entity.SessionShuttingDown
	if err := c.sessions.Set(ctx, s); err != nil {
		return fmt.Errorf("setting updated session state: %w", err)
	}

	c.cancelAllCompiles()
	return nil
}

// Exit ends the session following a Shutdown request.
func (c *controller) Exit(ctx context.Context) error {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return fmt.Errorf("error during session exit: %w", err)
	}

	return c.EndSession(ctx, s.UUID)
}

// InitSession creates a new empty session and returns its UUID.
func (c *controller) InitSession(ctx context.Context, conn *jsonrpc2.Conn) (uuid.UUID, error) {
	defer c.refreshIdleTimer(ctx)

	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}

	session := mapper.UUIDToSession(id, conn)
	if err := c.clients.RegisterClient(ctx, id, conn); err != nil {
		return uuid.Nil, err
	}

	if err := c.sessions.Set(ctx, session); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// EndSession includes any cleanup at the end of the session, during or after the last JSON-RPC request.
func (c *controller) EndSession(ctx context.Context, uuid uuid.UUID) error {
	defer c.refreshIdleTimer(ctx)

	if err := c.clients.DeregisterClient(ctx, uuid); err != nil {
		c.logger.Error(err)
	}

	return c.sessions.Delete(ctx, uuid)
}

// requireActive rejects requests that arrive before the handshake completes,
// with the protocol's server-not-initialized error code.
func (c *controller) requireActive(ctx context.Context) error {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return fmt.Errorf("getting session from context: %w", err)
	}
	if s.State != entity.SessionActive {
		return jsonrpc2.Errorf(_codeServerNotInitialized, "server not initialized")
	}
	return nil
}

// refreshIdleTimer ensures that the service shuts down after a defined inactivity period with no connections.
func (c *controller) refreshIdleTimer(ctx context.Context) error {
	c.idleTimerMu.Lock()
	defer c.idleTimerMu.Unlock()

	// First call initializes new timer and leaves it running prior to first connection.
	if c.idleTimer == nil {
		c.idleTimer = time.NewTimer(c.idleTimeoutMinutes)
		go func() {
			<-c.idleTimer.C
			c.logger.Info("Shutdown signal received.")
			if err := c.shutdowner.Shutdown(); err != nil {
				os.Exit(1)
			}
		}()
		return nil
	}

	// Subsequent calls stop the timer and reset it only if no connections are active.
	currentSessions, err := c.sessions.SessionCount(ctx)
	if err != nil {
		return fmt.Errorf("error resetting timeout: %w", err)
	}

	c.idleTimer.Stop()
	if currentSessions == 0 {
		c.idleTimer.Reset(c.idleTimeoutMinutes)
	}
	return nil
}

// compatibleVersions requires matching protocol major versions.
func compatibleVersions(client, server string) bool {
	if client == "" || server == "" {
		return true
	}
	return majorVersion(client) == majorVersion(server)
}

func majorVersion(v string) string {
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}
