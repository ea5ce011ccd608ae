// Package bspserver implements the bsp-server business logic.
package bspserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	tally "github.com/uber-go/tally/v4"
	buildclient "github.com/uber/bsp-go/src/bsp/gateway/build-client"
	"github.com/uber/bsp-go/src/bsp/protocol"
	"github.com/uber/bsp-go/src/bsp/repository/session"
	"github.com/uber/bsp-go/src/bsp/repository/targets"

	"github.com/gofrs/uuid"
	"github.com/uber/bsp-go/src/bsp/engine"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// Configuration keys
	_idleTimeoutMinutesKey = "idleTimeoutMinutes"
	_protocolVersionKey    = "protocolVersion"

	// Server identity reported during the handshake.
	_serverName = "Uber Build Server"

	// JSON-RPC error code for requests arriving before build/initialize.
	_codeServerNotInitialized jsonrpc2.Code = -32002
)

// Controller orchestrates the business logic for each request.
type Controller interface {
	// Protocol methods, one per wire request.
	Initialize(ctx context.Context, params *protocol.InitializeBuildParams) (*protocol.InitializeBuildResult, error)
	Initialized(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Exit(ctx context.Context) error

	WorkspaceBuildTargets(ctx context.Context) (*protocol.WorkspaceBuildTargetsResult, error)
	Sources(ctx context.Context, params *protocol.SourcesParams) (*protocol.SourcesResult, error)
	DependencySources(ctx context.Context, params *protocol.DependencySourcesParams) (*protocol.DependencySourcesResult, error)
	CompilerOptions(ctx context.Context, params *protocol.CompilerOptionsParams) (*protocol.CompilerOptionsResult, error)
	Compile(ctx context.Context, params *protocol.CompileParams) (*protocol.CompileResult, error)
	CancelRequest(ctx context.Context, params *protocol.CancelRequestParams) error

	// Custom methods for use within this service.
	InitSession(ctx context.Context, conn *jsonrpc2.Conn) (uuid.UUID, error)
	EndSession(ctx context.Context, uuid uuid.UUID) error
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Shutdowner fx.Shutdowner
	Sessions   session.Repository
	Clients    buildclient.Gateway
	Targets    targets.Repository
	Engine     engine.Engine
	Logger     *zap.SugaredLogger
	Config     config.Provider
	Stats      tally.Scope
}

type controller struct {
	sessions           session.Repository
	shutdowner         fx.Shutdowner
	clients            buildclient.Gateway
	targets            targets.Repository
	engine             engine.Engine
	logger             *zap.SugaredLogger
	stats              tally.Scope
	protocolVersion    string
	idleTimer          *time.Timer
	idleTimerMu        sync.Mutex
	idleTimeoutMinutes time.Duration

	// In-flight compile invocations by originId, for $/cancelRequest.
	compilesMu sync.Mutex
	compiles   map[string]*compileHandle
	wg         sync.WaitGroup
}

// compileHandle identifies one live compile invocation. Pointer identity
// distinguishes an invocation from a later one reusing the same originId.
type compileHandle struct {
	cancel context.CancelFunc
}

// New constructs a new top-level controller for the service.
func New(p Params) (Controller, error) {
	ctx := context.Background()

	var timeoutMinutesRaw int64
	if err := p.Config.Get(_idleTimeoutMinutesKey).Populate(&timeoutMinutesRaw); err != nil || timeoutMinutesRaw == 0 {
		return nil, fmt.Errorf("unable to get idle timeout from config: %w", err)
	}
	var protocolVersion string
	if err := p.Config.Get(_protocolVersionKey).Populate(&protocolVersion); err != nil || protocolVersion == "" {
		return nil, fmt.Errorf("unable to get protocol version from config: %w", err)
	}

	c := &controller{
		sessions:   p.Sessions,
		shutdowner: p.Shutdowner,
		clients:    p.Clients,
		targets:    p.Targets,
		engine:     p.Engine,
		logger:     p.Logger,
		stats:      p.Stats.SubScope("bsp_server"),

		protocolVersion:    protocolVersion,
		idleTimeoutMinutes: time.Duration(timeoutMinutesRaw) * time.Minute,
		compiles:           map[string]*compileHandle{},
	}
	c.refreshIdleTimer(ctx)

	return c, nil
}
