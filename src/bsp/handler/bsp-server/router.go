package bspserver

import (
	"context"

	"github.com/gofrs/uuid"
	tally "github.com/uber-go/tally/v4"
	controller "github.com/uber/bsp-go/src/bsp/controller/bsp-server"
	"github.com/uber/bsp-go/src/bsp/entity"
	"github.com/uber/bsp-go/src/bsp/protocol"
	"go.lsp.dev/jsonrpc2"
)

type jsonRPCRouter struct {
	bspserver controller.Controller
	uuid      uuid.UUID
	stats     tally.Scope
}

// HandleReq handles routing for a single request.
func (r *jsonRPCRouter) HandleReq(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	ctx = context.WithValue(ctx, entity.SessionContextKey, r.uuid)

	// Routing to each of the protocol's methods occurs here. Results are
	// passed back to reply to be returned to the client.
	switch req.Method() {
	// Lifecycle related methods.
	case protocol.MethodBuildInitialize:
		return r.Initialize(ctx, reply, req)

	case protocol.MethodBuildInitialized:
		return r.Initialized(ctx, reply, req)

	case protocol.MethodBuildShutdown:
		return r.Shutdown(ctx, reply, req)

	case protocol.MethodBuildExit:
		return r.Exit(ctx, reply, req)

	// Target related methods.
	case protocol.MethodWorkspaceBuildTargets:
		return r.WorkspaceBuildTargets(ctx, reply, req)

	case protocol.MethodBuildTargetSources:
		return r.Sources(ctx, reply, req)

	case protocol.MethodBuildTargetDependencySources:
		return r.DependencySources(ctx, reply, req)

	case protocol.MethodBuildTargetCompilerOptions:
		return r.CompilerOptions(ctx, reply, req)

	// Compile related methods.
	case protocol.MethodBuildTargetCompile:
		return r.Compile(ctx, reply, req)

	case protocol.MethodCancelRequest:
		return r.CancelRequest(ctx, reply, req)

	default:
		return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
	}
}

func (r *jsonRPCRouter) UUID() uuid.UUID {
	return r.uuid
}
