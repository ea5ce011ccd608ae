package bspserver

import (
	"context"

	"github.com/uber/bsp-go/src/bsp/mapper"
	"go.lsp.dev/jsonrpc2"
)

// WorkspaceBuildTargets lists every target in the current workspace graph.
func (r *jsonRPCRouter) WorkspaceBuildTargets(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	result, err := r.bspserver.WorkspaceBuildTargets(ctx)
	if err != nil {
		return reply(ctx, nil, err)
	}
	return reply(ctx, result, nil)
}

// Sources extracts protocol.SourcesParams from the request and resolves each target's sources.
func (r *jsonRPCRouter) Sources(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToSourcesParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.bspserver.Sources(ctx, params)
	if err != nil {
		return reply(ctx, nil, err)
	}
	return reply(ctx, result, nil)
}

// DependencySources resolves sources artifacts of each target's resolved dependencies.
func (r *jsonRPCRouter) DependencySources(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToDependencySourcesParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.bspserver.DependencySources(ctx, params)
	if err != nil {
		return reply(ctx, nil, err)
	}
	return reply(ctx, result, nil)
}

// CompilerOptions resolves the compiler invocation detail of each requested target.
func (r *jsonRPCRouter) CompilerOptions(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToCompilerOptionsParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.bspserver.CompilerOptions(ctx, params)
	if err != nil {
		return reply(ctx, nil, err)
	}
	return reply(ctx, result, nil)
}
