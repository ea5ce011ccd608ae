package bspserver

import (
	"context"

	"github.com/uber/bsp-go/src/bsp/mapper"
	"go.lsp.dev/jsonrpc2"
)

// Compile extracts protocol.CompileParams from the request and acknowledges a
// new compile invocation. Per-target outcomes stream back as notifications.
func (r *jsonRPCRouter) Compile(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToCompileParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.bspserver.Compile(ctx, params)
	if err != nil {
		return reply(ctx, nil, err)
	}
	return reply(ctx, result, nil)
}

// CancelRequest asks the server to stop the in-flight compile named by the id.
func (r *jsonRPCRouter) CancelRequest(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToCancelRequestParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	err = r.bspserver.CancelRequest(ctx, params)
	return reply(ctx, nil, err)
}
