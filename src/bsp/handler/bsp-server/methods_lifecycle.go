package bspserver

import (
	"context"

	"github.com/uber/bsp-go/src/bsp/mapper"
	"go.lsp.dev/jsonrpc2"
)

// Initialize extracts protocol.InitializeBuildParams from the request and calls handshake logic for a new client connection.
func (r *jsonRPCRouter) Initialize(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToInitializeBuildParams(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.bspserver.Initialize(ctx, params)
	if err != nil {
		return reply(ctx, nil, err)
	}

	return reply(ctx, result, nil)
}

// Initialized is sent after the client received the result of the initialize request but before any other request.
func (r *jsonRPCRouter) Initialized(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	err := r.bspserver.Initialized(ctx)
	return reply(ctx, nil, err)
}

// Shutdown asks the server to end this session, but not to exit the process.
func (r *jsonRPCRouter) Shutdown(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	err := r.bspserver.Shutdown(ctx)
	return reply(ctx, nil, err)
}

// Exit ends the session's connection following a Shutdown request.
func (r *jsonRPCRouter) Exit(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	// Reply first to ensure that a reply is sent before the controller tears the session down.
	reply(ctx, nil, nil)
	err := r.bspserver.Exit(ctx)
	return err
}
