package client

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/uber/bsp-go/src/bsp/internal/errors"
	"github.com/uber/bsp-go/src/bsp/internal/resultcache"
	"github.com/uber/bsp-go/src/bsp/protocol"
)

// Initialize performs the protocol handshake. It must complete before any
// other request is sent; concurrent requests issued earlier are queued and
// released in arrival order once the session is active.
func (s *session) Initialize(ctx context.Context, params *protocol.InitializeBuildParams) (*protocol.InitializeBuildResult, error) {
	s.mu.Lock()
	if s.state != stateUninitialized {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("initialize called in state %d", state)
	}
	s.state = stateInitializing
	s.mu.Unlock()

	var result protocol.InitializeBuildResult
	if _, err := s.conn.Call(ctx, protocol.MethodBuildInitialize, params, &result); err != nil {
		s.failInitialize()
		return nil, &errors.ProtocolError{Kind: errors.ProtocolMalformedHandshake, Err: err}
	}

	if !compatibleVersions(params.BspVersion, result.BspVersion) {
		s.failInitialize()
		return nil, &errors.ProtocolError{
			Kind: errors.ProtocolVersionIncompatible,
			Err:  fmt.Errorf("client %s vs server %s", params.BspVersion, result.BspVersion),
		}
	}

	if err := s.conn.Notify(ctx, protocol.MethodBuildInitialized, struct{}{}); err != nil {
		s.failInitialize()
		return nil, &errors.ProtocolError{Kind: errors.ProtocolMalformedHandshake, Err: err}
	}

	s.activate()
	return &result, nil
}

// ListBuildTargets returns every target in the server's current graph.
// An empty list is a valid answer, not an error.
func (s *session) ListBuildTargets(ctx context.Context) ([]protocol.BuildTarget, error) {
	if err := s.waitActive(ctx); err != nil {
		return nil, err
	}
	var result protocol.WorkspaceBuildTargetsResult
	if _, err := s.conn.Call(ctx, protocol.MethodWorkspaceBuildTargets, struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Targets, nil
}

// CompilerOptions fetches compiler invocation detail for the given targets.
func (s *session) CompilerOptions(ctx context.Context, targets []protocol.BuildTargetIdentifier) (*protocol.CompilerOptionsResult, error) {
	if err := s.waitActive(ctx); err != nil {
		return nil, err
	}
	var result protocol.CompilerOptionsResult
	params := protocol.CompilerOptionsParams{Targets: targets}
	if _, err := s.conn.Call(ctx, protocol.MethodBuildTargetCompilerOptions, &params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Sources fetches the source items of the given targets.
func (s *session) Sources(ctx context.Context, targets []protocol.BuildTargetIdentifier) (*protocol.SourcesResult, error) {
	if err := s.waitActive(ctx); err != nil {
		return nil, err
	}
	var result protocol.SourcesResult
	params := protocol.SourcesParams{Targets: targets}
	if _, err := s.conn.Call(ctx, protocol.MethodBuildTargetSources, &params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DependencySources fetches sources artifacts of resolved dependencies.
func (s *session) DependencySources(ctx context.Context, targets []protocol.BuildTargetIdentifier) (*protocol.DependencySourcesResult, error) {
	if err := s.waitActive(ctx); err != nil {
		return nil, err
	}
	var result protocol.DependencySourcesResult
	params := protocol.DependencySourcesParams{Targets: targets}
	if _, err := s.conn.Call(ctx, protocol.MethodBuildTargetDependencySources, &params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Compile requests compilation. The returned result is only the server's
// acknowledgement; per-target outcomes stream in as task notifications and
// become awaitable through Results under the returned originId.
func (s *session) Compile(ctx context.Context, targets []protocol.BuildTargetIdentifier, originID string) (*protocol.CompileResult, error) {
	if err := s.waitActive(ctx); err != nil {
		return nil, err
	}
	if originID == "" {
		originID = uuid.Must(uuid.NewV4()).String()
	}

	var result protocol.CompileResult
	params := protocol.CompileParams{Targets: targets, OriginID: originID}
	if _, err := s.conn.Call(ctx, protocol.MethodBuildTargetCompile, &params, &result); err != nil {
		return nil, err
	}
	if result.OriginID == "" {
		result.OriginID = originID
	}
	s.stats.Counter("compiles_requested").Inc(1)
	return &result, nil
}

// CancelCompile notifies the server to stop an in-flight compile invocation.
func (s *session) CancelCompile(ctx context.Context, originID string) error {
	return s.conn.Notify(ctx, protocol.MethodCancelRequest, &protocol.CancelRequestParams{ID: originID})
}

// Shutdown tells the server the session will end. Pending awaits for never-
// finished outcomes are not affected until the connection actually closes.
func (s *session) Shutdown(ctx context.Context) error {
	if err := s.waitActive(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = stateShuttingDown
	s.mu.Unlock()

	_, err := s.conn.Call(ctx, protocol.MethodBuildShutdown, struct{}{}, nil)
	return err
}

// Exit asks the server to close this session's connection.
func (s *session) Exit(ctx context.Context) error {
	return s.conn.Notify(ctx, protocol.MethodBuildExit, struct{}{})
}

// Results exposes the compile-result cache fed by this session.
func (s *session) Results() resultcache.Cache {
	return s.cache
}

// Done closes when the underlying connection is gone.
func (s *session) Done() <-chan struct{} {
	return s.closed
}

// Close tears down the connection. Idempotent.
func (s *session) Close() error {
	s.userClose.Store(true)
	return s.conn.Close()
}

func (s *session) activate() {
	s.mu.Lock()
	s.state = stateActive
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	// Release in arrival order.
	for _, w := range waiters {
		close(w)
	}
}

func (s *session) failInitialize() {
	s.mu.Lock()
	if s.state == stateInitializing {
		s.state = stateUninitialized
	}
	s.mu.Unlock()
}

// waitActive parks the caller until initialization completes. Waiters are
// queued in arrival order; closing the session releases them with an error.
func (s *session) waitActive(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateActive:
		s.mu.Unlock()
		return nil
	case stateShuttingDown, stateClosed:
		s.mu.Unlock()
		return errors.New("session is closed")
	}

	w := make(chan struct{})
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateActive {
		return errors.New("session closed before initialization completed")
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
	for i := 0; i < len(v); i++ {
		if v[i] == '.' {
			return v[:i]
		}
	}
	return v
}
