package bspserver

import (
	"context"
	"fmt"

	"github.com/uber/bsp-go/src/bsp/protocol"
)

// WorkspaceBuildTargets lists every target in the current graph. An empty
// workspace yields an empty list, not an error.
func (c *controller) WorkspaceBuildTargets(ctx context.Context) (*protocol.WorkspaceBuildTargetsResult, error) {
	if err := c.requireActive(ctx); err != nil {
		return nil, err
	}

	return &protocol.WorkspaceBuildTargetsResult{
		Targets: c.targets.List(ctx),
	}, nil
}

// Sources answers buildTarget/sources for each requested target.
func (c *controller) Sources(ctx context.Context, params *protocol.SourcesParams) (*protocol.SourcesResult, error) {
	if err := c.requireActive(ctx); err != nil {
		return nil, err
	}

	items := make([]protocol.SourcesItem, 0, len(params.Targets))
	for _, id := range params.Targets {
		item, err := c.targets.Sources(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolving sources: %w", err)
		}
		items = append(items, *item)
	}
	return &protocol.SourcesResult{Items: items}, nil
}

// DependencySources answers buildTarget/dependencySources for each requested target.
func (c *controller) DependencySources(ctx context.Context, params *protocol.DependencySourcesParams) (*protocol.DependencySourcesResult, error) {
	if err := c.requireActive(ctx); err != nil {
		return nil, err
	}

	items := make([]protocol.DependencySourcesItem, 0, len(params.Targets))
	for _, id := range params.Targets {
		sources, err := c.targets.DependencySources(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolving dependency sources: %w", err)
		}
		items = append(items, protocol.DependencySourcesItem{Target: id, Sources: sources})
	}
	return &protocol.DependencySourcesResult{Items: items}, nil
}

// CompilerOptions answers buildTarget/compilerOptions for each requested target.
func (c *controller) CompilerOptions(ctx context.Context, params *protocol.CompilerOptionsParams) (*protocol.CompilerOptionsResult, error) {
	if err := c.requireActive(ctx); err != nil {
		return nil, err
	}

	items := make([]protocol.CompilerOptionsItem, 0, len(params.Targets))
	for _, id := range params.Targets {
		item, err := c.targets.CompilerOptions(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolving compiler options: %w", err)
		}
		items = append(items, *item)
	}
	return &protocol.CompilerOptionsResult{Items: items}, nil
}
