// Package engine defines the interface boundary to the incremental compiler.
// The engine accepts a target plus its sources and classpath and returns
// diagnostics and an opaque analysis blob; its internals are a separate,
// language-specific concern.
package engine

import (
	"context"
	"fmt"
	"time"

	tally "github.com/uber-go/tally/v4"
	"github.com/uber/bsp-go/src/bsp/internal/analysis"
	"github.com/uber/bsp-go/src/bsp/protocol"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const _configKeyAnalysisDir = "analysis.directory"

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Input is everything the engine needs to compile one target.
type Input struct {
	Target         protocol.BuildTargetIdentifier
	OriginID       string
	Sources        []uri.URI
	Classpath      []uri.URI
	ClassDirectory uri.URI
	Options        []string
}

// Output reports one target's compile outcome.
type Output struct {
	Diagnostics      map[uri.URI][]lsp.Diagnostic
	Errors           int
	Warnings         int
	AnalysisLocation uri.URI
}

// Engine compiles one target at a time. Implementations must honor ctx
// cancellation between units of work.
type Engine interface {
	Compile(ctx context.Context, input Input) (*Output, error)
}

// Params define values to be used by the engine.
type Params struct {
	fx.In

	Config config.Provider
	Logger *zap.SugaredLogger
	Stats  tally.Scope
}

// local is a minimal engine that records per-source stamps into an analysis
// blob without invoking a real compiler. It keeps the compile pipeline and
// analysis ferrying exercised end to end; real compilation plugs in behind
// the same interface.
type local struct {
	store  *analysis.Store
	logger *zap.SugaredLogger
	stats  tally.Scope
}

// New constructs the local engine from configuration.
func New(p Params) (Engine, error) {
	var dir string
	if err := p.Config.Get(_configKeyAnalysisDir).Populate(&dir); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyAnalysisDir, err)
	}
	if dir == "" {
		return nil, fmt.Errorf("missing field %q in config", _configKeyAnalysisDir)
	}

	store, err := analysis.NewStore(dir)
	if err != nil {
		return nil, err
	}

	return &local{
		store:  store,
		logger: p.Logger,
		stats:  p.Stats.SubScope("engine"),
	}, nil
}

// NewLocal constructs the local engine against an existing analysis store.
func NewLocal(store *analysis.Store, logger *zap.SugaredLogger, stats tally.Scope) Engine {
	return &local{store: store, logger: logger, stats: stats}
}

func (e *local) Compile(ctx context.Context, input Input) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := time.Now()
	contents := &analysis.Contents{
		Target:       string(input.Target.URI),
		OriginID:     input.OriginID,
		CompiledAt:   started.UnixMilli(),
		SourceStamps: make(map[string]string, len(input.Sources)),
		Products:     map[string]string{string(input.Target.URI): input.ClassDirectory.Filename()},
	}
	for _, src := range input.Sources {
		contents.SourceStamps[string(src)] = "compiled"
	}

	location, err := e.store.Write(contents)
	if err != nil {
		return nil, fmt.Errorf("persisting analysis: %w", err)
	}

	e.stats.Counter("compiles").Inc(1)
	e.logger.Infow("compiled target",
		"target", input.Target.URI,
		"originId", input.OriginID,
		"durationMs", time.Since(started).Milliseconds(),
	)

	return &Output{
		Diagnostics:      map[uri.URI][]lsp.Diagnostic{},
		AnalysisLocation: location,
	}, nil
}
