// Package targets maintains the in-memory build-target graph that request
// handlers consult. The graph is loaded from the workspace definition file and
// replaced wholesale on reload.
package targets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	tally "github.com/uber-go/tally/v4"
	"github.com/uber/bsp-go/src/bsp/internal/errors"
	"github.com/uber/bsp-go/src/bsp/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKeyDefinition = "workspace.definition"
	_configKeyWatch      = "workspace.watch"

	_reloadDebounce = 200 * time.Millisecond
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Repository serves read-only queries against the current target graph.
type Repository interface {
	List(ctx context.Context) []protocol.BuildTarget
	Get(ctx context.Context, id protocol.BuildTargetIdentifier) (*protocol.BuildTarget, error)
	CompilerOptions(ctx context.Context, id protocol.BuildTargetIdentifier) (*protocol.CompilerOptionsItem, error)
	Sources(ctx context.Context, id protocol.BuildTargetIdentifier) (*protocol.SourcesItem, error)
	DependencySources(ctx context.Context, id protocol.BuildTargetIdentifier) ([]uri.URI, error)
	// CompileOrder expands the requested targets into a deduplicated list in
	// dependency order, so dependencies always compile before dependents.
	CompileOrder(ctx context.Context, ids []protocol.BuildTargetIdentifier) ([]protocol.BuildTargetIdentifier, error)
	// Reload re-reads the workspace definition and atomically swaps the graph.
	Reload(ctx context.Context) error
	// WorkspaceRoot is the directory containing the workspace definition.
	WorkspaceRoot() string
}

// Params define values to be used by the targets repository.
type Params struct {
	fx.In

	Config    config.Provider
	Lifecycle fx.Lifecycle
	Logger    *zap.SugaredLogger
	Stats     tally.Scope
}

type repository struct {
	definitionPath string
	watch          bool
	logger         *zap.SugaredLogger
	stats          tally.Scope

	mu      sync.RWMutex
	current *graph

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates the repository and hooks graph loading into the fx lifecycle.
func New(p Params) (Repository, error) {
	r := &repository{
		logger:  p.Logger,
		stats:   p.Stats.SubScope("target_graph"),
		current: emptyGraph(),
		done:    make(chan struct{}),
	}

	if err := p.Config.Get(_configKeyDefinition).Populate(&r.definitionPath); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyDefinition, err)
	}
	if r.definitionPath == "" {
		return nil, fmt.Errorf("missing field %q in config", _configKeyDefinition)
	}
	if err := p.Config.Get(_configKeyWatch).Populate(&r.watch); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyWatch, err)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: r.onStart,
		OnStop:  r.onStop,
	})

	return r, nil
}

func (r *repository) onStart(ctx context.Context) error {
	if err := r.Reload(ctx); err != nil {
		return err
	}

	if !r.watch {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating workspace watcher: %w", err)
	}
	if err := watcher.Add(r.definitionPath); err != nil {
		watcher.Close()
		return fmt.Errorf("watching workspace definition: %w", err)
	}
	r.watcher = watcher

	r.wg.Add(1)
	go r.watchLoop()
	return nil
}

func (r *repository) onStop(ctx context.Context) error {
	close(r.done)
	var err error
	if r.watcher != nil {
		err = r.watcher.Close()
	}
	r.wg.Wait()
	return err
}

// watchLoop reloads the graph when the definition file changes. Editor saves
// produce bursts of events, so reloads are debounced.
func (r *repository) watchLoop() {
	defer r.wg.Done()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(_reloadDebounce)
				debounceC = debounce.C
			} else {
				debounce.Reset(_reloadDebounce)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warnw("workspace watcher error", "error", err)
		case <-debounceC:
			debounce = nil
			debounceC = nil
			if err := r.Reload(context.Background()); err != nil {
				r.logger.Errorw("reloading target graph", "error", err)
			}
		}
	}
}

// Reload re-reads the definition. An unresolvable definition (including a
// cyclic one) installs an empty graph: listing targets must report none, not
// fail the request.
func (r *repository) Reload(ctx context.Context) error {
	def, root, err := loadDefinition(r.definitionPath)
	if err != nil {
		return err
	}

	g, err := buildGraph(def, root)
	if err != nil {
		r.logger.Warnw("workspace definition did not resolve, serving empty graph", "error", err)
		g = emptyGraph()
		g.root = root
	}

	r.mu.Lock()
	r.current = g
	r.mu.Unlock()

	r.stats.Gauge("targets").Update(float64(len(g.order)))
	r.stats.Counter("reloads").Inc(1)
	r.logger.Infow("target graph loaded", "targets", len(g.order))
	return nil
}

func (r *repository) snapshot() *graph {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// WorkspaceRoot is the directory containing the workspace definition.
func (r *repository) WorkspaceRoot() string {
	return r.snapshot().root
}

// List returns every target in the current graph; empty when unresolved.
func (r *repository) List(ctx context.Context) []protocol.BuildTarget {
	g := r.snapshot()
	out := make([]protocol.BuildTarget, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].target)
	}
	return out
}

// Get returns one target or UnknownTargetError.
func (r *repository) Get(ctx context.Context, id protocol.BuildTargetIdentifier) (*protocol.BuildTarget, error) {
	g := r.snapshot()
	n, ok := g.nodes[id]
	if !ok {
		return nil, &errors.UnknownTargetError{Target: string(id.URI)}
	}
	target := n.target
	return &target, nil
}

// CompilerOptions assembles the compiler invocation detail for a target.
// The classpath is ordered and deduplicated: the target's own class directory
// first, then dependency class directories in dependency order, then binary
// artifacts of the transitive closure.
func (r *repository) CompilerOptions(ctx context.Context, id protocol.BuildTargetIdentifier) (*protocol.CompilerOptionsItem, error) {
	g := r.snapshot()
	n, ok := g.nodes[id]
	if !ok {
		return nil, &errors.UnknownTargetError{Target: string(id.URI)}
	}

	classDir := uri.File(g.abs(n.def.ClassDirectory))
	classpath := []uri.URI{classDir}
	seen := map[uri.URI]bool{classDir: true}

	closure := g.closure(id)
	for _, dep := range closure {
		depDir := uri.File(g.abs(dep.def.ClassDirectory))
		if !seen[depDir] {
			seen[depDir] = true
			classpath = append(classpath, depDir)
		}
	}
	for _, dep := range append(closure, n) {
		for _, artifact := range dep.def.Artifacts {
			if artifact.Classifier == _classifierSources {
				continue
			}
			loc := uri.File(g.abs(artifact.Location))
			if !seen[loc] {
				seen[loc] = true
				classpath = append(classpath, loc)
			}
		}
	}

	options := n.def.Options
	if options == nil {
		options = []string{}
	}

	return &protocol.CompilerOptionsItem{
		Target:         id,
		Options:        options,
		Classpath:      classpath,
		ClassDirectory: classDir,
	}, nil
}

// Sources returns the authored and generated sources of a target. Authored
// sources are always present; the generated subset is empty when the target
// declares no generation step.
func (r *repository) Sources(ctx context.Context, id protocol.BuildTargetIdentifier) (*protocol.SourcesItem, error) {
	g := r.snapshot()
	n, ok := g.nodes[id]
	if !ok {
		return nil, &errors.UnknownTargetError{Target: string(id.URI)}
	}

	sources := make([]protocol.SourceItem, 0, len(n.def.SourceDirs)+len(n.def.GeneratedSourceDirs))
	for _, dir := range n.def.SourceDirs {
		sources = append(sources, protocol.SourceItem{URI: uri.File(g.abs(dir)), Generated: false})
	}
	for _, dir := range n.def.GeneratedSourceDirs {
		sources = append(sources, protocol.SourceItem{URI: uri.File(g.abs(dir)), Generated: true})
	}

	return &protocol.SourcesItem{Target: id, Sources: sources}, nil
}

// CompileOrder expands the requested targets into a deduplicated list in
// dependency order. Unknown targets fail the whole expansion.
func (r *repository) CompileOrder(ctx context.Context, ids []protocol.BuildTargetIdentifier) ([]protocol.BuildTargetIdentifier, error) {
	g := r.snapshot()

	seen := map[protocol.BuildTargetIdentifier]bool{}
	out := make([]protocol.BuildTargetIdentifier, 0, len(ids))
	for _, id := range ids {
		if _, ok := g.nodes[id]; !ok {
			return nil, &errors.UnknownTargetError{Target: string(id.URI)}
		}
		for _, dep := range g.closure(id) {
			if !seen[dep.target.ID] {
				seen[dep.target.ID] = true
				out = append(out, dep.target.ID)
			}
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

// DependencySources returns the deduplicated sources-classified artifact
// locations of the target's transitive dependencies. Artifacts without the
// sources classifier are excluded.
func (r *repository) DependencySources(ctx context.Context, id protocol.BuildTargetIdentifier) ([]uri.URI, error) {
	g := r.snapshot()
	n, ok := g.nodes[id]
	if !ok {
		return nil, &errors.UnknownTargetError{Target: string(id.URI)}
	}

	seen := map[uri.URI]bool{}
	out := []uri.URI{}
	for _, dep := range append(g.closure(id), n) {
		for _, artifact := range dep.def.Artifacts {
			if artifact.Classifier != _classifierSources {
				continue
			}
			loc := uri.File(g.abs(artifact.Location))
			if !seen[loc] {
				seen[loc] = true
				out = append(out, loc)
			}
		}
	}
	return out, nil
}
