// Package resultcache correlates asynchronous compile task notifications with
// compiled-artifact metadata, keyed by (originId, target). Outcomes are
// exposed as awaitable entries; decoded analysis contents live in a bounded
// cache so memory pressure can reclaim decoded-but-unclaimed payloads without
// losing the ability to re-decode them from disk.
package resultcache

import (
	"context"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	tally "github.com/uber-go/tally/v4"
	"github.com/uber/bsp-go/src/bsp/internal/analysis"
	"github.com/uber/bsp-go/src/bsp/internal/errors"
	"github.com/uber/bsp-go/src/bsp/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	_defaultDecodeWorkers = 4
	_defaultMaxBytes      = 64 << 20

	// Sized for (origin, target) keys; cost accounting is byte-based.
	_cacheCounters = 1 << 16
)

// Decoder loads analysis contents from the on-disk location in a report.
type Decoder func(location uri.URI) (*analysis.Contents, error)

// Config bounds the cache's decode concurrency and decoded-contents memory.
type Config struct {
	DecodeWorkers int   `yaml:"decodeWorkers"`
	MaxBytes      int64 `yaml:"maxBytes"`
}

// Outcome is the terminal state recorded for one (originId, target) pair.
type Outcome struct {
	Status protocol.StatusCode
	Report *protocol.CompileReport
}

// Cache accumulates per-request, per-target compile outcomes.
//
// All methods are safe for concurrent use. Entries for an originId are
// append-only while the request is live; a later Finish for the same pair
// supersedes the earlier outcome rather than silently dropping data.
type Cache interface {
	// Start records that a task-start notification was observed for the pair.
	// Starting a pair that already has a final outcome begins a fresh logical
	// request for it, superseding the prior entry.
	Start(origin string, target protocol.BuildTargetIdentifier)
	// Finish publishes the outcome for a previously started pair. A Finish
	// with no matching Start is rejected so that no finish-before-start
	// artifact is ever observable.
	Finish(origin string, target protocol.BuildTargetIdentifier, status protocol.StatusCode, report *protocol.CompileReport) error
	// Await blocks until the pair's outcome is published and its analysis is
	// decoded, the context ends, or the session fails.
	Await(ctx context.Context, origin string, target protocol.BuildTargetIdentifier) (*analysis.Contents, error)
	// Outcome returns the published outcome without waiting.
	Outcome(origin string, target protocol.BuildTargetIdentifier) (*Outcome, bool)
	// Evict removes all entries for a finished request. Decodes still in
	// flight for it complete and are then discarded.
	Evict(origin string)
	// FailAll fails every unfinished entry, used when the connection is lost.
	FailAll(err error)
	// Close releases the decoded-contents cache and waits for in-flight decodes.
	Close()
}

type entry struct {
	done      chan struct{}
	status    protocol.StatusCode
	report    *protocol.CompileReport
	failErr   error
	decodeMu  sync.Mutex
	decodeErr error
}

type cache struct {
	mu      sync.Mutex
	origins map[string]map[protocol.BuildTargetIdentifier]*entry

	decoded *ristretto.Cache[string, *analysis.Contents]
	decoder Decoder
	sem     *semaphore.Weighted
	wg      sync.WaitGroup

	logger *zap.SugaredLogger
	stats  tally.Scope
}

// New constructs a Cache with the given bounds. Zero config fields fall back
// to defaults.
func New(cfg Config, decoder Decoder, logger *zap.SugaredLogger, stats tally.Scope) (Cache, error) {
	if cfg.DecodeWorkers <= 0 {
		cfg.DecodeWorkers = _defaultDecodeWorkers
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = _defaultMaxBytes
	}

	decoded, err := ristretto.NewCache(&ristretto.Config[string, *analysis.Contents]{
		NumCounters: _cacheCounters,
		MaxCost:     cfg.MaxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &cache{
		origins: make(map[string]map[protocol.BuildTargetIdentifier]*entry),
		decoded: decoded,
		decoder: decoder,
		sem:     semaphore.NewWeighted(int64(cfg.DecodeWorkers)),
		logger:  logger,
		stats:   stats.SubScope("result_cache"),
	}, nil
}

func decodedKey(origin string, target protocol.BuildTargetIdentifier) string {
	return origin + "\x00" + string(target.URI)
}

func (c *cache) Start(origin string, target protocol.BuildTargetIdentifier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	targets, ok := c.origins[origin]
	if !ok {
		targets = make(map[protocol.BuildTargetIdentifier]*entry)
		c.origins[origin] = targets
	}

	if existing, ok := targets[target]; ok {
		select {
		case <-existing.done:
			// A finished pair started again is a fresh logical request that
			// supersedes the old outcome.
			c.decoded.Del(decodedKey(origin, target))
		default:
			// Duplicate start for an in-flight pair; keep the existing entry.
			return
		}
	}

	targets[target] = &entry{done: make(chan struct{})}
	c.stats.Counter("started").Inc(1)
}

func (c *cache) Finish(origin string, target protocol.BuildTargetIdentifier, status protocol.StatusCode, report *protocol.CompileReport) error {
	c.mu.Lock()
	e, ok := c.origins[origin][target]
	if ok {
		select {
		case <-e.done:
			// Already finished: a final outcome supersedes the prior final
			// outcome under the same entry, visible to later awaiters.
			fresh := &entry{done: make(chan struct{}), status: status, report: report}
			close(fresh.done)
			c.origins[origin][target] = fresh
			c.decoded.Del(decodedKey(origin, target))
			e = fresh
		default:
			e.status = status
			e.report = report
			close(e.done)
		}
	}
	c.mu.Unlock()

	if !ok {
		c.stats.Counter("finish_without_start").Inc(1)
		return errors.New("task finish for never-started pair " + origin + "/" + string(target.URI))
	}

	c.stats.Counter("published").Inc(1)

	// Pre-decode off the caller's goroutine so notification delivery is never
	// blocked behind an expensive deserialization.
	if status == protocol.StatusOk && report != nil && report.AnalysisLocation != "" {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if _, err := c.decode(context.Background(), origin, target, e); err != nil {
				c.logger.Warnw("analysis decode failed",
					"originId", origin, "target", target.URI, "error", err)
			}
		}()
	}
	return nil
}

// decode loads and caches the analysis for a finished entry, bounded by the
// worker semaphore. The result is dropped if the entry was evicted meanwhile.
func (c *cache) decode(ctx context.Context, origin string, target protocol.BuildTargetIdentifier, e *entry) (*analysis.Contents, error) {
	key := decodedKey(origin, target)
	if contents, ok := c.decoded.Get(key); ok {
		return contents, nil
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	e.decodeMu.Lock()
	defer e.decodeMu.Unlock()

	if contents, ok := c.decoded.Get(key); ok {
		return contents, nil
	}
	if e.decodeErr != nil {
		return nil, e.decodeErr
	}

	contents, err := c.decoder(e.report.AnalysisLocation)
	if err != nil {
		e.decodeErr = err
		c.stats.Counter("decode_failures").Inc(1)
		return nil, err
	}

	c.mu.Lock()
	current := c.origins[origin][target] == e
	c.mu.Unlock()
	if current {
		c.decoded.Set(key, contents, contents.Size())
		c.decoded.Wait()
	}
	return contents, nil
}

func (c *cache) Await(ctx context.Context, origin string, target protocol.BuildTargetIdentifier) (*analysis.Contents, error) {
	c.mu.Lock()
	e, ok := c.origins[origin][target]
	c.mu.Unlock()
	if !ok {
		return nil, &errors.CacheError{Kind: errors.CacheNotFound, Origin: origin, Target: string(target.URI)}
	}

	select {
	case <-ctx.Done():
		return nil, &errors.CacheError{Kind: errors.CacheTimeout, Origin: origin, Target: string(target.URI), Err: ctx.Err()}
	case <-e.done:
	}

	if e.failErr != nil {
		return nil, &errors.CacheError{Kind: errors.CacheConnectionLost, Origin: origin, Target: string(target.URI), Err: e.failErr}
	}

	// Failed or cancelled compiles publish an outcome with no analysis.
	if e.status != protocol.StatusOk || e.report == nil || e.report.AnalysisLocation == "" {
		return nil, nil
	}

	contents, err := c.decode(ctx, origin, target, e)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &errors.CacheError{Kind: errors.CacheTimeout, Origin: origin, Target: string(target.URI), Err: ctx.Err()}
		}
		return nil, &errors.CacheError{Kind: errors.CacheDecodeFailed, Origin: origin, Target: string(target.URI), Err: err}
	}
	return contents, nil
}

func (c *cache) Outcome(origin string, target protocol.BuildTargetIdentifier) (*Outcome, bool) {
	c.mu.Lock()
	e, ok := c.origins[origin][target]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.done:
	default:
		return nil, false
	}
	if e.failErr != nil {
		return nil, false
	}
	return &Outcome{Status: e.status, Report: e.report}, true
}

func (c *cache) Evict(origin string) {
	c.mu.Lock()
	targets := c.origins[origin]
	delete(c.origins, origin)
	c.mu.Unlock()

	for target := range targets {
		c.decoded.Del(decodedKey(origin, target))
	}
	if len(targets) > 0 {
		c.stats.Counter("evictions").Inc(1)
	}
}

func (c *cache) FailAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, targets := range c.origins {
		for _, e := range targets {
			select {
			case <-e.done:
			default:
				e.failErr = err
				close(e.done)
			}
		}
	}
}

func (c *cache) Close() {
	c.wg.Wait()
	c.decoded.Close()
}
