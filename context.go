package framegraph

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/framegraph/internal/cache"
)

// Context owns everything needed to build, compile and execute frame
// graphs: one arena per frame in flight, the compiled plan cache and the
// platform backend.
//
// Only one frame graph may be under construction per Context at a time.
// A Context is meant to be driven by one goroutine (the render loop);
// Stats and the cache operations may be called from others.
type Context struct {
	opts    contextOptions
	log     *slog.Logger
	backend Backend

	arenas []*Arena
	frame  uint64
	slot   int

	building atomic.Bool
	cache    *cache.Cache[uint64, *Plan]

	compiles     atomic.Uint64
	compileSkips atomic.Uint64
	executions   atomic.Uint64
	failures     atomic.Uint64
}

// NewContext creates a frame graph context.
//
//	fg := framegraph.NewContext(framegraph.WithBackend(b))
//	if err := fg.BeginFrame(ctx); err != nil { ... }
//	b, _ := fg.Begin("frame")
//	...
//	plan, err := b.End()
func NewContext(opts ...ContextOption) *Context {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = Logger()
	}

	c := &Context{
		opts:    options,
		log:     options.logger,
		backend: options.backend,
		arenas:  make([]*Arena, options.framesInFlight),
		cache:   cache.New[uint64, *Plan](options.cacheCapacity),
	}
	for i := range c.arenas {
		c.arenas[i] = NewArena()
	}
	if c.backend != nil {
		shareLogger(c.backend, c.log)
	}
	c.cache.OnEvict(func(key uint64, p *Plan) {
		c.log.Info("framegraph: cached plan evicted", "plan", p.Name, "key", fmt.Sprintf("%016x", key))
	})
	return c
}

// Backend returns the platform backend, or nil.
func (c *Context) Backend() Backend { return c.backend }

// Frame returns the current frame.
func (c *Context) Frame() FrameInfo {
	return FrameInfo{Index: c.frame, Slot: c.slot}
}

// BeginFrame advances to the next frame. It waits for the frame that last
// used the next slot to complete on the device, then resets the slot's
// arena. Plans built in that slot without a cache key become stale.
func (c *Context) BeginFrame(ctx context.Context) error {
	if c.building.Load() {
		return ErrBuildInProgress
	}
	next := c.frame + 1
	n := uint64(len(c.arenas))
	if c.backend != nil && next >= n {
		if err := c.backend.WaitFrame(ctx, next-n, c.opts.fenceTimeout); err != nil {
			return fmt.Errorf("framegraph: wait for frame %d: %w", next-n, err)
		}
	}
	c.frame = next
	c.slot = int(next % n)
	c.arenas[c.slot].Reset()
	c.log.Debug("framegraph: begin frame", "frame", c.frame, "slot", c.slot)
	return nil
}

// Begin starts building a frame graph in the current frame's arena.
func (c *Context) Begin(name string) (*Builder, error) {
	if !c.building.CompareAndSwap(false, true) {
		return nil, ErrBuildInProgress
	}
	return newBuilder(c, name), nil
}

// BeginCached starts building a frame graph under a cache key. When a plan
// compiled under an equal key is cached, Builder.Cached reports true and
// End returns that plan without compiling; declarations made on the
// builder are then ignored.
func (c *Context) BeginCached(name string, key CacheKey) (*Builder, error) {
	b, err := c.Begin(name)
	if err != nil {
		return nil, err
	}
	b.keyed = true
	b.key = key.Hash(c.opts.cacheSeed)
	if p, ok := c.cache.Get(b.key); ok {
		b.cached = p
	}
	return b, nil
}

// CachedPlan returns the plan cached under key without affecting cache
// statistics.
func (c *Context) CachedPlan(key CacheKey) (*Plan, bool) {
	return c.cache.Peek(key.Hash(c.opts.cacheSeed))
}

// InvalidateCache drops the plan cached under key. The next BeginCached
// with that key recompiles.
func (c *Context) InvalidateCache(key CacheKey) bool {
	return c.cache.Delete(key.Hash(c.opts.cacheSeed))
}

// ClearCache drops every cached plan.
func (c *Context) ClearCache() {
	c.cache.Clear()
}

// ContextStats is a snapshot of context counters.
type ContextStats struct {
	Frame          uint64 `json:"frame"`
	Compiles       uint64 `json:"compiles"`
	CompileSkips   uint64 `json:"compile_skips"`
	Executions     uint64 `json:"executions"`
	Failures       uint64 `json:"failures"`
	CachedPlans    int    `json:"cached_plans"`
	CacheHits      uint64 `json:"cache_hits"`
	CacheMisses    uint64 `json:"cache_misses"`
	CacheEvictions uint64 `json:"cache_evictions"`
}

// Stats returns the context counters.
func (c *Context) Stats() ContextStats {
	cs := c.cache.Stats()
	return ContextStats{
		Frame:          c.frame,
		Compiles:       c.compiles.Load(),
		CompileSkips:   c.compileSkips.Load(),
		Executions:     c.executions.Load(),
		Failures:       c.failures.Load(),
		CachedPlans:    cs.Len,
		CacheHits:      cs.Hits,
		CacheMisses:    cs.Misses,
		CacheEvictions: cs.Evictions,
	}
}

func (c *Context) arena() *Arena { return c.arenas[c.slot] }
