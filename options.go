package framegraph

import (
	"log/slog"
	"time"
)

// Defaults for context options.
const (
	// DefaultFramesInFlight is the number of per-frame arenas.
	DefaultFramesInFlight = 2

	// DefaultCacheCapacity is the number of compiled plans kept per context.
	DefaultCacheCapacity = 32

	// DefaultFenceTimeout bounds the wait on the previous frame's fence.
	DefaultFenceTimeout = 5 * time.Second

	// DefaultCacheSeed seeds cache key hashing.
	DefaultCacheSeed uint64 = 0x6672616d65677266
)

// QueuePolicy decides how waves that use a single queue kind are placed.
type QueuePolicy uint8

const (
	// QueuePolicyCollapse reroutes a wave that only uses the compute or
	// transfer queue onto the graphics queue, and merges consecutive
	// graphics-only waves. No queue hop is paid without parallelism.
	QueuePolicyCollapse QueuePolicy = iota

	// QueuePolicyPreserve keeps every pass on the queue it asked for and
	// only merges consecutive waves of the same single queue.
	QueuePolicyPreserve
)

func (p QueuePolicy) String() string {
	if p == QueuePolicyPreserve {
		return "preserve"
	}
	return "collapse"
}

// ContextOption configures a Context during creation.
//
// Example:
//
//	fg := framegraph.NewContext(
//	    framegraph.WithBackend(backend),
//	    framegraph.WithFramesInFlight(3),
//	)
type ContextOption func(*contextOptions)

type contextOptions struct {
	logger            *slog.Logger
	backend           Backend
	framesInFlight    int
	cacheCapacity     int
	queuePolicy       QueuePolicy
	transientAliasing bool
	fenceTimeout      time.Duration
	cacheSeed         uint64
}

func defaultOptions() contextOptions {
	return contextOptions{
		framesInFlight: DefaultFramesInFlight,
		cacheCapacity:  DefaultCacheCapacity,
		queuePolicy:    QueuePolicyCollapse,
		fenceTimeout:   DefaultFenceTimeout,
		cacheSeed:      DefaultCacheSeed,
	}
}

// WithLogger sets the logger used as the diagnostics sink of the context.
// Defaults to Logger() at context creation.
func WithLogger(l *slog.Logger) ContextOption {
	return func(o *contextOptions) {
		o.logger = l
	}
}

// WithBackend sets the platform backend plans are executed on.
func WithBackend(b Backend) ContextOption {
	return func(o *contextOptions) {
		o.backend = b
	}
}

// WithFramesInFlight sets the number of frame slots, each with its own
// arena. Values below 1 are ignored.
func WithFramesInFlight(n int) ContextOption {
	return func(o *contextOptions) {
		if n >= 1 {
			o.framesInFlight = n
		}
	}
}

// WithCacheCapacity sets how many compiled plans are cached. Zero disables
// eviction.
func WithCacheCapacity(n int) ContextOption {
	return func(o *contextOptions) {
		if n >= 0 {
			o.cacheCapacity = n
		}
	}
}

// WithQueuePolicy selects how single-queue waves are scheduled.
func WithQueuePolicy(p QueuePolicy) ContextOption {
	return func(o *contextOptions) {
		o.queuePolicy = p
	}
}

// WithTransientAliasing lets transient resources with identical
// descriptions and disjoint lifetimes share one allocation.
func WithTransientAliasing(enabled bool) ContextOption {
	return func(o *contextOptions) {
		o.transientAliasing = enabled
	}
}

// WithFenceTimeout bounds frame fence waits.
func WithFenceTimeout(d time.Duration) ContextOption {
	return func(o *contextOptions) {
		if d > 0 {
			o.fenceTimeout = d
		}
	}
}

// WithCacheSeed sets the seed used to hash cache keys.
func WithCacheSeed(seed uint64) ContextOption {
	return func(o *contextOptions) {
		o.cacheSeed = seed
	}
}
