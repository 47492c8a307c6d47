// Package cache implements the delivery cache: a keyed, in-memory store with
// per-key single-flight loading, TTL expiry and stale-while-revalidate reads.
package cache

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitrine-media/vitrine/pkg/metrics"
	"github.com/vitrine-media/vitrine/pkg/models"
)

// DefaultTTL mirrors the site-level revalidation window.
const DefaultTTL = 60 * time.Second

// DefaultFetchTimeout bounds a single loader call.
const DefaultFetchTimeout = 10 * time.Second

// Stamped is implemented by cacheable values. Stamp reports when the value
// was retrieved and drives both expiry and install ordering.
type Stamped interface {
	Stamp() time.Time
}

// LoadFunc retrieves a fresh value. It must return a non-nil value when err
// is nil.
type LoadFunc[V Stamped] func(ctx context.Context) (V, error)

// Result is what readers receive. Value is shared between all callers that
// observed the same install and must not be modified.
type Result[V Stamped] struct {
	Value     V
	Stale     bool
	ExpiresAt time.Time
}

// Fetch origins, used for statistics and logs.
const (
	originUser       = "user"
	originRevalidate = "revalidate"
	originRefresh    = "refresh"
	originPrefetch   = "prefetch"
)

// flight is the shared handle for an outstanding load. Everything except
// done is written once before done is closed.
type flight[V Stamped] struct {
	done      chan struct{}
	origin    string
	val       V
	hasVal    bool
	expiresAt time.Time
	err       error
}

type entry[V Stamped] struct {
	val       V
	has       bool
	expiresAt time.Time
	flight    *flight[V]
}

// Cache is safe for concurrent use. At most one load per key is in flight at
// any instant; every caller that needs a value while it runs waits on the
// same flight and receives the same instance.
type Cache[V Stamped] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]

	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	logger       *log.Logger
	metrics      *metrics.Metrics

	hits            atomic.Int64
	misses          atomic.Int64
	stale           atomic.Int64
	fetches         atomic.Int64
	prefetches      atomic.Int64
	fetchErrors     atomic.Int64
	prefetchSkipped atomic.Int64
}

// Option configures a Cache.
type Option func(*settings)

type settings struct {
	fetchTimeout time.Duration
	now          func() time.Time
	logger       *log.Logger
	metrics      *metrics.Metrics
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithLogger sets the logger used for fetch failures.
func WithLogger(l *log.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithFetchTimeout bounds each loader call.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// New creates a Cache with the given default TTL.
func New[V Stamped](ttl time.Duration, opts ...Option) *Cache[V] {
	s := settings{
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		logger:       log.Default(),
	}
	for _, o := range opts {
		o(&s)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		entries:      make(map[string]*entry[V]),
		ttl:          ttl,
		fetchTimeout: s.fetchTimeout,
		now:          s.now,
		logger:       s.logger,
		metrics:      s.metrics,
	}
}

// CallOption adjusts a single Get, Refresh or Prefetch call.
type CallOption func(*call)

type call struct {
	ttl time.Duration
}

// WithTTL overrides the cache's default TTL for the value installed by this
// call's fetch.
func WithTTL(d time.Duration) CallOption {
	return func(c *call) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func (c *Cache[V]) callOpts(opts []CallOption) call {
	co := call{ttl: c.ttl}
	for _, o := range opts {
		o(&co)
	}
	return co
}

// Get returns the value for key. A live value is returned without calling
// load. An expired value is returned marked stale while a single background
// revalidation runs. With no value at all, Get starts or joins the flight and
// waits; a failure is returned only if no value exists to fall back on.
func (c *Cache[V]) Get(ctx context.Context, key string, load LoadFunc[V], opts ...CallOption) (Result[V], error) {
	co := c.callOpts(opts)

	c.mu.Lock()
	e := c.entry(key)
	if e.has {
		r := Result[V]{Value: e.val, ExpiresAt: e.expiresAt}
		if c.now().Before(e.expiresAt) {
			c.mu.Unlock()
			c.hits.Add(1)
			c.metrics.Request("hit")
			return r, nil
		}
		if e.flight == nil {
			c.start(ctx, key, e, load, co.ttl, originRevalidate)
		}
		c.mu.Unlock()
		r.Stale = true
		c.stale.Add(1)
		c.metrics.Request("stale")
		return r, nil
	}
	f := e.flight
	if f == nil {
		f = c.start(ctx, key, e, load, co.ttl, originUser)
	}
	c.mu.Unlock()

	c.misses.Add(1)
	c.metrics.Request("miss")
	return c.wait(ctx, f, false)
}

// Refresh bypasses the TTL. It joins a flight already in progress for key
// (whatever started it) or starts a new one, and waits for the outcome. On
// failure the previous value, if any, is returned marked stale together with
// the error.
func (c *Cache[V]) Refresh(ctx context.Context, key string, load LoadFunc[V], opts ...CallOption) (Result[V], error) {
	co := c.callOpts(opts)

	c.mu.Lock()
	e := c.entry(key)
	f := e.flight
	if f == nil {
		f = c.start(ctx, key, e, load, co.ttl, originRefresh)
	}
	c.mu.Unlock()

	return c.wait(ctx, f, true)
}

// Prefetch warms key ahead of demand. It does nothing when key already holds
// a live value or when any fetch for key is in flight; a prefetch never
// duplicates a user fetch. started reports whether a load was issued. The
// call blocks until the issued load finishes, even when ctx is cancelled
// first, so that callers can bound the number of prefetches running at once.
func (c *Cache[V]) Prefetch(ctx context.Context, key string, load LoadFunc[V], opts ...CallOption) (started bool, err error) {
	co := c.callOpts(opts)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.has && c.now().Before(e.expiresAt) {
			c.mu.Unlock()
			return false, nil
		}
		if e.flight != nil {
			c.mu.Unlock()
			c.prefetchSkipped.Add(1)
			return false, nil
		}
	}
	e := c.entry(key)
	f := c.start(ctx, key, e, load, co.ttl, originPrefetch)
	c.mu.Unlock()

	_, err = c.wait(context.WithoutCancel(ctx), f, true)
	return true, err
}

// Await waits for the fetch in flight for key, if any, and returns the value
// held afterwards. ok is false when key holds no value. A failed fetch is not
// reported; the previous value comes back marked stale.
func (c *Cache[V]) Await(ctx context.Context, key string) (r Result[V], ok bool, err error) {
	c.mu.Lock()
	e, found := c.entries[key]
	if !found {
		c.mu.Unlock()
		return r, false, nil
	}
	f := e.flight
	if f == nil {
		r = Result[V]{Value: e.val, ExpiresAt: e.expiresAt, Stale: !c.now().Before(e.expiresAt)}
		has := e.has
		c.mu.Unlock()
		return r, has, nil
	}
	c.mu.Unlock()

	r, err = c.wait(ctx, f, false)
	if err != nil {
		if ctx.Err() != nil {
			return Result[V]{}, false, err
		}
		return Result[V]{}, false, nil
	}
	return r, true, nil
}

// Put installs v directly, subject to the same ordering rule as a completed
// fetch: a value older than the one held is discarded. It reports whether v
// was installed.
func (c *Cache[V]) Put(key string, v V, opts ...CallOption) bool {
	co := c.callOpts(opts)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.install(c.entry(key), v, co.ttl)
}

// Peek returns the current value for key without touching statistics or
// starting a fetch.
func (c *Cache[V]) Peek(key string) (v V, expiresAt time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[key]
	if !found || !e.has {
		return v, time.Time{}, false
	}
	return e.val, e.expiresAt, true
}

// Fresh reports whether key holds a value that has not expired.
func (c *Cache[V]) Fresh(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.has && c.now().Before(e.expiresAt)
}

// InFlight reports whether a fetch for key is outstanding.
func (c *Cache[V]) InFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.flight != nil
}

// Invalidate expires key immediately. The value stays available as stale
// data until a fetch replaces it.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.has {
		e.expiresAt = c.now()
	}
}

// Sweep drops entries that expired more than grace ago and have no fetch in
// flight. It returns the number of entries removed.
func (c *Cache[V]) Sweep(grace time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-grace)
	n := 0
	for k, e := range c.entries {
		if e.flight == nil && (!e.has || e.expiresAt.Before(cutoff)) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of keys holding a value.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.has {
			n++
		}
	}
	return n
}

// Stats returns cache performance counters.
func (c *Cache[V]) Stats() models.CacheStats {
	return models.CacheStats{
		Entries:         int64(c.Len()),
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		StaleServed:     c.stale.Load(),
		Fetches:         c.fetches.Load(),
		PrefetchFetches: c.prefetches.Load(),
		FetchErrors:     c.fetchErrors.Load(),
		PrefetchSkipped: c.prefetchSkipped.Load(),
	}
}

// entry returns the entry for key, creating it. c.mu must be held.
func (c *Cache[V]) entry(key string) *entry[V] {
	e, ok := c.entries[key]
	if !ok {
		e = &entry[V]{}
		c.entries[key] = e
	}
	return e
}

// start registers a new flight on e and launches the load. c.mu must be held.
func (c *Cache[V]) start(ctx context.Context, key string, e *entry[V], load LoadFunc[V], ttl time.Duration, origin string) *flight[V] {
	f := &flight[V]{done: make(chan struct{}), origin: origin}
	e.flight = f
	c.fetches.Add(1)
	if origin == originPrefetch {
		c.prefetches.Add(1)
	}
	go c.run(context.WithoutCancel(ctx), key, f, load, ttl)
	return f
}

func (c *Cache[V]) run(ctx context.Context, key string, f *flight[V], load LoadFunc[V], ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	began := time.Now()
	v, err := c.safeLoad(ctx, load)
	c.metrics.Fetch(f.origin, time.Since(began).Seconds(), err)

	c.mu.Lock()
	e := c.entry(key)
	if err != nil {
		c.fetchErrors.Add(1)
		f.err = err
	} else {
		c.install(e, v, ttl)
	}
	if e.has {
		f.val, f.hasVal, f.expiresAt = e.val, true, e.expiresAt
	}
	e.flight = nil
	if !e.has {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	close(f.done)

	if err != nil {
		c.logger.Printf("cache: %s fetch %q failed: %v", f.origin, key, err)
	}
}

// safeLoad converts a loader panic into an error so waiters are always
// released.
func (c *Cache[V]) safeLoad(ctx context.Context, load LoadFunc[V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return load(ctx)
}

// install stores v unless the entry already holds a newer value. c.mu must be
// held.
func (c *Cache[V]) install(e *entry[V], v V, ttl time.Duration) bool {
	stamp := v.Stamp()
	if stamp.IsZero() {
		stamp = c.now()
	}
	if e.has && stamp.Before(e.val.Stamp()) {
		return false
	}
	e.val = v
	e.has = true
	e.expiresAt = stamp.Add(ttl)
	return true
}

// wait blocks until f resolves or ctx is done. When strict is false a failed
// flight that still has a previous value yields that value as stale data
// instead of an error.
func (c *Cache[V]) wait(ctx context.Context, f *flight[V], strict bool) (Result[V], error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return Result[V]{}, ctx.Err()
	}
	if f.err != nil {
		if !f.hasVal {
			return Result[V]{}, f.err
		}
		r := Result[V]{Value: f.val, Stale: true, ExpiresAt: f.expiresAt}
		if strict {
			return r, f.err
		}
		return r, nil
	}
	return Result[V]{Value: f.val, ExpiresAt: f.expiresAt}, nil
}
