// Package delivery wires the snapshot cache, interest model, event recorder
// and prefetch scheduler into one Engine, and exposes per-key Consumers to
// the rendering layer.
package delivery

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/vitrine-media/vitrine/pkg/aggregate"
	"github.com/vitrine-media/vitrine/pkg/cache"
	"github.com/vitrine-media/vitrine/pkg/config"
	"github.com/vitrine-media/vitrine/pkg/interest"
	"github.com/vitrine-media/vitrine/pkg/media"
	"github.com/vitrine-media/vitrine/pkg/metrics"
	"github.com/vitrine-media/vitrine/pkg/models"
	"github.com/vitrine-media/vitrine/pkg/prefetch"
	"github.com/vitrine-media/vitrine/pkg/recorder"
	"github.com/vitrine-media/vitrine/pkg/router"
)

// Sources are the collaborators snapshots are built from. Articles is
// required.
type Sources struct {
	Articles aggregate.ArticleSource
	Ads      aggregate.AdSource
	Aux      aggregate.AuxSource
}

// Engine owns every piece of shared delivery state. Create one per process
// with New, call Start once and Close on shutdown.
type Engine struct {
	cfg       *config.Config
	cache     *cache.Cache[*models.Snapshot]
	model     *interest.Model
	recorder  *recorder.Recorder
	sampler   *recorder.ScrollSampler
	scheduler *prefetch.Scheduler
	loader    *aggregate.Loader
	router    *router.Router
	logger    *log.Logger

	mu        sync.Mutex
	consumers map[string]*Consumer
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	now     func() time.Time
	logger  *log.Logger
	metrics *metrics.Metrics
}

// WithClock replaces time.Now throughout the engine.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger shared by the engine's components.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New assembles an Engine from cfg and src.
func New(cfg *config.Config, src Sources, opts ...Option) (*Engine, error) {
	if src.Articles == nil {
		return nil, errors.New("delivery: an article source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{now: time.Now, logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	c := cache.New[*models.Snapshot](cfg.Cache.TTL,
		cache.WithClock(o.now),
		cache.WithLogger(o.logger),
		cache.WithMetrics(o.metrics),
		cache.WithFetchTimeout(cfg.Cache.FetchTimeout),
	)
	model := interest.New(
		interest.WithHalfLife(cfg.Interest.HalfLife),
		interest.WithWeights(cfg.Interest.Weights),
		interest.WithPruneBelow(cfg.Interest.PruneBelow),
		interest.WithClock(o.now),
		interest.WithMetrics(o.metrics),
	)
	rec := recorder.New(cfg.Recorder.BufferSize, model,
		recorder.WithClock(o.now),
		recorder.WithLogger(o.logger),
		recorder.WithMetrics(o.metrics),
	)

	loaderOpts := []aggregate.Option{
		aggregate.WithSourceTimeout(cfg.Sources.Timeout),
		aggregate.WithClock(o.now),
		aggregate.WithLogger(o.logger),
		aggregate.WithRewriter(media.New(cfg.Media.From, cfg.Media.To)),
	}
	if src.Ads != nil {
		loaderOpts = append(loaderOpts, aggregate.WithAds(src.Ads))
	}
	if src.Aux != nil {
		loaderOpts = append(loaderOpts, aggregate.WithAux(src.Aux, cfg.Sources.Rates.TTL))
	}
	loader := aggregate.NewLoader(src.Articles, loaderOpts...)
	rt := router.New(cfg)

	e := &Engine{
		cfg:       cfg,
		cache:     c,
		model:     model,
		recorder:  rec,
		sampler:   recorder.NewScrollSampler(rec, cfg.Recorder.ScrollSampleInterval),
		loader:    loader,
		router:    rt,
		logger:    o.logger,
		consumers: make(map[string]*Consumer),
	}
	e.scheduler = prefetch.New(model, rt, c, loader,
		prefetch.WithInterval(cfg.Prefetch.Interval),
		prefetch.WithTopK(cfg.Prefetch.TopK),
		prefetch.WithMaxConcurrent(cfg.Prefetch.MaxConcurrent),
		prefetch.WithTrigger(rec.Subscribe()),
		prefetch.WithMetrics(o.metrics),
	)
	return e, nil
}

// Start launches the background work: the prefetch scheduler (when
// enabled), the scroll sampler and the cache sweeper.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if e.cfg.Prefetch.Enabled {
		e.scheduler.Start(ctx)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sampler.Run(ctx)
	}()
	if e.cfg.Cache.SweepInterval > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.sweep(ctx)
		}()
	}
}

// Close stops background work and waits for it, including prefetches still
// in flight.
func (e *Engine) Close() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.scheduler.Stop()
	e.wg.Wait()
}

func (e *Engine) sweep(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Cache.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, dropped := e.reclaim(e.cfg.Cache.SweepGrace); n > 0 || dropped > 0 {
				e.logger.Printf("delivery: swept %d expired snapshots, %d idle consumers", n, dropped)
			}
		}
	}
}

// reclaim sweeps long-expired snapshots, then forgets consumers whose key
// no longer has a cached value or a fetch in flight and that nobody is
// watching. A forgotten consumer keeps working for whoever still holds it;
// the next Consumer call for its key builds a new one.
func (e *Engine) reclaim(grace time.Duration) (swept, dropped int) {
	swept = e.cache.Sweep(grace)

	e.mu.Lock()
	defer e.mu.Unlock()
	for key, c := range e.consumers {
		if _, _, ok := e.cache.Peek(key); ok || e.cache.InFlight(key) {
			continue
		}
		if !c.idle() {
			continue
		}
		delete(e.consumers, key)
		dropped++
	}
	return swept, dropped
}

// Consumer returns the Consumer for key, creating it on first use. Every
// caller asking for the same key shares one Consumer until the sweeper
// reclaims it.
func (e *Engine) Consumer(key string) (*Consumer, error) {
	route, err := e.router.Resolve(key)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.consumers[key]
	if !ok {
		c = newConsumer(e, route)
		e.consumers[key] = c
	}
	return c, nil
}

// Snapshot reads key through the cache.
func (e *Engine) Snapshot(ctx context.Context, key string) (cache.Result[*models.Snapshot], error) {
	route, err := e.router.Resolve(key)
	if err != nil {
		return cache.Result[*models.Snapshot]{}, err
	}
	return e.get(ctx, route)
}

// Refresh fetches key regardless of its TTL.
func (e *Engine) Refresh(ctx context.Context, key string) (cache.Result[*models.Snapshot], error) {
	route, err := e.router.Resolve(key)
	if err != nil {
		return cache.Result[*models.Snapshot]{}, err
	}
	return e.refresh(ctx, route)
}

func (e *Engine) get(ctx context.Context, route router.Route) (cache.Result[*models.Snapshot], error) {
	return e.cache.Get(ctx, route.Key, e.loader.Func(route.Key, route.Query), cache.WithTTL(route.TTL))
}

func (e *Engine) refresh(ctx context.Context, route router.Route) (cache.Result[*models.Snapshot], error) {
	return e.cache.Refresh(ctx, route.Key, e.loader.Func(route.Key, route.Query), cache.WithTTL(route.TTL))
}

// RecordEvent reports a behavior event. It never blocks on prefetching.
func (e *Engine) RecordEvent(ev models.BehaviorEvent) {
	e.recorder.Record(ev)
}

// ObserveScroll feeds a raw scroll position through the sampler, which
// records at most one scroll event per sampling interval.
func (e *Engine) ObserveScroll(depthPercent float64) {
	e.sampler.Observe(depthPercent)
}

// TopTargets returns the current prefetch ranking.
func (e *Engine) TopTargets(limit int) []models.PrefetchTarget {
	return e.model.TopScores(limit)
}

// RecentEvents returns up to n recorded events, oldest first.
func (e *Engine) RecentEvents(n int) []models.BehaviorEvent {
	return e.recorder.Recent(n)
}

// Prefetch runs a scheduling pass immediately.
func (e *Engine) Prefetch(ctx context.Context) prefetch.PassReport {
	return e.scheduler.RunOnce(ctx)
}

// Stats returns snapshot cache counters.
func (e *Engine) Stats() models.CacheStats {
	return e.cache.Stats()
}
