// Package prefetch warms the snapshot cache for the topics the interest model
// ranks highest.
package prefetch

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vitrine-media/vitrine/pkg/cache"
	"github.com/vitrine-media/vitrine/pkg/metrics"
	"github.com/vitrine-media/vitrine/pkg/models"
	"github.com/vitrine-media/vitrine/pkg/router"
)

const (
	// DefaultInterval is the time between periodic passes.
	DefaultInterval = 15 * time.Second
	// DefaultTopK is how many ranked topics a pass considers.
	DefaultTopK = 5
	// DefaultMaxConcurrent caps the prefetches running at once.
	DefaultMaxConcurrent = 2
)

// Ranker supplies prefetch candidates, best first.
type Ranker interface {
	TopScores(limit int) []models.PrefetchTarget
}

// Resolver maps a topic to the cache key and query that serve it.
type Resolver interface {
	Resolve(key string) (router.Route, error)
}

// SnapshotCache is the part of the snapshot cache the scheduler drives.
type SnapshotCache interface {
	Fresh(key string) bool
	InFlight(key string) bool
	Prefetch(ctx context.Context, key string, load cache.LoadFunc[*models.Snapshot], opts ...cache.CallOption) (bool, error)
}

// Loader builds the fetch for a resolved route.
type Loader interface {
	Func(key string, q models.ArticleQuery) cache.LoadFunc[*models.Snapshot]
}

// PassReport summarizes one scheduling pass.
type PassReport struct {
	Considered      int  `json:"considered"`
	Started         int  `json:"started"`
	SkippedWarm     int  `json:"skipped_warm"`
	SkippedInFlight int  `json:"skipped_in_flight"`
	Unroutable      int  `json:"unroutable"`
	Deferred        int  `json:"deferred"`
	Coalesced       bool `json:"coalesced"`
}

// Scheduler runs prefetch passes on a fixed interval and whenever the
// trigger channel fires. Passes never overlap, and at most maxConcurrent
// prefetches run at once; targets that find no free slot wait for a later
// pass.
type Scheduler struct {
	ranker Ranker
	routes Resolver
	cache  SnapshotCache
	loader Loader

	interval time.Duration
	topK     int
	maxConc  int64
	trigger  <-chan struct{}
	logger   *log.Logger
	metrics  *metrics.Metrics

	sem     *semaphore.Weighted
	running atomic.Bool
	pending atomic.Bool
	wg      sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the time between periodic passes.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTopK sets how many ranked topics a pass considers.
func WithTopK(k int) Option {
	return func(s *Scheduler) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithMaxConcurrent caps the number of prefetches in flight.
func WithMaxConcurrent(m int) Option {
	return func(s *Scheduler) {
		if m > 0 {
			s.maxConc = int64(m)
		}
	}
}

// WithTrigger runs an extra pass each time ch receives.
func WithTrigger(ch <-chan struct{}) Option {
	return func(s *Scheduler) { s.trigger = ch }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a Scheduler. It does nothing until Start or RunOnce is called.
func New(ranker Ranker, routes Resolver, c SnapshotCache, loader Loader, opts ...Option) *Scheduler {
	s := &Scheduler{
		ranker:   ranker,
		routes:   routes,
		cache:    c,
		loader:   loader,
		interval: DefaultInterval,
		topK:     DefaultTopK,
		maxConc:  DefaultMaxConcurrent,
		logger:   log.New(log.Writer(), "[prefetch] ", log.LstdFlags),
	}
	for _, o := range opts {
		o(s)
	}
	s.sem = semaphore.NewWeighted(s.maxConc)
	return s
}

// Start launches the scheduling loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop ends the loop and waits for running prefetches to finish. A prefetch
// keeps its slot until its load returns, even after the loop context ends.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.Wait()
}

// Wait blocks until every prefetch started so far has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.trigger:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a pass now. If a pass is already running the request is
// folded into a single re-run after it, and the returned report has
// Coalesced set. Prefetches started by the pass continue in the background.
func (s *Scheduler) RunOnce(ctx context.Context) PassReport {
	if !s.running.CompareAndSwap(false, true) {
		s.pending.Store(true)
		return PassReport{Coalesced: true}
	}
	report := s.pass(ctx)
	for {
		s.running.Store(false)
		if !s.pending.Swap(false) || ctx.Err() != nil {
			return report
		}
		if !s.running.CompareAndSwap(false, true) {
			return report
		}
		report = s.pass(ctx)
	}
}

func (s *Scheduler) pass(ctx context.Context) PassReport {
	defer s.metrics.Pass()
	targets := s.ranker.TopScores(s.topK)
	report := PassReport{Considered: len(targets)}

	for i, t := range targets {
		route, err := s.routes.Resolve(t.Topic)
		if err != nil {
			report.Unroutable++
			s.metrics.Skip("unroutable")
			s.logger.Printf("skip %q: %v", t.Topic, err)
			continue
		}
		if s.cache.Fresh(route.Key) {
			report.SkippedWarm++
			s.metrics.Skip("warm")
			continue
		}
		if s.cache.InFlight(route.Key) {
			report.SkippedInFlight++
			s.metrics.Skip("in_flight")
			continue
		}
		if !s.sem.TryAcquire(1) {
			report.Deferred = len(targets) - i
			s.metrics.Skip("deferred")
			break
		}
		report.Started++
		s.wg.Add(1)
		s.metrics.InFlight(1)
		go s.prefetch(ctx, route)
	}
	return report
}

func (s *Scheduler) prefetch(ctx context.Context, route router.Route) {
	defer s.wg.Done()
	defer s.sem.Release(1)
	defer s.metrics.InFlight(-1)

	load := s.loader.Func(route.Key, route.Query)
	_, err := s.cache.Prefetch(ctx, route.Key, load, cache.WithTTL(route.TTL))
	if err != nil && ctx.Err() == nil {
		s.logger.Printf("warm %q failed: %v", route.Key, err)
	}
}
