package prefetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vitrine-media/vitrine/pkg/cache"
	"github.com/vitrine-media/vitrine/pkg/config"
	"github.com/vitrine-media/vitrine/pkg/metrics"
	"github.com/vitrine-media/vitrine/pkg/models"
	"github.com/vitrine-media/vitrine/pkg/router"
)

type rankerFunc func(int) []models.PrefetchTarget

func (f rankerFunc) TopScores(limit int) []models.PrefetchTarget { return f(limit) }

func topics(names ...string) Ranker {
	return rankerFunc(func(limit int) []models.PrefetchTarget {
		var out []models.PrefetchTarget
		for i, n := range names {
			if i == limit {
				break
			}
			out = append(out, models.PrefetchTarget{Topic: n, Score: float64(len(names) - i)})
		}
		return out
	})
}

// gatedLoader blocks every fetch until release is closed and records the
// peak number of concurrent fetches.
type gatedLoader struct {
	release chan struct{}
	err     error

	calls   atomic.Int32
	active  atomic.Int32
	peak    atomic.Int32
	queries sync.Map
}

func newGatedLoader() *gatedLoader {
	return &gatedLoader{release: make(chan struct{})}
}

func (l *gatedLoader) Func(key string, q models.ArticleQuery) cache.LoadFunc[*models.Snapshot] {
	return func(ctx context.Context) (*models.Snapshot, error) {
		l.calls.Add(1)
		n := l.active.Add(1)
		defer l.active.Add(-1)
		for {
			p := l.peak.Load()
			if n <= p || l.peak.CompareAndSwap(p, n) {
				break
			}
		}
		l.queries.Store(key, q)
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if l.err != nil {
			return nil, l.err
		}
		return &models.Snapshot{Key: key, FetchedAt: time.Now()}, nil
	}
}

func newTestScheduler(t *testing.T, ranker Ranker, loader Loader, opts ...Option) (*Scheduler, *cache.Cache[*models.Snapshot]) {
	t.Helper()
	c := cache.New[*models.Snapshot](time.Minute)
	s := New(ranker, router.New(config.Default()), c, loader, opts...)
	t.Cleanup(s.Stop)
	return s, c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPassNeverExceedsConcurrencyLimit(t *testing.T) {
	loader := newGatedLoader()
	ranker := topics("category:a", "category:b", "category:c", "tag:d", "tag:e")
	s, c := newTestScheduler(t, ranker, loader)

	report := s.RunOnce(context.Background())
	if report.Considered != 5 || report.Started != 2 || report.Deferred != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	waitFor(t, func() bool { return loader.active.Load() == 2 })

	// Everything in flight or deferred: the next pass starts nothing.
	report = s.RunOnce(context.Background())
	if report.Started != 0 || report.SkippedInFlight != 2 || report.Deferred != 3 {
		t.Errorf("unexpected second report %+v", report)
	}

	close(loader.release)
	s.Wait()
	if !c.Fresh("category:a") || !c.Fresh("category:b") {
		t.Fatal("expected warmed keys")
	}

	report = s.RunOnce(context.Background())
	if report.SkippedWarm != 2 || report.Started != 2 || report.Deferred != 1 {
		t.Errorf("unexpected third report %+v", report)
	}
	s.Wait()
	if peak := loader.peak.Load(); peak > DefaultMaxConcurrent {
		t.Errorf("peak concurrency %d exceeds %d", peak, DefaultMaxConcurrent)
	}
}

func TestPassSkipsUserFetchInFlight(t *testing.T) {
	loader := newGatedLoader()
	s, c := newTestScheduler(t, topics("category:sports"), loader)

	go c.Get(context.Background(), "category:sports", loader.Func("category:sports", models.ArticleQuery{}))
	waitFor(t, func() bool { return c.InFlight("category:sports") })

	report := s.RunOnce(context.Background())
	if report.Started != 0 || report.SkippedInFlight != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	close(loader.release)
	waitFor(t, func() bool { return c.Fresh("category:sports") })
	if loader.calls.Load() != 1 {
		t.Errorf("expected one fetch, got %d", loader.calls.Load())
	}
}

func TestFailuresAreSwallowed(t *testing.T) {
	loader := newGatedLoader()
	loader.err = errors.New("store down")
	close(loader.release)
	s, c := newTestScheduler(t, topics("tag:go"), loader)

	if r := s.RunOnce(context.Background()); r.Started != 1 {
		t.Fatalf("unexpected report %+v", r)
	}
	s.Wait()
	if _, _, ok := c.Peek("tag:go"); ok {
		t.Error("failed prefetch must not install anything")
	}
	if st := c.Stats(); st.FetchErrors != 1 || st.PrefetchFetches != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestUnroutableTopicsAreSkipped(t *testing.T) {
	loader := newGatedLoader()
	close(loader.release)
	s, _ := newTestScheduler(t, topics("author:jane", "tag:go"), loader)

	r := s.RunOnce(context.Background())
	if r.Unroutable != 1 || r.Started != 1 {
		t.Errorf("unexpected report %+v", r)
	}
	s.Wait()
	q, ok := loader.queries.Load("tag:go")
	if !ok || q.(models.ArticleQuery).Tag != "go" || q.(models.ArticleQuery).Limit != 15 {
		t.Errorf("unexpected query %+v", q)
	}
}

func TestOverlappingPassIsCoalesced(t *testing.T) {
	loader := newGatedLoader()
	close(loader.release)
	s, _ := newTestScheduler(t, topics("tag:go"), loader)

	s.running.Store(true)
	if r := s.RunOnce(context.Background()); !r.Coalesced {
		t.Fatalf("expected coalesced report, got %+v", r)
	}
	if !s.pending.Load() {
		t.Fatal("expected a pending re-run")
	}
	if loader.calls.Load() != 0 {
		t.Error("coalesced pass must not fetch")
	}

	s.running.Store(false)
	s.RunOnce(context.Background())
	s.Wait()
	if s.pending.Load() {
		t.Error("pending re-run should have been consumed")
	}
}

func TestTriggerStartsPass(t *testing.T) {
	loader := newGatedLoader()
	close(loader.release)
	trigger := make(chan struct{}, 1)
	s, c := newTestScheduler(t, topics("category:world"), loader,
		WithTrigger(trigger), WithInterval(time.Hour))

	s.Start(context.Background())
	trigger <- struct{}{}
	waitFor(t, func() bool { return c.Fresh("category:world") })
	s.Stop()
}

func TestCancelledPassKeepsSlotsUntilLoadsFinish(t *testing.T) {
	loader := newGatedLoader()
	ranker := topics("category:a", "category:b", "category:c", "tag:d", "tag:e")
	s, _ := newTestScheduler(t, ranker, loader)

	ctx, cancel := context.WithCancel(context.Background())
	if r := s.RunOnce(ctx); r.Started != 2 {
		t.Fatalf("unexpected report %+v", r)
	}
	waitFor(t, func() bool { return loader.active.Load() == 2 })
	cancel()

	r := s.RunOnce(context.Background())
	if r.Started != 0 || r.SkippedInFlight != 2 || r.Deferred != 3 {
		t.Errorf("unexpected report after cancel %+v", r)
	}
	if peak := loader.peak.Load(); peak > DefaultMaxConcurrent {
		t.Errorf("concurrent loads %d exceed %d", peak, DefaultMaxConcurrent)
	}
	close(loader.release)
	s.Wait()
}

func TestStopWaitsForRunningLoads(t *testing.T) {
	loader := newGatedLoader()
	trigger := make(chan struct{}, 1)
	s, c := newTestScheduler(t, topics("category:world"), loader,
		WithTrigger(trigger), WithInterval(time.Hour))

	s.Start(context.Background())
	trigger <- struct{}{}
	waitFor(t, func() bool { return loader.active.Load() == 1 })

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a load was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(loader.release)
	<-stopped
	if loader.active.Load() != 0 {
		t.Error("load still running after Stop")
	}
	if !c.Fresh("category:world") {
		t.Error("expected the load to complete and install")
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestPassMetrics(t *testing.T) {
	loader := newGatedLoader()
	close(loader.release)
	m := metrics.New(nil)
	s, _ := newTestScheduler(t, topics("author:jane", "tag:go"), loader, WithMetrics(m))

	s.RunOnce(context.Background())
	s.Wait()
	if v := counterValue(t, m.PrefetchSkipped.WithLabelValues("unroutable")); v != 1 {
		t.Errorf("unroutable skips = %v, want 1", v)
	}
	if v := counterValue(t, m.PrefetchPasses); v != 1 {
		t.Errorf("passes = %v, want 1", v)
	}
}
