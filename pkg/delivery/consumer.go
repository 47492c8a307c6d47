package delivery

import (
	"context"
	"sync"

	"github.com/vitrine-media/vitrine/pkg/cache"
	"github.com/vitrine-media/vitrine/pkg/models"
	"github.com/vitrine-media/vitrine/pkg/router"
)

// View is what the rendering layer draws. Loading is true only until the
// first snapshot or error arrives; Err is set only while there is no
// snapshot to show.
type View struct {
	Data    *models.Snapshot
	Loading bool
	Err     error
	Stale   bool
}

// Consumer tracks the view of a single snapshot key.
type Consumer struct {
	engine *Engine
	route  router.Route

	mu   sync.Mutex
	view View
	subs []chan struct{}
	// following is set while a goroutine waits for a revalidation.
	following bool
}

func newConsumer(e *Engine, route router.Route) *Consumer {
	return &Consumer{
		engine: e,
		route:  route,
		view:   View{Loading: true},
	}
}

// Key returns the snapshot key this consumer serves.
func (c *Consumer) Key() string { return c.route.Key }

// View returns the current view.
func (c *Consumer) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Changes returns a channel that is signalled whenever the view changes.
// Signals coalesce.
func (c *Consumer) Changes() <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// Load reads the snapshot through the cache and returns the resulting view.
// When the cache serves stale data the view is updated again once the
// background revalidation lands.
func (c *Consumer) Load(ctx context.Context) View {
	res, err := c.engine.get(ctx, c.route)
	v := c.apply(res, err)
	if err == nil && res.Stale {
		c.follow()
	}
	return v
}

// ForceRefresh fetches a new snapshot regardless of TTL, joining any fetch
// already in flight. On failure the previous snapshot stays in the view,
// marked stale, and the error is returned.
func (c *Consumer) ForceRefresh(ctx context.Context) (View, error) {
	res, err := c.engine.refresh(ctx, c.route)
	if err != nil && res.Value != nil {
		return c.apply(res, nil), err
	}
	return c.apply(res, err), err
}

// RecordEvent forwards ev to the engine's recorder.
func (c *Consumer) RecordEvent(ev models.BehaviorEvent) {
	c.engine.RecordEvent(ev)
}

// apply folds a cache outcome into the view. A snapshot older than the one
// already shown is ignored.
func (c *Consumer) apply(res cache.Result[*models.Snapshot], err error) View {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	switch {
	case err != nil:
		if c.view.Data == nil {
			changed = c.view.Err != err || c.view.Loading
			c.view.Err = err
			c.view.Loading = false
		}
	case res.Value != nil:
		if c.view.Data == nil || !res.Value.FetchedAt.Before(c.view.Data.FetchedAt) {
			changed = c.view.Data != res.Value || c.view.Stale != res.Stale
			c.view.Data = res.Value
			c.view.Stale = res.Stale
		}
		changed = changed || c.view.Err != nil || c.view.Loading
		c.view.Err = nil
		c.view.Loading = false
	}
	if changed {
		c.notify()
	}
	return c.view
}

// follow waits for an in-flight revalidation of the key, at most one
// goroutine per consumer.
func (c *Consumer) follow() {
	c.mu.Lock()
	if c.following {
		c.mu.Unlock()
		return
	}
	c.following = true
	c.mu.Unlock()

	go func() {
		res, ok, err := c.engine.cache.Await(context.Background(), c.route.Key)
		c.mu.Lock()
		c.following = false
		c.mu.Unlock()
		if ok && err == nil {
			c.apply(res, nil)
		}
	}()
}

// idle reports whether nobody subscribes to c and no revalidation is being
// followed.
func (c *Consumer) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs) == 0 && !c.following
}

// notify signals subscribers. c.mu must be held.
func (c *Consumer) notify() {
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
