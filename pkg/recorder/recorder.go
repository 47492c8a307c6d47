// Package recorder accepts behavior events from the rendering layer, keeps a
// bounded history of them and forwards each one to the interest model.
package recorder

import (
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vitrine-media/vitrine/pkg/metrics"
	"github.com/vitrine-media/vitrine/pkg/models"
)

// DefaultSize is the number of events kept in history.
const DefaultSize = 256

// Sink consumes recorded events in order. It reports whether the event
// changed anything worth reacting to.
type Sink interface {
	Update(ev models.BehaviorEvent) bool
}

// EventRecorder is the entry point the rendering layer reports to.
type EventRecorder interface {
	Record(ev models.BehaviorEvent)
}

// Recorder is a fixed-size ring of recent events. Record never blocks on
// consumers and never fails; malformed events are counted and discarded.
type Recorder struct {
	mu   sync.Mutex
	buf  []models.BehaviorEvent
	next int
	full bool
	subs []chan struct{}

	sink    Sink
	now     func() time.Time
	logger  *log.Logger
	metrics *metrics.Metrics

	accepted atomic.Int64
	dropped  atomic.Int64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithLogger sets the logger for discarded events.
func WithLogger(l *log.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// New creates a Recorder holding the last size events. sink may be nil.
func New(size int, sink Sink, opts ...Option) *Recorder {
	if size <= 0 {
		size = DefaultSize
	}
	r := &Recorder{
		buf:    make([]models.BehaviorEvent, size),
		sink:   sink,
		now:    time.Now,
		logger: log.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record timestamps ev, appends it to the history and hands it to the sink.
// Subscribers are notified when the sink reports a change.
func (r *Recorder) Record(ev models.BehaviorEvent) {
	if !valid(ev) {
		r.dropped.Add(1)
		r.metrics.Dropped()
		r.logger.Printf("recorder: dropped malformed %q event", ev.Kind)
		return
	}

	r.mu.Lock()
	ev.At = r.now()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	changed := r.forward(ev)
	var subs []chan struct{}
	if changed {
		subs = r.subs
	}
	r.mu.Unlock()

	r.accepted.Add(1)
	r.metrics.Event(string(ev.Kind))
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// forward passes ev to the sink, swallowing any panic. r.mu must be held so
// that the sink sees events in recording order.
func (r *Recorder) forward(ev models.BehaviorEvent) (changed bool) {
	if r.sink == nil {
		return false
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Printf("recorder: sink panicked on %q event: %v", ev.Kind, p)
			changed = false
		}
	}()
	return r.sink.Update(ev)
}

// Subscribe returns a channel that receives a signal after events that
// changed the sink. Signals coalesce: a slow reader sees at most one pending.
func (r *Recorder) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

// Recent returns up to n of the most recent events, oldest first. n <= 0
// returns the whole history.
func (r *Recorder) Recent(n int) []models.BehaviorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]models.BehaviorEvent, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := range n {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Len returns the number of events currently held.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Accepted returns the number of events recorded since creation.
func (r *Recorder) Accepted() int64 { return r.accepted.Load() }

// Dropped returns the number of malformed events discarded.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func valid(ev models.BehaviorEvent) bool {
	switch ev.Kind {
	case models.EventVisitCategory, models.EventVisitTag:
		return true
	case models.EventScroll:
		return !math.IsNaN(ev.DepthPercent) && ev.DepthPercent >= 0
	case models.EventReadingTime:
		return ev.Duration >= 0
	}
	return false
}
