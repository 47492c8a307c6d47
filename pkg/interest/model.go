// Package interest keeps a decayed per-topic engagement score built from
// behavior events and ranks topics for prefetching.
package interest

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/vitrine-media/vitrine/pkg/metrics"
	"github.com/vitrine-media/vitrine/pkg/models"
)

const (
	// DefaultHalfLife is the time after which an untouched score halves.
	DefaultHalfLife = 5 * time.Minute
	// DefaultPruneBelow is the score under which a topic is forgotten.
	DefaultPruneBelow = 0.01
)

// Weights sets how much each event kind contributes.
type Weights struct {
	Visit      float64       `yaml:"visit"`
	Scroll     float64       `yaml:"scroll"`
	Reading    float64       `yaml:"reading"`
	ReadingCap time.Duration `yaml:"reading_cap"`
}

// DefaultWeights makes explicit navigation the strongest signal; a full-page
// scroll or a capped read add less.
func DefaultWeights() Weights {
	return Weights{
		Visit:      10,
		Scroll:     4,
		Reading:    8,
		ReadingCap: 2 * time.Minute,
	}
}

type score struct {
	value     float64
	updatedAt time.Time
}

// Model is safe for concurrent use.
type Model struct {
	mu        sync.Mutex
	scores    map[string]*score
	active    string
	lastDecay time.Time

	halfLife   time.Duration
	weights    Weights
	pruneBelow float64
	now        func() time.Time
	metrics    *metrics.Metrics
}

// Option configures a Model.
type Option func(*Model)

// WithHalfLife sets the decay half-life.
func WithHalfLife(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.halfLife = d
		}
	}
}

// WithWeights replaces the default event weights.
func WithWeights(w Weights) Option {
	return func(m *Model) { m.weights = w }
}

// WithPruneBelow sets the pruning threshold.
func WithPruneBelow(v float64) Option {
	return func(m *Model) {
		if v > 0 {
			m.pruneBelow = v
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Model) { m.metrics = mt }
}

// New creates an empty Model.
func New(opts ...Option) *Model {
	m := &Model{
		scores:     make(map[string]*score),
		halfLife:   DefaultHalfLife,
		weights:    DefaultWeights(),
		pruneBelow: DefaultPruneBelow,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.weights.ReadingCap <= 0 {
		m.weights.ReadingCap = DefaultWeights().ReadingCap
	}
	return m
}

// Update applies one event. Scroll depth and reading time are credited to the
// most recently visited topic. It reports whether any score changed; events
// without a usable topic are ignored.
func (m *Model) Update(ev models.BehaviorEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	at := ev.At
	if at.IsZero() {
		at = m.now()
	}
	if at.Before(m.lastDecay) {
		at = m.lastDecay
	}

	var topic string
	var weight float64
	switch ev.Kind {
	case models.EventVisitCategory, models.EventVisitTag:
		topic = ev.TopicKey()
		weight = m.weights.Visit
	case models.EventScroll:
		topic = m.active
		weight = clamp(ev.DepthPercent, 0, 100) / 100 * m.weights.Scroll
	case models.EventReadingTime:
		topic = m.active
		d := ev.Duration
		if d > m.weights.ReadingCap {
			d = m.weights.ReadingCap
		}
		if d < 0 {
			d = 0
		}
		weight = float64(d) / float64(m.weights.ReadingCap) * m.weights.Reading
	}
	if topic == "" || weight <= 0 || math.IsNaN(weight) {
		return false
	}

	m.decayTo(at)
	s, ok := m.scores[topic]
	if !ok {
		s = &score{}
		m.scores[topic] = s
	}
	s.value += weight
	s.updatedAt = at
	if ev.Kind == models.EventVisitCategory || ev.Kind == models.EventVisitTag {
		m.active = topic
	}
	m.metrics.Topics(len(m.scores))
	return true
}

// TopScores returns up to limit topics by descending decayed score. Equal
// scores favor the most recently updated topic.
func (m *Model) TopScores(limit int) []models.PrefetchTarget {
	m.mu.Lock()
	factor := m.factor(m.now())
	out := make([]models.PrefetchTarget, 0, len(m.scores))
	for topic, s := range m.scores {
		v := s.value * factor
		if v < m.pruneBelow {
			continue
		}
		out = append(out, models.PrefetchTarget{Topic: topic, Score: v, UpdatedAt: s.updatedAt})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Topic < out[j].Topic
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Score returns the current decayed score for topic, or 0.
func (m *Model) Score(topic string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[topic]
	if !ok {
		return 0
	}
	return s.value * m.factor(m.now())
}

// Active returns the topic scroll and reading events are credited to.
func (m *Model) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Len returns the number of tracked topics.
func (m *Model) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scores)
}

// factor is the multiplicative decay from the last decay point to t.
// m.mu must be held.
func (m *Model) factor(t time.Time) float64 {
	if m.lastDecay.IsZero() || !t.After(m.lastDecay) {
		return 1
	}
	return math.Pow(0.5, float64(t.Sub(m.lastDecay))/float64(m.halfLife))
}

// decayTo folds elapsed decay into every score and prunes negligible ones.
// m.mu must be held.
func (m *Model) decayTo(t time.Time) {
	f := m.factor(t)
	m.lastDecay = t
	if f == 1 {
		return
	}
	for topic, s := range m.scores {
		s.value *= f
		if s.value < m.pruneBelow {
			delete(m.scores, topic)
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
