package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/vitrine-media/vitrine/pkg/models"
)

// DefaultSampleInterval is how often a ScrollSampler emits.
const DefaultSampleInterval = time.Second

// ScrollSampler turns a raw stream of scroll positions into at most one
// scroll event per interval, carrying the deepest position seen.
type ScrollSampler struct {
	rec      EventRecorder
	interval time.Duration

	mu      sync.Mutex
	pending bool
	depth   float64
}

// NewScrollSampler creates a sampler that reports to rec.
func NewScrollSampler(rec EventRecorder, interval time.Duration) *ScrollSampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &ScrollSampler{rec: rec, interval: interval}
}

// Observe notes a scroll position in percent. It is cheap and may be called
// for every raw scroll callback.
func (s *ScrollSampler) Observe(depthPercent float64) {
	s.mu.Lock()
	if !s.pending || depthPercent > s.depth {
		s.depth = depthPercent
	}
	s.pending = true
	s.mu.Unlock()
}

// Flush emits the pending sample, if any, and reports whether it did.
func (s *ScrollSampler) Flush() bool {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return false
	}
	depth := s.depth
	s.pending = false
	s.depth = 0
	s.mu.Unlock()

	s.rec.Record(models.Scroll(depth))
	return true
}

// Run flushes every interval until ctx is done, then flushes once more.
func (s *ScrollSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}
