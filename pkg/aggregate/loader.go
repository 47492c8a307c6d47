// Package aggregate assembles snapshots from the article, advertisement and
// auxiliary sources.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vitrine-media/vitrine/pkg/cache"
	"github.com/vitrine-media/vitrine/pkg/media"
	"github.com/vitrine-media/vitrine/pkg/models"
)

// ErrArticles wraps a failure of the article source. Without articles there
// is no snapshot.
var ErrArticles = errors.New("article source failed")

const (
	// DefaultLimit is the number of articles kept when a query sets none.
	DefaultLimit = 15
	// DefaultSourceTimeout bounds each sub-fetch.
	DefaultSourceTimeout = 5 * time.Second
	// DefaultAuxTTL is how long auxiliary data is reused across snapshots.
	DefaultAuxTTL = 10 * time.Minute
)

const auxKey = "rates"

// ArticleSource returns articles matching a query. Order is not significant.
type ArticleSource interface {
	TopArticles(ctx context.Context, q models.ArticleQuery) ([]models.Article, error)
}

// AdSource returns the current advertisements grouped by placement.
type AdSource interface {
	AdSlots(ctx context.Context) (map[string][]models.Advertisement, error)
}

// AuxSource returns the auxiliary rate widget payload.
type AuxSource interface {
	Rates(ctx context.Context) (*models.Rates, error)
}

// Loader fetches the parts of a snapshot in parallel. Only the article source
// is required; ad and auxiliary failures degrade to empty parts.
type Loader struct {
	articles ArticleSource
	ads      AdSource
	aux      AuxSource
	auxCache *cache.Cache[*models.Rates]

	sourceTimeout time.Duration
	auxTTL        time.Duration
	now           func() time.Time
	logger        *log.Logger
	rewriter      *media.Rewriter
}

// Option configures a Loader.
type Option func(*Loader)

// WithAds adds an advertisement source.
func WithAds(s AdSource) Option {
	return func(l *Loader) { l.ads = s }
}

// WithAux adds an auxiliary source, cached for ttl independently of the
// snapshots that embed it.
func WithAux(s AuxSource, ttl time.Duration) Option {
	return func(l *Loader) {
		l.aux = s
		if ttl > 0 {
			l.auxTTL = ttl
		}
	}
}

// WithSourceTimeout bounds each sub-fetch.
func WithSourceTimeout(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.sourceTimeout = d
		}
	}
}

// WithClock replaces time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// WithLogger sets the logger for degraded sub-fetches.
func WithLogger(lg *log.Logger) Option {
	return func(l *Loader) { l.logger = lg }
}

// WithRewriter rewrites article image references as snapshots are built.
func WithRewriter(r *media.Rewriter) Option {
	return func(l *Loader) { l.rewriter = r }
}

// NewLoader creates a Loader around the required article source.
func NewLoader(articles ArticleSource, opts ...Option) *Loader {
	l := &Loader{
		articles:      articles,
		sourceTimeout: DefaultSourceTimeout,
		auxTTL:        DefaultAuxTTL,
		now:           time.Now,
		logger:        log.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.aux != nil {
		l.auxCache = cache.New[*models.Rates](l.auxTTL,
			cache.WithClock(l.now),
			cache.WithLogger(l.logger),
			cache.WithFetchTimeout(l.sourceTimeout),
		)
	}
	return l
}

// Func binds key and q into a cache loader.
func (l *Loader) Func(key string, q models.ArticleQuery) cache.LoadFunc[*models.Snapshot] {
	return func(ctx context.Context) (*models.Snapshot, error) {
		return l.Load(ctx, key, q)
	}
}

// Load builds the snapshot for key. FetchedAt is taken once all parts have
// arrived.
func (l *Loader) Load(ctx context.Context, key string, q models.ArticleQuery) (*models.Snapshot, error) {
	var (
		articles []models.Article
		ads      map[string][]models.Advertisement
		rates    *models.Rates
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sctx, cancel := context.WithTimeout(gctx, l.sourceTimeout)
		defer cancel()
		a, err := l.articles.TopArticles(sctx, q)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrArticles, err)
		}
		articles = a
		return nil
	})
	if l.ads != nil {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, l.sourceTimeout)
			defer cancel()
			a, err := l.ads.AdSlots(sctx)
			if err != nil {
				l.logger.Printf("aggregate: ad source for %q: %v", key, err)
				return nil
			}
			ads = a
			return nil
		})
	}
	if l.auxCache != nil {
		g.Go(func() error {
			res, err := l.auxCache.Get(gctx, auxKey, l.aux.Rates)
			if err != nil {
				l.logger.Printf("aggregate: auxiliary source for %q: %v", key, err)
				return nil
			}
			rates = res.Value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if ads == nil {
		ads = map[string][]models.Advertisement{}
	}
	return &models.Snapshot{
		Key:       key,
		FetchedAt: l.now(),
		Articles:  l.arrange(articles, q.Limit),
		AdSlots:   ads,
		Auxiliary: rates,
	}, nil
}

// arrange drops duplicate IDs (first wins), orders by featured rank then
// newest first, keeps source order among equals and truncates to limit.
func (l *Loader) arrange(in []models.Article, limit int) []models.Article {
	if limit <= 0 {
		limit = DefaultLimit
	}
	seen := make(map[string]bool, len(in))
	out := make([]models.Article, 0, len(in))
	for _, a := range in {
		if a.ID != "" {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
		}
		out = append(out, l.rewriter.RewriteArticle(a))
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Featured.Rank(), out[j].Featured.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Date.After(out[j].Date)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
