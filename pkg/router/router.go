package router

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vitrine-media/vitrine/pkg/config"
	"github.com/vitrine-media/vitrine/pkg/models"
)

// ErrUnknownKey is returned for keys that name no article query.
var ErrUnknownKey = errors.New("unknown snapshot key")

// TopKey is the site-wide top list.
const TopKey = "top"

// Route is a resolved cache key: the query the loader runs and the TTL its
// snapshot is cached for.
type Route struct {
	Key   string
	Query models.ArticleQuery
	TTL   time.Duration
}

// Router resolves snapshot keys and interest topics to article queries.
type Router struct {
	cfg     *config.Config
	aliases map[string]config.RouteConfig
}

// New creates a Router from the given configuration.
func New(cfg *config.Config) *Router {
	aliases := make(map[string]config.RouteConfig, len(cfg.Routes))
	for _, r := range cfg.Routes {
		aliases[r.Key] = r
	}
	return &Router{cfg: cfg, aliases: aliases}
}

// Resolve returns the route for key. Recognized shapes are "top",
// "category:<name>", "tag:<name>" and any key configured under routes.
// A configured route for a built-in shape overrides its limit and TTL.
func (r *Router) Resolve(key string) (Route, error) {
	route := Route{
		Key:   key,
		Query: models.ArticleQuery{Limit: r.cfg.Sources.Articles.Limit},
		TTL:   r.cfg.Cache.TTL,
	}

	alias, aliased := r.aliases[key]
	switch {
	case aliased && (alias.Category != "" || alias.Tag != ""):
		route.Query.Category = alias.Category
		route.Query.Tag = alias.Tag
	default:
		q, err := parse(key)
		if err != nil && !aliased {
			return Route{}, err
		}
		// An alias without a category or tag is the top list.
		route.Query.Category = q.Category
		route.Query.Tag = q.Tag
	}

	if aliased {
		if alias.Limit > 0 {
			route.Query.Limit = alias.Limit
		}
		if alias.TTL > 0 {
			route.TTL = alias.TTL
		}
	}
	return route, nil
}

// Keys lists the configured route keys in configuration order.
func (r *Router) Keys() []string {
	keys := make([]string, 0, len(r.cfg.Routes))
	for _, rc := range r.cfg.Routes {
		keys = append(keys, rc.Key)
	}
	return keys
}

func parse(key string) (models.ArticleQuery, error) {
	if key == TopKey {
		return models.ArticleQuery{}, nil
	}
	kind, name, ok := strings.Cut(key, ":")
	if !ok || name == "" {
		return models.ArticleQuery{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	switch kind {
	case "category":
		return models.ArticleQuery{Category: name}, nil
	case "tag":
		return models.ArticleQuery{Tag: name}, nil
	}
	return models.ArticleQuery{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
}
