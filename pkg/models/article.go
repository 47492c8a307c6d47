package models

import "time"

// FeaturedType is the layout-priority discriminant of an article.
type FeaturedType string

const (
	FeaturedCover FeaturedType = "cover"
	Featured1     FeaturedType = "featured1"
	Featured2     FeaturedType = "featured2"
	Featured3     FeaturedType = "featured3"
	FeaturedNone  FeaturedType = "none"
)

// Rank orders featured types for layout: cover first, none (and anything
// unrecognized) last.
func (f FeaturedType) Rank() int {
	switch f {
	case FeaturedCover:
		return 0
	case Featured1:
		return 1
	case Featured2:
		return 2
	case Featured3:
		return 3
	default:
		return 4
	}
}

// Article is a single piece of content as returned by the article source.
type Article struct {
	ID       string       `json:"id" yaml:"id"`
	Title    string       `json:"title" yaml:"title"`
	Subtitle string       `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
	Images   []string     `json:"images,omitempty" yaml:"images,omitempty"`
	Date     time.Time    `json:"date" yaml:"date"`
	Author   string       `json:"author,omitempty" yaml:"author,omitempty"`
	Category string       `json:"category,omitempty" yaml:"category,omitempty"`
	Tags     []string     `json:"tags,omitempty" yaml:"tags,omitempty"`
	Video    bool         `json:"video,omitempty" yaml:"video,omitempty"`
	Featured FeaturedType `json:"featured_type" yaml:"featured_type"`
}

// ArticleQuery describes the shape of an article fetch. An empty Category and
// Tag means the site-wide top list.
type ArticleQuery struct {
	Limit    int    `json:"limit"`
	Category string `json:"category,omitempty"`
	Tag      string `json:"tag,omitempty"`
}

// Advertisement is a single ad creative reference bound to a placement.
type Advertisement struct {
	ID        string `json:"id" yaml:"id"`
	Placement string `json:"placement" yaml:"placement"`
	ImageURL  string `json:"image_url" yaml:"image_url"`
	TargetURL string `json:"target_url" yaml:"target_url"`
	Weight    int    `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// Rates is the auxiliary currency widget payload.
type Rates struct {
	Base      string             `json:"base"`
	Values    map[string]float64 `json:"rates"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// Stamp returns the time the rates were retrieved.
func (r *Rates) Stamp() time.Time { return r.FetchedAt }
