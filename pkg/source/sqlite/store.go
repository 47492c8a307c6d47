// Package sqlite is an article source backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vitrine-media/vitrine/pkg/models"
)

// Store holds articles and answers the queries snapshots are built from.
type Store struct {
	db      *sql.DB
	queries atomic.Int64
	errors  atomic.Int64
}

// Stats describes the store's contents and usage.
type Stats struct {
	Articles   int64 `json:"articles"`
	Categories int64 `json:"categories"`
	Tags       int64 `json:"tags"`
	Queries    int64 `json:"queries"`
	Errors     int64 `json:"errors"`
}

const createArticleTables = `
CREATE TABLE IF NOT EXISTS articles (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	subtitle TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	featured TEXT NOT NULL DEFAULT 'none',
	video INTEGER NOT NULL DEFAULT 0,
	images TEXT NOT NULL DEFAULT '[]',
	tags TEXT NOT NULL DEFAULT '[]',
	published_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_category ON articles(category);
CREATE TABLE IF NOT EXISTS article_tags (
	article_id TEXT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
	tag TEXT NOT NULL,
	PRIMARY KEY (article_id, tag)
);
CREATE INDEX IF NOT EXISTS idx_article_tags_tag ON article_tags(tag);
`

// Layout order: cover, featured1-3, then everything else, newest first.
const selectArticles = `
SELECT a.id, a.title, a.subtitle, a.author, a.category, a.featured, a.video, a.images, a.tags, a.published_at
FROM articles a
WHERE (? = '' OR a.category = ?)
  AND (? = '' OR EXISTS (SELECT 1 FROM article_tags t WHERE t.article_id = a.id AND t.tag = ?))
ORDER BY CASE a.featured
	WHEN 'cover' THEN 0
	WHEN 'featured1' THEN 1
	WHEN 'featured2' THEN 2
	WHEN 'featured3' THEN 3
	ELSE 4 END,
	a.published_at DESC
LIMIT ?`

// New opens (creating if needed) the article database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open article db: %w", err)
	}

	if _, err := db.Exec(createArticleTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate article db: %w", err)
	}

	return &Store{db: db}, nil
}

// TopArticles returns the articles matching q in layout order. A zero limit
// returns every match.
func (s *Store) TopArticles(ctx context.Context, q models.ArticleQuery) ([]models.Article, error) {
	s.queries.Add(1)
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, selectArticles, q.Category, q.Category, q.Tag, q.Tag, limit)
	if err != nil {
		s.errors.Add(1)
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var out []models.Article
	for rows.Next() {
		var (
			a            models.Article
			featured     string
			video        int
			images, tags string
			published    int64
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.Subtitle, &a.Author, &a.Category, &featured, &video, &images, &tags, &published); err != nil {
			s.errors.Add(1)
			return nil, fmt.Errorf("scan article: %w", err)
		}
		a.Date = time.Unix(0, published).UTC()
		a.Featured = models.FeaturedType(featured)
		a.Video = video != 0
		if err := json.Unmarshal([]byte(images), &a.Images); err != nil {
			s.errors.Add(1)
			return nil, fmt.Errorf("decode images of %s: %w", a.ID, err)
		}
		if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
			s.errors.Add(1)
			return nil, fmt.Errorf("decode tags of %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		s.errors.Add(1)
		return nil, fmt.Errorf("read articles: %w", err)
	}
	return out, nil
}

// UpsertArticles inserts or replaces articles in a single transaction.
func (s *Store) UpsertArticles(ctx context.Context, articles []models.Article) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, a := range articles {
		if a.ID == "" {
			return fmt.Errorf("article %q has no id", a.Title)
		}
		featured := a.Featured
		if featured == "" {
			featured = models.FeaturedNone
		}
		date := a.Date
		if date.IsZero() {
			date = time.Now()
		}
		images, err := json.Marshal(nonNil(a.Images))
		if err != nil {
			return fmt.Errorf("encode images of %s: %w", a.ID, err)
		}
		tags, err := json.Marshal(nonNil(a.Tags))
		if err != nil {
			return fmt.Errorf("encode tags of %s: %w", a.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO articles (id, title, subtitle, author, category, featured, video, images, tags, published_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Title, a.Subtitle, a.Author, a.Category, string(featured), a.Video, string(images), string(tags), date.UnixNano(),
		); err != nil {
			return fmt.Errorf("upsert article %s: %w", a.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM article_tags WHERE article_id = ?`, a.ID); err != nil {
			return fmt.Errorf("reset tags of %s: %w", a.ID, err)
		}
		for _, tag := range a.Tags {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO article_tags (article_id, tag) VALUES (?, ?)`, a.ID, tag,
			); err != nil {
				return fmt.Errorf("tag article %s: %w", a.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Stats returns content counts and query counters.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Queries: s.queries.Load(), Errors: s.errors.Load()}
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM articles),
			(SELECT COUNT(DISTINCT category) FROM articles WHERE category != ''),
			(SELECT COUNT(DISTINCT tag) FROM article_tags)`,
	).Scan(&st.Articles, &st.Categories, &st.Tags)
	if err != nil {
		return Stats{}, fmt.Errorf("article stats: %w", err)
	}
	return st, nil
}

// Clear removes every article.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM article_tags; DELETE FROM articles;`); err != nil {
		return fmt.Errorf("clear articles: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
