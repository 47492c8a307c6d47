package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vitrine-media/vitrine/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "articles_test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var published = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store) {
	t.Helper()
	articles := []models.Article{
		{ID: "a1", Title: "Derby tonight", Category: "sports", Tags: []string{"football"}, Date: published.Add(-time.Hour)},
		{ID: "a2", Title: "Cup final", Category: "sports", Tags: []string{"football", "cup"}, Featured: models.FeaturedCover, Date: published.Add(-5 * time.Hour)},
		{ID: "a3", Title: "Vote count", Category: "politics", Tags: []string{"elections"}, Date: published},
		{ID: "a4", Title: "Recap", Category: "sports", Video: true, Images: []string{"s3://media/a4.jpg"}, Featured: models.Featured2, Date: published.Add(-2 * time.Hour)},
	}
	if err := s.UpsertArticles(context.Background(), articles); err != nil {
		t.Fatal(err)
	}
}

func ids(articles []models.Article) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.ID
	}
	return out
}

func TestTopArticlesLayoutOrder(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	got, err := s.TopArticles(context.Background(), models.ArticleQuery{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a2", "a4", "a3", "a1"}
	if g := ids(got); len(g) != len(want) {
		t.Fatalf("expected %v, got %v", want, g)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: want %s, got %s", i, id, got[i].ID)
		}
	}

	a4 := got[1]
	if !a4.Video || len(a4.Images) != 1 || a4.Featured != models.Featured2 {
		t.Errorf("fields not round-tripped: %+v", a4)
	}
	if !got[2].Date.Equal(published) {
		t.Errorf("expected date %v, got %v", published, got[2].Date)
	}
}

func TestTopArticlesFilters(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	sports, err := s.TopArticles(ctx, models.ArticleQuery{Category: "sports", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if g := ids(sports); len(g) != 2 || g[0] != "a2" || g[1] != "a4" {
		t.Errorf("unexpected sports articles %v", g)
	}

	football, err := s.TopArticles(ctx, models.ArticleQuery{Tag: "football"})
	if err != nil {
		t.Fatal(err)
	}
	if g := ids(football); len(g) != 2 || g[0] != "a2" || g[1] != "a1" {
		t.Errorf("unexpected football articles %v", g)
	}

	none, err := s.TopArticles(ctx, models.ArticleQuery{Category: "weather"})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no articles, got %v", ids(none))
	}
}

func TestUpsertReplacesTags(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	err := s.UpsertArticles(ctx, []models.Article{
		{ID: "a1", Title: "Derby postponed", Category: "sports", Tags: []string{"weather"}, Date: published},
	})
	if err != nil {
		t.Fatal(err)
	}

	football, _ := s.TopArticles(ctx, models.ArticleQuery{Tag: "football"})
	if g := ids(football); len(g) != 1 || g[0] != "a2" {
		t.Errorf("stale tag still matches: %v", g)
	}
	weather, _ := s.TopArticles(ctx, models.ArticleQuery{Tag: "weather"})
	if len(weather) != 1 || weather[0].Title != "Derby postponed" {
		t.Errorf("unexpected weather articles %+v", weather)
	}
}

func TestUpsertRejectsMissingID(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertArticles(context.Background(), []models.Article{{Title: "nameless"}}); err == nil {
		t.Fatal("expected error for article without id")
	}
	st, _ := s.Stats(context.Background())
	if st.Articles != 0 {
		t.Errorf("failed upsert should roll back, got %d articles", st.Articles)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	_, _ = s.TopArticles(ctx, models.ArticleQuery{})
	_, _ = s.TopArticles(ctx, models.ArticleQuery{Tag: "cup"})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Articles != 4 || st.Categories != 2 || st.Tags != 3 {
		t.Errorf("unexpected counts %+v", st)
	}
	if st.Queries != 2 || st.Errors != 0 {
		t.Errorf("unexpected counters %+v", st)
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	if err := s.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}

	st, _ := s.Stats(context.Background())
	if st.Articles != 0 || st.Tags != 0 {
		t.Errorf("expected empty store after clear, got %+v", st)
	}
}
