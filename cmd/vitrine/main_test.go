package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vitrine-media/vitrine/pkg/models"
)

func TestReadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := `
articles:
  - id: a1
    title: Cup final
    category: sports
    tags: [football, cup]
    featured_type: cover
    date: 2026-03-01T09:00:00Z
ads:
  header:
    - id: h1
      image_url: https://cdn.example.com/h1.png
      target_url: https://shop.example.com
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	sf, err := readSeedFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(sf.Articles) != 1 || sf.Articles[0].Featured != models.FeaturedCover || len(sf.Articles[0].Tags) != 2 {
		t.Errorf("unexpected articles %+v", sf.Articles)
	}
	if !sf.Articles[0].Date.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected date %v", sf.Articles[0].Date)
	}
	if len(sf.Ads["header"]) != 1 || sf.Ads["header"][0].ID != "h1" {
		t.Errorf("unexpected ads %+v", sf.Ads)
	}
}

func TestPrintSnapshot(t *testing.T) {
	s := &models.Snapshot{
		Key:       "top",
		FetchedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Articles: []models.Article{
			{ID: "a1", Title: "Cup final", Category: "sports", Featured: models.FeaturedCover},
		},
		AdSlots:   map[string][]models.Advertisement{"header": {{ID: "h1"}}},
		Auxiliary: &models.Rates{Base: "EUR", Values: map[string]float64{"USD": 1.08}},
	}

	var buf bytes.Buffer
	if err := printSnapshot(&buf, s); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Key:     top", "Cup final", "cover", "Ads header: 1", "Rates (EUR): USD 1.0800"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
