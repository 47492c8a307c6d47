package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/vitrine-media/vitrine/pkg/config"
	"github.com/vitrine-media/vitrine/pkg/delivery"
	"github.com/vitrine-media/vitrine/pkg/source/rates"
	redisads "github.com/vitrine-media/vitrine/pkg/source/redis"
	"github.com/vitrine-media/vitrine/pkg/source/sqlite"
)

// loadConfig reads path. A missing file is only an error when the user named
// it explicitly; otherwise the defaults apply.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// backends holds the opened collaborators so they can be closed together.
type backends struct {
	articles *sqlite.Store
	ads      *redisads.AdStore
	rates    *rates.Client
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init article store: %w", err)
	}
	b := &backends{articles: store}

	if cfg.Sources.Ads.Enabled {
		a := cfg.Sources.Ads
		client, err := redisads.Connect(ctx, a.Addr, a.Password, a.DB, cfg.Sources.Timeout)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("init ad store: %w", err)
		}
		b.ads = redisads.New(client, a.Prefix)
	}
	if cfg.Sources.Rates.Enabled {
		b.rates = rates.New(cfg.Sources.Rates.URL)
	}
	return b, nil
}

// Sources adapts the opened backends for the engine. Disabled backends stay
// nil interfaces rather than typed nils.
func (b *backends) Sources() delivery.Sources {
	src := delivery.Sources{Articles: b.articles}
	if b.ads != nil {
		src.Ads = b.ads
	}
	if b.rates != nil {
		src.Aux = b.rates
	}
	return src
}

func (b *backends) Close() {
	if b.ads != nil {
		_ = b.ads.Close()
	}
	_ = b.articles.Close()
}
