package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vitrine-media/vitrine/pkg/models"
)

// seedFile is the YAML layout accepted by `vitrine seed`.
type seedFile struct {
	Articles []models.Article                  `yaml:"articles"`
	Ads      map[string][]models.Advertisement `yaml:"ads"`
}

func readSeedFile(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &sf, nil
}

func newSeedCmd() *cobra.Command {
	var (
		configPath string
		replace    bool
	)

	cmd := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load articles and ad slots from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			sf, err := readSeedFile(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			b, err := openBackends(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			if replace {
				if err := b.articles.Clear(ctx); err != nil {
					return err
				}
			}
			if err := b.articles.UpsertArticles(ctx, sf.Articles); err != nil {
				return err
			}
			fmt.Printf("Articles: %d\n", len(sf.Articles))

			if len(sf.Ads) == 0 {
				return nil
			}
			if b.ads == nil {
				fmt.Println("Ad slots skipped: sources.ads is disabled.")
				return nil
			}
			placements := make([]string, 0, len(sf.Ads))
			for p := range sf.Ads {
				placements = append(placements, p)
			}
			sort.Strings(placements)
			for _, p := range placements {
				if err := b.ads.SetSlot(ctx, p, sf.Ads[p]); err != nil {
					return err
				}
				fmt.Printf("Ad slot %s: %d\n", p, len(sf.Ads[p]))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "vitrine.yaml", "path to config file")
	cmd.Flags().BoolVar(&replace, "replace", false, "remove existing articles first")
	return cmd
}
