package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitrine-media/vitrine/pkg/source/sqlite"
)

func newStoreCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect the article store",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show article store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			s, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			stats, err := s.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Articles:   %d\nCategories: %d\nTags:       %d\n", stats.Articles, stats.Categories, stats.Tags)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every article",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			s, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if err := s.Clear(context.Background()); err != nil {
				return err
			}
			fmt.Println("All articles cleared.")
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "vitrine.yaml", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
