package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vitrine-media/vitrine/pkg/delivery"
	"github.com/vitrine-media/vitrine/pkg/models"
)

func newSnapshotCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot [key]",
		Short: "Assemble and print the snapshot for a key (default: top)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			key := "top"
			if len(args) == 1 {
				key = args[0]
			}

			ctx := context.Background()
			b, err := openBackends(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			engine, err := delivery.New(cfg, b.Sources(), delivery.WithLogger(log.New(os.Stderr, "", 0)))
			if err != nil {
				return err
			}
			defer engine.Close()

			res, err := engine.Snapshot(ctx, key)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Value)
			}
			return printSnapshot(os.Stdout, res.Value)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "vitrine.yaml", "path to config file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func printSnapshot(out io.Writer, s *models.Snapshot) error {
	fmt.Fprintf(out, "Key:     %s\nFetched: %s\n\n", s.Key, s.FetchedAt.Format("2006-01-02T15:04:05"))
	if len(s.Articles) == 0 {
		fmt.Fprintln(out, "No articles.")
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tFEATURED\tDATE\tCATEGORY\tTITLE")
		for i, a := range s.Articles {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				i+1, a.Featured, a.Date.Format("2006-01-02 15:04"), a.Category, a.Title)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(s.AdSlots) > 0 {
		placements := make([]string, 0, len(s.AdSlots))
		for p := range s.AdSlots {
			placements = append(placements, p)
		}
		sort.Strings(placements)
		fmt.Fprintln(out)
		for _, p := range placements {
			fmt.Fprintf(out, "Ads %s: %d\n", p, len(s.AdSlots[p]))
		}
	}

	if s.Auxiliary != nil {
		codes := make([]string, 0, len(s.Auxiliary.Values))
		for c := range s.Auxiliary.Values {
			codes = append(codes, c)
		}
		sort.Strings(codes)
		parts := make([]string, len(codes))
		for i, c := range codes {
			parts[i] = fmt.Sprintf("%s %.4f", c, s.Auxiliary.Values[c])
		}
		fmt.Fprintf(out, "\nRates (%s): %s\n", s.Auxiliary.Base, strings.Join(parts, ", "))
	}
	return nil
}
