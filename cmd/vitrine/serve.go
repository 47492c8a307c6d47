package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vitrine-media/vitrine/pkg/delivery"
	"github.com/vitrine-media/vitrine/pkg/metrics"
	"github.com/vitrine-media/vitrine/pkg/server"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the delivery API with background prefetching",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := openBackends(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			engine, err := delivery.New(cfg, b.Sources(), delivery.WithMetrics(metrics.New(reg)))
			if err != nil {
				return err
			}
			engine.Start(ctx)
			defer engine.Close()

			srv := server.New(cfg, engine, server.WithGatherer(reg))
			log.Printf("starting vitrine with config: %s", configPath)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "vitrine.yaml", "path to config file")
	return cmd
}
