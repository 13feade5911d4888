package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"zvote/api"
	"zvote/internal/config"
	"zvote/internal/node"
)

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the voting HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveRun(cmd, configFrom(cmd), false)
		},
	}
	cmd.Flags().String("bind", "", "API listen address (overrides config)")
	return cmd
}

func devnetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devnet",
		Short: "Run an in-process ledger and relayer together with the API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			cfg.Ledger = config.LedgerDevnet
			return serveRun(cmd, cfg, true)
		},
	}
	cmd.Flags().String("bind", "", "API listen address (overrides config)")
	return cmd
}

func serveRun(cmd *cobra.Command, cfg *config.Config, withRelayer bool) error {
	logger := commonRun(cfg)
	if bind, _ := cmd.Flags().GetString("bind"); bind != "" {
		cfg.BindAddr = bind
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	n, err := node.New(ctx, cfg, logger, registry)
	if err != nil {
		return err
	}
	defer n.Close()
	if n.Wallet != nil {
		logger.Info("account loaded", "component", programName, "address", n.Wallet.Address().Hex())
	}

	var opts []api.ServerOptionFunc
	opts = append(opts, api.WithLogger(logger))
	if cfg.MetricsEnabled {
		opts = append(opts, api.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	if withRelayer {
		opts = append(opts, api.WithRoute("/v1/", n.RelayerHandler()))
		logger.Info("devnet relayer mounted", "component", programName, "addr", cfg.BindAddr, "chain_id", cfg.ChainID)
	}
	server := api.NewServer(n.Service, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Start(gctx, cfg.BindAddr, cfg.ShutdownTimeout)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func configFrom(cmd *cobra.Command) *config.Config {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return config.Default()
	}
	return cfg
}
