package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/d2dlab/nearbridge/internal/banner"
	"github.com/d2dlab/nearbridge/internal/bridge/api"
	"github.com/d2dlab/nearbridge/internal/bridge/config"
	"github.com/d2dlab/nearbridge/internal/bridge/events"
	"github.com/d2dlab/nearbridge/internal/bridge/metrics"
	"github.com/d2dlab/nearbridge/internal/bridge/provider"
	"github.com/d2dlab/nearbridge/internal/bridge/service"
	"github.com/d2dlab/nearbridge/internal/bridge/session"
	"github.com/d2dlab/nearbridge/internal/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	outputs := []io.Writer{os.Stdout}
	if cfg.LogFile != "" {
		outputs = append(outputs, logger.NewRotatingWriter(cfg.LogFile))
	}
	logger.InitLogger(outputs...)
	logger.SetLevel(cfg.LogLevel)

	natsMode := "disabled"
	if cfg.NATSURL != "" {
		natsMode = cfg.NATSURL
	}
	banner.Print("Nearbridge Connectivity Bridge", []banner.ConfigLine{
		{Label: "API", Value: cfg.APIAddr},
		{Label: "Node", Value: cfg.NodeID},
		{Label: "Staging", Value: cfg.StagingDir},
		{Label: "NATS", Value: natsMode},
		{Label: "Log level", Value: cfg.LogLevel},
	})

	// Event publishing: the in-process bus always feeds the API stream,
	// NATS mirrors events to external collectors when configured.
	bus := events.NewBus()
	defer bus.Close()

	pub := events.Publisher(bus)
	if cfg.NATSURL != "" {
		natsCfg := events.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.StreamName = cfg.NATSStream

		natsPub, err := events.NewNATSPublisher(natsCfg, slog.Default())
		if err != nil {
			slog.Error("Failed to connect to NATS", "url", cfg.NATSURL, "error", err)
			os.Exit(1)
		}
		defer natsPub.Close()
		pub = events.NewMultiPublisher(bus, natsPub)
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	pub = metrics.NewInstrumentedPublisher(pub, m)

	network := provider.NewNetwork(cfg.StagingDir)
	defer network.Close()

	builder := events.NewBuilder(cfg.NodeID)
	sessions := session.NewManager(builder, pub, slog.Default())
	bridge := service.New(network.Node(cfg.NodeID), sessions, builder, pub, m, slog.Default(), cfg.StagingDir)

	srv := api.NewServer(cfg.APIAddr, bridge, bus, registry, slog.Default())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down", "reason", context.Cause(ctx))
		return srv.Stop()
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	sessions.CloseAll()
	slog.Info("Nearbridge stopped")
}
