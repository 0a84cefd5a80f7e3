package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"escrowchain/config"
	"escrowchain/network"
	"escrowchain/observability/logging"
	"escrowchain/observability/telemetry"
	"escrowchain/rpc"
)

func main() {
	configFile := flag.String("config", "./relayer.toml", "Path to the configuration file holding the [relayer] section")
	once := flag.Bool("once", false, "Run a single relay pass and exit")
	flag.Parse()

	if err := run(*configFile, *once); err != nil {
		slog.Error("escrow-relayer exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.SetupWithOptions(logging.Options{
		Service: "escrow-relayer",
		Env:     cfg.Environment,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.TelemetryConfig("escrow-relayer"))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	peers, err := buildPeers(cfg.Relayer.Peers)
	if err != nil {
		return err
	}
	relayer, err := network.NewRelayer(peers[0], peers[1], cfg.RelayInterval())
	if err != nil {
		return err
	}
	relayer.SetLogger(logger.With(slog.String("component", "relayer")))

	if once {
		stats, err := relayer.RelayOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("relay pass complete",
			slog.Int("delivered", stats.Delivered),
			slog.Int("acked", stats.Acked),
			slog.Int("failed", stats.Failed),
			slog.Int("timed_out", stats.TimedOut),
			slog.Int("deferred", stats.Deferred))
		return nil
	}

	logger.Info("relayer started",
		slog.String("a", peers[0].Name),
		slog.String("b", peers[1].Name),
		slog.Duration("interval", cfg.RelayInterval()))
	relayer.Run(ctx)
	return nil
}

func buildPeers(configured []config.RelayerPeer) ([]network.Peer, error) {
	if len(configured) != 2 {
		return nil, fmt.Errorf("relayer: exactly two peers required, got %d", len(configured))
	}
	peers := make([]network.Peer, 0, 2)
	for _, p := range configured {
		token := p.Token()
		if token == "" {
			return nil, fmt.Errorf("relayer: peer %s has no admin token; set %s", p.Name, p.TokenEnv)
		}
		peers = append(peers, network.Peer{
			Name:     p.Name,
			Endpoint: rpc.NewClient(p.URL, rpc.WithToken(token)),
		})
	}
	return peers, nil
}
