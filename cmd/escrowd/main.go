package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"escrowchain/config"
	"escrowchain/core"
	"escrowchain/core/genesis"
	"escrowchain/native/price"
	"escrowchain/observability/logging"
	"escrowchain/observability/telemetry"
	"escrowchain/rpc"
	"escrowchain/storage"
)

const (
	genesisPathEnv = "ESCROW_GENESIS"
	feedSourceName = "feed"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON or YAML file (overrides ESCROW_GENESIS and config GenesisFile)")
	flag.Parse()

	if err := run(*configFile, *genesisFlag); err != nil {
		slog.Error("escrowd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath, genesisFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.SetupWithOptions(logging.Options{
		Service: "escrowd",
		Env:     cfg.Environment,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.TelemetryConfig("escrowd"))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	genesisPath := resolveGenesisPath(genesisFlag, cfg.GenesisFile)
	if genesisPath == "" {
		return fmt.Errorf("genesis file required; set -genesis, %s or GenesisFile", genesisPathEnv)
	}
	spec, err := genesis.LoadGenesisSpec(genesisPath)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	if spec.ChainID != cfg.ChainID {
		return fmt.Errorf("genesis chain id %q does not match configured %q", spec.ChainID, cfg.ChainID)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	chainCfg, err := cfg.ChainConfig()
	if err != nil {
		return err
	}
	chain, err := core.NewChain(db, spec, chainCfg)
	if err != nil {
		return fmt.Errorf("start chain: %w", err)
	}
	chain.SetLogger(logger.With(slog.String("component", "chain")))
	if feed := strings.TrimSpace(cfg.Price.FeedURL); feed != "" {
		client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport), Timeout: 5 * time.Second}
		chain.RegisterPriceSource(feedSourceName, price.NewHTTPOracle(client, feed, cfg.FeedAPIKey()))
		logger.Info("price feed registered", slog.String("source", feedSourceName), logging.MaskField("endpoint", feed))
	}

	serverCfg := cfg.ServerConfig()
	if serverCfg.AuthToken == "" {
		logger.Warn("admin token not set; relay and price administration are disabled", slog.String("env", cfg.RPC.TokenEnv))
	}
	server := rpc.NewServer(chain, serverCfg)
	server.SetLogger(logger.With(slog.String("component", "rpc")))

	logger.Info("escrowd started",
		slog.String("chain_id", chain.ChainID()),
		slog.String("rpc", cfg.RPCAddress),
		slog.String("data_dir", cfg.DataDir))
	return server.Serve(ctx, cfg.RPCAddress)
}

func resolveGenesisPath(flagValue, configValue string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if env, ok := os.LookupEnv(genesisPathEnv); ok && strings.TrimSpace(env) != "" {
		return strings.TrimSpace(env)
	}
	return strings.TrimSpace(configValue)
}
