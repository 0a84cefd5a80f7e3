package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"escrowchain/core"
	"escrowchain/crypto"
	"escrowchain/observability/telemetry"
	"escrowchain/rpc"
)

// ChainConfig converts the trade, relay and price sections into the ledger's
// runtime policy.
func (c *Config) ChainConfig() (core.Config, error) {
	out := core.Config{
		PriceToleranceBps:  c.Trade.PriceToleranceBps,
		AllowPartialOffers: c.Trade.AllowPartialOffers,
		PausedModules:      append([]string(nil), c.Trade.PausedModules...),
		RelayVersion:       strings.TrimSpace(c.Relay.Version),
		RelayPacketTimeout: time.Duration(c.Relay.PacketTimeoutSeconds) * time.Second,
		PriceMaxAge:        time.Duration(c.Price.MaxAgeSeconds) * time.Second,
		PriceSourceList:    append([]string(nil), c.Price.Sources...),
	}
	if arb := strings.TrimSpace(c.Trade.DefaultArbitrator); arb != "" {
		addr, err := crypto.ParseAccount(arb)
		if err != nil {
			return core.Config{}, fmt.Errorf("trade: DefaultArbitrator: %w", err)
		}
		out.DefaultArbitrator = &addr
	}
	return out, nil
}

// ServerConfig resolves the RPC section, reading the admin token from the
// configured environment variable.
func (c *Config) ServerConfig() rpc.ServerConfig {
	cfg := rpc.ServerConfig{
		RequestsPerMinute: c.RPC.RequestsPerMinute,
		Burst:             c.RPC.Burst,
	}
	if env := strings.TrimSpace(c.RPC.TokenEnv); env != "" {
		cfg.AuthToken = strings.TrimSpace(os.Getenv(env))
	}
	return cfg
}

func (c *Config) TelemetryConfig(service string) telemetry.Config {
	cfg := telemetry.Config{
		ServiceName: service,
		Environment: c.Environment,
		ChainID:     c.ChainID,
		Endpoint:    strings.TrimSpace(c.Telemetry.Endpoint),
		Insecure:    c.Telemetry.Insecure,
		Metrics:     c.Telemetry.Metrics,
		Traces:      c.Telemetry.Traces,
		SampleRatio: c.Telemetry.SampleRatio,
	}
	if env := strings.TrimSpace(c.Telemetry.HeadersEnv); env != "" {
		cfg.Headers = telemetry.ParseHeaders(os.Getenv(env))
	}
	return cfg
}

// FeedAPIKey returns the price feed credential from the environment.
func (c *Config) FeedAPIKey() string {
	env := strings.TrimSpace(c.Price.FeedAPIKeyEnv)
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}

func (c *Config) RelayInterval() time.Duration {
	if c.Relayer.IntervalSeconds == 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Relayer.IntervalSeconds) * time.Second
}

// Token returns the admin token the relayer presents to peer.
func (p RelayerPeer) Token() string {
	env := strings.TrimSpace(p.TokenEnv)
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}
