package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"escrowchain/crypto"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChainID != "escrow-local" {
		t.Fatalf("unexpected chain id %q", cfg.ChainID)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RPC.Burst != cfg.RPC.Burst || reloaded.Relay.Version != "ics" {
		t.Fatalf("reloaded config differs: %+v", reloaded)
	}
}

func TestLoadParsesSections(t *testing.T) {
	var arb [20]byte
	arb[19] = 0x09
	arbitrator := crypto.FormatAccount(arb)

	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `ChainID = "escrow-a"
RPCAddress = "127.0.0.1:9000"
DataDir = "./data"
GenesisFile = "genesis.yaml"
LogLevel = "DEBUG"

[trade]
PriceToleranceBps = 250
DefaultArbitrator = "` + arbitrator + `"
AllowPartialOffers = false
PausedModules = [" Relay "]

[relay]
Version = "ics"
PacketTimeoutSeconds = 120

[rpc]
RequestsPerMinute = 600.0
Burst = 50
TokenEnv = "ESCROW_TEST_TOKEN"

[price]
MaxAgeSeconds = 60
Sources = ["feed", "manual"]
FeedURL = "https://prices.example/quote"

[relayer]
IntervalSeconds = 5

[[relayer.Peers]]
Name = "a"
URL = "http://127.0.0.1:9000"
TokenEnv = "ESCROW_TEST_TOKEN"

[[relayer.Peers]]
Name = "b"
URL = "http://127.0.0.1:9001"
TokenEnv = "ESCROW_TEST_TOKEN"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ESCROW_TEST_TOKEN", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level not normalised: %q", cfg.LogLevel)
	}
	if len(cfg.Trade.PausedModules) != 1 || cfg.Trade.PausedModules[0] != "relay" {
		t.Fatalf("unexpected paused modules %v", cfg.Trade.PausedModules)
	}

	chainCfg, err := cfg.ChainConfig()
	if err != nil {
		t.Fatalf("chain config: %v", err)
	}
	if chainCfg.PriceToleranceBps != 250 || chainCfg.AllowPartialOffers {
		t.Fatalf("unexpected trade policy %+v", chainCfg)
	}
	if chainCfg.DefaultArbitrator == nil || *chainCfg.DefaultArbitrator != arb {
		t.Fatalf("arbitrator not parsed: %+v", chainCfg.DefaultArbitrator)
	}
	if chainCfg.RelayPacketTimeout != 2*time.Minute || chainCfg.PriceMaxAge != time.Minute {
		t.Fatalf("unexpected durations %+v", chainCfg)
	}

	server := cfg.ServerConfig()
	if server.AuthToken != "s3cret" || server.Burst != 50 {
		t.Fatalf("unexpected server config %+v", server)
	}
	if cfg.RelayInterval() != 5*time.Second {
		t.Fatalf("unexpected interval %v", cfg.RelayInterval())
	}
	if len(cfg.Relayer.Peers) != 2 || cfg.Relayer.Peers[1].Token() != "s3cret" {
		t.Fatalf("unexpected peers %+v", cfg.Relayer.Peers)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("ChainID = \"x\"\nValidatorKey = \"abc\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ValidatorKey") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing chain id", func(c *Config) { c.ChainID = "" }, "ChainID required"},
		{"tolerance", func(c *Config) { c.Trade.PriceToleranceBps = 10_001 }, "PriceToleranceBps"},
		{"arbitrator", func(c *Config) { c.Trade.DefaultArbitrator = "nope" }, "DefaultArbitrator"},
		{"paused module", func(c *Config) { c.Trade.PausedModules = []string{"swap"} }, "unknown paused module"},
		{"relay version", func(c *Config) { c.Relay.Version = " " }, "Version required"},
		{"packet timeout", func(c *Config) { c.Relay.PacketTimeoutSeconds = 1 }, "PacketTimeoutSeconds"},
		{"rate", func(c *Config) { c.RPC.RequestsPerMinute = 0 }, "RequestsPerMinute"},
		{"feed url", func(c *Config) { c.Price.FeedURL = "ftp://prices" }, "FeedURL"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 2 }, "SampleRatio"},
		{"duplicate peer", func(c *Config) {
			c.Relayer.Peers = []RelayerPeer{{Name: "a", URL: "http://x:1"}, {Name: "a", URL: "http://y:1"}}
		}, "duplicate peer"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
