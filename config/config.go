package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ChainID     string `toml:"ChainID"`
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	GenesisFile string `toml:"GenesisFile"`
	Environment string `toml:"Environment"`
	LogLevel    string `toml:"LogLevel"`
	LogFile     string `toml:"LogFile,omitempty"`

	Trade     Trade     `toml:"trade"`
	Relay     Relay     `toml:"relay"`
	RPC       RPC       `toml:"rpc"`
	Price     Price     `toml:"price"`
	Telemetry Telemetry `toml:"telemetry"`
	Relayer   Relayer   `toml:"relayer"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the settings used for a fresh local node.
func Default() *Config {
	return &Config{
		ChainID:     "escrow-local",
		RPCAddress:  ":8080",
		DataDir:     "./escrow-data",
		Environment: "dev",
		LogLevel:    "info",
		Trade: Trade{
			PriceToleranceBps:  100,
			AllowPartialOffers: true,
			PausedModules:      []string{},
		},
		Relay: Relay{
			Version:              "ics",
			PacketTimeoutSeconds: 600,
		},
		RPC: RPC{
			RequestsPerMinute: 120,
			Burst:             20,
			TokenEnv:          "ESCROW_RPC_TOKEN",
		},
		Price: Price{
			MaxAgeSeconds: 300,
			Sources:       []string{"manual"},
		},
		Relayer: Relayer{
			IntervalSeconds: 2,
			Peers:           []RelayerPeer{},
		},
	}
}

func (c *Config) normalize() {
	c.ChainID = strings.TrimSpace(c.ChainID)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.Trade.PausedModules == nil {
		c.Trade.PausedModules = []string{}
	}
	for i, module := range c.Trade.PausedModules {
		c.Trade.PausedModules[i] = strings.ToLower(strings.TrimSpace(module))
	}
	if c.Relayer.Peers == nil {
		c.Relayer.Peers = []RelayerPeer{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
