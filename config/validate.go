package config

import (
	"fmt"
	"net/url"
	"strings"

	"escrowchain/crypto"
	"escrowchain/native/common"
)

var (
	MaxPriceToleranceBps = uint32(10_000)
	MinPacketTimeout     = uint64(10)
)

var knownModules = map[string]bool{
	common.ModuleTrade: true,
	common.ModuleOffer: true,
	common.ModuleRelay: true,
}

func (c *Config) Validate() error {
	if c.ChainID == "" {
		return fmt.Errorf("node: ChainID required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("node: DataDir required")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("node: unknown LogLevel %q", c.LogLevel)
	}
	if c.Trade.PriceToleranceBps > MaxPriceToleranceBps {
		return fmt.Errorf("trade: PriceToleranceBps %d exceeds %d", c.Trade.PriceToleranceBps, MaxPriceToleranceBps)
	}
	if arb := strings.TrimSpace(c.Trade.DefaultArbitrator); arb != "" {
		if _, err := crypto.ParseAccount(arb); err != nil {
			return fmt.Errorf("trade: DefaultArbitrator: %w", err)
		}
	}
	for _, module := range c.Trade.PausedModules {
		if !knownModules[module] {
			return fmt.Errorf("trade: unknown paused module %q", module)
		}
	}
	if strings.TrimSpace(c.Relay.Version) == "" {
		return fmt.Errorf("relay: Version required")
	}
	if c.Relay.PacketTimeoutSeconds < MinPacketTimeout {
		return fmt.Errorf("relay: PacketTimeoutSeconds must be at least %d", MinPacketTimeout)
	}
	if c.RPC.RequestsPerMinute <= 0 {
		return fmt.Errorf("rpc: RequestsPerMinute must be positive")
	}
	if c.RPC.Burst <= 0 {
		return fmt.Errorf("rpc: Burst must be positive")
	}
	if feed := strings.TrimSpace(c.Price.FeedURL); feed != "" {
		if err := validateURL(feed); err != nil {
			return fmt.Errorf("price: FeedURL: %w", err)
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	seen := make(map[string]bool, len(c.Relayer.Peers))
	for _, peer := range c.Relayer.Peers {
		name := strings.TrimSpace(peer.Name)
		if name == "" {
			return fmt.Errorf("relayer: peer name required")
		}
		if seen[name] {
			return fmt.Errorf("relayer: duplicate peer %q", name)
		}
		seen[name] = true
		if err := validateURL(peer.URL); err != nil {
			return fmt.Errorf("relayer: peer %s: %w", name, err)
		}
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("host required")
	}
	return nil
}
