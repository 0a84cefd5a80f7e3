// core/genesis/spec.go
package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"escrowchain/crypto"
	"escrowchain/native/common"
)

type GenesisSpec struct {
	ChainID     string                       `json:"chainId" yaml:"chainId"`
	GenesisTime string                       `json:"genesisTime" yaml:"genesisTime"`
	Assets      []AssetSpec                  `json:"assets" yaml:"assets"`
	Alloc       map[string]map[string]string `json:"alloc" yaml:"alloc"` // addr -> asset -> amount
	Arbitrator  string                       `json:"arbitrator,omitempty" yaml:"arbitrator,omitempty"`

	genesisTimestamp time.Time
	arbitrator       *[20]byte
}

type AssetSpec struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`
}

// LoadGenesisSpec reads a genesis file. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON. Unknown fields are rejected in
// both formats.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	spec, err := ParseGenesisSpec(raw, format)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates a genesis document.
func ParseGenesisSpec(raw []byte, format string) (*GenesisSpec, error) {
	var spec GenesisSpec
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// ArbitratorAccount returns the default arbitrator, if configured.
func (s *GenesisSpec) ArbitratorAccount() *[20]byte {
	if s.arbitrator == nil {
		return nil
	}
	out := *s.arbitrator
	return &out
}

func (s *GenesisSpec) validate() error {
	if strings.TrimSpace(s.ChainID) == "" {
		return fmt.Errorf("chainId must be provided")
	}
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	if len(s.Assets) == 0 {
		return fmt.Errorf("at least one asset must be defined")
	}
	symbols := make(map[string]struct{}, len(s.Assets))
	for i := range s.Assets {
		asset := &s.Assets[i]
		if err := asset.validate(); err != nil {
			return fmt.Errorf("assets[%d]: %w", i, err)
		}
		if _, dup := symbols[asset.Symbol]; dup {
			return fmt.Errorf("assets[%d]: duplicate symbol %q", i, asset.Symbol)
		}
		symbols[asset.Symbol] = struct{}{}
	}

	accounts := make([]string, 0, len(s.Alloc))
	for account := range s.Alloc {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		if _, err := crypto.ParseAccount(account); err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
		seen := make(map[string]struct{})
		for symbol, amount := range s.Alloc[account] {
			if _, err := parseAmountString(amount); err != nil {
				return fmt.Errorf("alloc[%q][%q]: %w", account, symbol, err)
			}
			symKey := common.NormalizeAsset(symbol)
			if _, ok := symbols[symKey]; !ok {
				return fmt.Errorf("alloc[%q][%q]: undefined asset", account, symbol)
			}
			if _, dup := seen[symKey]; dup {
				return fmt.Errorf("alloc[%q]: duplicate asset %q", account, symbol)
			}
			seen[symKey] = struct{}{}
		}
	}

	s.arbitrator = nil
	if strings.TrimSpace(s.Arbitrator) != "" {
		addr, err := crypto.ParseAccount(s.Arbitrator)
		if err != nil {
			return fmt.Errorf("arbitrator: %w", err)
		}
		s.arbitrator = &addr
	}
	return nil
}

func (a *AssetSpec) validate() error {
	a.Symbol = common.NormalizeAsset(a.Symbol)
	if a.Symbol == "" {
		return fmt.Errorf("symbol must be provided")
	}
	if strings.ContainsAny(a.Symbol, "/ ") {
		return fmt.Errorf("symbol %q contains invalid characters", a.Symbol)
	}
	if a.Decimals > 36 {
		return fmt.Errorf("decimals must be 36 or fewer")
	}
	return nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
