// core/genesis/loader.go
package genesis

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"escrowchain/core/state"
	"escrowchain/crypto"
	"escrowchain/native/common"
	"escrowchain/storage"
)

// BuildGenesisFromSpec writes the genesis state into db and returns the
// chain identity record. When db already carries a genesis, the stored
// record is returned after checking the chain id matches.
func BuildGenesisFromSpec(spec *GenesisSpec, db storage.Database) (*state.ChainMeta, error) {
	if spec == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	manager := state.NewManager(db)
	existing, ok, err := manager.ChainMeta()
	if err != nil {
		manager.Discard()
		return nil, fmt.Errorf("load chain meta: %w", err)
	}
	if ok {
		manager.Discard()
		if existing.ChainID != spec.ChainID {
			return nil, fmt.Errorf("database holds chain %q, genesis describes %q", existing.ChainID, spec.ChainID)
		}
		return existing, nil
	}

	meta, err := applySpec(spec, manager)
	if err != nil {
		manager.Discard()
		return nil, err
	}
	if err := manager.Commit(); err != nil {
		return nil, fmt.Errorf("commit genesis: %w", err)
	}
	return meta, nil
}

func applySpec(spec *GenesisSpec, manager *state.Manager) (*state.ChainMeta, error) {
	ts := spec.GenesisTimestamp()
	if ts.IsZero() {
		parsed, err := parseGenesisTime(spec.GenesisTime)
		if err != nil {
			return nil, err
		}
		ts = parsed
	}

	// 1) Assets (sorted)
	assets := append([]AssetSpec(nil), spec.Assets...)
	sort.Slice(assets, func(i, j int) bool {
		return strings.ToUpper(assets[i].Symbol) < strings.ToUpper(assets[j].Symbol)
	})
	for _, asset := range assets {
		if err := manager.RegisterAsset(state.AssetMetadata{Symbol: asset.Symbol, Decimals: asset.Decimals}); err != nil {
			return nil, fmt.Errorf("register asset %q: %w", asset.Symbol, err)
		}
	}

	// 2) Allocations (outer: addresses sorted; inner: symbols sorted)
	allocAddresses := make([]string, 0, len(spec.Alloc))
	for addr := range spec.Alloc {
		allocAddresses = append(allocAddresses, addr)
	}
	sort.Strings(allocAddresses)
	for _, addrStr := range allocAddresses {
		parsed, err := crypto.ParseAccount(addrStr)
		if err != nil {
			return nil, fmt.Errorf("alloc[%q]: %w", addrStr, err)
		}
		balances := spec.Alloc[addrStr]
		symbols := make([]string, 0, len(balances))
		amounts := make(map[string]*big.Int, len(balances))
		for symbol, amountStr := range balances {
			normalized := common.NormalizeAsset(symbol)
			amount, err := parseAmountString(amountStr)
			if err != nil {
				return nil, fmt.Errorf("alloc[%q][%q]: %w", addrStr, symbol, err)
			}
			amounts[normalized] = amount
			symbols = append(symbols, normalized)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			if err := manager.SetBalance(parsed, symbol, amounts[symbol]); err != nil {
				return nil, fmt.Errorf("alloc[%q][%q]: %w", addrStr, symbol, err)
			}
		}
	}

	// 3) Chain identity
	meta := &state.ChainMeta{
		ChainID:     spec.ChainID,
		GenesisTime: uint64(ts.Unix()),
	}
	if arb := spec.ArbitratorAccount(); arb != nil {
		meta.HasArbitrator = true
		meta.Arbitrator = *arb
	}
	if err := manager.PutChainMeta(meta); err != nil {
		return nil, fmt.Errorf("persist chain meta: %w", err)
	}
	return meta, nil
}
