package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"escrowchain/native/common"
)

var (
	// ErrUnknownAsset marks balance operations on assets absent from the registry.
	ErrUnknownAsset = errors.New("state: unknown asset")
	// ErrBalanceOverflow is returned when a credit would exceed 256 bits.
	ErrBalanceOverflow = errors.New("state: balance overflow")
	// ErrBalanceUnderflow is returned when a debit exceeds the available balance.
	ErrBalanceUnderflow = errors.New("state: insufficient balance")
	// ErrStaleNonce rejects a signed request whose nonce is not above the
	// last one accepted for the account.
	ErrStaleNonce = errors.New("state: stale nonce")
)

// AssetMetadata describes an asset registered at genesis.
type AssetMetadata struct {
	Symbol   string
	Decimals uint8
}

// ChainMeta captures the chain-wide identity values persisted at genesis.
type ChainMeta struct {
	ChainID       string
	HasArbitrator bool
	Arbitrator    [20]byte
	GenesisTime   uint64
}

// NormalizeAsset canonicalises an asset symbol.
func NormalizeAsset(symbol string) string {
	return common.NormalizeAsset(symbol)
}

// RegisterAsset adds an asset to the registry. Registering an existing symbol
// overwrites its metadata.
func (m *Manager) RegisterAsset(meta AssetMetadata) error {
	symbol := NormalizeAsset(meta.Symbol)
	if symbol == "" {
		return fmt.Errorf("state: asset symbol required")
	}
	meta.Symbol = symbol
	return m.KVPut(assetKey(symbol), &meta)
}

// Asset returns the registry entry for the supplied symbol.
func (m *Manager) Asset(symbol string) (*AssetMetadata, bool, error) {
	symbol = NormalizeAsset(symbol)
	if symbol == "" {
		return nil, false, nil
	}
	var meta AssetMetadata
	ok, err := m.KVGet(assetKey(symbol), &meta)
	if err != nil || !ok {
		return nil, false, err
	}
	return &meta, true, nil
}

// Assets lists every registered asset ordered by symbol.
func (m *Manager) Assets() ([]AssetMetadata, error) {
	var out []AssetMetadata
	if err := m.KVGetList(assetPrefix, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AssetExists reports whether the asset is registered.
func (m *Manager) AssetExists(symbol string) bool {
	_, ok, err := m.Asset(symbol)
	return err == nil && ok
}

// BalanceOf returns the spendable balance of addr in asset. Unknown balances
// read as zero.
func (m *Manager) BalanceOf(addr [20]byte, asset string) (*big.Int, error) {
	asset = NormalizeAsset(asset)
	var stored big.Int
	ok, err := m.KVGet(bankBalanceKey(addr, asset), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(&stored), nil
}

// SetBalance overwrites the balance of addr in asset.
func (m *Manager) SetBalance(addr [20]byte, asset string, amount *big.Int) error {
	asset = NormalizeAsset(asset)
	if !m.AssetExists(asset) {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: balance must not be negative")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return ErrBalanceOverflow
	}
	if amount.Sign() == 0 {
		return m.KVDelete(bankBalanceKey(addr, asset))
	}
	return m.KVPut(bankBalanceKey(addr, asset), amount)
}

// Credit adds amt to the balance of addr.
func (m *Manager) Credit(addr [20]byte, asset string, amt *big.Int) error {
	if amt == nil || amt.Sign() <= 0 {
		return fmt.Errorf("state: credit amount must be positive")
	}
	current, err := m.BalanceOf(addr, asset)
	if err != nil {
		return err
	}
	cur, _ := uint256.FromBig(current)
	delta, overflow := uint256.FromBig(amt)
	if overflow {
		return ErrBalanceOverflow
	}
	sum, carry := new(uint256.Int).AddOverflow(cur, delta)
	if carry {
		return ErrBalanceOverflow
	}
	return m.SetBalance(addr, asset, sum.ToBig())
}

// Debit subtracts amt from the balance of addr.
func (m *Manager) Debit(addr [20]byte, asset string, amt *big.Int) error {
	if amt == nil || amt.Sign() <= 0 {
		return fmt.Errorf("state: debit amount must be positive")
	}
	current, err := m.BalanceOf(addr, asset)
	if err != nil {
		return err
	}
	cur, _ := uint256.FromBig(current)
	delta, overflow := uint256.FromBig(amt)
	if overflow {
		return ErrBalanceUnderflow
	}
	diff, borrow := new(uint256.Int).SubOverflow(cur, delta)
	if borrow {
		return ErrBalanceUnderflow
	}
	return m.SetBalance(addr, asset, diff.ToBig())
}

// Balances lists every non-zero balance held by addr keyed by asset.
func (m *Manager) Balances(addr [20]byte) (map[string]*big.Int, error) {
	prefix := bankAccountPrefix(addr)
	out := make(map[string]*big.Int)
	var decodeErr error
	err := m.KVIterate(prefix, func(key, raw []byte) bool {
		asset := string(key[len(prefix):])
		var amt big.Int
		if err := rlp.DecodeBytes(raw, &amt); err != nil {
			decodeErr = err
			return false
		}
		out[asset] = &amt
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}

// PutChainMeta persists the chain identity record.
func (m *Manager) PutChainMeta(meta *ChainMeta) error {
	if meta == nil {
		return fmt.Errorf("state: nil chain meta")
	}
	return m.KVPut(chainMetaKeyBytes, meta)
}

// ChainMeta loads the chain identity record.
func (m *Manager) ChainMeta() (*ChainMeta, bool, error) {
	var meta ChainMeta
	ok, err := m.KVGet(chainMetaKeyBytes, &meta)
	if err != nil || !ok {
		return nil, false, err
	}
	return &meta, true, nil
}

// Nonce returns the last request nonce accepted for addr, zero when none.
func (m *Manager) Nonce(addr [20]byte) (uint64, error) {
	var last uint64
	if _, err := m.KVGet(nonceKey(addr), &last); err != nil {
		return 0, err
	}
	return last, nil
}

// UseNonce records nonce for addr. Nonces must strictly increase per account.
func (m *Manager) UseNonce(addr [20]byte, nonce uint64) error {
	last, err := m.Nonce(addr)
	if err != nil {
		return err
	}
	if nonce <= last {
		return fmt.Errorf("%w: %d <= %d", ErrStaleNonce, nonce, last)
	}
	return m.KVPut(nonceKey(addr), nonce)
}
