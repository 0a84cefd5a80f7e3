package escrow

import (
	"fmt"
	"math/big"

	"escrowchain/core/events"
	"escrowchain/native/common"
)

// bank is the subset of ledger state the vault moves funds through.
type bank interface {
	BalanceOf(addr [20]byte, asset string) (*big.Int, error)
	Credit(addr [20]byte, asset string, amt *big.Int) error
	Debit(addr [20]byte, asset string, amt *big.Int) error
}

// Vault moves funds between spendable balances and trade custody accounts.
// It never decides when to move funds; callers own that policy.
type Vault struct {
	state   bank
	emitter events.Emitter
}

// NewVault returns a vault bound to the supplied state.
func NewVault(state bank) *Vault {
	return &Vault{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used for custody movements.
func (v *Vault) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		v.emitter = events.NoopEmitter{}
		return
	}
	v.emitter = emitter
}

// Lock debits amount of asset from the funding account into custody.
func (v *Vault) Lock(c Custody, from [20]byte, asset string, amount *big.Int) error {
	if v == nil || v.state == nil {
		return fmt.Errorf("escrow: vault not initialised")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("escrow: lock amount must be positive")
	}
	if common.NormalizeAsset(asset) != c.Asset {
		return fmt.Errorf("%w: custody holds %s, got %s", ErrAssetMismatch, c.Asset, common.NormalizeAsset(asset))
	}
	available, err := v.state.BalanceOf(from, c.Asset)
	if err != nil {
		return err
	}
	if available.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, available, amount)
	}
	if err := v.state.Debit(from, c.Asset, amount); err != nil {
		return err
	}
	if err := v.state.Credit(c.Address, c.Asset, amount); err != nil {
		return err
	}
	v.emitter.Emit(escrowEvent{evt: NewLockedEvent(c, from, amount)})
	return nil
}

// Release moves amount out of custody to the recipient.
func (v *Vault) Release(c Custody, to [20]byte, amount *big.Int) error {
	if v == nil || v.state == nil {
		return fmt.Errorf("escrow: vault not initialised")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("escrow: release amount must be positive")
	}
	held, err := v.state.BalanceOf(c.Address, c.Asset)
	if err != nil {
		return err
	}
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: holds %s, need %s", ErrEscrowEmpty, held, amount)
	}
	if err := v.state.Debit(c.Address, c.Asset, amount); err != nil {
		return err
	}
	if err := v.state.Credit(to, c.Asset, amount); err != nil {
		return err
	}
	v.emitter.Emit(escrowEvent{evt: NewReleasedEvent(c, to, amount)})
	return nil
}

// Balance returns the amount currently held in custody.
func (v *Vault) Balance(c Custody) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, fmt.Errorf("escrow: vault not initialised")
	}
	return v.state.BalanceOf(c.Address, c.Asset)
}
