package escrow

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowchain/native/common"
)

var (
	// ErrInsufficientFunds is returned when the funding account cannot cover a lock.
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	// ErrAssetMismatch is returned when the locked asset differs from the custody asset.
	ErrAssetMismatch = errors.New("escrow: asset mismatch")
	// ErrEscrowEmpty is returned when custody holds less than the requested release.
	ErrEscrowEmpty = errors.New("escrow: escrow empty")
)

// Custody identifies a neutral holding account owned by a single trade. The
// address is derived from the owner key, so no party controls it.
type Custody struct {
	Owner   [32]byte
	Address [20]byte
	Asset   string
}

// DeriveCustody returns the custody bound to the supplied owner key and asset.
func DeriveCustody(owner [32]byte, asset string) Custody {
	digest := ethcrypto.Keccak256([]byte("escrow"), owner[:])
	var addr [20]byte
	copy(addr[:], digest[12:])
	return Custody{Owner: owner, Address: addr, Asset: common.NormalizeAsset(asset)}
}

// Validate checks that the custody is derived from its owner.
func (c Custody) Validate() error {
	if c.Owner == ([32]byte{}) {
		return fmt.Errorf("escrow: custody owner required")
	}
	if c.Asset == "" {
		return fmt.Errorf("escrow: custody asset required")
	}
	if DeriveCustody(c.Owner, c.Asset).Address != c.Address {
		return fmt.Errorf("escrow: custody address not derived from owner")
	}
	return nil
}
