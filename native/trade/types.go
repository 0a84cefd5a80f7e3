package trade

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowchain/native/common"
)

// Status enumerates the lifecycle states of a trade.
type Status uint8

const (
	StatusCreated Status = iota
	StatusEscrowFunded
	StatusAccepted
	StatusReleased
	StatusRefunded
	StatusCancelled
	StatusDisputed
)

// Valid reports whether the status is one of the known lifecycle values.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusEscrowFunded, StatusAccepted, StatusReleased,
		StatusRefunded, StatusCancelled, StatusDisputed:
		return true
	default:
		return false
	}
}

// Holding reports whether custody is expected to hold the trade amount in
// this status.
func (s Status) Holding() bool {
	return s == StatusEscrowFunded || s == StatusAccepted || s == StatusDisputed
}

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded || s == StatusCancelled
}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusEscrowFunded:
		return "escrow_funded"
	case StatusAccepted:
		return "accepted"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	case StatusCancelled:
		return "cancelled"
	case StatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus converts the textual form back into a Status.
func ParseStatus(value string) (Status, error) {
	for s := StatusCreated; s <= StatusDisputed; s++ {
		if strings.EqualFold(strings.TrimSpace(value), s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("trade: unknown status %q", value)
}

// Trade is the escrow-mediated exchange record.
type Trade struct {
	ID           uint64
	Key          [32]byte
	Maker        [20]byte
	Counterparty *[20]byte
	Asset        string
	Amount       *big.Int
	Price        *big.Int
	MinAmount    *big.Int
	MaxAmount    *big.Int
	OfferID      uint64
	Escrow       [20]byte
	Arbitrator   *[20]byte
	OriginChain  string
	Status       Status
	CreatedAt    int64
	UpdatedAt    int64
}

// NewTrade carries the parameters of a create request.
type NewTrade struct {
	Asset      string
	Amount     *big.Int
	Price      *big.Int
	MinAmount  *big.Int
	MaxAmount  *big.Int
	OfferID    uint64
	Arbitrator *[20]byte
}

// Clone returns a deep copy of the trade.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Amount = cloneBig(t.Amount)
	clone.Price = cloneBig(t.Price)
	clone.MinAmount = cloneBig(t.MinAmount)
	clone.MaxAmount = cloneBig(t.MaxAmount)
	if t.Counterparty != nil {
		cp := *t.Counterparty
		clone.Counterparty = &cp
	}
	if t.Arbitrator != nil {
		arb := *t.Arbitrator
		clone.Arbitrator = &arb
	}
	return &clone
}

// Clone returns a deep copy of the request.
func (n *NewTrade) Clone() *NewTrade {
	if n == nil {
		return nil
	}
	clone := *n
	clone.Asset = common.NormalizeAsset(n.Asset)
	clone.Amount = cloneBig(n.Amount)
	clone.Price = cloneBig(n.Price)
	clone.MinAmount = cloneBig(n.MinAmount)
	clone.MaxAmount = cloneBig(n.MaxAmount)
	if n.Arbitrator != nil {
		arb := *n.Arbitrator
		clone.Arbitrator = &arb
	}
	return &clone
}

// DeriveKey computes the deterministic locator of a trade from its maker,
// asset, amount and sequential id.
func DeriveKey(maker [20]byte, asset string, amount *big.Int, id uint64) [32]byte {
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], id)
	amt := big.NewInt(0)
	if amount != nil {
		amt = amount
	}
	digest := ethcrypto.Keccak256Hash(
		[]byte("trade"),
		maker[:],
		[]byte(common.NormalizeAsset(asset)),
		amt.Bytes(),
		idBytes[:],
	)
	return [32]byte(digest)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
