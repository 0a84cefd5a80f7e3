package offer

import (
	"errors"
	"fmt"
	"math/big"

	"escrowchain/native/common"
)

var (
	ErrNotFound      = errors.New("offer: not found")
	ErrUnauthorized  = errors.New("offer: caller is not the owner")
	ErrInvalidStatus = errors.New("offer: invalid status for operation")
	ErrInvalidPrice  = errors.New("offer: price must be positive")
	ErrInvalidBounds = errors.New("offer: invalid amount bounds")
	ErrUnknownAsset  = errors.New("offer: unknown asset")
)

// Status is the lifecycle state of an offer.
type Status uint8

const (
	StatusActive Status = iota + 1
	StatusPaused
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s >= StatusActive && s <= StatusClosed
}

// Offer is a standing advertisement to trade an asset within fixed bounds at
// a unit price.
type Offer struct {
	ID        uint64
	Owner     [20]byte
	Asset     string
	Price     *big.Int
	MinAmount *big.Int
	MaxAmount *big.Int
	Status    Status
	CreatedAt int64
	UpdatedAt int64
}

// Terms carries the mutable economic fields of an offer.
type Terms struct {
	Asset     string
	Price     *big.Int
	MinAmount *big.Int
	MaxAmount *big.Int
}

// Normalize trims the asset symbol and validates price and bounds.
func (t *Terms) Normalize() error {
	if t == nil {
		return fmt.Errorf("offer: terms required")
	}
	t.Asset = common.NormalizeAsset(t.Asset)
	if t.Asset == "" {
		return fmt.Errorf("%w: empty symbol", ErrUnknownAsset)
	}
	if t.Price == nil || t.Price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	if t.MinAmount == nil || t.MaxAmount == nil || t.MinAmount.Sign() <= 0 {
		return fmt.Errorf("%w: bounds must be positive", ErrInvalidBounds)
	}
	if t.MinAmount.Cmp(t.MaxAmount) > 0 {
		return fmt.Errorf("%w: min %s exceeds max %s", ErrInvalidBounds, t.MinAmount, t.MaxAmount)
	}
	t.Price = new(big.Int).Set(t.Price)
	t.MinAmount = new(big.Int).Set(t.MinAmount)
	t.MaxAmount = new(big.Int).Set(t.MaxAmount)
	return nil
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Price = cloneBig(o.Price)
	clone.MinAmount = cloneBig(o.MinAmount)
	clone.MaxAmount = cloneBig(o.MaxAmount)
	return &clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
