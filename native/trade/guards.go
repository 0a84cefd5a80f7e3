package trade

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInvalidStatus        = errors.New("trade: invalid status")
	ErrUnauthorized         = errors.New("trade: unauthorized")
	ErrUnauthorizedDisputer = errors.New("trade: unauthorized disputer")
	ErrInvalidAmount        = errors.New("trade: invalid amount")
	ErrInvalidAmounts       = errors.New("trade: invalid amounts")
	ErrInvalidPrice         = errors.New("trade: invalid price")
	ErrPriceMismatch        = errors.New("trade: price mismatch")
	ErrPriceUnavailable     = errors.New("trade: price unavailable")
	ErrNotFound             = errors.New("trade: not found")
	ErrNoArbitrator         = errors.New("trade: no arbitrator")
	ErrInvalidWinner        = errors.New("trade: invalid winner")
	ErrOfferInactive        = errors.New("trade: offer inactive")
	ErrUnknownAsset         = errors.New("trade: unknown asset")
)

const bpsDenominator = 10_000

// The guards below are pure: they read only their arguments and never touch
// state. Engine transitions run every guard before the first write.

// StatusIs rejects unless the trade is in one of the expected statuses.
func StatusIs(t *Trade, expected ...Status) error {
	if t == nil {
		return ErrNotFound
	}
	for _, s := range expected {
		if t.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidStatus, t.Status)
}

// IsParty rejects unless caller is the maker or the bound counterparty.
func IsParty(caller [20]byte, t *Trade) error {
	if t == nil {
		return ErrNotFound
	}
	if caller == t.Maker {
		return nil
	}
	if t.Counterparty != nil && caller == *t.Counterparty {
		return nil
	}
	return ErrUnauthorized
}

// IsMaker rejects unless caller is the maker.
func IsMaker(caller [20]byte, t *Trade) error {
	if t == nil {
		return ErrNotFound
	}
	if caller != t.Maker {
		return ErrUnauthorized
	}
	return nil
}

// IsDisputer rejects unless caller may open a dispute on the trade.
func IsDisputer(caller [20]byte, t *Trade) error {
	if err := IsParty(caller, t); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return ErrUnauthorizedDisputer
		}
		return err
	}
	return nil
}

// IsArbitrator rejects unless caller is the trade's arbitrator.
func IsArbitrator(caller [20]byte, t *Trade) error {
	if t == nil {
		return ErrNotFound
	}
	if t.Arbitrator == nil {
		return ErrNoArbitrator
	}
	if caller != *t.Arbitrator {
		return ErrUnauthorized
	}
	return nil
}

// CounterpartyUnset rejects trades that already have a bound counterparty.
func CounterpartyUnset(t *Trade) error {
	if t == nil {
		return ErrNotFound
	}
	if t.Counterparty != nil {
		return fmt.Errorf("%w: counterparty already bound", ErrInvalidStatus)
	}
	return nil
}

// AmountsValid rejects inverted or empty bounds.
func AmountsValid(min, max *big.Int) error {
	if min == nil || max == nil {
		return ErrInvalidAmounts
	}
	if min.Sign() < 0 || max.Sign() <= 0 || min.Cmp(max) > 0 {
		return ErrInvalidAmounts
	}
	return nil
}

// AmountInBounds rejects unless min <= amount <= max <= available.
func AmountInBounds(amount, min, max, available *big.Int) error {
	if amount == nil || min == nil || max == nil || available == nil {
		return ErrInvalidAmount
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if min.Cmp(amount) > 0 || amount.Cmp(max) > 0 || max.Cmp(available) > 0 {
		return fmt.Errorf("%w: %s not within [%s, %s] (available %s)", ErrInvalidAmount, amount, min, max, available)
	}
	return nil
}

// PricePositive rejects non-positive prices.
func PricePositive(price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

// PriceWithinTolerance rejects unless |quoted-oracle|/oracle <= bps/10000,
// evaluated as |quoted-oracle|*10000 <= oracle*bps in integers.
func PriceWithinTolerance(quoted, oracle *big.Int, toleranceBps uint32) error {
	if quoted == nil || oracle == nil || oracle.Sign() <= 0 {
		return ErrPriceMismatch
	}
	diff := new(big.Int).Sub(quoted, oracle)
	diff.Abs(diff)
	lhs := diff.Mul(diff, big.NewInt(bpsDenominator))
	rhs := new(big.Int).Mul(oracle, new(big.Int).SetUint64(uint64(toleranceBps)))
	if lhs.Cmp(rhs) > 0 {
		return fmt.Errorf("%w: quoted %s oracle %s tolerance %dbps", ErrPriceMismatch, quoted, oracle, toleranceBps)
	}
	return nil
}
