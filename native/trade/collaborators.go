package trade

import "math/big"

// Outcome describes how a trade ended for a single party.
type Outcome uint8

const (
	// OutcomeCompleted marks a trade released by agreement.
	OutcomeCompleted Outcome = iota + 1
	// OutcomeDisputeWon marks the winning side of an arbitrated dispute.
	OutcomeDisputeWon
	// OutcomeDisputeLost marks the losing side of an arbitrated dispute.
	OutcomeDisputeLost
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeDisputeWon:
		return "dispute_won"
	case OutcomeDisputeLost:
		return "dispute_lost"
	default:
		return "unknown"
	}
}

// ProfileNotifier records trade outcomes against a party's profile. Calls are
// best effort: the engine logs failures and carries on.
type ProfileNotifier interface {
	NotifyProfile(party [20]byte, outcome Outcome) error
}

// PriceQuoter supplies the reference price used to sanity check completion.
type PriceQuoter interface {
	QuotePrice(asset string) (*big.Int, error)
}

// OfferTerms is the read-only view of an offer a trade may be created from.
type OfferTerms struct {
	ID        uint64
	Owner     [20]byte
	Asset     string
	Price     *big.Int
	MinAmount *big.Int
	MaxAmount *big.Int
	Active    bool
}

// OfferSource resolves offer terms by id. Missing offers return ErrNotFound.
type OfferSource interface {
	OfferTerms(id uint64) (*OfferTerms, error)
}
