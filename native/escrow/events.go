package escrow

import (
	"encoding/hex"
	"math/big"

	"escrowchain/core/types"
	"escrowchain/crypto"
)

const (
	EventTypeEscrowLocked   = "escrow.locked"
	EventTypeEscrowReleased = "escrow.released"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// NewLockedEvent returns the canonical payload for funds entering custody.
func NewLockedEvent(c Custody, from [20]byte, amount *big.Int) *types.Event {
	return newCustodyEvent(EventTypeEscrowLocked, c, "from", from, amount)
}

// NewReleasedEvent returns the canonical payload for funds leaving custody.
func NewReleasedEvent(c Custody, to [20]byte, amount *big.Int) *types.Event {
	return newCustodyEvent(EventTypeEscrowReleased, c, "to", to, amount)
}

func newCustodyEvent(eventType string, c Custody, partyKey string, party [20]byte, amount *big.Int) *types.Event {
	amt := big.NewInt(0)
	if amount != nil {
		amt = new(big.Int).Set(amount)
	}
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"owner":   hex.EncodeToString(c.Owner[:]),
			"custody": crypto.FormatAccount(c.Address),
			"asset":   c.Asset,
			partyKey:  crypto.FormatAccount(party),
			"amount":  amt.String(),
		},
	}
}
