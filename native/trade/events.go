package trade

import (
	"encoding/hex"
	"strconv"

	"escrowchain/core/types"
	"escrowchain/crypto"
)

const (
	EventTypeTradeCreated   = "trade.created"
	EventTypeTradeFunded    = "trade.funded"
	EventTypeTradeAccepted  = "trade.accepted"
	EventTypeTradeCompleted = "trade.completed"
	EventTypeTradeCancelled = "trade.cancelled"
	EventTypeTradeDisputed  = "trade.disputed"
	EventTypeTradeResolved  = "trade.resolved"
)

type tradeEvent struct {
	evt *types.Event
}

func (e tradeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e tradeEvent) Event() *types.Event { return e.evt }

// NewTradeEvent renders the canonical payload for a trade transition. The
// optional winner is attached to resolution events.
func NewTradeEvent(eventType string, t *Trade, winner *[20]byte) *types.Event {
	attrs := make(map[string]string)
	if t == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["tradeId"] = strconv.FormatUint(t.ID, 10)
	attrs["key"] = hex.EncodeToString(t.Key[:])
	attrs["maker"] = crypto.FormatAccount(t.Maker)
	attrs["asset"] = t.Asset
	if t.Amount != nil {
		attrs["amount"] = t.Amount.String()
	}
	if t.Price != nil {
		attrs["price"] = t.Price.String()
	}
	attrs["escrow"] = crypto.FormatAccount(t.Escrow)
	attrs["status"] = t.Status.String()
	attrs["updatedAt"] = strconv.FormatInt(t.UpdatedAt, 10)
	if t.Counterparty != nil {
		attrs["counterparty"] = crypto.FormatAccount(*t.Counterparty)
	}
	if t.OfferID != 0 {
		attrs["offerId"] = strconv.FormatUint(t.OfferID, 10)
	}
	if t.OriginChain != "" {
		attrs["originChain"] = t.OriginChain
	}
	if winner != nil {
		attrs["winner"] = crypto.FormatAccount(*winner)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
