package offer

import (
	"strconv"

	"escrowchain/core/types"
	"escrowchain/crypto"
)

const (
	EventTypeOfferCreated = "offer.created"
	EventTypeOfferUpdated = "offer.updated"
	EventTypeOfferPaused  = "offer.paused"
	EventTypeOfferResumed = "offer.resumed"
	EventTypeOfferClosed  = "offer.closed"
)

type offerEvent struct {
	evt *types.Event
}

func (e offerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e offerEvent) Event() *types.Event { return e.evt }

// NewOfferEvent renders the payload for an offer lifecycle change.
func NewOfferEvent(eventType string, o *Offer) *types.Event {
	attrs := make(map[string]string)
	if o == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["offerId"] = strconv.FormatUint(o.ID, 10)
	attrs["owner"] = crypto.FormatAccount(o.Owner)
	attrs["asset"] = o.Asset
	if o.Price != nil {
		attrs["price"] = o.Price.String()
	}
	if o.MinAmount != nil {
		attrs["minAmount"] = o.MinAmount.String()
	}
	if o.MaxAmount != nil {
		attrs["maxAmount"] = o.MaxAmount.String()
	}
	attrs["status"] = o.Status.String()
	attrs["updatedAt"] = strconv.FormatInt(o.UpdatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
