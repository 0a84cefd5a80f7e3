package reputation

import (
	"strconv"

	"escrowchain/core/types"
	"escrowchain/crypto"
)

const (
	// EventTypeProfileUpdated is emitted whenever a profile changes.
	EventTypeProfileUpdated = "reputation.profile_updated"
)

type profileEvent struct {
	evt *types.Event
}

func (e profileEvent) EventType() string { return EventTypeProfileUpdated }

func (e profileEvent) Event() *types.Event { return e.evt }

// NewProfileUpdatedEvent returns the canonical event payload for a profile
// update. Contact metadata is never included.
func NewProfileUpdatedEvent(p *Profile) *types.Event {
	attrs := make(map[string]string)
	if p == nil {
		return &types.Event{Type: EventTypeProfileUpdated, Attributes: attrs}
	}
	attrs["address"] = crypto.FormatAccount(p.Address)
	attrs["completedTrades"] = strconv.FormatUint(p.CompletedTrades, 10)
	attrs["disputesWon"] = strconv.FormatUint(p.DisputesWon, 10)
	attrs["disputesLost"] = strconv.FormatUint(p.DisputesLost, 10)
	attrs["updatedAt"] = strconv.FormatInt(p.UpdatedAt, 10)
	return &types.Event{Type: EventTypeProfileUpdated, Attributes: attrs}
}
