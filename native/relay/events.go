package relay

import (
	"strconv"

	"escrowchain/core/types"
)

const (
	EventTypeChannelOpened    = "relay.channel_opened"
	EventTypeChannelConnected = "relay.channel_connected"
	EventTypeChannelClosed    = "relay.channel_closed"
	EventTypePacketSent       = "relay.packet_sent"
	EventTypePacketReceived   = "relay.packet_received"
	EventTypePacketAcked      = "relay.packet_acked"
	EventTypeAckError         = "relay.ack_error"
	EventTypePacketTimeout    = "relay.packet_timeout"
)

type relayEvent struct {
	evt *types.Event
}

func (e relayEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e relayEvent) Event() *types.Event { return e.evt }

func newChannelEvent(eventType string, ch *Channel) *types.Event {
	attrs := map[string]string{}
	if ch != nil {
		attrs["channel"] = ch.ID
		attrs["counterpartyChannel"] = ch.CounterpartyID
		attrs["version"] = ch.Version
		attrs["state"] = ch.State.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newPacketEvent(eventType string, p Packet, extra map[string]string) *types.Event {
	attrs := map[string]string{
		"sourceChannel": p.SourceChannel,
		"destChannel":   p.DestChannel,
		"sequence":      strconv.FormatUint(p.Sequence, 10),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
