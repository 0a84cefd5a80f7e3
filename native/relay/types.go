package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOrderedChannel          = errors.New("relay: only unordered channels are supported")
	ErrInvalidVersion          = errors.New("relay: invalid channel version")
	ErrChannelNotFound         = errors.New("relay: channel not found")
	ErrChannelClosed           = errors.New("relay: channel closed")
	ErrChannelState            = errors.New("relay: channel in wrong state")
	ErrInvalidChannelID        = errors.New("relay: invalid channel id")
	ErrPacketCommitmentMissing = errors.New("relay: packet commitment missing")
	ErrPacketAlreadyReceived   = errors.New("relay: packet already received")
	ErrPacketTimedOut          = errors.New("relay: packet timed out")
	ErrTimeoutNotReached       = errors.New("relay: packet timeout not reached")
	ErrUnknownMessage          = errors.New("relay: unknown message")
	ErrAckNotFound             = errors.New("relay: acknowledgement not found")
)

// DefaultVersion is the protocol version both channel ends must agree on.
const DefaultVersion = "ics"

// Order is the delivery guarantee negotiated for a channel.
type Order uint8

const (
	OrderUnordered Order = iota + 1
	OrderOrdered
)

func (o Order) String() string {
	switch o {
	case OrderUnordered:
		return "unordered"
	case OrderOrdered:
		return "ordered"
	default:
		return "unknown"
	}
}

// ParseOrder maps the textual order to its enum value.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unordered", "":
		return OrderUnordered, nil
	case "ordered":
		return OrderOrdered, nil
	default:
		return 0, fmt.Errorf("relay: unknown channel order %q", s)
	}
}

// ChannelState tracks the handshake progress of a channel end.
type ChannelState uint8

const (
	ChannelInit ChannelState = iota + 1
	ChannelOpen
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelInit:
		return "init"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is the local end of a relay channel.
type Channel struct {
	ID                  string
	CounterpartyID      string
	Order               Order
	Version             string
	CounterpartyVersion string
	State               ChannelState
}

// ChannelOpenInit carries the parameters proposed when opening a channel.
type ChannelOpenInit struct {
	ID                  string
	CounterpartyID      string
	Order               Order
	Version             string
	CounterpartyVersion string
}

// Counters are the per-channel diagnostics. They reset when the channel
// closes and are never used for ordering or replay protection.
type Counters struct {
	Received uint32
	Timeouts uint32
}

// Packet is a message in flight between two channel ends.
type Packet struct {
	Sequence         uint64 `json:"sequence"`
	SourceChannel    string `json:"source_channel"`
	DestChannel      string `json:"dest_channel"`
	Data             []byte `json:"data"`
	TimeoutTimestamp int64  `json:"timeout_timestamp"`
}

// Acknowledgement is the single terminal response to a received packet.
type Acknowledgement struct {
	Result []byte `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewSuccessAck returns the canonical success acknowledgement.
func NewSuccessAck() Acknowledgement {
	return Acknowledgement{Result: []byte("1")}
}

// NewErrorAck wraps a rejection reason.
func NewErrorAck(reason string) Acknowledgement {
	if reason == "" {
		reason = "unknown error"
	}
	return Acknowledgement{Error: reason}
}

// Success reports whether the remote application accepted the packet.
func (a Acknowledgement) Success() bool {
	return a.Error == "" && len(a.Result) > 0
}

// Encode renders the acknowledgement in its JSON wire form.
func (a Acknowledgement) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// DecodeAcknowledgement parses the JSON wire form.
func DecodeAcknowledgement(data []byte) (Acknowledgement, error) {
	var ack Acknowledgement
	if err := json.Unmarshal(data, &ack); err != nil {
		return Acknowledgement{}, fmt.Errorf("relay: decode ack: %w", err)
	}
	if ack.Error == "" && len(ack.Result) == 0 {
		return Acknowledgement{}, fmt.Errorf("relay: empty acknowledgement")
	}
	return ack, nil
}

func validateChannelID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || trimmed != id || strings.ContainsAny(id, "/ ") {
		return fmt.Errorf("%w: %q", ErrInvalidChannelID, id)
	}
	return nil
}
