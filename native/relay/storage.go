package relay

import (
	"encoding/binary"
	"fmt"

	"lukechampine.com/blake3"
)

var (
	channelPrefix    = []byte("relay/channel/")
	countersPrefix   = []byte("relay/counters/")
	sequencePrefix   = []byte("relay/sequence/")
	commitmentPrefix = []byte("relay/commitment/")
	outboxPrefix     = []byte("relay/outbox/")
	receiptPrefix    = []byte("relay/receipt/")
	ackPrefix        = []byte("relay/ack/")
)

func channelKey(id string) []byte {
	return append(append([]byte(nil), channelPrefix...), id...)
}

func countersKey(id string) []byte {
	return append(append([]byte(nil), countersPrefix...), id...)
}

func sequenceKey(id string) []byte {
	return append(append([]byte(nil), sequencePrefix...), id...)
}

func packetKey(prefix []byte, channel string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%016x", prefix, channel, seq))
}

type storedChannel struct {
	ID                  string
	CounterpartyID      string
	Order               uint8
	Version             string
	CounterpartyVersion string
	State               uint8
}

func newStoredChannel(ch *Channel) *storedChannel {
	return &storedChannel{
		ID:                  ch.ID,
		CounterpartyID:      ch.CounterpartyID,
		Order:               uint8(ch.Order),
		Version:             ch.Version,
		CounterpartyVersion: ch.CounterpartyVersion,
		State:               uint8(ch.State),
	}
}

func (s *storedChannel) toChannel() *Channel {
	return &Channel{
		ID:                  s.ID,
		CounterpartyID:      s.CounterpartyID,
		Order:               Order(s.Order),
		Version:             s.Version,
		CounterpartyVersion: s.CounterpartyVersion,
		State:               ChannelState(s.State),
	}
}

type storedPacket struct {
	Sequence         uint64
	SourceChannel    string
	DestChannel      string
	Data             []byte
	TimeoutTimestamp uint64
}

func newStoredPacket(p *Packet) *storedPacket {
	return &storedPacket{
		Sequence:         p.Sequence,
		SourceChannel:    p.SourceChannel,
		DestChannel:      p.DestChannel,
		Data:             append([]byte(nil), p.Data...),
		TimeoutTimestamp: uint64(p.TimeoutTimestamp),
	}
}

func (s *storedPacket) toPacket() Packet {
	return Packet{
		Sequence:         s.Sequence,
		SourceChannel:    s.SourceChannel,
		DestChannel:      s.DestChannel,
		Data:             append([]byte(nil), s.Data...),
		TimeoutTimestamp: int64(s.TimeoutTimestamp),
	}
}

// commitPacket hashes the fields a counterparty could tamper with in transit.
func commitPacket(p Packet) [32]byte {
	buf := make([]byte, 0, 16+len(p.Data))
	buf = binary.BigEndian.AppendUint64(buf, p.Sequence)
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.TimeoutTimestamp))
	buf = append(buf, p.Data...)
	return blake3.Sum256(buf)
}

func (m *Module) loadChannel(id string) (*Channel, error) {
	var rec storedChannel
	ok, err := m.state.KVGet(channelKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	return rec.toChannel(), nil
}

func (m *Module) storeChannel(ch *Channel) error {
	return m.state.KVPut(channelKey(ch.ID), newStoredChannel(ch))
}

func (m *Module) loadCounters(id string) (Counters, error) {
	var c Counters
	if _, err := m.state.KVGet(countersKey(id), &c); err != nil {
		return Counters{}, err
	}
	return c, nil
}

func (m *Module) storeCounters(id string, c Counters) error {
	return m.state.KVPut(countersKey(id), &c)
}

func (m *Module) nextSequence(id string) (uint64, error) {
	var last uint64
	if _, err := m.state.KVGet(sequenceKey(id), &last); err != nil {
		return 0, err
	}
	next := last + 1
	if err := m.state.KVPut(sequenceKey(id), next); err != nil {
		return 0, err
	}
	return next, nil
}

// verifyCommitment checks that p is a packet this chain sent and still awaits
// a terminal callback for.
func (m *Module) verifyCommitment(p Packet) error {
	var stored [32]byte
	ok, err := m.state.KVGet(packetKey(commitmentPrefix, p.SourceChannel, p.Sequence), &stored)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrPacketCommitmentMissing, p.SourceChannel, p.Sequence)
	}
	if stored != commitPacket(p) {
		return fmt.Errorf("%w: %s/%d does not match sent packet", ErrPacketCommitmentMissing, p.SourceChannel, p.Sequence)
	}
	return nil
}

func (m *Module) clearSent(p Packet) error {
	if err := m.state.KVDelete(packetKey(commitmentPrefix, p.SourceChannel, p.Sequence)); err != nil {
		return err
	}
	return m.state.KVDelete(packetKey(outboxPrefix, p.SourceChannel, p.Sequence))
}
