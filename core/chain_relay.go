package core

import (
	"context"

	"escrowchain/native/relay"
	"escrowchain/native/trade"
)

// relayHandler applies relayed requests inside the packet's call. Each
// request runs under a state snapshot so a rejected request leaves no writes
// behind while the receipt, ack and counters still commit.
type relayHandler struct {
	call    *call
	chainID string
}

var _ relay.TradeHandler = relayHandler{}

func (h relayHandler) CreateTrade(caller [20]byte, req *trade.NewTrade, originChain string) (*trade.Trade, error) {
	var out *trade.Trade
	err := h.isolated(func() error {
		if originChain == "" {
			originChain = h.chainID
		}
		t, err := h.call.trades.Create(caller, req, originChain)
		out = t
		return err
	})
	return out, err
}

func (h relayHandler) CancelTrade(caller [20]byte, id uint64) (*trade.Trade, error) {
	var out *trade.Trade
	err := h.isolated(func() error {
		t, err := h.call.trades.Cancel(caller, id)
		out = t
		return err
	})
	return out, err
}

func (h relayHandler) isolated(fn func() error) error {
	snap := h.call.state.Snapshot()
	mark := h.call.buffer.Len()
	if err := fn(); err != nil {
		h.call.state.RevertToSnapshot(snap)
		h.call.buffer.Truncate(mark)
		return err
	}
	return nil
}

// --- Channel handshake ---

func (c *Chain) OpenChannel(ctx context.Context, init relay.ChannelOpenInit) (*relay.Channel, error) {
	return c.channelCall(ctx, "relay_open", func(m *relay.Module) (*relay.Channel, error) { return m.OnChanOpen(init) })
}

func (c *Chain) ConnectChannel(ctx context.Context, id, counterpartyVersion string) (*relay.Channel, error) {
	return c.channelCall(ctx, "relay_connect", func(m *relay.Module) (*relay.Channel, error) {
		return m.OnChanConnect(id, counterpartyVersion)
	})
}

func (c *Chain) CloseChannel(ctx context.Context, id string) (*relay.Channel, error) {
	return c.channelCall(ctx, "relay_close", func(m *relay.Module) (*relay.Channel, error) { return m.OnChanClose(id) })
}

func (c *Chain) channelCall(ctx context.Context, action string, fn func(*relay.Module) (*relay.Channel, error)) (*relay.Channel, error) {
	var out *relay.Channel
	err := c.execute(ctx, action, func(cl *call) error {
		ch, err := fn(cl.relay)
		out = ch
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Chain) Channel(ctx context.Context, id string) (*relay.Channel, error) {
	var out *relay.Channel
	err := c.view(func(cl *call) error {
		ch, err := cl.relay.Channel(id)
		out = ch
		return err
	})
	return out, err
}

func (c *Chain) ChannelCounters(ctx context.Context, id string) (relay.Counters, error) {
	var out relay.Counters
	err := c.view(func(cl *call) error {
		counters, err := cl.relay.ChannelCounters(id)
		out = counters
		return err
	})
	return out, err
}

// --- Packets ---

// SendCreate queues a request for the counterparty chain to create a trade
// for caller.
func (c *Chain) SendCreate(ctx context.Context, caller [20]byte, channelID string, req *trade.NewTrade) (*relay.Packet, error) {
	return c.sendCall(ctx, "relay_send_create", func(m *relay.Module) (*relay.Packet, error) {
		return m.SendCreate(caller, channelID, req)
	})
}

// SendCancel queues a request for the counterparty chain to cancel a trade
// caller made there.
func (c *Chain) SendCancel(ctx context.Context, caller [20]byte, channelID string, tradeID uint64) (*relay.Packet, error) {
	return c.sendCall(ctx, "relay_send_cancel", func(m *relay.Module) (*relay.Packet, error) {
		return m.SendCancel(caller, channelID, tradeID)
	})
}

func (c *Chain) sendCall(ctx context.Context, action string, fn func(*relay.Module) (*relay.Packet, error)) (*relay.Packet, error) {
	var out *relay.Packet
	err := c.execute(ctx, action, func(cl *call) error {
		p, err := fn(cl.relay)
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PendingPackets lists outbound packets awaiting an ack or timeout.
func (c *Chain) PendingPackets(ctx context.Context) ([]relay.Packet, error) {
	var out []relay.Packet
	err := c.view(func(cl *call) error {
		packets, err := cl.relay.PendingPackets()
		out = packets
		return err
	})
	return out, err
}

// RecvPacket applies an inbound packet and returns the acknowledgement to
// carry back to the source chain.
func (c *Chain) RecvPacket(ctx context.Context, packet relay.Packet) (relay.Acknowledgement, error) {
	var ack relay.Acknowledgement
	err := c.execute(ctx, "relay_recv", func(cl *call) error {
		handler := relayHandler{call: cl, chainID: c.meta.ChainID}
		a, err := cl.relay.OnRecvPacket(packet, handler)
		ack = a
		return err
	})
	if err != nil {
		return relay.Acknowledgement{}, err
	}
	return ack, nil
}

// PacketAcknowledgement returns the ack stored when the packet was received.
func (c *Chain) PacketAcknowledgement(ctx context.Context, channelID string, seq uint64) (relay.Acknowledgement, error) {
	var out relay.Acknowledgement
	err := c.view(func(cl *call) error {
		ack, err := cl.relay.PacketAcknowledgement(channelID, seq)
		out = ack
		return err
	})
	return out, err
}

func (c *Chain) AcknowledgePacket(ctx context.Context, packet relay.Packet, ack relay.Acknowledgement) error {
	return c.execute(ctx, "relay_ack", func(cl *call) error {
		return cl.relay.OnAcknowledgementPacket(packet, ack)
	})
}

func (c *Chain) TimeoutPacket(ctx context.Context, packet relay.Packet) error {
	return c.execute(ctx, "relay_timeout", func(cl *call) error {
		return cl.relay.OnTimeoutPacket(packet)
	})
}
