package rpc

import (
	"context"
	"strings"

	"escrowchain/native/relay"
)

type relaySendCreateParams struct {
	Channel string            `json:"channel"`
	Trade   tradeCreateParams `json:"trade"`
}

type relaySendCancelParams struct {
	Channel string `json:"channel"`
	TradeID uint64 `json:"tradeId"`
}

type relayPacketParams struct {
	Packet relay.Packet `json:"packet"`
}

type relayAckParams struct {
	Packet relay.Packet          `json:"packet"`
	Ack    relay.Acknowledgement `json:"ack"`
}

type relayAckForParams struct {
	Channel  string `json:"channel"`
	Sequence uint64 `json:"sequence"`
}

type channelIDParams struct {
	ID string `json:"id"`
}

type channelOpenParams struct {
	ID                  string `json:"id"`
	CounterpartyID      string `json:"counterpartyId"`
	Order               string `json:"order,omitempty"`
	Version             string `json:"version,omitempty"`
	CounterpartyVersion string `json:"counterpartyVersion,omitempty"`
}

type channelConnectParams struct {
	ID                  string `json:"id"`
	CounterpartyVersion string `json:"counterpartyVersion"`
}

type ackResult struct {
	Ack relay.Acknowledgement `json:"ack"`
}

type okResult struct {
	OK bool `json:"ok"`
}

func (s *Server) handleRelaySendCreate(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params relaySendCreateParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	newTrade, err := params.Trade.toNewTrade()
	if err != nil {
		return nil, err
	}
	return s.chain.SendCreate(ctx, caller, strings.TrimSpace(params.Channel), newTrade)
}

func (s *Server) handleRelaySendCancel(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params relaySendCancelParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.TradeID == 0 {
		return nil, invalidParams("tradeId required")
	}
	return s.chain.SendCancel(ctx, caller, strings.TrimSpace(params.Channel), params.TradeID)
}

func (s *Server) handleRelayPending(ctx context.Context, _ [20]byte, _ *RPCRequest) (interface{}, error) {
	pending, err := s.chain.PendingPackets(ctx)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		pending = []relay.Packet{}
	}
	return pending, nil
}

func (s *Server) handleRelayRecv(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params relayPacketParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	ack, err := s.chain.RecvPacket(ctx, params.Packet)
	if err != nil {
		return nil, err
	}
	return ackResult{Ack: ack}, nil
}

func (s *Server) handleRelayAckFor(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params relayAckForParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	ack, err := s.chain.PacketAcknowledgement(ctx, strings.TrimSpace(params.Channel), params.Sequence)
	if err != nil {
		return nil, err
	}
	return ackResult{Ack: ack}, nil
}

func (s *Server) handleRelayAck(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params relayAckParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if err := s.chain.AcknowledgePacket(ctx, params.Packet, params.Ack); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleRelayTimeout(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params relayPacketParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if err := s.chain.TimeoutPacket(ctx, params.Packet); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) channelResult(ctx context.Context, ch *relay.Channel) (interface{}, error) {
	counters, err := s.chain.ChannelCounters(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	return formatChannel(ch, counters), nil
}

func (s *Server) handleRelayChannel(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params channelIDParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	ch, err := s.chain.Channel(ctx, strings.TrimSpace(params.ID))
	if err != nil {
		return nil, err
	}
	return s.channelResult(ctx, ch)
}

func (s *Server) handleRelayOpenChannel(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params channelOpenParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	order, err := parseOrder(params.Order)
	if err != nil {
		return nil, err
	}
	ch, err := s.chain.OpenChannel(ctx, relay.ChannelOpenInit{
		ID:                  strings.TrimSpace(params.ID),
		CounterpartyID:      strings.TrimSpace(params.CounterpartyID),
		Order:               order,
		Version:             params.Version,
		CounterpartyVersion: params.CounterpartyVersion,
	})
	if err != nil {
		return nil, err
	}
	return s.channelResult(ctx, ch)
}

func (s *Server) handleRelayConnectChannel(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params channelConnectParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	ch, err := s.chain.ConnectChannel(ctx, strings.TrimSpace(params.ID), params.CounterpartyVersion)
	if err != nil {
		return nil, err
	}
	return s.channelResult(ctx, ch)
}

func (s *Server) handleRelayCloseChannel(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params channelIDParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	ch, err := s.chain.CloseChannel(ctx, strings.TrimSpace(params.ID))
	if err != nil {
		return nil, err
	}
	return s.channelResult(ctx, ch)
}
