package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"escrowchain/core/events"
	"escrowchain/crypto"
	"escrowchain/native/common"
	"escrowchain/native/trade"
	"escrowchain/observability"
)

// TradeHandler applies relayed requests through the same entry points local
// callers use. Each call must be all-or-nothing.
type TradeHandler interface {
	CreateTrade(caller [20]byte, req *trade.NewTrade, originChain string) (*trade.Trade, error)
	CancelTrade(caller [20]byte, id uint64) (*trade.Trade, error)
}

type moduleState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVGetList(prefix []byte, out interface{}) error
}

// Config controls the local end of every relay channel.
type Config struct {
	ChainID       string
	Version       string
	PacketTimeout time.Duration
}

const defaultPacketTimeout = 10 * time.Minute

// Module implements the channel handshake and packet lifecycle. Like the trade
// engine it holds no locks and is rebound to a fresh state view per call.
type Module struct {
	state   moduleState
	cfg     Config
	emitter events.Emitter
	nowFn   func() time.Time
	idFn    func() uuid.UUID
	pauses  common.PauseView
	logger  *slog.Logger
}

// NewModule returns a relay module with the default version and packet
// timeout filled in. State must be bound with SetState before use.
func NewModule(cfg Config) *Module {
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.PacketTimeout <= 0 {
		cfg.PacketTimeout = defaultPacketTimeout
	}
	return &Module{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
		idFn:    uuid.New,
		logger:  slog.Default(),
	}
}

// SetState binds the store holding channels, commitments and receipts.
func (m *Module) SetState(state moduleState) { m.state = state }

// SetPauses wires the module pause switch.
func (m *Module) SetPauses(p common.PauseView) { m.pauses = p }

// Config returns the effective configuration.
func (m *Module) Config() Config { return m.cfg }

func (m *Module) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.emitter = emitter
}

func (m *Module) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	m.nowFn = now
}

// SetRequestIDFunc overrides the generator used for request correlation ids.
func (m *Module) SetRequestIDFunc(fn func() uuid.UUID) {
	if fn == nil {
		fn = uuid.New
	}
	m.idFn = fn
}

func (m *Module) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	m.logger = logger
}

func (m *Module) ready() error {
	if m == nil || m.state == nil {
		return fmt.Errorf("relay module: state not configured")
	}
	return nil
}

// validateOrderAndVersion fails closed: an ordered channel or a version that
// differs from ours is rejected. The counterparty version is checked only
// when known.
func (m *Module) validateOrderAndVersion(order Order, version, counterpartyVersion string) error {
	if order != OrderUnordered {
		return fmt.Errorf("%w: got %s", ErrOrderedChannel, order)
	}
	if version != m.cfg.Version {
		return fmt.Errorf("%w: got %q, expected %q", ErrInvalidVersion, version, m.cfg.Version)
	}
	if counterpartyVersion != "" && counterpartyVersion != m.cfg.Version {
		return fmt.Errorf("%w: counterparty %q, expected %q", ErrInvalidVersion, counterpartyVersion, m.cfg.Version)
	}
	return nil
}

// OnChanOpen validates and records a proposed channel end.
func (m *Module) OnChanOpen(init ChannelOpenInit) (*Channel, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if err := validateChannelID(init.ID); err != nil {
		return nil, err
	}
	if init.CounterpartyID != "" {
		if err := validateChannelID(init.CounterpartyID); err != nil {
			return nil, err
		}
	}
	if init.Order == 0 {
		init.Order = OrderUnordered
	}
	if init.Version == "" {
		init.Version = m.cfg.Version
	}
	if err := m.validateOrderAndVersion(init.Order, init.Version, init.CounterpartyVersion); err != nil {
		return nil, err
	}
	if existing, err := m.loadChannel(init.ID); err == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrChannelState, existing.ID, existing.State)
	} else if !errors.Is(err, ErrChannelNotFound) {
		return nil, err
	}
	ch := &Channel{
		ID:                  init.ID,
		CounterpartyID:      init.CounterpartyID,
		Order:               init.Order,
		Version:             init.Version,
		CounterpartyVersion: init.CounterpartyVersion,
		State:               ChannelInit,
	}
	if err := m.storeChannel(ch); err != nil {
		return nil, err
	}
	m.emitter.Emit(relayEvent{evt: newChannelEvent(EventTypeChannelOpened, ch)})
	return ch, nil
}

// OnChanConnect completes the handshake and starts the channel's counters at
// zero.
func (m *Module) OnChanConnect(id, counterpartyVersion string) (*Channel, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	ch, err := m.loadChannel(id)
	if err != nil {
		return nil, err
	}
	switch ch.State {
	case ChannelInit:
	case ChannelClosed:
		return nil, fmt.Errorf("%w: %s", ErrChannelClosed, id)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrChannelState, id, ch.State)
	}
	if counterpartyVersion != "" {
		ch.CounterpartyVersion = counterpartyVersion
	}
	if err := m.validateOrderAndVersion(ch.Order, ch.Version, ch.CounterpartyVersion); err != nil {
		return nil, err
	}
	ch.State = ChannelOpen
	if err := m.storeChannel(ch); err != nil {
		return nil, err
	}
	if err := m.storeCounters(id, Counters{}); err != nil {
		return nil, err
	}
	m.emitter.Emit(relayEvent{evt: newChannelEvent(EventTypeChannelConnected, ch)})
	m.logger.Info("relay channel connected", slog.String("channel", id))
	return ch, nil
}

// OnChanClose marks the channel closed and resets its counters.
func (m *Module) OnChanClose(id string) (*Channel, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	ch, err := m.loadChannel(id)
	if err != nil {
		return nil, err
	}
	if ch.State == ChannelClosed {
		return nil, fmt.Errorf("%w: %s", ErrChannelClosed, id)
	}
	ch.State = ChannelClosed
	if err := m.storeChannel(ch); err != nil {
		return nil, err
	}
	if err := m.state.KVDelete(countersKey(id)); err != nil {
		return nil, err
	}
	m.emitter.Emit(relayEvent{evt: newChannelEvent(EventTypeChannelClosed, ch)})
	m.logger.Info("relay channel closed", slog.String("channel", id))
	return ch, nil
}

// Channel returns the channel end stored under id.
func (m *Module) Channel(id string) (*Channel, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.loadChannel(id)
}

// ChannelCounters reports the diagnostics of a channel. Closed channels read
// as zero.
func (m *Module) ChannelCounters(id string) (Counters, error) {
	if err := m.ready(); err != nil {
		return Counters{}, err
	}
	if _, err := m.loadChannel(id); err != nil {
		return Counters{}, err
	}
	return m.loadCounters(id)
}

func (m *Module) openChannel(id string) (*Channel, error) {
	ch, err := m.loadChannel(id)
	if err != nil {
		return nil, err
	}
	switch ch.State {
	case ChannelOpen:
		return ch, nil
	case ChannelClosed:
		return nil, fmt.Errorf("%w: %s", ErrChannelClosed, id)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrChannelState, id, ch.State)
	}
}

// SendCreate queues a request asking the counterparty chain to create a trade
// on behalf of caller.
func (m *Module) SendCreate(caller [20]byte, channelID string, req *trade.NewTrade) (*Packet, error) {
	if req == nil {
		return nil, fmt.Errorf("relay: nil trade request")
	}
	msg := CreateTradeRequest{
		OriginAddress: crypto.FormatAccount(caller),
		OriginChain:   m.cfg.ChainID,
		RequestID:     m.idFn(),
		Trade:         FieldsFromNewTrade(req),
	}
	return m.send(channelID, msg, msg.RequestID)
}

// SendCancel queues a request asking the counterparty chain to cancel a trade
// caller made there.
func (m *Module) SendCancel(caller [20]byte, channelID string, tradeID uint64) (*Packet, error) {
	msg := CancelTradeRequest{
		OriginAddress: crypto.FormatAccount(caller),
		OriginChain:   m.cfg.ChainID,
		RequestID:     m.idFn(),
		TradeID:       tradeID,
	}
	return m.send(channelID, msg, msg.RequestID)
}

func (m *Module) send(channelID string, msg Message, requestID uuid.UUID) (*Packet, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(m.pauses, common.ModuleRelay); err != nil {
		return nil, err
	}
	ch, err := m.openChannel(channelID)
	if err != nil {
		return nil, err
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	seq, err := m.nextSequence(channelID)
	if err != nil {
		return nil, err
	}
	packet := Packet{
		Sequence:         seq,
		SourceChannel:    ch.ID,
		DestChannel:      ch.CounterpartyID,
		Data:             data,
		TimeoutTimestamp: m.nowFn().Add(m.cfg.PacketTimeout).Unix(),
	}
	commitment := commitPacket(packet)
	if err := m.state.KVPut(packetKey(commitmentPrefix, ch.ID, seq), commitment); err != nil {
		return nil, err
	}
	if err := m.state.KVPut(packetKey(outboxPrefix, ch.ID, seq), newStoredPacket(&packet)); err != nil {
		return nil, err
	}
	observability.Relay().RecordPacket("send", nil)
	m.emitter.Emit(relayEvent{evt: newPacketEvent(EventTypePacketSent, packet, map[string]string{
		"kind":      msg.Kind(),
		"requestId": requestID.String(),
	})})
	m.logger.Info("relay packet queued",
		slog.String("channel", ch.ID),
		slog.Uint64("sequence", seq),
		slog.String("request_id", requestID.String()))
	return &packet, nil
}

// PendingPackets lists every sent packet still awaiting an ack or timeout,
// ordered by channel then sequence.
func (m *Module) PendingPackets() ([]Packet, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	var stored []storedPacket
	if err := m.state.KVGetList(outboxPrefix, &stored); err != nil {
		return nil, err
	}
	out := make([]Packet, 0, len(stored))
	for i := range stored {
		out = append(out, stored[i].toPacket())
	}
	return out, nil
}

// OnRecvPacket applies an inbound packet and returns its acknowledgement.
// Every accepted packet yields exactly one ack, success or error, which is
// also stored for later retrieval. Redelivery and expired packets are
// rejected with an error and produce no ack.
func (m *Module) OnRecvPacket(packet Packet, handler TradeHandler) (Acknowledgement, error) {
	if err := m.ready(); err != nil {
		return Acknowledgement{}, err
	}
	if err := common.Guard(m.pauses, common.ModuleRelay); err != nil {
		return Acknowledgement{}, err
	}
	ch, err := m.openChannel(packet.DestChannel)
	if err != nil {
		return Acknowledgement{}, err
	}
	if ch.CounterpartyID != "" && packet.SourceChannel != ch.CounterpartyID {
		return Acknowledgement{}, fmt.Errorf("%w: %s is not the counterparty of %s", ErrChannelNotFound, packet.SourceChannel, ch.ID)
	}
	receipt := packetKey(receiptPrefix, ch.ID, packet.Sequence)
	seen, err := m.state.KVGet(receipt, nil)
	if err != nil {
		return Acknowledgement{}, err
	}
	if seen {
		observability.Relay().RecordPacket("recv", ErrPacketAlreadyReceived)
		return Acknowledgement{}, fmt.Errorf("%w: %s/%d", ErrPacketAlreadyReceived, ch.ID, packet.Sequence)
	}
	now := m.nowFn()
	if packet.TimeoutTimestamp > 0 && now.Unix() >= packet.TimeoutTimestamp {
		observability.Relay().RecordPacket("recv", ErrPacketTimedOut)
		return Acknowledgement{}, fmt.Errorf("%w: %s/%d", ErrPacketTimedOut, ch.ID, packet.Sequence)
	}

	requestID, appErr := m.dispatch(packet, handler)
	ack := NewSuccessAck()
	if appErr != nil {
		ack = NewErrorAck(appErr.Error())
	}

	if err := m.state.KVPut(receipt, uint64(now.Unix())); err != nil {
		return Acknowledgement{}, err
	}
	encoded, err := ack.Encode()
	if err != nil {
		return Acknowledgement{}, err
	}
	if err := m.state.KVPut(packetKey(ackPrefix, ch.ID, packet.Sequence), encoded); err != nil {
		return Acknowledgement{}, err
	}
	counters, err := m.loadCounters(ch.ID)
	if err != nil {
		return Acknowledgement{}, err
	}
	counters.Received++
	if err := m.storeCounters(ch.ID, counters); err != nil {
		return Acknowledgement{}, err
	}

	observability.Relay().RecordPacket("recv", appErr)
	extra := map[string]string{"success": strconv.FormatBool(appErr == nil)}
	if requestID != "" {
		extra["requestId"] = requestID
	}
	if appErr != nil {
		extra["error"] = appErr.Error()
	}
	m.emitter.Emit(relayEvent{evt: newPacketEvent(EventTypePacketReceived, packet, extra)})
	logAttrs := []any{
		slog.String("channel", ch.ID),
		slog.Uint64("sequence", packet.Sequence),
		slog.String("request_id", requestID),
	}
	if appErr != nil {
		m.logger.Warn("relay packet rejected", append(logAttrs, slog.Any("error", appErr))...)
	} else {
		m.logger.Info("relay packet applied", logAttrs...)
	}
	return ack, nil
}

// dispatch decodes the packet and applies it. The returned request id is
// empty when the payload could not be decoded.
func (m *Module) dispatch(packet Packet, handler TradeHandler) (string, error) {
	msg, err := DecodeMessage(packet.Data)
	if err != nil {
		return "", err
	}
	if handler == nil {
		return "", fmt.Errorf("relay: no trade handler")
	}
	switch req := msg.(type) {
	case CreateTradeRequest:
		caller, err := crypto.ParseAccount(req.OriginAddress)
		if err != nil {
			return req.RequestID.String(), fmt.Errorf("relay: origin address: %w", err)
		}
		newTrade, err := req.Trade.NewTrade()
		if err != nil {
			return req.RequestID.String(), err
		}
		_, err = handler.CreateTrade(caller, newTrade, req.OriginChain)
		return req.RequestID.String(), err
	case CancelTradeRequest:
		caller, err := crypto.ParseAccount(req.OriginAddress)
		if err != nil {
			return req.RequestID.String(), fmt.Errorf("relay: origin address: %w", err)
		}
		_, err = handler.CancelTrade(caller, req.TradeID)
		return req.RequestID.String(), err
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

// PacketAcknowledgement returns the ack written when the packet was received.
func (m *Module) PacketAcknowledgement(channelID string, seq uint64) (Acknowledgement, error) {
	if err := m.ready(); err != nil {
		return Acknowledgement{}, err
	}
	var encoded []byte
	ok, err := m.state.KVGet(packetKey(ackPrefix, channelID, seq), &encoded)
	if err != nil {
		return Acknowledgement{}, err
	}
	if !ok {
		return Acknowledgement{}, fmt.Errorf("%w: %s/%d", ErrAckNotFound, channelID, seq)
	}
	return DecodeAcknowledgement(encoded)
}

// OnAcknowledgementPacket settles a sent packet. Error acks are reported but
// never roll back local state: nothing here depends on the remote outcome.
func (m *Module) OnAcknowledgementPacket(packet Packet, ack Acknowledgement) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.verifyCommitment(packet); err != nil {
		return err
	}
	if err := m.clearSent(packet); err != nil {
		return err
	}
	if ack.Success() {
		observability.Relay().RecordPacket("ack", nil)
		m.emitter.Emit(relayEvent{evt: newPacketEvent(EventTypePacketAcked, packet, nil)})
		return nil
	}
	reason := ack.Error
	if reason == "" {
		reason = "empty acknowledgement"
	}
	observability.Relay().RecordPacket("ack", errors.New(reason))
	m.emitter.Emit(relayEvent{evt: newPacketEvent(EventTypeAckError, packet, map[string]string{"error": reason})})
	m.logger.Warn("relay packet failed on counterparty",
		slog.String("channel", packet.SourceChannel),
		slog.Uint64("sequence", packet.Sequence),
		slog.String("error", reason))
	return nil
}

// OnTimeoutPacket settles a sent packet that expired undelivered. The only
// effect besides clearing the commitment is the timeout counter.
func (m *Module) OnTimeoutPacket(packet Packet) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.verifyCommitment(packet); err != nil {
		return err
	}
	if m.nowFn().Unix() < packet.TimeoutTimestamp {
		return fmt.Errorf("%w: %s/%d", ErrTimeoutNotReached, packet.SourceChannel, packet.Sequence)
	}
	if err := m.clearSent(packet); err != nil {
		return err
	}
	ch, err := m.loadChannel(packet.SourceChannel)
	if err != nil {
		return err
	}
	if ch.State == ChannelOpen {
		counters, err := m.loadCounters(ch.ID)
		if err != nil {
			return err
		}
		counters.Timeouts++
		if err := m.storeCounters(ch.ID, counters); err != nil {
			return err
		}
	}
	observability.Relay().RecordTimeout(ch.ID)
	m.emitter.Emit(relayEvent{evt: newPacketEvent(EventTypePacketTimeout, packet, nil)})
	m.logger.Warn("relay packet timed out",
		slog.String("channel", ch.ID),
		slog.Uint64("sequence", packet.Sequence))
	return nil
}
