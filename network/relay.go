package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"escrowchain/native/common"
	"escrowchain/native/relay"
)

const defaultRelayInterval = 2 * time.Second

// Endpoint is the packet surface of one chain. core.Chain implements it
// directly and rpc.Client implements it over JSON-RPC.
type Endpoint interface {
	PendingPackets(ctx context.Context) ([]relay.Packet, error)
	RecvPacket(ctx context.Context, packet relay.Packet) (relay.Acknowledgement, error)
	PacketAcknowledgement(ctx context.Context, channelID string, seq uint64) (relay.Acknowledgement, error)
	AcknowledgePacket(ctx context.Context, packet relay.Packet, ack relay.Acknowledgement) error
	TimeoutPacket(ctx context.Context, packet relay.Packet) error
}

// Peer names an endpoint for logs and metrics.
type Peer struct {
	Name     string
	Endpoint Endpoint
}

// Stats summarises one relay pass in one direction.
type Stats struct {
	Delivered int
	Acked     int
	Failed    int
	TimedOut  int
	Deferred  int
}

func (s Stats) add(o Stats) Stats {
	return Stats{
		Delivered: s.Delivered + o.Delivered,
		Acked:     s.Acked + o.Acked,
		Failed:    s.Failed + o.Failed,
		TimedOut:  s.TimedOut + o.TimedOut,
		Deferred:  s.Deferred + o.Deferred,
	}
}

// Relayer moves packets, acknowledgements and timeouts between two chains.
// Delivery order is not preserved and packets may be delivered more than
// once; the receiving chain rejects duplicates and the relayer then carries
// the stored acknowledgement instead.
type Relayer struct {
	a, b     Peer
	interval time.Duration
	logger   *slog.Logger
	metrics  *relayerMetrics

	passMu sync.Mutex
}

// NewRelayer constructs a relayer between a and b.
func NewRelayer(a, b Peer, interval time.Duration) (*Relayer, error) {
	if a.Endpoint == nil || b.Endpoint == nil {
		return nil, fmt.Errorf("network relayer: both endpoints required")
	}
	if a.Name == "" {
		a.Name = "a"
	}
	if b.Name == "" {
		b.Name = "b"
	}
	if a.Name == b.Name {
		return nil, fmt.Errorf("network relayer: endpoint names must differ")
	}
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	return &Relayer{
		a:        a,
		b:        b,
		interval: interval,
		logger:   slog.Default(),
		metrics:  defaultRelayerMetrics(),
	}, nil
}

func (r *Relayer) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.logger = logger
}

// Run relays at a fixed cadence until ctx is cancelled. Pass errors are
// logged and retried on the next tick.
func (r *Relayer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("relay pass failed", slog.Any("error", err))
				continue
			}
			if stats != (Stats{}) {
				r.logger.Info("relay pass complete",
					slog.Int("delivered", stats.Delivered),
					slog.Int("acked", stats.Acked),
					slog.Int("failed", stats.Failed),
					slog.Int("timed_out", stats.TimedOut),
					slog.Int("deferred", stats.Deferred))
			}
		}
	}
}

// RelayOnce drains the outboxes of both chains once. The two directions run
// concurrently.
func (r *Relayer) RelayOnce(ctx context.Context) (Stats, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	start := time.Now()
	var forward, backward Stats
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		forward, err = r.relayDirection(egCtx, r.a, r.b)
		return err
	})
	eg.Go(func() error {
		var err error
		backward, err = r.relayDirection(egCtx, r.b, r.a)
		return err
	})
	err := eg.Wait()
	r.metrics.observePass(time.Since(start))
	return forward.add(backward), err
}

func (r *Relayer) relayDirection(ctx context.Context, src, dst Peer) (Stats, error) {
	var stats Stats
	packets, err := src.Endpoint.PendingPackets(ctx)
	if err != nil {
		return stats, fmt.Errorf("%s: pending packets: %w", src.Name, err)
	}
	path := src.Name + "->" + dst.Name
	for _, packet := range packets {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		outcome, err := r.relayPacket(ctx, src, dst, packet)
		if err != nil {
			return stats, err
		}
		r.metrics.record(path, outcome)
		switch outcome {
		case outcomeAcked:
			stats.Delivered++
			stats.Acked++
		case outcomeFailed:
			stats.Delivered++
			stats.Failed++
		case outcomeTimedOut:
			stats.TimedOut++
		case outcomeDeferred:
			stats.Deferred++
		}
	}
	return stats, nil
}

const (
	outcomeAcked    = "acked"
	outcomeFailed   = "error_ack"
	outcomeTimedOut = "timeout"
	outcomeDeferred = "deferred"
)

func (r *Relayer) relayPacket(ctx context.Context, src, dst Peer, packet relay.Packet) (string, error) {
	logAttrs := []any{
		slog.String("from", src.Name),
		slog.String("to", dst.Name),
		slog.String("channel", packet.SourceChannel),
		slog.Uint64("sequence", packet.Sequence),
	}

	ack, err := dst.Endpoint.RecvPacket(ctx, packet)
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrPacketAlreadyReceived):
		// An earlier pass delivered it but the ack never reached the source.
		ack, err = dst.Endpoint.PacketAcknowledgement(ctx, packet.DestChannel, packet.Sequence)
		if err != nil {
			return "", fmt.Errorf("%s: stored ack %s/%d: %w", dst.Name, packet.DestChannel, packet.Sequence, err)
		}
	case errors.Is(err, relay.ErrPacketTimedOut):
		return r.timeout(ctx, src, packet, logAttrs)
	case errors.Is(err, relay.ErrChannelClosed),
		errors.Is(err, relay.ErrChannelNotFound),
		errors.Is(err, common.ErrModulePaused):
		// The destination cannot receive; the source times the packet out
		// once its deadline passes and defers it until then.
		r.logger.Warn("relay destination unavailable", append(logAttrs, slog.Any("error", err))...)
		return r.timeout(ctx, src, packet, logAttrs)
	default:
		r.logger.Warn("relay delivery deferred", append(logAttrs, slog.Any("error", err))...)
		return outcomeDeferred, nil
	}

	if err := src.Endpoint.AcknowledgePacket(ctx, packet, ack); err != nil {
		if errors.Is(err, relay.ErrPacketCommitmentMissing) {
			return outcomeDeferred, nil
		}
		return "", fmt.Errorf("%s: acknowledge %s/%d: %w", src.Name, packet.SourceChannel, packet.Sequence, err)
	}
	if !ack.Success() {
		r.logger.Warn("relay packet rejected by counterparty", append(logAttrs, slog.String("error", ack.Error))...)
		return outcomeFailed, nil
	}
	r.logger.Debug("relay packet acknowledged", logAttrs...)
	return outcomeAcked, nil
}

func (r *Relayer) timeout(ctx context.Context, src Peer, packet relay.Packet, logAttrs []any) (string, error) {
	err := src.Endpoint.TimeoutPacket(ctx, packet)
	switch {
	case err == nil:
		r.logger.Warn("relay packet timed out", logAttrs...)
		return outcomeTimedOut, nil
	case errors.Is(err, relay.ErrTimeoutNotReached),
		errors.Is(err, relay.ErrPacketCommitmentMissing),
		errors.Is(err, common.ErrModulePaused):
		// clocks disagree or another pass already settled it
		return outcomeDeferred, nil
	default:
		return "", fmt.Errorf("%s: timeout %s/%d: %w", src.Name, packet.SourceChannel, packet.Sequence, err)
	}
}
