package network

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"escrowchain/core"
	"escrowchain/core/genesis"
	"escrowchain/crypto"
	"escrowchain/native/common"
	"escrowchain/native/relay"
	"escrowchain/native/trade"
	"escrowchain/storage"
)

var (
	maker    = account(0x01)
	outsider = account(0x03)
)

func account(b byte) [20]byte {
	var out [20]byte
	out[0] = 0xAB
	out[19] = b
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newChain(t *testing.T, chainID string, clk *clock) *core.Chain {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"chainId":     chainID,
		"genesisTime": "2024-01-01T00:00:00Z",
		"assets":      []map[string]any{{"symbol": "USD", "decimals": 2}},
		"alloc": map[string]map[string]string{
			crypto.FormatAccount(maker):    {"USD": "1000"},
			crypto.FormatAccount(outsider): {"USD": "1000"},
		},
	})
	require.NoError(t, err)
	spec, err := genesis.ParseGenesisSpec(raw, "json")
	require.NoError(t, err)
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	chain, err := core.NewChain(db, spec, core.Config{RelayPacketTimeout: time.Minute})
	require.NoError(t, err)
	chain.SetNowFunc(clk.Now)
	return chain
}

func connect(t *testing.T, a, b *core.Chain) {
	t.Helper()
	ctx := context.Background()
	_, err := a.OpenChannel(ctx, relay.ChannelOpenInit{ID: "channel-0", CounterpartyID: "channel-1"})
	require.NoError(t, err)
	_, err = b.OpenChannel(ctx, relay.ChannelOpenInit{ID: "channel-1", CounterpartyID: "channel-0"})
	require.NoError(t, err)
	_, err = a.ConnectChannel(ctx, "channel-0", relay.DefaultVersion)
	require.NoError(t, err)
	_, err = b.ConnectChannel(ctx, "channel-1", relay.DefaultVersion)
	require.NoError(t, err)
}

func sampleTrade() *trade.NewTrade {
	return &trade.NewTrade{
		Asset:     "USD",
		Amount:    big.NewInt(100),
		Price:     big.NewInt(50),
		MinAmount: big.NewInt(10),
		MaxAmount: big.NewInt(100),
	}
}

type pair struct {
	clk     *clock
	a, b    *core.Chain
	relayer *Relayer
}

func newPair(t *testing.T) *pair {
	t.Helper()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	a := newChain(t, "escrow-a", clk)
	b := newChain(t, "escrow-b", clk)
	connect(t, a, b)
	relayer, err := NewRelayer(Peer{Name: "a", Endpoint: a}, Peer{Name: "b", Endpoint: b}, 10*time.Millisecond)
	require.NoError(t, err)
	return &pair{clk: clk, a: a, b: b, relayer: relayer}
}

func TestNewRelayerValidatesPeers(t *testing.T) {
	_, err := NewRelayer(Peer{Name: "a"}, Peer{Name: "b"}, 0)
	require.Error(t, err)

	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	chain := newChain(t, "escrow-a", clk)
	_, err = NewRelayer(Peer{Name: "x", Endpoint: chain}, Peer{Name: "x", Endpoint: chain}, 0)
	require.Error(t, err)
}

func TestRelayOnceDeliversBothDirections(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.a.SendCreate(ctx, maker, "channel-0", sampleTrade())
	require.NoError(t, err)
	_, err = p.b.SendCreate(ctx, maker, "channel-1", sampleTrade())
	require.NoError(t, err)

	stats, err := p.relayer.RelayOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Delivered: 2, Acked: 2}, stats)

	onB, err := p.b.QueryTrade(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "escrow-a", onB.OriginChain)
	onA, err := p.a.QueryTrade(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "escrow-b", onA.OriginChain)

	for _, chain := range []*core.Chain{p.a, p.b} {
		pending, err := chain.PendingPackets(ctx)
		require.NoError(t, err)
		require.Empty(t, pending)
	}

	stats, err = p.relayer.RelayOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{}, stats)
}

func TestRelayOnceCarriesErrorAck(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	created, err := p.b.CreateTrade(ctx, maker, sampleTrade())
	require.NoError(t, err)
	_, err = p.a.SendCancel(ctx, outsider, "channel-0", created.ID)
	require.NoError(t, err)

	stats, err := p.relayer.RelayOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Delivered: 1, Failed: 1}, stats)

	current, err := p.b.QueryTrade(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, trade.StatusCreated, current.Status)
}

func TestRelayOnceRecoversLostAck(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	packet, err := p.a.SendCreate(ctx, maker, "channel-0", sampleTrade())
	require.NoError(t, err)
	// delivered out of band, ack never returned to a
	_, err = p.b.RecvPacket(ctx, *packet)
	require.NoError(t, err)

	stats, err := p.relayer.RelayOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Delivered: 1, Acked: 1}, stats)

	pending, err := p.a.PendingPackets(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
	_, err = p.b.QueryTrade(ctx, 2)
	require.ErrorIs(t, err, trade.ErrNotFound)
}

func TestRelayOnceTimesOutExpiredPackets(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.a.SendCreate(ctx, maker, "channel-0", sampleTrade())
	require.NoError(t, err)
	p.clk.Advance(2 * time.Minute)

	stats, err := p.relayer.RelayOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{TimedOut: 1}, stats)

	counters, err := p.a.ChannelCounters(ctx, "channel-0")
	require.NoError(t, err)
	require.Equal(t, uint32(1), counters.Timeouts)
	_, err = p.b.QueryTrade(ctx, 1)
	require.ErrorIs(t, err, trade.ErrNotFound)
}

func TestRelayOnceDefersWhenChannelClosed(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.a.SendCreate(ctx, maker, "channel-0", sampleTrade())
	require.NoError(t, err)
	_, err = p.b.CloseChannel(ctx, "channel-1")
	require.NoError(t, err)

	stats, err := p.relayer.RelayOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Deferred: 1}, stats)
	pending, err := p.a.PendingPackets(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Past the deadline the closed destination no longer strands the packet.
	p.clk.Advance(time.Hour)
	stats, err = p.relayer.RelayOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{TimedOut: 1}, stats)

	counters, err := p.a.ChannelCounters(ctx, "channel-0")
	require.NoError(t, err)
	require.Equal(t, uint32(1), counters.Timeouts)
	pending, err = p.a.PendingPackets(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	stats, err = p.relayer.RelayOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{}, stats)
}

func TestRelayOnceTimesOutWhenDestinationPaused(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.a.SendCreate(ctx, maker, "channel-0", sampleTrade())
	require.NoError(t, err)
	p.b.Pauses().Set(common.ModuleRelay, true)

	stats, err := p.relayer.RelayOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Deferred: 1}, stats)

	p.clk.Advance(time.Hour)
	stats, err = p.relayer.RelayOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{TimedOut: 1}, stats)
}

type failingEndpoint struct {
	Endpoint
}

func (failingEndpoint) PendingPackets(context.Context) ([]relay.Packet, error) {
	return nil, errors.New("connection refused")
}

func TestRelayOnceReportsEndpointFailure(t *testing.T) {
	p := newPair(t)
	relayer, err := NewRelayer(Peer{Name: "a", Endpoint: p.a}, Peer{Name: "down", Endpoint: failingEndpoint{}}, time.Second)
	require.NoError(t, err)
	_, err = relayer.RelayOnce(context.Background())
	require.ErrorContains(t, err, "down: pending packets")
}

func TestRunStopsOnCancel(t *testing.T) {
	p := newPair(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := p.a.SendCreate(ctx, maker, "channel-0", sampleTrade())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		p.relayer.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := p.b.QueryTrade(context.Background(), 1)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relayer did not stop after cancel")
	}
}
