package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"escrowchain/core/events"
	"escrowchain/core/genesis"
	"escrowchain/core/state"
	"escrowchain/native/common"
	"escrowchain/native/offer"
	"escrowchain/native/price"
	"escrowchain/native/relay"
	"escrowchain/native/reputation"
	"escrowchain/native/trade"
	"escrowchain/observability"
	"escrowchain/storage"
)

const manualPriceSource = "manual"

// Config carries the node level policy applied on top of the genesis record.
type Config struct {
	PriceToleranceBps  uint32
	DefaultArbitrator  *[20]byte
	AllowPartialOffers bool
	PausedModules      []string

	RelayVersion       string
	RelayPacketTimeout time.Duration

	PriceMaxAge     time.Duration
	PriceSourceList []string
}

// ChainInfo summarises the chain identity for clients.
type ChainInfo struct {
	ChainID     string
	GenesisTime int64
	Arbitrator  *[20]byte
	Assets      []state.AssetMetadata
}

// Chain hosts the trade, offer, profile and relay modules on one ledger.
// Entry points are serialised and each runs against a fresh state overlay
// that is committed only when the call succeeds.
type Chain struct {
	mu sync.Mutex

	db       storage.Database
	meta     *state.ChainMeta
	tradeCfg trade.Config
	relayCfg relay.Config

	pauses  *common.PauseSet
	prices  *price.Aggregator
	manual  *price.ManualOracle
	emitter events.Emitter
	nowFn   func() time.Time
	idFn    func() uuid.UUID
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewChain initialises db from spec (a no-op when db already holds the same
// chain) and returns a chain ready to serve calls.
func NewChain(db storage.Database, spec *genesis.GenesisSpec, cfg Config) (*Chain, error) {
	meta, err := genesis.BuildGenesisFromSpec(spec, db)
	if err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	arbitrator := cfg.DefaultArbitrator
	if arbitrator == nil && meta.HasArbitrator {
		arb := meta.Arbitrator
		arbitrator = &arb
	}

	manual := price.NewManualOracle()
	priority := cfg.PriceSourceList
	if len(priority) == 0 {
		priority = []string{manualPriceSource}
	}
	prices := price.NewAggregator(priority, cfg.PriceMaxAge)
	prices.Register(manualPriceSource, manual)

	c := &Chain{
		db:   db,
		meta: meta,
		tradeCfg: trade.Config{
			ChainID:            meta.ChainID,
			PriceToleranceBps:  cfg.PriceToleranceBps,
			DefaultArbitrator:  arbitrator,
			AllowPartialOffers: cfg.AllowPartialOffers,
		},
		relayCfg: relay.Config{
			ChainID:       meta.ChainID,
			Version:       cfg.RelayVersion,
			PacketTimeout: cfg.RelayPacketTimeout,
		},
		pauses:  common.NewPauseSet(cfg.PausedModules...),
		prices:  prices,
		manual:  manual,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
		idFn:    uuid.New,
		logger:  slog.Default(),
		tracer:  otel.Tracer("escrowchain/core"),
	}
	return c, nil
}

// SetEmitter configures the sink that receives events of committed calls.
func (c *Chain) SetEmitter(emitter events.Emitter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	c.emitter = emitter
}

// SetNowFunc overrides the ledger clock for every module and the price
// freshness check.
func (c *Chain) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	c.nowFn = now
	c.prices.SetNowFunc(now)
}

func (c *Chain) SetRequestIDFunc(fn func() uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		fn = uuid.New
	}
	c.idFn = fn
}

func (c *Chain) SetLogger(logger *slog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	c.logger = logger
}

// RegisterPriceSource adds a named quote provider. Only names listed in the
// configured priority are consulted.
func (c *Chain) RegisterPriceSource(name string, src price.Source) {
	c.prices.Register(name, src)
}

// Pauses exposes the runtime pause switch.
func (c *Chain) Pauses() *common.PauseSet { return c.pauses }

// ChainID returns the identifier recorded at genesis.
func (c *Chain) ChainID() string { return c.meta.ChainID }

// UseNonce consumes a signed request nonce for caller in its own commit, so a
// request that later fails still cannot be replayed.
func (c *Chain) UseNonce(ctx context.Context, caller [20]byte, nonce uint64) error {
	return c.execute(ctx, "use_nonce", func(cl *call) error {
		return cl.state.UseNonce(caller, nonce)
	})
}

// AccountNonce returns the last signed request nonce accepted for addr.
func (c *Chain) AccountNonce(ctx context.Context, addr [20]byte) (uint64, error) {
	var out uint64
	err := c.view(func(cl *call) error {
		last, err := cl.state.Nonce(addr)
		out = last
		return err
	})
	return out, err
}

// call bundles the modules bound to one state overlay and event buffer.
type call struct {
	state    *state.Manager
	buffer   *events.Buffer
	trades   *trade.Engine
	offers   *offer.Engine
	profiles *reputation.Ledger
	relay    *relay.Module
}

func (c *Chain) newCall() *call {
	manager := state.NewManager(c.db)
	buffer := &events.Buffer{}
	unix := func() int64 { return c.nowFn().Unix() }

	profiles := reputation.NewLedger(manager)
	profiles.SetEmitter(buffer)
	profiles.SetNowFunc(unix)

	offers := offer.NewEngine()
	offers.SetState(manager)
	offers.SetEmitter(buffer)
	offers.SetNowFunc(unix)
	offers.SetPauses(c.pauses)

	trades := trade.NewEngine(c.tradeCfg)
	trades.SetEmitter(buffer)
	trades.SetState(manager)
	trades.SetNowFunc(unix)
	trades.SetProfiles(profiles)
	trades.SetPrices(c.prices)
	trades.SetOffers(offers)
	trades.SetPauses(c.pauses)
	trades.SetLogger(c.logger)

	relayModule := relay.NewModule(c.relayCfg)
	relayModule.SetState(manager)
	relayModule.SetEmitter(buffer)
	relayModule.SetNowFunc(c.nowFn)
	relayModule.SetRequestIDFunc(c.idFn)
	relayModule.SetPauses(c.pauses)
	relayModule.SetLogger(c.logger)

	return &call{
		state:    manager,
		buffer:   buffer,
		trades:   trades,
		offers:   offers,
		profiles: profiles,
		relay:    relayModule,
	}
}

// execute runs fn atomically: state and events are committed together on
// success and dropped together on error.
func (c *Chain) execute(ctx context.Context, action string, fn func(*call) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, span := c.tracer.Start(ctx, "chain."+action, trace.WithAttributes(
		attribute.String("escrow.chain_id", c.meta.ChainID),
	))
	defer span.End()
	start := time.Now()

	cl := c.newCall()
	err := fn(cl)
	if err == nil {
		if commitErr := cl.state.Commit(); commitErr != nil {
			err = fmt.Errorf("commit %s: %w", action, commitErr)
		}
	}
	if err != nil {
		cl.state.Discard()
		cl.buffer.Reset()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		cl.buffer.Flush(c.emitter)
	}
	observability.Trade().RecordTransition(action, err, time.Since(start))
	return err
}

// view runs fn against a throwaway overlay.
func (c *Chain) view(fn func(*call) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.newCall()
	defer cl.state.Discard()
	return fn(cl)
}

// --- Trades ---

func (c *Chain) CreateTrade(ctx context.Context, caller [20]byte, req *trade.NewTrade) (*trade.Trade, error) {
	var out *trade.Trade
	err := c.execute(ctx, "create", func(cl *call) error {
		t, err := cl.trades.Create(caller, req, c.meta.ChainID)
		out = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Chain) FundEscrow(ctx context.Context, caller [20]byte, id uint64) (*trade.Trade, error) {
	return c.transition(ctx, "fund", func(e *trade.Engine) (*trade.Trade, error) { return e.FundEscrow(caller, id) })
}

func (c *Chain) Accept(ctx context.Context, caller [20]byte, id uint64) (*trade.Trade, error) {
	return c.transition(ctx, "accept", func(e *trade.Engine) (*trade.Trade, error) { return e.Accept(caller, id) })
}

func (c *Chain) Complete(ctx context.Context, caller [20]byte, id uint64) (*trade.Trade, error) {
	return c.transition(ctx, "complete", func(e *trade.Engine) (*trade.Trade, error) { return e.Complete(caller, id) })
}

func (c *Chain) Cancel(ctx context.Context, caller [20]byte, id uint64) (*trade.Trade, error) {
	return c.transition(ctx, "cancel", func(e *trade.Engine) (*trade.Trade, error) { return e.Cancel(caller, id) })
}

func (c *Chain) Dispute(ctx context.Context, caller [20]byte, id uint64) (*trade.Trade, error) {
	return c.transition(ctx, "dispute", func(e *trade.Engine) (*trade.Trade, error) { return e.Dispute(caller, id) })
}

func (c *Chain) Resolve(ctx context.Context, caller [20]byte, id uint64, winner [20]byte) (*trade.Trade, error) {
	return c.transition(ctx, "resolve", func(e *trade.Engine) (*trade.Trade, error) { return e.Resolve(caller, id, winner) })
}

func (c *Chain) transition(ctx context.Context, action string, fn func(*trade.Engine) (*trade.Trade, error)) (*trade.Trade, error) {
	var out *trade.Trade
	err := c.execute(ctx, action, func(cl *call) error {
		t, err := fn(cl.trades)
		out = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QueryTrade returns the trade with the given id or trade.ErrNotFound.
func (c *Chain) QueryTrade(ctx context.Context, id uint64) (*trade.Trade, error) {
	var out *trade.Trade
	err := c.view(func(cl *call) error {
		t, err := cl.trades.Trade(id)
		out = t
		return err
	})
	return out, err
}

func (c *Chain) TradeByKey(ctx context.Context, key [32]byte) (*trade.Trade, error) {
	var out *trade.Trade
	err := c.view(func(cl *call) error {
		t, err := cl.trades.TradeByKey(key)
		out = t
		return err
	})
	return out, err
}

// EscrowBalance reports the custody balance of a trade.
func (c *Chain) EscrowBalance(ctx context.Context, id uint64) (*big.Int, error) {
	var out *big.Int
	err := c.view(func(cl *call) error {
		bal, err := cl.trades.EscrowBalance(id)
		out = bal
		return err
	})
	return out, err
}

// --- Offers ---

func (c *Chain) CreateOffer(ctx context.Context, caller [20]byte, terms offer.Terms) (*offer.Offer, error) {
	return c.offerCall(ctx, "offer_create", func(e *offer.Engine) (*offer.Offer, error) { return e.Create(caller, terms) })
}

func (c *Chain) UpdateOffer(ctx context.Context, caller [20]byte, id uint64, terms offer.Terms) (*offer.Offer, error) {
	return c.offerCall(ctx, "offer_update", func(e *offer.Engine) (*offer.Offer, error) { return e.Update(caller, id, terms) })
}

func (c *Chain) PauseOffer(ctx context.Context, caller [20]byte, id uint64) (*offer.Offer, error) {
	return c.offerCall(ctx, "offer_pause", func(e *offer.Engine) (*offer.Offer, error) { return e.Pause(caller, id) })
}

func (c *Chain) ResumeOffer(ctx context.Context, caller [20]byte, id uint64) (*offer.Offer, error) {
	return c.offerCall(ctx, "offer_resume", func(e *offer.Engine) (*offer.Offer, error) { return e.Resume(caller, id) })
}

func (c *Chain) CloseOffer(ctx context.Context, caller [20]byte, id uint64) (*offer.Offer, error) {
	return c.offerCall(ctx, "offer_close", func(e *offer.Engine) (*offer.Offer, error) { return e.Close(caller, id) })
}

func (c *Chain) offerCall(ctx context.Context, action string, fn func(*offer.Engine) (*offer.Offer, error)) (*offer.Offer, error) {
	var out *offer.Offer
	err := c.execute(ctx, action, func(cl *call) error {
		o, err := fn(cl.offers)
		out = o
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Chain) GetOffer(ctx context.Context, id uint64) (*offer.Offer, error) {
	var out *offer.Offer
	err := c.view(func(cl *call) error {
		o, err := cl.offers.Get(id)
		out = o
		return err
	})
	return out, err
}

// ListOffers returns every offer, or only those of owner when set.
func (c *Chain) ListOffers(ctx context.Context, owner *[20]byte) ([]*offer.Offer, error) {
	var out []*offer.Offer
	err := c.view(func(cl *call) error {
		list, err := cl.offers.List(owner)
		out = list
		return err
	})
	return out, err
}

// --- Profiles, prices, balances ---

func (c *Chain) SetContact(ctx context.Context, caller [20]byte, contact *reputation.Contact) (*reputation.Profile, error) {
	var out *reputation.Profile
	err := c.execute(ctx, "profile_set_contact", func(cl *call) error {
		p, err := cl.profiles.SetContact(caller, contact)
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Profile returns the profile of addr; a missing profile is reported as
// ok == false.
func (c *Chain) Profile(ctx context.Context, addr [20]byte) (*reputation.Profile, bool, error) {
	var (
		out *reputation.Profile
		ok  bool
	)
	err := c.view(func(cl *call) error {
		p, found, err := cl.profiles.Profile(addr)
		out, ok = p, found
		return err
	})
	return out, ok, err
}

// SetPrice records a manual quote stamped with the ledger clock.
func (c *Chain) SetPrice(ctx context.Context, asset string, value *big.Int) error {
	c.mu.Lock()
	now := c.nowFn()
	c.mu.Unlock()
	return c.manual.Set(asset, value, now)
}

// Price returns the reference price the completion guard would use.
func (c *Chain) Price(ctx context.Context, asset string) (price.Quote, error) {
	return c.prices.Quote(asset)
}

func (c *Chain) Balance(ctx context.Context, addr [20]byte, asset string) (*big.Int, error) {
	var out *big.Int
	err := c.view(func(cl *call) error {
		bal, err := cl.state.BalanceOf(addr, asset)
		out = bal
		return err
	})
	return out, err
}

func (c *Chain) ChainInfo(ctx context.Context) (*ChainInfo, error) {
	info := &ChainInfo{
		ChainID:     c.meta.ChainID,
		GenesisTime: int64(c.meta.GenesisTime),
	}
	if arb := c.tradeCfg.DefaultArbitrator; arb != nil {
		value := *arb
		info.Arbitrator = &value
	}
	err := c.view(func(cl *call) error {
		assets, err := cl.state.Assets()
		info.Assets = assets
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}
