package trade

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"escrowchain/core/events"
	"escrowchain/crypto"
	"escrowchain/native/common"
	"escrowchain/native/escrow"
	"escrowchain/observability"
)

// ErrOfferMismatch is returned when a trade does not match the offer it cites.
var ErrOfferMismatch = errors.New("trade: offer mismatch")

// engineState is the slice of ledger state the engine depends on.
type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	BalanceOf(addr [20]byte, asset string) (*big.Int, error)
	Credit(addr [20]byte, asset string, amt *big.Int) error
	Debit(addr [20]byte, asset string, amt *big.Int) error
	AssetExists(symbol string) bool
}

// Config carries the chain-level trade policy.
type Config struct {
	ChainID            string
	PriceToleranceBps  uint32
	DefaultArbitrator  *[20]byte
	AllowPartialOffers bool
}

// Engine owns trade records and enforces the transition table. It holds no
// locks: the host runs each call to completion against a state view it
// commits or discards as a unit.
type Engine struct {
	state    engineState
	vault    *escrow.Vault
	emitter  events.Emitter
	nowFn    func() int64
	cfg      Config
	profiles ProfileNotifier
	prices   PriceQuoter
	offers   OfferSource
	pauses   common.PauseView
	logger   *slog.Logger
}

// NewEngine creates a trade engine with no state bound.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// SetState binds the engine and its custody vault to the provided state.
func (e *Engine) SetState(state engineState) {
	e.state = state
	if state == nil {
		e.vault = nil
		return
	}
	e.vault = escrow.NewVault(state)
	e.vault.SetEmitter(e.emitter)
}

// SetEmitter configures the event emitter used for trade and custody events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
	if e.vault != nil {
		e.vault.SetEmitter(emitter)
	}
}

// SetNowFunc overrides the ledger clock.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	e.nowFn = now
}

// SetProfiles wires the reputation ledger notified after completion and
// dispute resolution.
func (e *Engine) SetProfiles(p ProfileNotifier) { e.profiles = p }

// SetPrices wires the quote source consulted by Complete.
func (e *Engine) SetPrices(p PriceQuoter) { e.prices = p }

// SetOffers wires the offer book used by offer-backed creates.
func (e *Engine) SetOffers(o OfferSource) { e.offers = o }

// SetPauses wires the module pause switch checked before every mutation.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetLogger configures the logger used for notifier failures.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// Config returns the active policy.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.vault == nil {
		return fmt.Errorf("trade engine: state not configured")
	}
	return nil
}

func (e *Engine) guardMutation() error {
	if err := e.ready(); err != nil {
		return err
	}
	return common.Guard(e.pauses, common.ModuleTrade)
}

// Create validates a new trade for caller and stores it as Created. No funds
// move until FundEscrow.
func (e *Engine) Create(caller [20]byte, req *NewTrade, originChain string) (*Trade, error) {
	if err := e.guardMutation(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("trade: nil create request")
	}
	r := req.Clone()
	if r.Asset == "" || !e.state.AssetExists(r.Asset) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAsset, r.Asset)
	}
	if r.OfferID != 0 {
		if err := e.applyOffer(caller, r); err != nil {
			return nil, err
		}
	}
	if r.MinAmount == nil {
		r.MinAmount = cloneBig(r.Amount)
	}
	if r.MaxAmount == nil {
		r.MaxAmount = cloneBig(r.Amount)
	}
	if err := PricePositive(r.Price); err != nil {
		return nil, err
	}
	if err := AmountsValid(r.MinAmount, r.MaxAmount); err != nil {
		return nil, err
	}
	available, err := e.state.BalanceOf(caller, r.Asset)
	if err != nil {
		return nil, err
	}
	if err := AmountInBounds(r.Amount, r.MinAmount, r.MaxAmount, available); err != nil {
		return nil, err
	}
	arbitrator := r.Arbitrator
	if arbitrator == nil && e.cfg.DefaultArbitrator != nil {
		arb := *e.cfg.DefaultArbitrator
		arbitrator = &arb
	}
	if arbitrator != nil && *arbitrator == caller {
		return nil, fmt.Errorf("%w: maker cannot arbitrate own trade", ErrUnauthorized)
	}
	if originChain == "" {
		originChain = e.cfg.ChainID
	}

	id, err := e.nextTradeID()
	if err != nil {
		return nil, err
	}
	key := DeriveKey(caller, r.Asset, r.Amount, id)
	custody := escrow.DeriveCustody(key, r.Asset)
	now := e.nowFn()
	t := &Trade{
		ID:          id,
		Key:         key,
		Maker:       caller,
		Asset:       r.Asset,
		Amount:      r.Amount,
		Price:       r.Price,
		MinAmount:   r.MinAmount,
		MaxAmount:   r.MaxAmount,
		OfferID:     r.OfferID,
		Escrow:      custody.Address,
		Arbitrator:  arbitrator,
		OriginChain: originChain,
		Status:      StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.storeTrade(t); err != nil {
		return nil, err
	}
	e.emit(EventTypeTradeCreated, t, nil)
	return t.Clone(), nil
}

func (e *Engine) applyOffer(caller [20]byte, r *NewTrade) error {
	if e.offers == nil {
		return fmt.Errorf("%w: offer %d", ErrNotFound, r.OfferID)
	}
	terms, err := e.offers.OfferTerms(r.OfferID)
	if err != nil {
		return err
	}
	if terms == nil {
		return fmt.Errorf("%w: offer %d", ErrNotFound, r.OfferID)
	}
	if !terms.Active {
		return fmt.Errorf("%w: offer %d", ErrOfferInactive, r.OfferID)
	}
	if terms.Owner != caller {
		return fmt.Errorf("%w: offer %d not owned by caller", ErrOfferMismatch, r.OfferID)
	}
	if terms.Asset != r.Asset {
		return fmt.Errorf("%w: offer asset %s, trade asset %s", ErrOfferMismatch, terms.Asset, r.Asset)
	}
	r.MinAmount = cloneBig(terms.MinAmount)
	r.MaxAmount = cloneBig(terms.MaxAmount)
	if r.Price == nil || r.Price.Sign() == 0 {
		r.Price = cloneBig(terms.Price)
	}
	if !e.cfg.AllowPartialOffers && r.Amount != nil && terms.MaxAmount != nil && r.Amount.Cmp(terms.MaxAmount) != 0 {
		return fmt.Errorf("%w: partial offer fills disabled", ErrInvalidAmount)
	}
	return nil
}

// FundEscrow moves the trade amount from the maker into custody.
func (e *Engine) FundEscrow(caller [20]byte, id uint64) (*Trade, error) {
	if err := e.guardMutation(); err != nil {
		return nil, err
	}
	t, err := e.loadTrade(id)
	if err != nil {
		return nil, err
	}
	if err := StatusIs(t, StatusCreated); err != nil {
		return nil, err
	}
	if err := IsMaker(caller, t); err != nil {
		return nil, err
	}
	if err := e.vault.Lock(e.custody(t), caller, t.Asset, t.Amount); err != nil {
		return nil, err
	}
	return e.transition(t, StatusEscrowFunded, EventTypeTradeFunded, nil)
}

// Accept binds caller as the counterparty of a funded trade.
func (e *Engine) Accept(caller [20]byte, id uint64) (*Trade, error) {
	if err := e.guardMutation(); err != nil {
		return nil, err
	}
	t, err := e.loadTrade(id)
	if err != nil {
		return nil, err
	}
	if err := StatusIs(t, StatusEscrowFunded); err != nil {
		return nil, err
	}
	if err := CounterpartyUnset(t); err != nil {
		return nil, err
	}
	if caller == t.Maker {
		return nil, fmt.Errorf("%w: maker cannot accept own trade", ErrUnauthorized)
	}
	if t.Arbitrator != nil && caller == *t.Arbitrator {
		return nil, fmt.Errorf("%w: arbitrator cannot accept", ErrUnauthorized)
	}
	cp := caller
	t.Counterparty = &cp
	return e.transition(t, StatusAccepted, EventTypeTradeAccepted, nil)
}

// Complete releases custody to the counterparty after a fresh price check.
func (e *Engine) Complete(caller [20]byte, id uint64) (*Trade, error) {
	if err := e.guardMutation(); err != nil {
		return nil, err
	}
	t, err := e.loadTrade(id)
	if err != nil {
		return nil, err
	}
	if err := StatusIs(t, StatusAccepted); err != nil {
		return nil, err
	}
	if err := IsParty(caller, t); err != nil {
		return nil, err
	}
	oracle, err := e.quote(t.Asset)
	if err != nil {
		return nil, err
	}
	if err := PriceWithinTolerance(t.Price, oracle, e.cfg.PriceToleranceBps); err != nil {
		return nil, err
	}
	if err := e.vault.Release(e.custody(t), *t.Counterparty, t.Amount); err != nil {
		return nil, err
	}
	out, err := e.transition(t, StatusReleased, EventTypeTradeCompleted, nil)
	if err != nil {
		return nil, err
	}
	e.notify(t.ID, t.Maker, OutcomeCompleted)
	e.notify(t.ID, *t.Counterparty, OutcomeCompleted)
	return out, nil
}

// Cancel withdraws an unaccepted trade, refunding the maker when funded.
func (e *Engine) Cancel(caller [20]byte, id uint64) (*Trade, error) {
	if err := e.guardMutation(); err != nil {
		return nil, err
	}
	t, err := e.loadTrade(id)
	if err != nil {
		return nil, err
	}
	if err := StatusIs(t, StatusCreated, StatusEscrowFunded); err != nil {
		return nil, err
	}
	if err := CounterpartyUnset(t); err != nil {
		return nil, err
	}
	if err := IsMaker(caller, t); err != nil {
		return nil, err
	}
	if t.Status == StatusEscrowFunded {
		if err := e.vault.Release(e.custody(t), t.Maker, t.Amount); err != nil {
			return nil, err
		}
	}
	return e.transition(t, StatusCancelled, EventTypeTradeCancelled, nil)
}

// Dispute freezes an accepted trade pending arbitration.
func (e *Engine) Dispute(caller [20]byte, id uint64) (*Trade, error) {
	if err := e.guardMutation(); err != nil {
		return nil, err
	}
	t, err := e.loadTrade(id)
	if err != nil {
		return nil, err
	}
	if err := StatusIs(t, StatusAccepted); err != nil {
		return nil, err
	}
	if err := IsDisputer(caller, t); err != nil {
		return nil, err
	}
	if t.Arbitrator == nil {
		return nil, ErrNoArbitrator
	}
	return e.transition(t, StatusDisputed, EventTypeTradeDisputed, nil)
}

// Resolve settles a dispute in favour of winner, which must be the maker
// (refund) or the counterparty (release).
func (e *Engine) Resolve(caller [20]byte, id uint64, winner [20]byte) (*Trade, error) {
	if err := e.guardMutation(); err != nil {
		return nil, err
	}
	t, err := e.loadTrade(id)
	if err != nil {
		return nil, err
	}
	if err := StatusIs(t, StatusDisputed); err != nil {
		return nil, err
	}
	if err := IsArbitrator(caller, t); err != nil {
		return nil, err
	}
	var (
		next  Status
		loser [20]byte
	)
	switch {
	case t.Counterparty != nil && winner == *t.Counterparty:
		next, loser = StatusReleased, t.Maker
	case winner == t.Maker && t.Counterparty != nil:
		next, loser = StatusRefunded, *t.Counterparty
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidWinner, crypto.FormatAccount(winner))
	}
	if err := e.vault.Release(e.custody(t), winner, t.Amount); err != nil {
		return nil, err
	}
	w := winner
	out, err := e.transition(t, next, EventTypeTradeResolved, &w)
	if err != nil {
		return nil, err
	}
	e.notify(t.ID, winner, OutcomeDisputeWon)
	e.notify(t.ID, loser, OutcomeDisputeLost)
	return out, nil
}

// Trade returns the trade stored under id.
func (e *Engine) Trade(id uint64) (*Trade, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadTrade(id)
}

// TradeByKey locates a trade by its derivation key.
func (e *Engine) TradeByKey(key [32]byte) (*Trade, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var id uint64
	ok, err := e.state.KVGet(tradeIndexKey(key), &id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: key %x", ErrNotFound, key)
	}
	return e.loadTrade(id)
}

// EscrowBalance reports the amount currently held in the trade's custody.
func (e *Engine) EscrowBalance(id uint64) (*big.Int, error) {
	t, err := e.Trade(id)
	if err != nil {
		return nil, err
	}
	return e.vault.Balance(e.custody(t))
}

func (e *Engine) custody(t *Trade) escrow.Custody {
	return escrow.DeriveCustody(t.Key, t.Asset)
}

func (e *Engine) transition(t *Trade, next Status, eventType string, winner *[20]byte) (*Trade, error) {
	t.Status = next
	t.UpdatedAt = e.nowFn()
	if err := e.storeTrade(t); err != nil {
		return nil, err
	}
	e.emit(eventType, t, winner)
	return t.Clone(), nil
}

func (e *Engine) quote(asset string) (*big.Int, error) {
	if e.prices == nil {
		return nil, fmt.Errorf("%w: no price source", ErrPriceUnavailable)
	}
	price, err := e.prices.QuotePrice(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive quote for %s", ErrPriceUnavailable, asset)
	}
	return price, nil
}

// notify runs after funds have moved. Failures are logged and counted but
// never returned, so a profile problem cannot undo a settlement.
func (e *Engine) notify(id uint64, party [20]byte, outcome Outcome) {
	if e.profiles == nil {
		return
	}
	if err := e.profiles.NotifyProfile(party, outcome); err != nil {
		observability.Trade().RecordNotifierFailure("profile")
		e.logger.Warn("profile notification failed",
			slog.Uint64("trade_id", id),
			slog.String("party", crypto.FormatAccount(party)),
			slog.String("outcome", outcome.String()),
			slog.Any("error", err))
	}
}

func (e *Engine) emit(eventType string, t *Trade, winner *[20]byte) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(tradeEvent{evt: NewTradeEvent(eventType, t, winner)})
}
