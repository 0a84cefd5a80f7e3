package offer

import (
	"errors"
	"fmt"
	"time"

	"escrowchain/core/events"
	"escrowchain/native/common"
	"escrowchain/native/trade"
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVGetList(prefix []byte, out interface{}) error
	AssetExists(symbol string) bool
}

// Engine manages the offer catalog.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
	pauses  common.PauseView
}

var _ trade.OfferSource = (*Engine)(nil)

func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (e *Engine) SetState(state engineState) { e.state = state }
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetEmitter configures the emitter used for offer lifecycle events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	e.nowFn = now
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return fmt.Errorf("offer engine: state not configured")
	}
	return nil
}

func (e *Engine) guardMutation() error {
	if err := e.ready(); err != nil {
		return err
	}
	return common.Guard(e.pauses, common.ModuleOffer)
}

// Create publishes a new Active offer owned by caller.
func (e *Engine) Create(caller [20]byte, terms Terms) (*Offer, error) {
	if err := e.guardMutation(); err != nil {
		return nil, err
	}
	if err := terms.Normalize(); err != nil {
		return nil, err
	}
	if !e.state.AssetExists(terms.Asset) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, terms.Asset)
	}
	id, err := e.nextID()
	if err != nil {
		return nil, err
	}
	now := e.nowFn()
	o := &Offer{
		ID:        id,
		Owner:     caller,
		Asset:     terms.Asset,
		Price:     terms.Price,
		MinAmount: terms.MinAmount,
		MaxAmount: terms.MaxAmount,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return e.save(o, EventTypeOfferCreated)
}

// Update replaces the terms of an open offer.
func (e *Engine) Update(caller [20]byte, id uint64, terms Terms) (*Offer, error) {
	if err := e.guardMutation(); err != nil {
		return nil, err
	}
	o, err := e.owned(caller, id)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusClosed {
		return nil, fmt.Errorf("%w: offer %d closed", ErrInvalidStatus, id)
	}
	if err := terms.Normalize(); err != nil {
		return nil, err
	}
	if !e.state.AssetExists(terms.Asset) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, terms.Asset)
	}
	o.Asset = terms.Asset
	o.Price = terms.Price
	o.MinAmount = terms.MinAmount
	o.MaxAmount = terms.MaxAmount
	o.UpdatedAt = e.nowFn()
	return e.save(o, EventTypeOfferUpdated)
}

// Pause moves an Active offer to Paused.
func (e *Engine) Pause(caller [20]byte, id uint64) (*Offer, error) {
	return e.move(caller, id, StatusPaused, EventTypeOfferPaused, StatusActive)
}

// Resume moves a Paused offer back to Active.
func (e *Engine) Resume(caller [20]byte, id uint64) (*Offer, error) {
	return e.move(caller, id, StatusActive, EventTypeOfferResumed, StatusPaused)
}

// Close retires an offer permanently.
func (e *Engine) Close(caller [20]byte, id uint64) (*Offer, error) {
	return e.move(caller, id, StatusClosed, EventTypeOfferClosed, StatusActive, StatusPaused)
}

// Get returns the offer stored under id.
func (e *Engine) Get(id uint64) (*Offer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.load(id)
}

// List returns every offer, optionally filtered to a single owner, in id
// order.
func (e *Engine) List(owner *[20]byte) ([]*Offer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var stored []storedOffer
	if err := e.state.KVGetList(offerRecordPrefix, &stored); err != nil {
		return nil, err
	}
	out := make([]*Offer, 0, len(stored))
	for i := range stored {
		o, err := stored[i].toOffer()
		if err != nil {
			return nil, err
		}
		if owner != nil && o.Owner != *owner {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// OfferTerms implements trade.OfferSource.
func (e *Engine) OfferTerms(id uint64) (*trade.OfferTerms, error) {
	o, err := e.Get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: offer %d", trade.ErrNotFound, id)
		}
		return nil, err
	}
	return &trade.OfferTerms{
		ID:        o.ID,
		Owner:     o.Owner,
		Asset:     o.Asset,
		Price:     cloneBig(o.Price),
		MinAmount: cloneBig(o.MinAmount),
		MaxAmount: cloneBig(o.MaxAmount),
		Active:    o.Status == StatusActive,
	}, nil
}

func (e *Engine) owned(caller [20]byte, id uint64) (*Offer, error) {
	o, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if o.Owner != caller {
		return nil, ErrUnauthorized
	}
	return o, nil
}

func (e *Engine) move(caller [20]byte, id uint64, next Status, eventType string, from ...Status) (*Offer, error) {
	if err := e.guardMutation(); err != nil {
		return nil, err
	}
	o, err := e.owned(caller, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, s := range from {
		if o.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: offer %d is %s", ErrInvalidStatus, id, o.Status)
	}
	o.Status = next
	o.UpdatedAt = e.nowFn()
	return e.save(o, eventType)
}

func (e *Engine) save(o *Offer, eventType string) (*Offer, error) {
	if err := e.store(o); err != nil {
		return nil, err
	}
	e.emitter.Emit(offerEvent{evt: NewOfferEvent(eventType, o)})
	return o.Clone(), nil
}
