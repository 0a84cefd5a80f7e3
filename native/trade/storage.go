package trade

import (
	"fmt"
	"math/big"
)

var (
	tradeRecordPrefix = []byte("trade/record/")
	tradeKeyPrefix    = []byte("trade/key/")
	tradeSequenceKey  = []byte("trade/sequence")
)

func tradeRecordKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", tradeRecordPrefix, id))
}

func tradeIndexKey(key [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", tradeKeyPrefix, key))
}

// storedTrade is the RLP layout of a Trade. Optional references are flattened
// into a presence flag plus value since RLP has no nil.
type storedTrade struct {
	ID              uint64
	Key             [32]byte
	Maker           [20]byte
	HasCounterparty bool
	Counterparty    [20]byte
	Asset           string
	Amount          *big.Int
	Price           *big.Int
	MinAmount       *big.Int
	MaxAmount       *big.Int
	OfferID         uint64
	Escrow          [20]byte
	HasArbitrator   bool
	Arbitrator      [20]byte
	OriginChain     string
	Status          uint8
	CreatedAt       uint64
	UpdatedAt       uint64
}

func newStoredTrade(t *Trade) *storedTrade {
	rec := &storedTrade{
		ID:          t.ID,
		Key:         t.Key,
		Maker:       t.Maker,
		Asset:       t.Asset,
		Amount:      nonNilBig(t.Amount),
		Price:       nonNilBig(t.Price),
		MinAmount:   nonNilBig(t.MinAmount),
		MaxAmount:   nonNilBig(t.MaxAmount),
		OfferID:     t.OfferID,
		Escrow:      t.Escrow,
		OriginChain: t.OriginChain,
		Status:      uint8(t.Status),
		CreatedAt:   uint64(t.CreatedAt),
		UpdatedAt:   uint64(t.UpdatedAt),
	}
	if t.Counterparty != nil {
		rec.HasCounterparty = true
		rec.Counterparty = *t.Counterparty
	}
	if t.Arbitrator != nil {
		rec.HasArbitrator = true
		rec.Arbitrator = *t.Arbitrator
	}
	return rec
}

func (s *storedTrade) toTrade() (*Trade, error) {
	status := Status(s.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("trade: stored status %d invalid", s.Status)
	}
	t := &Trade{
		ID:          s.ID,
		Key:         s.Key,
		Maker:       s.Maker,
		Asset:       s.Asset,
		Amount:      nonNilBig(s.Amount),
		Price:       nonNilBig(s.Price),
		MinAmount:   nonNilBig(s.MinAmount),
		MaxAmount:   nonNilBig(s.MaxAmount),
		OfferID:     s.OfferID,
		Escrow:      s.Escrow,
		OriginChain: s.OriginChain,
		Status:      status,
		CreatedAt:   int64(s.CreatedAt),
		UpdatedAt:   int64(s.UpdatedAt),
	}
	if s.HasCounterparty {
		cp := s.Counterparty
		t.Counterparty = &cp
	}
	if s.HasArbitrator {
		arb := s.Arbitrator
		t.Arbitrator = &arb
	}
	return t, nil
}

func (e *Engine) loadTrade(id uint64) (*Trade, error) {
	if id == 0 {
		return nil, ErrNotFound
	}
	var rec storedTrade
	ok, err := e.state.KVGet(tradeRecordKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return rec.toTrade()
}

func (e *Engine) storeTrade(t *Trade) error {
	if err := e.state.KVPut(tradeRecordKey(t.ID), newStoredTrade(t)); err != nil {
		return err
	}
	return e.state.KVPut(tradeIndexKey(t.Key), t.ID)
}

func (e *Engine) nextTradeID() (uint64, error) {
	var last uint64
	if _, err := e.state.KVGet(tradeSequenceKey, &last); err != nil {
		return 0, err
	}
	next := last + 1
	if err := e.state.KVPut(tradeSequenceKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

func nonNilBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
