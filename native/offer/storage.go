package offer

import (
	"fmt"
	"math/big"
)

var (
	offerRecordPrefix = []byte("offer/record/")
	offerSequenceKey  = []byte("offer/sequence")
)

func offerRecordKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", offerRecordPrefix, id))
}

type storedOffer struct {
	ID        uint64
	Owner     [20]byte
	Asset     string
	Price     *big.Int
	MinAmount *big.Int
	MaxAmount *big.Int
	Status    uint8
	CreatedAt uint64
	UpdatedAt uint64
}

func newStoredOffer(o *Offer) *storedOffer {
	return &storedOffer{
		ID:        o.ID,
		Owner:     o.Owner,
		Asset:     o.Asset,
		Price:     nonNilBig(o.Price),
		MinAmount: nonNilBig(o.MinAmount),
		MaxAmount: nonNilBig(o.MaxAmount),
		Status:    uint8(o.Status),
		CreatedAt: uint64(o.CreatedAt),
		UpdatedAt: uint64(o.UpdatedAt),
	}
}

func (s *storedOffer) toOffer() (*Offer, error) {
	status := Status(s.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("offer: stored status %d invalid", s.Status)
	}
	return &Offer{
		ID:        s.ID,
		Owner:     s.Owner,
		Asset:     s.Asset,
		Price:     nonNilBig(s.Price),
		MinAmount: nonNilBig(s.MinAmount),
		MaxAmount: nonNilBig(s.MaxAmount),
		Status:    status,
		CreatedAt: int64(s.CreatedAt),
		UpdatedAt: int64(s.UpdatedAt),
	}, nil
}

func (e *Engine) load(id uint64) (*Offer, error) {
	if id == 0 {
		return nil, ErrNotFound
	}
	var rec storedOffer
	ok, err := e.state.KVGet(offerRecordKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return rec.toOffer()
}

func (e *Engine) store(o *Offer) error {
	return e.state.KVPut(offerRecordKey(o.ID), newStoredOffer(o))
}

func (e *Engine) nextID() (uint64, error) {
	var last uint64
	if _, err := e.state.KVGet(offerSequenceKey, &last); err != nil {
		return 0, err
	}
	next := last + 1
	if err := e.state.KVPut(offerSequenceKey, next); err != nil {
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
