package reputation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"escrowchain/core/events"
	"escrowchain/native/common"
	"escrowchain/native/trade"
)

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var profilePrefix = []byte("reputation/profile/")

func profileKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", profilePrefix, addr))
}

type storedProfile struct {
	Address         [20]byte
	CompletedTrades uint64
	DisputesWon     uint64
	DisputesLost    uint64
	Contact         string
	EncryptionKey   string
	UpdatedAt       uint64
}

// ErrUnknownOutcome marks notifications carrying an outcome the ledger does
// not track.
var ErrUnknownOutcome = errors.New("reputation: unknown outcome")

// Ledger persists party profiles and implements trade.ProfileNotifier.
type Ledger struct {
	store   storage
	nowFn   func() int64
	emitter events.Emitter
}

var _ trade.ProfileNotifier = (*Ledger)(nil)

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{
		store:   store,
		nowFn:   func() int64 { return time.Now().Unix() },
		emitter: events.NoopEmitter{},
	}
}

// SetNowFunc overrides the wall clock used for profile timestamps. Primarily
// leveraged in tests to provide deterministic timestamps.
func (l *Ledger) SetNowFunc(now func() int64) {
	if l == nil {
		return
	}
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// SetEmitter configures the emitter used for profile updates.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// SetStore rebinds the ledger to a new state view.
func (l *Ledger) SetStore(store storage) {
	if l == nil {
		return
	}
	l.store = store
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

func (l *Ledger) ready() error {
	if l == nil {
		return errors.New("reputation: ledger not initialised")
	}
	if l.store == nil {
		return errors.New("reputation: storage unavailable")
	}
	return nil
}

// Profile returns the profile stored for addr. Unknown parties get an empty
// profile and ok=false.
func (l *Ledger) Profile(addr [20]byte) (*Profile, bool, error) {
	if err := l.ready(); err != nil {
		return nil, false, err
	}
	var stored storedProfile
	ok, err := l.store.KVGet(profileKey(addr), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return &Profile{Address: addr}, false, nil
	}
	return &Profile{
		Address:         stored.Address,
		CompletedTrades: stored.CompletedTrades,
		DisputesWon:     stored.DisputesWon,
		DisputesLost:    stored.DisputesLost,
		Contact:         stored.Contact,
		EncryptionKey:   stored.EncryptionKey,
		UpdatedAt:       int64(stored.UpdatedAt),
	}, true, nil
}

func (l *Ledger) put(p *Profile) error {
	stored := storedProfile{
		Address:         p.Address,
		CompletedTrades: p.CompletedTrades,
		DisputesWon:     p.DisputesWon,
		DisputesLost:    p.DisputesLost,
		Contact:         p.Contact,
		EncryptionKey:   p.EncryptionKey,
		UpdatedAt:       uint64(p.UpdatedAt),
	}
	if err := l.store.KVPut(profileKey(p.Address), &stored); err != nil {
		return err
	}
	l.emitter.Emit(profileEvent{evt: NewProfileUpdatedEvent(p)})
	return nil
}

// NotifyProfile records a trade outcome against party.
func (l *Ledger) NotifyProfile(party [20]byte, outcome trade.Outcome) error {
	profile, _, err := l.Profile(party)
	if err != nil {
		return err
	}
	switch outcome {
	case trade.OutcomeCompleted:
		profile.CompletedTrades++
	case trade.OutcomeDisputeWon:
		profile.DisputesWon++
	case trade.OutcomeDisputeLost:
		profile.DisputesLost++
	default:
		return fmt.Errorf("%w: %d", ErrUnknownOutcome, outcome)
	}
	profile.UpdatedAt = l.now()
	return l.put(profile)
}

// SetContact replaces the contact metadata published by addr.
func (l *Ledger) SetContact(addr [20]byte, contact *Contact) (*Profile, error) {
	if err := contact.Validate(); err != nil {
		return nil, err
	}
	profile, _, err := l.Profile(addr)
	if err != nil {
		return nil, err
	}
	profile.Contact = common.NormalizeText(contact.Contact)
	profile.EncryptionKey = strings.TrimSpace(contact.EncryptionKey)
	profile.UpdatedAt = l.now()
	if err := l.put(profile); err != nil {
		return nil, err
	}
	return profile, nil
}
