package reputation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"escrowchain/native/common"
)

const (
	// MaxContactLength bounds the free-form contact handle.
	MaxContactLength = 280
	// MaxEncryptionKeyLength bounds the public key parties share for
	// off-ledger messaging.
	MaxEncryptionKeyLength = 512
)

// Profile aggregates a party's trading history and contact metadata.
type Profile struct {
	Address         [20]byte
	CompletedTrades uint64
	DisputesWon     uint64
	DisputesLost    uint64
	Contact         string
	EncryptionKey   string
	UpdatedAt       int64
}

// DisputedTrades is the total number of arbitrated trades the party took part in.
func (p *Profile) DisputedTrades() uint64 {
	if p == nil {
		return 0
	}
	return p.DisputesWon + p.DisputesLost
}

// Contact carries the metadata a party publishes for counterparties.
type Contact struct {
	Contact       string
	EncryptionKey string
}

// Validate ensures the contact payload is well formed.
func (c *Contact) Validate() error {
	if c == nil {
		return errors.New("reputation: contact nil")
	}
	contact := common.NormalizeText(c.Contact)
	if contact == "" {
		return errors.New("reputation: contact required")
	}
	if !utf8.ValidString(contact) || utf8.RuneCountInString(contact) > MaxContactLength {
		return fmt.Errorf("reputation: contact must be at most %d characters", MaxContactLength)
	}
	if len(strings.TrimSpace(c.EncryptionKey)) > MaxEncryptionKeyLength {
		return fmt.Errorf("reputation: encryption key must be at most %d bytes", MaxEncryptionKeyLength)
	}
	return nil
}
