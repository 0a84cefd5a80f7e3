package rpc

import (
	"encoding/hex"
	"math/big"
	"strings"

	"escrowchain/core"
	"escrowchain/crypto"
	"escrowchain/native/offer"
	"escrowchain/native/relay"
	"escrowchain/native/reputation"
	"escrowchain/native/trade"
)

// TradeResult is the JSON view of a trade.
type TradeResult struct {
	ID           uint64  `json:"id"`
	Key          string  `json:"key"`
	Maker        string  `json:"maker"`
	Counterparty *string `json:"counterparty,omitempty"`
	Asset        string  `json:"asset"`
	Amount       string  `json:"amount"`
	Price        string  `json:"price"`
	MinAmount    string  `json:"minAmount"`
	MaxAmount    string  `json:"maxAmount"`
	OfferID      uint64  `json:"offerId,omitempty"`
	Escrow       string  `json:"escrow"`
	Arbitrator   *string `json:"arbitrator,omitempty"`
	OriginChain  string  `json:"originChain"`
	Status       string  `json:"status"`
	CreatedAt    int64   `json:"createdAt"`
	UpdatedAt    int64   `json:"updatedAt"`
}

func formatTrade(t *trade.Trade) TradeResult {
	out := TradeResult{
		ID:          t.ID,
		Key:         "0x" + hex.EncodeToString(t.Key[:]),
		Maker:       crypto.FormatAccount(t.Maker),
		Asset:       t.Asset,
		Amount:      bigString(t.Amount),
		Price:       bigString(t.Price),
		MinAmount:   bigString(t.MinAmount),
		MaxAmount:   bigString(t.MaxAmount),
		OfferID:     t.OfferID,
		Escrow:      crypto.FormatAccount(t.Escrow),
		OriginChain: t.OriginChain,
		Status:      t.Status.String(),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.Counterparty != nil {
		cp := crypto.FormatAccount(*t.Counterparty)
		out.Counterparty = &cp
	}
	if t.Arbitrator != nil {
		arb := crypto.FormatAccount(*t.Arbitrator)
		out.Arbitrator = &arb
	}
	return out
}

// OfferResult is the JSON view of an offer.
type OfferResult struct {
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	MinAmount string `json:"minAmount"`
	MaxAmount string `json:"maxAmount"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func formatOffer(o *offer.Offer) OfferResult {
	return OfferResult{
		ID:        o.ID,
		Owner:     crypto.FormatAccount(o.Owner),
		Asset:     o.Asset,
		Price:     bigString(o.Price),
		MinAmount: bigString(o.MinAmount),
		MaxAmount: bigString(o.MaxAmount),
		Status:    o.Status.String(),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

// ProfileResult is the JSON view of a party profile.
type ProfileResult struct {
	Address         string `json:"address"`
	CompletedTrades uint64 `json:"completedTrades"`
	DisputesWon     uint64 `json:"disputesWon"`
	DisputesLost    uint64 `json:"disputesLost"`
	Contact         string `json:"contact,omitempty"`
	EncryptionKey   string `json:"encryptionKey,omitempty"`
	UpdatedAt       int64  `json:"updatedAt"`
}

func formatProfile(addr [20]byte, p *reputation.Profile) ProfileResult {
	out := ProfileResult{Address: crypto.FormatAccount(addr)}
	if p == nil {
		return out
	}
	out.CompletedTrades = p.CompletedTrades
	out.DisputesWon = p.DisputesWon
	out.DisputesLost = p.DisputesLost
	out.Contact = p.Contact
	out.EncryptionKey = p.EncryptionKey
	out.UpdatedAt = p.UpdatedAt
	return out
}

// ChannelResult is the JSON view of a relay channel end.
type ChannelResult struct {
	ID                  string `json:"id"`
	CounterpartyID      string `json:"counterpartyId,omitempty"`
	Order               string `json:"order"`
	Version             string `json:"version"`
	CounterpartyVersion string `json:"counterpartyVersion,omitempty"`
	State               string `json:"state"`
	Received            uint32 `json:"received"`
	Timeouts            uint32 `json:"timeouts"`
}

func formatChannel(ch *relay.Channel, counters relay.Counters) ChannelResult {
	return ChannelResult{
		ID:                  ch.ID,
		CounterpartyID:      ch.CounterpartyID,
		Order:               ch.Order.String(),
		Version:             ch.Version,
		CounterpartyVersion: ch.CounterpartyVersion,
		State:               ch.State.String(),
		Received:            counters.Received,
		Timeouts:            counters.Timeouts,
	}
}

// ChainInfoResult describes the chain a node serves.
type ChainInfoResult struct {
	ChainID     string        `json:"chainId"`
	GenesisTime int64         `json:"genesisTime"`
	Arbitrator  *string       `json:"arbitrator,omitempty"`
	Assets      []AssetResult `json:"assets"`
}

type AssetResult struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

func formatChainInfo(info *core.ChainInfo) ChainInfoResult {
	out := ChainInfoResult{
		ChainID:     info.ChainID,
		GenesisTime: info.GenesisTime,
		Assets:      make([]AssetResult, 0, len(info.Assets)),
	}
	if info.Arbitrator != nil {
		arb := crypto.FormatAccount(*info.Arbitrator)
		out.Arbitrator = &arb
	}
	for _, asset := range info.Assets {
		out.Assets = append(out.Assets, AssetResult{Symbol: asset.Symbol, Decimals: asset.Decimals})
	}
	return out
}

type BalanceResult struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type PriceResult struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source,omitempty"`
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAccount(field, value string) ([20]byte, error) {
	addr, err := crypto.ParseAccount(value)
	if err != nil {
		return [20]byte{}, invalidParams("%s: %v", field, err)
	}
	return addr, nil
}

func parseOptionalAccount(field, value string) (*[20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	addr, err := parseAccount(field, value)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// parseAmount parses a base-10 integer. Empty values yield nil unless
// required.
func parseAmount(field, value string, required bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if required {
			return nil, invalidParams("%s required", field)
		}
		return nil, nil
	}
	out, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams("%s: invalid integer %q", field, value)
	}
	if out.Sign() < 0 {
		return nil, invalidParams("%s must not be negative", field)
	}
	return out, nil
}

func parseKey(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, invalidParams("key: %v", err)
	}
	if len(raw) != len(out) {
		return out, invalidParams("key must be %d bytes", len(out))
	}
	copy(out[:], raw)
	return out, nil
}

func parseOrder(value string) (relay.Order, error) {
	if strings.TrimSpace(value) == "" {
		return relay.OrderUnordered, nil
	}
	order, err := relay.ParseOrder(value)
	if err != nil {
		return 0, invalidParams("order: %v", err)
	}
	return order, nil
}
