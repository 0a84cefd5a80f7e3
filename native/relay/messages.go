package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"escrowchain/crypto"
	"escrowchain/native/common"
	"escrowchain/native/trade"
)

// Message is the closed set of requests carried over a relay channel.
type Message interface {
	Kind() string
	isRelayMessage()
}

// TradeFields is the wire form of a trade creation request. Amounts travel as
// base-10 strings.
type TradeFields struct {
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	Price      string `json:"price"`
	MinAmount  string `json:"min_amount,omitempty"`
	MaxAmount  string `json:"max_amount,omitempty"`
	OfferID    uint64 `json:"offer_id,omitempty"`
	Arbitrator string `json:"arbitrator,omitempty"`
}

// CreateTradeRequest asks the remote chain to create a trade on behalf of
// OriginAddress.
type CreateTradeRequest struct {
	OriginAddress string      `json:"origin_address"`
	OriginChain   string      `json:"origin_chain"`
	RequestID     uuid.UUID   `json:"request_id"`
	Trade         TradeFields `json:"trade"`
}

// CancelTradeRequest asks the remote chain to cancel a trade OriginAddress
// made there.
type CancelTradeRequest struct {
	OriginAddress string    `json:"origin_address"`
	OriginChain   string    `json:"origin_chain"`
	RequestID     uuid.UUID `json:"request_id"`
	TradeID       uint64    `json:"trade_id"`
}

func (CreateTradeRequest) Kind() string { return "create" }
func (CancelTradeRequest) Kind() string { return "cancel_request" }

func (CreateTradeRequest) isRelayMessage() {}
func (CancelTradeRequest) isRelayMessage() {}

type envelope struct {
	Create        *CreateTradeRequest `json:"create,omitempty"`
	CancelRequest *CancelTradeRequest `json:"cancel_request,omitempty"`
}

// EncodeMessage renders msg in its tagged JSON wire form.
func EncodeMessage(msg Message) ([]byte, error) {
	var env envelope
	switch m := msg.(type) {
	case CreateTradeRequest:
		env.Create = &m
	case *CreateTradeRequest:
		env.Create = m
	case CancelTradeRequest:
		env.CancelRequest = &m
	case *CancelTradeRequest:
		env.CancelRequest = m
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
	return json.Marshal(env)
}

// DecodeMessage parses the tagged wire form. Exactly one variant must be set.
func DecodeMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}
	switch {
	case env.Create != nil && env.CancelRequest == nil:
		return *env.Create, nil
	case env.CancelRequest != nil && env.Create == nil:
		return *env.CancelRequest, nil
	default:
		return nil, fmt.Errorf("%w: expected exactly one variant", ErrUnknownMessage)
	}
}

// FieldsFromNewTrade renders a creation request for the wire.
func FieldsFromNewTrade(req *trade.NewTrade) TradeFields {
	if req == nil {
		return TradeFields{}
	}
	fields := TradeFields{
		Asset:   common.NormalizeAsset(req.Asset),
		Amount:  bigString(req.Amount),
		Price:   bigString(req.Price),
		OfferID: req.OfferID,
	}
	if req.MinAmount != nil {
		fields.MinAmount = req.MinAmount.String()
	}
	if req.MaxAmount != nil {
		fields.MaxAmount = req.MaxAmount.String()
	}
	if req.Arbitrator != nil {
		fields.Arbitrator = crypto.FormatAccount(*req.Arbitrator)
	}
	return fields
}

// NewTrade parses the wire fields into an engine request.
func (f TradeFields) NewTrade() (*trade.NewTrade, error) {
	amount, err := parseBig("amount", f.Amount, true)
	if err != nil {
		return nil, err
	}
	price, err := parseBig("price", f.Price, false)
	if err != nil {
		return nil, err
	}
	minAmount, err := parseBig("min_amount", f.MinAmount, false)
	if err != nil {
		return nil, err
	}
	maxAmount, err := parseBig("max_amount", f.MaxAmount, false)
	if err != nil {
		return nil, err
	}
	req := &trade.NewTrade{
		Asset:     common.NormalizeAsset(f.Asset),
		Amount:    amount,
		Price:     price,
		MinAmount: minAmount,
		MaxAmount: maxAmount,
		OfferID:   f.OfferID,
	}
	if strings.TrimSpace(f.Arbitrator) != "" {
		arb, err := crypto.ParseAccount(f.Arbitrator)
		if err != nil {
			return nil, fmt.Errorf("relay: arbitrator: %w", err)
		}
		req.Arbitrator = &arb
	}
	return req, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func parseBig(field, value string, required bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if required {
			return nil, fmt.Errorf("relay: %s required", field)
		}
		return nil, nil
	}
	out, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("relay: invalid %s %q", field, value)
	}
	return out, nil
}
