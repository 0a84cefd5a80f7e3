package rpc

import (
	"context"
	"strings"

	"escrowchain/crypto"
	"escrowchain/native/common"
	"escrowchain/native/offer"
	"escrowchain/native/reputation"
)

type offerTermsParams struct {
	ID        uint64 `json:"id,omitempty"`
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	MinAmount string `json:"minAmount"`
	MaxAmount string `json:"maxAmount"`
}

type offerStatusParams struct {
	ID     uint64 `json:"id"`
	Status string `json:"status"`
}

type offerIDParams struct {
	ID uint64 `json:"id"`
}

type offerListParams struct {
	Owner string `json:"owner,omitempty"`
}

type addressParams struct {
	Address string `json:"address"`
}

type contactParams struct {
	Contact       string `json:"contact"`
	EncryptionKey string `json:"encryptionKey,omitempty"`
}

type balanceParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

type priceParams struct {
	Asset string `json:"asset"`
	Price string `json:"price,omitempty"`
}

func (p *offerTermsParams) terms() (offer.Terms, error) {
	price, err := parseAmount("price", p.Price, true)
	if err != nil {
		return offer.Terms{}, err
	}
	minAmount, err := parseAmount("minAmount", p.MinAmount, true)
	if err != nil {
		return offer.Terms{}, err
	}
	maxAmount, err := parseAmount("maxAmount", p.MaxAmount, true)
	if err != nil {
		return offer.Terms{}, err
	}
	return offer.Terms{Asset: p.Asset, Price: price, MinAmount: minAmount, MaxAmount: maxAmount}, nil
}

func (s *Server) handleOfferCreate(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params offerTermsParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.ID != 0 {
		return nil, invalidParams("id must not be set on create")
	}
	terms, err := params.terms()
	if err != nil {
		return nil, err
	}
	created, err := s.chain.CreateOffer(ctx, caller, terms)
	if err != nil {
		return nil, err
	}
	return formatOffer(created), nil
}

func (s *Server) handleOfferUpdate(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params offerTermsParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.ID == 0 {
		return nil, invalidParams("id required")
	}
	terms, err := params.terms()
	if err != nil {
		return nil, err
	}
	updated, err := s.chain.UpdateOffer(ctx, caller, params.ID, terms)
	if err != nil {
		return nil, err
	}
	return formatOffer(updated), nil
}

func (s *Server) handleOfferSetStatus(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params offerStatusParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.ID == 0 {
		return nil, invalidParams("id required")
	}
	var (
		updated *offer.Offer
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(params.Status)) {
	case "paused":
		updated, err = s.chain.PauseOffer(ctx, caller, params.ID)
	case "active":
		updated, err = s.chain.ResumeOffer(ctx, caller, params.ID)
	case "closed":
		updated, err = s.chain.CloseOffer(ctx, caller, params.ID)
	default:
		return nil, invalidParams("status must be active, paused or closed")
	}
	if err != nil {
		return nil, err
	}
	return formatOffer(updated), nil
}

func (s *Server) handleOfferGet(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params offerIDParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	record, err := s.chain.GetOffer(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return formatOffer(record), nil
}

func (s *Server) handleOfferList(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params offerListParams
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
	}
	owner, err := parseOptionalAccount("owner", params.Owner)
	if err != nil {
		return nil, err
	}
	offers, err := s.chain.ListOffers(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]OfferResult, 0, len(offers))
	for _, o := range offers {
		out = append(out, formatOffer(o))
	}
	return out, nil
}

func (s *Server) handleProfileGet(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAccount("address", params.Address)
	if err != nil {
		return nil, err
	}
	profile, _, err := s.chain.Profile(ctx, addr)
	if err != nil {
		return nil, err
	}
	return formatProfile(addr, profile), nil
}

type nonceResult struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

// handleAccountNonce reports the last signed request nonce accepted for an
// account; the next signed call must use a larger one.
func (s *Server) handleAccountNonce(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAccount("address", params.Address)
	if err != nil {
		return nil, err
	}
	last, err := s.chain.AccountNonce(ctx, addr)
	if err != nil {
		return nil, err
	}
	return nonceResult{Address: crypto.FormatAccount(addr), Nonce: last}, nil
}

func (s *Server) handleProfileSetContact(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params contactParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	contact := &reputation.Contact{Contact: params.Contact, EncryptionKey: params.EncryptionKey}
	if err := contact.Validate(); err != nil {
		return nil, invalidParams(err.Error())
	}
	profile, err := s.chain.SetContact(ctx, caller, contact)
	if err != nil {
		return nil, err
	}
	return formatProfile(caller, profile), nil
}

func (s *Server) handleBankBalance(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAccount("address", params.Address)
	if err != nil {
		return nil, err
	}
	asset := common.NormalizeAsset(params.Asset)
	if asset == "" {
		return nil, invalidParams("asset required")
	}
	balance, err := s.chain.Balance(ctx, addr, asset)
	if err != nil {
		return nil, err
	}
	return BalanceResult{Address: params.Address, Asset: asset, Balance: bigString(balance)}, nil
}

func (s *Server) handleChainInfo(ctx context.Context, _ [20]byte, _ *RPCRequest) (interface{}, error) {
	info, err := s.chain.ChainInfo(ctx)
	if err != nil {
		return nil, err
	}
	return formatChainInfo(info), nil
}

func (s *Server) handlePriceGet(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params priceParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	asset := common.NormalizeAsset(params.Asset)
	if asset == "" {
		return nil, invalidParams("asset required")
	}
	quote, err := s.chain.Price(ctx, asset)
	if err != nil {
		return nil, err
	}
	return PriceResult{
		Asset:     asset,
		Price:     bigString(quote.Price),
		Timestamp: quote.Timestamp.Unix(),
		Source:    quote.Source,
	}, nil
}

func (s *Server) handlePriceSet(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params priceParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	asset := common.NormalizeAsset(params.Asset)
	if asset == "" {
		return nil, invalidParams("asset required")
	}
	value, err := parseAmount("price", params.Price, true)
	if err != nil {
		return nil, err
	}
	if err := s.chain.SetPrice(ctx, asset, value); err != nil {
		return nil, err
	}
	return s.handlePriceGet(ctx, [20]byte{}, req)
}
