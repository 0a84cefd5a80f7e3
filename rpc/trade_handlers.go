package rpc

import (
	"context"
	"strings"

	"escrowchain/native/trade"
)

type tradeCreateParams struct {
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	Price      string `json:"price"`
	MinAmount  string `json:"minAmount"`
	MaxAmount  string `json:"maxAmount"`
	OfferID    uint64 `json:"offerId,omitempty"`
	Arbitrator string `json:"arbitrator,omitempty"`
}

type tradeIDParams struct {
	ID uint64 `json:"id"`
}

type tradeResolveParams struct {
	ID     uint64 `json:"id"`
	Winner string `json:"winner"`
}

type tradeKeyParams struct {
	Key string `json:"key"`
}

func (p *tradeCreateParams) toNewTrade() (*trade.NewTrade, error) {
	asset := strings.TrimSpace(p.Asset)
	if asset == "" {
		return nil, invalidParams("asset required")
	}
	amount, err := parseAmount("amount", p.Amount, true)
	if err != nil {
		return nil, err
	}
	price, err := parseAmount("price", p.Price, true)
	if err != nil {
		return nil, err
	}
	minAmount, err := parseAmount("minAmount", p.MinAmount, false)
	if err != nil {
		return nil, err
	}
	maxAmount, err := parseAmount("maxAmount", p.MaxAmount, false)
	if err != nil {
		return nil, err
	}
	arbitrator, err := parseOptionalAccount("arbitrator", p.Arbitrator)
	if err != nil {
		return nil, err
	}
	return &trade.NewTrade{
		Asset:      asset,
		Amount:     amount,
		Price:      price,
		MinAmount:  minAmount,
		MaxAmount:  maxAmount,
		OfferID:    p.OfferID,
		Arbitrator: arbitrator,
	}, nil
}

func (s *Server) handleTradeCreate(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params tradeCreateParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	newTrade, err := params.toNewTrade()
	if err != nil {
		return nil, err
	}
	created, err := s.chain.CreateTrade(ctx, caller, newTrade)
	if err != nil {
		return nil, err
	}
	return formatTrade(created), nil
}

// tradeTransition adapts a caller-scoped lifecycle step taking only a trade
// id into a handler.
func (s *Server) tradeTransition(fn func(context.Context, [20]byte, uint64) (*trade.Trade, error)) handlerFunc {
	return func(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
		var params tradeIDParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		if params.ID == 0 {
			return nil, invalidParams("id required")
		}
		updated, err := fn(ctx, caller, params.ID)
		if err != nil {
			return nil, err
		}
		return formatTrade(updated), nil
	}
}

func (s *Server) handleTradeResolve(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params tradeResolveParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.ID == 0 {
		return nil, invalidParams("id required")
	}
	winner, err := parseAccount("winner", params.Winner)
	if err != nil {
		return nil, err
	}
	resolved, err := s.chain.Resolve(ctx, caller, params.ID, winner)
	if err != nil {
		return nil, err
	}
	return formatTrade(resolved), nil
}

func (s *Server) handleTradeGet(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params tradeIDParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	record, err := s.chain.QueryTrade(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return formatTrade(record), nil
}

func (s *Server) handleTradeGetByKey(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params tradeKeyParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	key, err := parseKey(params.Key)
	if err != nil {
		return nil, err
	}
	record, err := s.chain.TradeByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return formatTrade(record), nil
}

type escrowBalanceResult struct {
	ID      uint64 `json:"id"`
	Balance string `json:"balance"`
}

func (s *Server) handleTradeEscrowBalance(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params tradeIDParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	balance, err := s.chain.EscrowBalance(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return escrowBalanceResult{ID: params.ID, Balance: bigString(balance)}, nil
}
