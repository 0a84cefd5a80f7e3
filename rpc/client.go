package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"escrowchain/crypto"
	"escrowchain/native/relay"
	"escrowchain/native/trade"
)

// Client speaks the node's JSON-RPC dialect. Signed methods need a key and
// admin methods a token; calls lacking either are rejected by the server.
type Client struct {
	endpoint string
	http     *http.Client
	key      *crypto.PrivateKey
	token    string
	nextID   atomic.Int64

	mu        sync.Mutex
	chainID   string
	lastNonce uint64
}

type ClientOption func(*Client)

// WithSigner authenticates signed calls as key's account.
func WithSigner(key *crypto.PrivateKey) ClientOption {
	return func(c *Client) { c.key = key }
}

// WithToken sets the bearer token for admin calls.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithChainID pins the chain signed calls are bound to. Without it the client
// asks the node once through chain_info.
func WithChainID(chainID string) ClientOption {
	return func(c *Client) { c.chainID = strings.TrimSpace(chainID) }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/") + "/",
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	c.nextID.Store(time.Now().UnixNano())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// boundChainID returns the chain id signed calls carry.
func (c *Client) boundChainID(ctx context.Context) (string, error) {
	c.mu.Lock()
	known := c.chainID
	c.mu.Unlock()
	if known != "" {
		return known, nil
	}
	info, err := c.ChainInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve chain id: %w", err)
	}
	c.mu.Lock()
	c.chainID = info.ChainID
	c.mu.Unlock()
	return info.ChainID, nil
}

// nextNonce follows the wall clock in nanoseconds and never repeats within
// one client, so restarted clients keep moving forward too.
func (c *Client) nextNonce() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	nonce := uint64(time.Now().UnixNano())
	if nonce <= c.lastNonce {
		nonce = c.lastNonce + 1
	}
	c.lastNonce = nonce
	return nonce
}

func (c *Client) call(ctx context.Context, method string, access int, params interface{}, out interface{}) error {
	req := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: c.nextID.Add(1)}
	if access == accessSigned {
		if c.key == nil {
			return fmt.Errorf("%s: signing key not configured", method)
		}
		chainID, err := c.boundChainID(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		req.ChainID = chainID
		req.Nonce = c.nextNonce()
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		req.Params = []json.RawMessage{raw}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	switch access {
	case accessSigned:
		sig, err := SignBody(c.key, body)
		if err != nil {
			return fmt.Errorf("sign %s: %w", method, err)
		}
		httpReq.Header.Set(SignatureHeader, sig)
	case accessAdmin:
		if c.token == "" {
			return fmt.Errorf("%s: admin token not configured", method)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	var decoded RPCResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("%s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return errorFromResponse(decoded.Error)
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) ChainInfo(ctx context.Context) (*ChainInfoResult, error) {
	var out ChainInfoResult
	if err := c.call(ctx, "chain_info", accessPublic, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AccountNonce returns the last signed request nonce the node accepted from
// address.
func (c *Client) AccountNonce(ctx context.Context, address string) (uint64, error) {
	var out nonceResult
	if err := c.call(ctx, "account_nonce", accessPublic, addressParams{Address: address}, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

func tradeParams(req *trade.NewTrade) tradeCreateParams {
	fields := relay.FieldsFromNewTrade(req)
	return tradeCreateParams{
		Asset:      fields.Asset,
		Amount:     fields.Amount,
		Price:      fields.Price,
		MinAmount:  fields.MinAmount,
		MaxAmount:  fields.MaxAmount,
		OfferID:    fields.OfferID,
		Arbitrator: fields.Arbitrator,
	}
}

func (c *Client) CreateTrade(ctx context.Context, req *trade.NewTrade) (*TradeResult, error) {
	var out TradeResult
	if err := c.call(ctx, "trade_create", accessSigned, tradeParams(req), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transition runs one of trade_fund, trade_accept, trade_complete,
// trade_cancel or trade_dispute against id.
func (c *Client) Transition(ctx context.Context, method string, id uint64) (*TradeResult, error) {
	var out TradeResult
	if err := c.call(ctx, method, accessSigned, tradeIDParams{ID: id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Resolve(ctx context.Context, id uint64, winner [20]byte) (*TradeResult, error) {
	var out TradeResult
	params := tradeResolveParams{ID: id, Winner: crypto.FormatAccount(winner)}
	if err := c.call(ctx, "trade_resolve", accessSigned, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Trade(ctx context.Context, id uint64) (*TradeResult, error) {
	var out TradeResult
	if err := c.call(ctx, "trade_get", accessPublic, tradeIDParams{ID: id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Balance(ctx context.Context, addr [20]byte, asset string) (string, error) {
	var out BalanceResult
	params := balanceParams{Address: crypto.FormatAccount(addr), Asset: asset}
	if err := c.call(ctx, "bank_balance", accessPublic, params, &out); err != nil {
		return "", err
	}
	return out.Balance, nil
}

func (c *Client) SetPrice(ctx context.Context, asset, value string) (*PriceResult, error) {
	var out PriceResult
	if err := c.call(ctx, "price_set", accessAdmin, priceParams{Asset: asset, Price: value}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendCreate(ctx context.Context, channelID string, req *trade.NewTrade) (*relay.Packet, error) {
	var out relay.Packet
	params := relaySendCreateParams{Channel: channelID, Trade: tradeParams(req)}
	if err := c.call(ctx, "relay_sendCreate", accessSigned, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendCancel(ctx context.Context, channelID string, tradeID uint64) (*relay.Packet, error) {
	var out relay.Packet
	params := relaySendCancelParams{Channel: channelID, TradeID: tradeID}
	if err := c.call(ctx, "relay_sendCancel", accessSigned, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) OpenChannel(ctx context.Context, id, counterpartyID string) (*ChannelResult, error) {
	var out ChannelResult
	params := channelOpenParams{ID: id, CounterpartyID: counterpartyID}
	if err := c.call(ctx, "relay_openChannel", accessAdmin, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ConnectChannel(ctx context.Context, id, counterpartyVersion string) (*ChannelResult, error) {
	var out ChannelResult
	params := channelConnectParams{ID: id, CounterpartyVersion: counterpartyVersion}
	if err := c.call(ctx, "relay_connectChannel", accessAdmin, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Channel(ctx context.Context, id string) (*ChannelResult, error) {
	var out ChannelResult
	if err := c.call(ctx, "relay_channel", accessPublic, channelIDParams{ID: id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// The methods below let a Client stand in for a local chain on either side
// of a relayer.

func (c *Client) PendingPackets(ctx context.Context) ([]relay.Packet, error) {
	var out []relay.Packet
	if err := c.call(ctx, "relay_pending", accessAdmin, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RecvPacket(ctx context.Context, packet relay.Packet) (relay.Acknowledgement, error) {
	var out ackResult
	if err := c.call(ctx, "relay_recv", accessAdmin, relayPacketParams{Packet: packet}, &out); err != nil {
		return relay.Acknowledgement{}, err
	}
	return out.Ack, nil
}

func (c *Client) PacketAcknowledgement(ctx context.Context, channelID string, seq uint64) (relay.Acknowledgement, error) {
	var out ackResult
	params := relayAckForParams{Channel: channelID, Sequence: seq}
	if err := c.call(ctx, "relay_ackFor", accessAdmin, params, &out); err != nil {
		return relay.Acknowledgement{}, err
	}
	return out.Ack, nil
}

func (c *Client) AcknowledgePacket(ctx context.Context, packet relay.Packet, ack relay.Acknowledgement) error {
	return c.call(ctx, "relay_ack", accessAdmin, relayAckParams{Packet: packet, Ack: ack}, nil)
}

func (c *Client) TimeoutPacket(ctx context.Context, packet relay.Packet) error {
	return c.call(ctx, "relay_timeout", accessAdmin, relayPacketParams{Packet: packet}, nil)
}
