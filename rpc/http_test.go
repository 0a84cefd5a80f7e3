package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"escrowchain/core"
	"escrowchain/core/genesis"
	"escrowchain/crypto"
	"escrowchain/native/relay"
	"escrowchain/native/trade"
	"escrowchain/network"
	"escrowchain/storage"
)

const testToken = "relay-secret"

type testNode struct {
	chain  *core.Chain
	server *httptest.Server
	url    string
}

func mustKey(t *testing.T) (*crypto.PrivateKey, [20]byte) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key, key.PubKey().Address().Array()
}

func newTestNode(t *testing.T, chainID string, funded [20]byte, cfg ServerConfig) *testNode {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"chainId":     chainID,
		"genesisTime": "2024-01-01T00:00:00Z",
		"assets":      []map[string]any{{"symbol": "USD", "decimals": 2}},
		"alloc": map[string]map[string]string{
			crypto.FormatAccount(funded): {"USD": "1000"},
		},
	})
	require.NoError(t, err)
	spec, err := genesis.ParseGenesisSpec(raw, "json")
	require.NoError(t, err)
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	chain, err := core.NewChain(db, spec, core.Config{
		PriceToleranceBps:  100,
		RelayPacketTimeout: time.Minute,
	})
	require.NoError(t, err)

	if cfg.AuthToken == "" {
		cfg.AuthToken = testToken
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 60_000
		cfg.Burst = 1_000
	}
	srv := httptest.NewServer(NewServer(chain, cfg).Handler())
	t.Cleanup(srv.Close)
	return &testNode{chain: chain, server: srv, url: srv.URL}
}

func postRaw(t *testing.T, url string, body []byte, header http.Header) (int, RPCResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded RPCResponse
	require.NoError(t, json.Unmarshal(payload, &decoded))
	return resp.StatusCode, decoded
}

func createBody(t *testing.T, chainID string, nonce uint64) []byte {
	t.Helper()
	params, err := json.Marshal(tradeCreateParams{Asset: "USD", Amount: "100", Price: "50"})
	require.NoError(t, err)
	body, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  "trade_create",
		ID:      1,
		Params:  []json.RawMessage{params},
		ChainID: chainID,
		Nonce:   nonce,
	})
	require.NoError(t, err)
	return body
}

func sampleTrade() *trade.NewTrade {
	return &trade.NewTrade{
		Asset:     "USD",
		Amount:    big.NewInt(100),
		Price:     big.NewInt(50),
		MinAmount: big.NewInt(10),
		MaxAmount: big.NewInt(100),
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	_, addr := mustKey(t)
	node := newTestNode(t, "escrow-a", addr, ServerConfig{})

	resp, err := http.Get(node.url + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	resp, err = http.Get(node.url + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignedMethodRequiresSignature(t *testing.T) {
	_, addr := mustKey(t)
	node := newTestNode(t, "escrow-a", addr, ServerConfig{})

	status, resp := postRaw(t, node.url, createBody(t, "escrow-a", 1), nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	_, addr := mustKey(t)
	node := newTestNode(t, "escrow-a", addr, ServerConfig{})

	body := []byte(`{"jsonrpc":"2.0","method":"trade_teleport","id":1}`)
	status, resp := postRaw(t, node.url, body, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func signedHeader(t *testing.T, key *crypto.PrivateKey, body []byte) http.Header {
	t.Helper()
	sig, err := SignBody(key, body)
	require.NoError(t, err)
	return http.Header{SignatureHeader: []string{sig}}
}

func TestSignedCallRejectsReplay(t *testing.T) {
	key, addr := mustKey(t)
	node := newTestNode(t, "escrow-a", addr, ServerConfig{})

	body := createBody(t, "escrow-a", 7)
	header := signedHeader(t, key, body)

	status, resp := postRaw(t, node.url, body, header)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)
	var created TradeResult
	require.NoError(t, json.Unmarshal(resp.Result, &created))
	require.Equal(t, crypto.FormatAccount(addr), created.Maker)

	status, resp = postRaw(t, node.url, body, header)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeDuplicateCall, resp.Error.Code)

	// a lower nonce is stale even on a fresh body
	older := createBody(t, "escrow-a", 3)
	status, resp = postRaw(t, node.url, older, signedHeader(t, key, older))
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeDuplicateCall, resp.Error.Code)

	// the spent nonce is kept in chain state, not in the server
	restarted := httptest.NewServer(NewServer(node.chain, ServerConfig{AuthToken: testToken}).Handler())
	t.Cleanup(restarted.Close)
	status, resp = postRaw(t, restarted.URL, body, header)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeDuplicateCall, resp.Error.Code)

	_, err := node.chain.QueryTrade(context.Background(), created.ID+1)
	require.ErrorIs(t, err, trade.ErrNotFound)
	last, err := node.chain.AccountNonce(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, uint64(7), last)
}

func TestSignedCallBoundToChain(t *testing.T) {
	key, addr := mustKey(t)
	nodeA := newTestNode(t, "escrow-a", addr, ServerConfig{})
	nodeB := newTestNode(t, "escrow-b", addr, ServerConfig{})

	body := createBody(t, "escrow-a", 1)
	header := signedHeader(t, key, body)
	status, resp := postRaw(t, nodeA.url, body, header)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)

	status, resp = postRaw(t, nodeB.url, body, header)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeWrongChain, resp.Error.Code)
	_, err := nodeB.chain.QueryTrade(context.Background(), 1)
	require.ErrorIs(t, err, trade.ErrNotFound)

	unbound := createBody(t, "", 2)
	status, resp = postRaw(t, nodeA.url, unbound, signedHeader(t, key, unbound))
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeWrongChain, resp.Error.Code)

	noNonce := createBody(t, "escrow-a", 0)
	status, resp = postRaw(t, nodeA.url, noNonce, signedHeader(t, key, noNonce))
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestClientTradeLifecycle(t *testing.T) {
	makerKey, makerAddr := mustKey(t)
	takerKey, takerAddr := mustKey(t)
	node := newTestNode(t, "escrow-a", makerAddr, ServerConfig{})
	ctx := context.Background()

	maker := NewClient(node.url, WithSigner(makerKey))
	taker := NewClient(node.url, WithSigner(takerKey))
	admin := NewClient(node.url, WithToken(testToken))

	created, err := maker.CreateTrade(ctx, sampleTrade())
	require.NoError(t, err)
	require.Equal(t, "created", created.Status)
	require.Equal(t, "escrow-a", created.OriginChain)

	_, err = maker.Transition(ctx, "trade_fund", created.ID)
	require.NoError(t, err)
	accepted, err := taker.Transition(ctx, "trade_accept", created.ID)
	require.NoError(t, err)
	require.NotNil(t, accepted.Counterparty)
	require.Equal(t, crypto.FormatAccount(takerAddr), *accepted.Counterparty)

	_, err = taker.Transition(ctx, "trade_complete", created.ID)
	require.ErrorIs(t, err, trade.ErrPriceUnavailable)

	quote, err := admin.SetPrice(ctx, "usd", "50")
	require.NoError(t, err)
	require.Equal(t, "USD", quote.Asset)
	require.Equal(t, "50", quote.Price)

	released, err := taker.Transition(ctx, "trade_complete", created.ID)
	require.NoError(t, err)
	require.Equal(t, "released", released.Status)

	nonce, err := admin.AccountNonce(ctx, crypto.FormatAccount(takerAddr))
	require.NoError(t, err)
	require.NotZero(t, nonce)

	balance, err := maker.Balance(ctx, takerAddr, "USD")
	require.NoError(t, err)
	require.Equal(t, "100", balance)

	info, err := maker.ChainInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, "escrow-a", info.ChainID)
	require.Len(t, info.Assets, 1)
}

func TestClientRestoresSentinels(t *testing.T) {
	key, addr := mustKey(t)
	node := newTestNode(t, "escrow-a", addr, ServerConfig{})
	ctx := context.Background()
	client := NewClient(node.url, WithSigner(key), WithToken(testToken))

	_, err := client.Trade(ctx, 99)
	require.ErrorIs(t, err, trade.ErrNotFound)

	_, err = client.Channel(ctx, "channel-9")
	require.ErrorIs(t, err, relay.ErrChannelNotFound)

	_, err = client.PacketAcknowledgement(ctx, "channel-9", 1)
	require.Error(t, err)
}

func TestAdminMethodsRequireToken(t *testing.T) {
	_, addr := mustKey(t)
	node := newTestNode(t, "escrow-a", addr, ServerConfig{})
	ctx := context.Background()

	_, err := NewClient(node.url).SetPrice(ctx, "USD", "50")
	require.ErrorContains(t, err, "admin token not configured")

	_, err = NewClient(node.url, WithToken("wrong")).SetPrice(ctx, "USD", "50")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, codeUnauthorized, rpcErr.Code)
}

func TestRateLimit(t *testing.T) {
	_, addr := mustKey(t)
	node := newTestNode(t, "escrow-a", addr, ServerConfig{RequestsPerMinute: 1, Burst: 1})
	ctx := context.Background()
	client := NewClient(node.url)

	_, err := client.ChainInfo(ctx)
	require.NoError(t, err)
	_, err = client.ChainInfo(ctx)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, codeRateLimited, rpcErr.Code)
}

func TestInvalidParams(t *testing.T) {
	key, addr := mustKey(t)
	node := newTestNode(t, "escrow-a", addr, ServerConfig{})
	client := NewClient(node.url, WithSigner(key))

	var out TradeResult
	err := client.call(context.Background(), "trade_create", accessSigned, map[string]string{"asset": "USD", "amount": "-1", "price": "5"}, &out)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, codeInvalidParams, rpcErr.Code)

	err = client.call(context.Background(), "trade_create", accessSigned, map[string]string{"asset": "USD", "bogus": "1"}, &out)
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, codeInvalidParams, rpcErr.Code)
}

func TestRelayerOverRPC(t *testing.T) {
	makerKey, makerAddr := mustKey(t)
	nodeA := newTestNode(t, "escrow-a", makerAddr, ServerConfig{})
	nodeB := newTestNode(t, "escrow-b", makerAddr, ServerConfig{})
	ctx := context.Background()

	adminA := NewClient(nodeA.url, WithToken(testToken))
	adminB := NewClient(nodeB.url, WithToken(testToken))
	_, err := adminA.OpenChannel(ctx, "channel-0", "channel-1")
	require.NoError(t, err)
	_, err = adminB.OpenChannel(ctx, "channel-1", "channel-0")
	require.NoError(t, err)
	_, err = adminA.ConnectChannel(ctx, "channel-0", relay.DefaultVersion)
	require.NoError(t, err)
	opened, err := adminB.ConnectChannel(ctx, "channel-1", relay.DefaultVersion)
	require.NoError(t, err)
	require.Equal(t, "open", opened.State)

	maker := NewClient(nodeA.url, WithSigner(makerKey))
	packet, err := maker.SendCreate(ctx, "channel-0", sampleTrade())
	require.NoError(t, err)
	require.Equal(t, "channel-1", packet.DestChannel)

	relayer, err := network.NewRelayer(
		network.Peer{Name: "a", Endpoint: adminA},
		network.Peer{Name: "b", Endpoint: adminB},
		time.Second,
	)
	require.NoError(t, err)
	stats, err := relayer.RelayOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, network.Stats{Delivered: 1, Acked: 1}, stats)

	remote, err := adminB.Trade(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "escrow-a", remote.OriginChain)
	require.Equal(t, crypto.FormatAccount(makerAddr), remote.Maker)

	channel, err := adminB.Channel(ctx, "channel-1")
	require.NoError(t, err)
	require.Equal(t, uint32(1), channel.Received)

	pending, err := adminA.PendingPackets(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}
