package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"escrowchain/core"
	"escrowchain/core/state"
	"escrowchain/crypto"
	"escrowchain/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// SignatureHeader carries the hex secp256k1 signature over keccak256(body).
	// Signed bodies also carry chainId and a per-account nonce.
	SignatureHeader = "X-Escrow-Signature"
	// TokenEnv names the environment variable holding the admin bearer token.
	TokenEnv = "ESCROW_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeDuplicateCall  = -32010
	codeWrongChain     = -32011
	codeRateLimited    = -32020
)

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	RequestsPerMinute float64
	Burst             int
	// AuthToken overrides TokenEnv when set.
	AuthToken string
}

type Server struct {
	chain  *core.Chain
	cfg    ServerConfig
	logger *slog.Logger

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	authToken string
	table     map[string]route
}

func NewServer(chain *core.Chain, cfg ServerConfig) *Server {
	token := strings.TrimSpace(cfg.AuthToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(TokenEnv))
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 120
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	s := &Server{
		chain:     chain,
		cfg:       cfg,
		logger:    slog.Default(),
		limiters:  make(map[string]*rate.Limiter),
		authToken: token,
	}
	s.table = s.routes()
	return s
}

func (s *Server) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// Handler returns the routed HTTP handler: JSON-RPC on POST /, plus
// /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return otelhttp.NewHandler(r, "escrowd-rpc")
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int64             `json:"id"`
	// ChainID and Nonce bind a signed call to one ledger and one use.
	ChainID string `json:"chainId,omitempty"`
	Nonce   uint64 `json:"nonce,omitempty"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	raw, err := json.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "failed to encode result", err.Error())
		return
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: raw}
	_ = json.NewEncoder(w).Encode(resp)
}

// access levels
const (
	accessPublic = iota
	accessSigned
	accessAdmin
)

type handlerFunc func(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error)

type route struct {
	access  int
	handler handlerFunc
}

func (s *Server) routes() map[string]route {
	return map[string]route{
		"trade_create":   {accessSigned, s.handleTradeCreate},
		"trade_fund":     {accessSigned, s.tradeTransition(s.chain.FundEscrow)},
		"trade_accept":   {accessSigned, s.tradeTransition(s.chain.Accept)},
		"trade_complete": {accessSigned, s.tradeTransition(s.chain.Complete)},
		"trade_cancel":   {accessSigned, s.tradeTransition(s.chain.Cancel)},
		"trade_dispute":  {accessSigned, s.tradeTransition(s.chain.Dispute)},
		"trade_resolve":  {accessSigned, s.handleTradeResolve},
		"trade_get":      {accessPublic, s.handleTradeGet},
		"trade_getByKey": {accessPublic, s.handleTradeGetByKey},
		"trade_escrow":   {accessPublic, s.handleTradeEscrowBalance},

		"offer_create":    {accessSigned, s.handleOfferCreate},
		"offer_update":    {accessSigned, s.handleOfferUpdate},
		"offer_setStatus": {accessSigned, s.handleOfferSetStatus},
		"offer_get":       {accessPublic, s.handleOfferGet},
		"offer_list":      {accessPublic, s.handleOfferList},

		"profile_get":        {accessPublic, s.handleProfileGet},
		"profile_setContact": {accessSigned, s.handleProfileSetContact},
		"bank_balance":       {accessPublic, s.handleBankBalance},
		"chain_info":         {accessPublic, s.handleChainInfo},
		"account_nonce":      {accessPublic, s.handleAccountNonce},
		"price_get":          {accessPublic, s.handlePriceGet},
		"price_set":          {accessAdmin, s.handlePriceSet},

		"relay_sendCreate":     {accessSigned, s.handleRelaySendCreate},
		"relay_sendCancel":     {accessSigned, s.handleRelaySendCancel},
		"relay_pending":        {accessAdmin, s.handleRelayPending},
		"relay_recv":           {accessAdmin, s.handleRelayRecv},
		"relay_ackFor":         {accessAdmin, s.handleRelayAckFor},
		"relay_ack":            {accessAdmin, s.handleRelayAck},
		"relay_timeout":        {accessAdmin, s.handleRelayTimeout},
		"relay_channel":        {accessPublic, s.handleRelayChannel},
		"relay_openChannel":    {accessAdmin, s.handleRelayOpenChannel},
		"relay_connectChannel": {accessAdmin, s.handleRelayConnectChannel},
		"relay_closeChannel":   {accessAdmin, s.handleRelayCloseChannel},
	}
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	rt, ok := s.table[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	source := clientSource(r)
	if !s.allowSource(source) {
		observability.RPC().RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", source)
		return
	}

	var caller [20]byte
	switch rt.access {
	case accessAdmin:
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	case accessSigned:
		signer, authErr := recoverCaller(r, body)
		if authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if authErr := s.consumeNonce(r.Context(), signer, req); authErr != nil {
			status := http.StatusUnauthorized
			if authErr.Code == codeDuplicateCall {
				status = http.StatusConflict
			}
			writeError(w, status, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		caller = signer
	}

	result, err := rt.handler(r.Context(), caller, req)
	observability.RPC().Observe(req.Method, err != nil, time.Since(start))
	if err != nil {
		writeCallError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// recoverCaller authenticates a signed call. The signer of the raw body is
// the caller.
func recoverCaller(r *http.Request, body []byte) ([20]byte, *RPCError) {
	raw := strings.TrimSpace(r.Header.Get(SignatureHeader))
	if raw == "" {
		return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "missing " + SignatureHeader + " header"}
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X"))
	if err != nil {
		return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "signature must be hex encoded"}
	}
	caller, err := crypto.RecoverPayloadSigner(body, sig)
	if err != nil {
		return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "invalid signature", Data: err.Error()}
	}
	return caller, nil
}

// SignBody returns the header value authenticating body as key's account.
func SignBody(key *crypto.PrivateKey, body []byte) (string, error) {
	sig, err := key.SignPayload(body)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerMinute/60.0), s.cfg.Burst)
		s.limiters[source] = limiter
	}
	return limiter.Allow()
}

// consumeNonce rejects signed calls bound to another chain or reusing a
// nonce. The nonce is spent even when the call itself later fails.
func (s *Server) consumeNonce(ctx context.Context, signer [20]byte, req *RPCRequest) *RPCError {
	if want := s.chain.ChainID(); req.ChainID != want {
		observability.RPC().RecordThrottle("wrong_chain")
		return &RPCError{Code: codeWrongChain, Message: "request signed for another chain", Data: req.ChainID}
	}
	if req.Nonce == 0 {
		return &RPCError{Code: codeUnauthorized, Message: "signed request requires a nonce"}
	}
	if err := s.chain.UseNonce(ctx, signer, req.Nonce); err != nil {
		if errors.Is(err, state.ErrStaleNonce) {
			observability.RPC().RecordThrottle("replay")
			return &RPCError{Code: codeDuplicateCall, Message: "request has already been submitted", Data: err.Error()}
		}
		return &RPCError{Code: codeServerError, Message: "failed to record nonce", Data: err.Error()}
	}
	return nil
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeParams unmarshals the single parameter object of req.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return invalidParams("exactly one parameter object expected")
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}
