package price

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"escrowchain/native/common"
)

var (
	// ErrNoFreshQuote indicates that no registered source produced a quote
	// within the configured freshness window.
	ErrNoFreshQuote = errors.New("price: no fresh quote available")
	// ErrQuoteNotFound is returned by sources that hold no quote for an asset.
	ErrQuoteNotFound = errors.New("price: quote not found")
	// ErrInvalidPrice rejects zero or negative prices.
	ErrInvalidPrice = errors.New("price: price must be positive")
)

// Quote is a unit price for an asset along with the time it was observed and
// the source that reported it.
type Quote struct {
	Asset     string
	Price     *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	clone := Quote{Asset: q.Asset, Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Source resolves the latest price for an asset.
type Source interface {
	Quote(asset string) (Quote, error)
}

func normaliseSymbol(symbol string) string {
	return common.NormalizeAsset(symbol)
}

// ManualOracle holds operator-supplied prices in memory.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewManualOracle constructs an empty manual oracle.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]Quote)}
}

// Set records price for asset observed at ts.
func (m *ManualOracle) Set(asset string, price *big.Int, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	symbol := normaliseSymbol(asset)
	if symbol == "" {
		return fmt.Errorf("manual oracle: asset required")
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	m.mu.Lock()
	m.quotes[symbol] = Quote{Asset: symbol, Price: new(big.Int).Set(price), Timestamp: ts, Source: "manual"}
	m.mu.Unlock()
	return nil
}

// SetString parses a base-10 integer price and records it.
func (m *ManualOracle) SetString(asset, price string, ts time.Time) error {
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("manual oracle: price required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return fmt.Errorf("manual oracle: invalid price %q", price)
	}
	return m.Set(asset, value, ts)
}

// Quote returns the stored price for asset.
func (m *ManualOracle) Quote(asset string) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual oracle not configured")
	}
	symbol := normaliseSymbol(asset)
	m.mu.RLock()
	stored, ok := m.quotes[symbol]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrQuoteNotFound, symbol)
	}
	return stored.Clone(), nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPOracle polls a JSON price feed of the form
// {"asset":"USD","price":"100","timestamp":1700000000}.
type HTTPOracle struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPOracle constructs a feed adapter. A nil client falls back to
// http.DefaultClient.
func NewHTTPOracle(client HTTPDoer, endpoint, apiKey string) *HTTPOracle {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPOracle{client: client, endpoint: strings.TrimSpace(endpoint), apiKey: strings.TrimSpace(apiKey)}
}

func (o *HTTPOracle) Quote(asset string) (Quote, error) {
	if o == nil || o.endpoint == "" {
		return Quote{}, fmt.Errorf("http oracle not configured")
	}
	symbol := normaliseSymbol(asset)
	req, err := http.NewRequest(http.MethodGet, o.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Set("asset", symbol)
	req.URL.RawQuery = values.Encode()
	if o.apiKey != "" {
		req.Header.Set("x-api-key", o.apiKey)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return Quote{}, fmt.Errorf("%w: %s", ErrQuoteNotFound, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("http oracle: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Asset     string `json:"asset"`
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("http oracle: decode: %w", err)
	}
	if payload.Asset != "" && normaliseSymbol(payload.Asset) != symbol {
		return Quote{}, fmt.Errorf("http oracle: asked for %s, got %s", symbol, payload.Asset)
	}
	value, ok := new(big.Int).SetString(strings.TrimSpace(payload.Price), 10)
	if !ok || value.Sign() <= 0 {
		return Quote{}, fmt.Errorf("http oracle: invalid price %q", payload.Price)
	}
	ts := time.Unix(payload.Timestamp, 0).UTC()
	if payload.Timestamp == 0 {
		ts = time.Now().UTC()
	}
	return Quote{Asset: symbol, Price: value, Timestamp: ts, Source: "http"}, nil
}

// Aggregator consults registered sources in priority order until one yields a
// quote inside the freshness window. It satisfies trade.PriceQuoter.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	sources  map[string]Source
	maxAge   time.Duration
	nowFn    func() time.Time
	last     map[string]Quote
}

// NewAggregator constructs an aggregator. A zero maxAge disables the
// freshness check.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	prio := make([]string, 0, len(priority))
	for _, name := range priority {
		if trimmed := strings.ToLower(strings.TrimSpace(name)); trimmed != "" {
			prio = append(prio, trimmed)
		}
	}
	return &Aggregator{
		priority: prio,
		sources:  make(map[string]Source),
		maxAge:   maxAge,
		nowFn:    time.Now,
		last:     make(map[string]Quote),
	}
}

// SetMaxAge updates the freshness window.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// SetNowFunc overrides the clock used for freshness checks.
func (a *Aggregator) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	a.mu.Lock()
	a.nowFn = fn
	a.mu.Unlock()
}

// Register adds or replaces a source. Names are case insensitive; a name not
// yet in the priority list is appended to it.
func (a *Aggregator) Register(name string, source Source) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" || source == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[trimmed] = source
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// Quote returns the first fresh, positive quote for asset.
func (a *Aggregator) Quote(asset string) (Quote, error) {
	symbol := normaliseSymbol(asset)
	if symbol == "" {
		return Quote{}, fmt.Errorf("price: asset required")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	now := a.nowFn()
	a.mu.RUnlock()

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		source := a.sources[name]
		a.mu.RUnlock()
		if source == nil {
			continue
		}
		quote, err := source.Quote(symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			lastErr = fmt.Errorf("source %s returned invalid price", name)
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(now.Add(-maxAge)) {
			lastErr = ErrNoFreshQuote
			continue
		}
		result := quote.Clone()
		result.Asset = symbol
		if strings.TrimSpace(result.Source) == "" {
			result.Source = name
		}
		a.mu.Lock()
		a.last[symbol] = result.Clone()
		a.mu.Unlock()
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return Quote{}, lastErr
}

// QuotePrice returns the current unit price of asset.
func (a *Aggregator) QuotePrice(asset string) (*big.Int, error) {
	quote, err := a.Quote(asset)
	if err != nil {
		return nil, err
	}
	return quote.Price, nil
}

// LastQuote reports the most recent quote served for asset, if any.
func (a *Aggregator) LastQuote(asset string) (Quote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	quote, ok := a.last[normaliseSymbol(asset)]
	if !ok {
		return Quote{}, false
	}
	return quote.Clone(), true
}
