package price

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type sourceFunc func(asset string) (Quote, error)

func (f sourceFunc) Quote(asset string) (Quote, error) {
	return f(asset)
}

func TestManualOracleProvidesQuotes(t *testing.T) {
	manual := NewManualOracle()
	now := time.Now().UTC()
	if err := manual.SetString("usd", "125", now); err != nil {
		t.Fatalf("set price: %v", err)
	}
	quote, err := manual.Quote("USD")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Price.Cmp(big.NewInt(125)) != 0 {
		t.Fatalf("unexpected price: %s", quote.Price)
	}
	if !quote.Timestamp.Equal(now) {
		t.Fatalf("unexpected timestamp: %v", quote.Timestamp)
	}
	quote.Price.SetInt64(1)
	again, _ := manual.Quote("usd")
	if again.Price.Cmp(big.NewInt(125)) != 0 {
		t.Fatalf("stored quote mutated through clone")
	}
	if err := manual.SetString("usd", "0", now); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
	if _, err := manual.Quote("eur"); !errors.Is(err, ErrQuoteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAggregatorStaleQuote(t *testing.T) {
	manual := NewManualOracle()
	agg := NewAggregator([]string{"manual"}, time.Second)
	agg.Register("manual", manual)
	if err := manual.Set("USD", big.NewInt(50), time.Now().Add(-2*time.Second)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if _, err := agg.QuotePrice("USD"); !errors.Is(err, ErrNoFreshQuote) {
		t.Fatalf("expected stale quote error, got %v", err)
	}
}

func TestAggregatorPriorityFallback(t *testing.T) {
	manual := NewManualOracle()
	agg := NewAggregator([]string{"primary", "manual"}, 5*time.Minute)
	agg.Register("primary", sourceFunc(func(string) (Quote, error) {
		return Quote{}, fmt.Errorf("primary down")
	}))
	agg.Register("manual", manual)
	if err := manual.Set("USD", big.NewInt(101), time.Now()); err != nil {
		t.Fatalf("set price: %v", err)
	}
	quote, err := agg.Quote("usd")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Source != "manual" || quote.Price.Int64() != 101 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	last, ok := agg.LastQuote("USD")
	if !ok || last.Price.Int64() != 101 {
		t.Fatalf("expected last quote to be recorded")
	}
}

func TestAggregatorNoSources(t *testing.T) {
	agg := NewAggregator(nil, 0)
	if _, err := agg.QuotePrice("USD"); !errors.Is(err, ErrNoFreshQuote) {
		t.Fatalf("expected no fresh quote, got %v", err)
	}
}

func TestAggregatorClockOverride(t *testing.T) {
	manual := NewManualOracle()
	observed := time.Unix(1_700_000_000, 0)
	if err := manual.Set("USD", big.NewInt(7), observed); err != nil {
		t.Fatalf("set price: %v", err)
	}
	agg := NewAggregator([]string{"manual"}, time.Minute)
	agg.Register("manual", manual)
	agg.SetNowFunc(func() time.Time { return observed.Add(30 * time.Second) })
	if _, err := agg.QuotePrice("USD"); err != nil {
		t.Fatalf("expected fresh quote, got %v", err)
	}
	agg.SetNowFunc(func() time.Time { return observed.Add(2 * time.Minute) })
	if _, err := agg.QuotePrice("USD"); !errors.Is(err, ErrNoFreshQuote) {
		t.Fatalf("expected stale quote, got %v", err)
	}
}

func TestHTTPOracle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("asset"); got != "USD" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("x-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"asset": "USD", "price": "99", "timestamp": time.Now().Unix()})
	}))
	defer server.Close()

	oracle := NewHTTPOracle(server.Client(), server.URL, "secret")
	quote, err := oracle.Quote("usd")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Price.Int64() != 99 || quote.Source != "http" {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	if _, err := oracle.Quote("eur"); !errors.Is(err, ErrQuoteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
