package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pressureflow/config"
	"pressureflow/reader"
)

func minimalConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Reader.Timeout = time.Second
	cfg.Source.Binance.URL = url
	cfg.Source.Binance.ConnectionPool = config.ConnectionPoolConfig{
		MaxIdleConns:    1,
		MaxConnsPerHost: 1,
		IdleConnTimeout: time.Second,
	}
	return &cfg
}

const exchangeInfoBody = `{
  "timezone": "UTC",
  "serverTime": 1700000000000,
  "rateLimits": [{"rateLimitType": "REQUEST_WEIGHT", "interval": "MINUTE", "intervalNum": 1, "limit": 2400}],
  "symbols": [
    {"symbol": "ETHUSDT", "status": "TRADING", "baseAsset": "ETH", "quoteAsset": "USDT"},
    {"symbol": "BTCUSDT", "status": "TRADING", "baseAsset": "BTC", "quoteAsset": "USDT"},
    {"symbol": "BTCUSDC", "status": "TRADING", "baseAsset": "BTC", "quoteAsset": "USDC"},
    {"symbol": "OLDUSDT", "status": "SETTLING", "baseAsset": "OLD", "quoteAsset": "USDT"}
  ]
}`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			fmt.Fprint(w, exchangeInfoBody)
		case "/fapi/v1/depth":
			switch r.URL.Query().Get("symbol") {
			case "BTCUSDT":
				if got := r.URL.Query().Get("limit"); got != "5" {
					t.Errorf("unexpected limit %s", got)
				}
				fmt.Fprint(w, `{"lastUpdateId": 42, "E": 1, "T": 1,
					"bids": [["100.0","2"],["99.0","3"]],
					"asks": [["101.0","1"],["102.0","4"]]}`)
			default:
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"code": -1121, "msg": "Invalid symbol."}`)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestListQuoteSymbols(t *testing.T) {
	srv := newServer(t)
	r := NewReader(minimalConfig(srv.URL), nil)

	symbols, err := r.ListQuoteSymbols(context.Background(), "usdt")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Join(symbols, ",") != "BTCUSDT,ETHUSDT,OLDUSDT" {
		t.Fatalf("unexpected symbols %v", symbols)
	}

	r.tradingOnly = true
	symbols, err = r.ListQuoteSymbols(context.Background(), "USDT")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Join(symbols, ",") != "BTCUSDT,ETHUSDT" {
		t.Fatalf("unexpected trading symbols %v", symbols)
	}
}

func TestListQuoteSymbolsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewReader(minimalConfig(srv.URL), nil)
	if _, err := r.ListQuoteSymbols(context.Background(), "USDT"); !errors.Is(err, reader.ErrCatalogUnavailable) {
		t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
	}
}

func TestFetchDepth(t *testing.T) {
	srv := newServer(t)
	r := NewReader(minimalConfig(srv.URL), nil)

	snap, err := r.FetchDepth(context.Background(), "BTCUSDT", 1)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap.Exchange != "binance" || snap.Symbol != "BTCUSDT" || snap.LastUpdateID != 42 {
		t.Fatalf("unexpected snapshot header %+v", snap)
	}
	if len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("levels not trimmed: bids=%d asks=%d", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].Price != "100.0" || snap.Bids[0].Quantity != "2" {
		t.Fatalf("unexpected best bid %+v", snap.Bids[0])
	}
}

func TestFetchDepthUnavailable(t *testing.T) {
	srv := newServer(t)
	r := NewReader(minimalConfig(srv.URL), nil)

	if _, err := r.FetchDepth(context.Background(), "NOPE", 5); !errors.Is(err, reader.ErrDepthUnavailable) {
		t.Fatalf("expected ErrDepthUnavailable, got %v", err)
	}
}

func TestSupportedLimit(t *testing.T) {
	cases := map[int]int{0: 5, 1: 5, 5: 5, 6: 10, 100: 100, 101: 500, 5000: 1000}
	for in, want := range cases {
		if got := supportedLimit(in); got != want {
			t.Errorf("supportedLimit(%d)=%d want %d", in, got, want)
		}
	}
}
