package bybit

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
	cfg.Source.Bybit.URL = url
	return &cfg
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query()
		switch r.URL.Path {
		case "/v5/market/instruments-info":
			if q.Get("category") != "linear" {
				t.Errorf("unexpected category %q", q.Get("category"))
			}
			if q.Get("cursor") == "" {
				fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"category":"linear","nextPageCursor":"page2","list":[
					{"symbol":"ETHUSDT","quoteCoin":"USDT","status":"Trading"},
					{"symbol":"BTCPERP","quoteCoin":"USDC","status":"Trading"}]},"time":1}`)
				return
			}
			fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"category":"linear","nextPageCursor":"","list":[
				{"symbol":"BTCUSDT","quoteCoin":"USDT","status":"Trading"},
				{"symbol":"OLDUSDT","quoteCoin":"USDT","status":"Closed"}]},"time":1}`)
		case "/v5/market/orderbook":
			switch q.Get("symbol") {
			case "BTCUSDT":
				fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"s":"BTCUSDT",
					"b":[["100","10"]],"a":[],"ts":1700000000000,"u":7},"time":1}`)
			case "BROKEN":
				fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"s":"BROKEN","b":[["100"]],"a":[]},"time":1}`)
			default:
				fmt.Fprint(w, `{"retCode":10001,"retMsg":"params error: symbol invalid","result":{},"time":1}`)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestListQuoteSymbolsPaginates(t *testing.T) {
	srv := newServer(t)
	r := NewReader(minimalConfig(srv.URL), nil)

	symbols, err := r.ListQuoteSymbols(context.Background(), "USDT")
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

func TestFetchDepth(t *testing.T) {
	srv := newServer(t)
	r := NewReader(minimalConfig(srv.URL), nil)

	snap, err := r.FetchDepth(context.Background(), "BTCUSDT", 100)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap.Exchange != "bybit" || snap.LastUpdateID != 7 || len(snap.Bids) != 1 || len(snap.Asks) != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Bids[0].Quantity != "10" {
		t.Fatalf("unexpected bid %+v", snap.Bids[0])
	}
}

func TestFetchDepthErrors(t *testing.T) {
	srv := newServer(t)
	r := NewReader(minimalConfig(srv.URL), nil)

	for _, sym := range []string{"NOPE", "BROKEN"} {
		if _, err := r.FetchDepth(context.Background(), sym, 100); !errors.Is(err, reader.ErrDepthUnavailable) {
			t.Errorf("%s: expected ErrDepthUnavailable, got %v", sym, err)
		}
	}
}

func TestToLevels(t *testing.T) {
	levels, err := toLevels([][]string{{"1", "2"}, {"3", "4", "extra"}})
	if err != nil || len(levels) != 2 || levels[1].Quantity != "4" {
		t.Fatalf("unexpected levels %v err %v", levels, err)
	}
	if _, err := toLevels([][]string{{"1"}}); err == nil {
		t.Fatalf("expected error for short level")
	}
}
