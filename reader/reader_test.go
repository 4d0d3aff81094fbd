package reader

import (
	"reflect"
	"testing"
	"time"

	"pressureflow/config"
	"pressureflow/models"
)

func TestFilterSymbols(t *testing.T) {
	instruments := []Instrument{
		{Symbol: "ethusdt", QuoteAsset: "USDT", Trading: true},
		{Symbol: "BTCUSDT", QuoteAsset: "usdt", Trading: true},
		{Symbol: "BTCUSDC", QuoteAsset: "USDC", Trading: true},
		{Symbol: "OLDUSDT", QuoteAsset: "USDT", Trading: false},
		{Symbol: "BTCUSDT", QuoteAsset: "USDT", Trading: true},
		{Symbol: " ", QuoteAsset: "USDT", Trading: true},
	}

	tests := []struct {
		name        string
		tradingOnly bool
		want        []string
	}{
		{"all statuses", false, []string{"BTCUSDT", "ETHUSDT", "OLDUSDT"}},
		{"trading only", true, []string{"BTCUSDT", "ETHUSDT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterSymbols(instruments, "USDT", tt.tradingOnly)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}

	if got := FilterSymbols(instruments, "BUSD", false); len(got) != 0 {
		t.Fatalf("expected no symbols, got %v", got)
	}
}

func TestNewTransport(t *testing.T) {
	pool := config.ConnectionPoolConfig{MaxIdleConns: 4, MaxConnsPerHost: 2, IdleConnTimeout: time.Second}
	tr := NewTransport(pool, "127.0.0.1")
	if tr.MaxIdleConns != 4 || tr.MaxConnsPerHost != 2 || tr.IdleConnTimeout != time.Second {
		t.Fatalf("pool settings not applied: %+v", tr)
	}
	if tr.DialContext == nil {
		t.Fatalf("dialer not set")
	}
}

func TestTrimLevels(t *testing.T) {
	snap := &models.DepthSnapshot{
		Bids: make([]models.PriceLevel, 100),
		Asks: make([]models.PriceLevel, 3),
	}
	TrimLevels(snap, 20)
	if len(snap.Bids) != 20 || len(snap.Asks) != 3 {
		t.Fatalf("bids=%d asks=%d", len(snap.Bids), len(snap.Asks))
	}
}
