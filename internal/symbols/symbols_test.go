package symbols

import "testing"

func TestCanonical(t *testing.T) {
	tests := []struct {
		exchange string
		in       string
		want     string
	}{
		{"kucoin", "XBT-USDTM", "BTCUSDT"},
		{"kucoin", "XBTUSDTM", "BTCUSDT"},
		{"kucoin", "ETHUSDTM", "ETHUSDT"},
		{"okx", "BTC-USDT-SWAP", "BTCUSDT"},
		{"coinbase", "BTC-USD", "BTCUSD"},
		{"kraken", "BTC/USD", "BTCUSD"},
		{"binance", "ethusdt", "ETHUSDT"},
		{"binance", "1000BONKUSDT", "BONKUSDT"},
		{"binance", "1000PEPEUSDT", "PEPEUSDT"},
		{"binance", "1000SHIBUSDT", "SHIBUSDT"},
		{"bybit", "SHIB1000USDT", "SHIBUSDT"},
		{"bybit", "1000BONKUSDT", "BONKUSDT"},
		{"BYBIT", "1000PEPEUSDT", "PEPEUSDT"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.exchange, tt.in); got != tt.want {
			t.Errorf("Canonical(%s,%s)=%s want %s", tt.exchange, tt.in, got, tt.want)
		}
	}
}

func TestMatches(t *testing.T) {
	if !Matches("kucoin", "XBTUSDTM", "btcusdt") {
		t.Errorf("expected XBTUSDTM to match BTCUSDT")
	}
	if Matches("binance", "ETHUSDT", "BTCUSDT") {
		t.Errorf("ETHUSDT should not match BTCUSDT")
	}
}
