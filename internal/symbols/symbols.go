// Package symbols maps exchange-native contract names onto one display
// form so watchlists and signals read the same on every venue.
package symbols

import "strings"

// multiplierAliases covers contracts quoted per 1000 units of the base asset.
var multiplierAliases = map[string]map[string]string{
	"binance": {
		"1000BONKUSDT": "BONKUSDT",
		"1000PEPEUSDT": "PEPEUSDT",
		"1000SHIBUSDT": "SHIBUSDT",
	},
	"bybit": {
		"1000BONKUSDT": "BONKUSDT",
		"1000PEPEUSDT": "PEPEUSDT",
		"SHIB1000USDT": "SHIBUSDT",
	},
}

// Canonical converts an exchange symbol to Binance style: uppercase, no
// separators and BTC instead of XBT.
func Canonical(exchange, sym string) string {
	exchange = strings.ToLower(exchange)
	sym = strings.ToUpper(strings.TrimSpace(sym))

	switch exchange {
	case "kucoin":
		sym = strings.ReplaceAll(sym, "-", "")
		sym = strings.TrimSuffix(sym, "M")
		if strings.HasPrefix(sym, "XBT") {
			sym = "BTC" + sym[3:]
		}
	case "okx":
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	case "coinbase":
		sym = strings.ReplaceAll(sym, "-", "")
	case "kraken":
		sym = strings.ReplaceAll(sym, "/", "")
		sym = strings.ReplaceAll(sym, "-", "")
	}

	if alias, ok := multiplierAliases[exchange][sym]; ok {
		return alias
	}
	return sym
}

// Matches reports whether an exchange symbol names the same market as a
// watchlist entry.
func Matches(exchange, sym, watch string) bool {
	return Canonical(exchange, sym) == Canonical("", watch)
}
