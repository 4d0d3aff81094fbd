package rate

import (
	"net/http"
	"strconv"

	futures "github.com/adshao/go-binance/v2/futures"
)

// RequestWeightLimit extracts the per-minute REQUEST_WEIGHT budget from a
// Binance exchangeInfo response. It returns 0 when absent.
func RequestWeightLimit(info *futures.ExchangeInfo) int64 {
	if info == nil {
		return 0
	}
	for _, rl := range info.RateLimits {
		if rl.RateLimitType == "REQUEST_WEIGHT" && rl.Interval == "MINUTE" {
			return rl.Limit
		}
	}
	return 0
}

// usedWeight reads the consumed request weight from exchange specific
// response headers.
func usedWeight(exchange string, header http.Header) (int64, bool) {
	switch exchange {
	case "binance":
		return parseHeaderInt(header, "X-Mbx-Used-Weight-1m")
	case "bybit":
		// bybit reports the remaining budget; try the legacy X-Bapi-* pair
		// before the generic X-RateLimit-* names
		limit, ok := parseHeaderInt(header, "X-Bapi-Limit", "X-RateLimit-Limit")
		if !ok {
			return 0, false
		}
		remaining, ok := parseHeaderInt(header, "X-Bapi-Limit-Status", "X-RateLimit-Remaining")
		if !ok {
			return 0, false
		}
		return max(limit-remaining, 0), true
	case "kucoin":
		limit, ok := parseHeaderInt(header, "Gw-Ratelimit-Limit")
		if !ok {
			return 0, false
		}
		remaining, ok := parseHeaderInt(header, "Gw-Ratelimit-Remaining")
		if !ok {
			return 0, false
		}
		return max(limit-remaining, 0), true
	default:
		return 0, false
	}
}

func parseHeaderInt(header http.Header, names ...string) (int64, bool) {
	for _, name := range names {
		v := header.Get(name)
		if v == "" {
			continue
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
