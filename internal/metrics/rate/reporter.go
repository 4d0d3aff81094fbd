package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"pressureflow/internal/metrics"
	"pressureflow/logger"
)

// Reporter turns exchange responses into rate-limit metrics for one
// exchange and source IP.
type Reporter struct {
	log         *logger.Log
	registry    *metrics.Registry
	exchange    string
	ip          string
	weightLimit atomic.Int64
}

func NewReporter(log *logger.Log, registry *metrics.Registry, exchange, ip string) *Reporter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Reporter{
		log:      log,
		registry: registry,
		exchange: strings.ToLower(exchange),
		ip:       ip,
	}
}

func (r *Reporter) Exchange() string {
	return r.exchange
}

// SetWeightLimit stores the per-minute weight budget so used weight can be
// reported as a ratio.
func (r *Reporter) SetWeightLimit(limit int64) {
	r.weightLimit.Store(limit)
}

func (r *Reporter) WeightLimit() int64 {
	return r.weightLimit.Load()
}

func (r *Reporter) component(dataType string) string {
	return fmt.Sprintf("%s_%s", r.exchange, strings.ToLower(dataType))
}

func (r *Reporter) fields(symbol, dataType string) logger.Fields {
	return logger.Fields{
		"exchange": r.exchange,
		"symbol":   symbol,
		"ip":       r.ip,
		"type":     strings.ToLower(dataType),
	}
}

// RateLimitExceeded counts and logs one rate limit response.
func (r *Reporter) RateLimitExceeded(symbol, dataType string) {
	component := r.component(dataType)
	fields := r.fields(symbol, dataType)
	r.registry.IncRateLimit(r.exchange, "rate_limit")
	l := r.log.WithComponent(component)
	l.LogMetric(component, "rate_limit_exceeded", int64(1), "counter", fields)
	l.WithFields(fields).Warn("rate limit exceeded")
}

// IPBan counts and logs one IP ban. When msg carries a ban expiry in epoch
// milliseconds it is logged as banned_until.
func (r *Reporter) IPBan(symbol, dataType, msg string) {
	component := r.component(dataType)
	fields := r.fields(symbol, dataType)
	r.registry.IncRateLimit(r.exchange, "ip_ban")
	l := r.log.WithComponent(component)
	l.LogMetric(component, "ip_ban", int64(1), "counter", fields)

	entry := l.WithFields(fields)
	if until, ok := banExpiry(msg); ok {
		entry = entry.WithFields(logger.Fields{"banned_until": until.Format(time.RFC3339)})
	}
	entry.Error("ip banned")
}

// FromMessage inspects an exchange error message and records rate limit or
// IP ban events. Messages matching neither are ignored.
func (r *Reporter) FromMessage(symbol, dataType, msg string) (rateLimit, ipBan bool) {
	rateLimit, ipBan = detectLimit(r.exchange, msg)
	if rateLimit {
		r.RateLimitExceeded(symbol, dataType)
	}
	if ipBan {
		r.IPBan(symbol, dataType, msg)
	}
	return rateLimit, ipBan
}

// FromError is FromMessage for a returned error.
func (r *Reporter) FromError(symbol, dataType string, err error) {
	if err == nil {
		return
	}
	r.FromMessage(symbol, dataType, err.Error())
}

// ObserveResponse reports used weight from headers and limit status codes.
func (r *Reporter) ObserveResponse(symbol, dataType string, resp *http.Response) {
	if resp == nil {
		return
	}
	if used, ok := usedWeight(r.exchange, resp.Header); ok {
		r.reportUsedWeight(used)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		r.RateLimitExceeded(symbol, dataType)
	case http.StatusTeapot:
		// binance answers 418 once an IP is auto-banned
		r.IPBan(symbol, dataType, resp.Header.Get("Retry-After"))
	}
}

func (r *Reporter) reportUsedWeight(used int64) {
	component := r.exchange + "_reader"
	fields := logger.Fields{"ip": r.ip}
	r.registry.SetUsedWeight(r.exchange, float64(used))

	l := r.log.WithComponent(component)
	l.LogMetric(component, "used_weight", used, "gauge", fields)
	if limit := r.WeightLimit(); limit > 0 {
		l.LogMetric(component, "used_weight_ratio", float64(used)/float64(limit), "gauge", fields)
	}
}

// detectLimit inspects the message returned from an exchange and determines
// whether it signals a rate limit exceed or an IP ban. Wording differs per
// exchange.
func detectLimit(exchange, msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	switch strings.ToLower(exchange) {
	case "binance":
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
		rateLimit = !ipBan && (strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "code=-1003"))
	case "kucoin":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "429000")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "limit") && strings.Contains(lowerMsg, "triggered")
	case "bybit":
		ipBan = strings.Contains(lowerMsg, "ip rate limit") || (strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban"))
		rateLimit = !ipBan && (strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "too many visits") || strings.Contains(lowerMsg, "10006"))
	default:
		rateLimit = strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	}
	return
}

// banExpiry finds an epoch-millisecond timestamp in msg, as in
// "IP(1.2.3.4) banned until 1700000000000".
func banExpiry(msg string) (time.Time, bool) {
	for _, n := range extractInts(msg) {
		if n > 1_000_000_000_000 && n < 10_000_000_000_000 {
			return time.UnixMilli(n).UTC(), true
		}
	}
	return time.Time{}, false
}

// extractInts returns every run of digits in s as an integer.
func extractInts(s string) []int64 {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	nums := make([]int64, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			nums = append(nums, n)
		}
	}
	return nums
}
