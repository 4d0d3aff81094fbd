// Package reader defines how symbols and order books are pulled from an
// exchange. Adapters live in the per-exchange subpackages.
package reader

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"pressureflow/config"
	"pressureflow/models"
)

var (
	// ErrCatalogUnavailable means the symbol universe could not be listed.
	ErrCatalogUnavailable = errors.New("catalog unavailable")

	// ErrDepthUnavailable means one order book could not be fetched.
	ErrDepthUnavailable = errors.New("depth unavailable")
)

// Catalog lists the tradeable instruments quoted in one asset.
type Catalog interface {
	ListQuoteSymbols(ctx context.Context, quoteAsset string) ([]string, error)
}

// DepthFetcher retrieves the top depthLimit levels per side of one book.
type DepthFetcher interface {
	FetchDepth(ctx context.Context, symbol string, depthLimit int) (*models.DepthSnapshot, error)
}

// Exchange is what the collector needs from one venue.
type Exchange interface {
	Catalog
	DepthFetcher
	Name() string
}

// Instrument is the exchange-neutral subset of instrument metadata used for
// filtering.
type Instrument struct {
	Symbol     string
	QuoteAsset string
	Trading    bool
}

// FilterSymbols keeps instruments quoted in quoteAsset (case-insensitive) and,
// when tradingOnly is set, only those currently trading. The result is
// uppercase, sorted and free of duplicates.
func FilterSymbols(instruments []Instrument, quoteAsset string, tradingOnly bool) []string {
	seen := make(map[string]struct{}, len(instruments))
	out := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		if !strings.EqualFold(inst.QuoteAsset, quoteAsset) {
			continue
		}
		if tradingOnly && !inst.Trading {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(inst.Symbol))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// NewTransport builds the pooled transport shared by all requests to one
// exchange. Outbound connections bind to localIP when it parses.
func NewTransport(pool config.ConnectionPoolConfig, localIP string) *http.Transport {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        pool.MaxIdleConns,
		MaxIdleConnsPerHost: pool.MaxIdleConns,
		MaxConnsPerHost:     pool.MaxConnsPerHost,
		IdleConnTimeout:     pool.IdleConnTimeout,
		DisableCompression:  false,
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if localIP != "" {
		if ip := net.ParseIP(localIP); ip != nil {
			dialer.LocalAddr = &net.TCPAddr{IP: ip}
		}
	}
	transport.DialContext = dialer.DialContext
	return transport
}

// NewHTTPClient wraps rt in a client with the configured request timeout.
func NewHTTPClient(rt http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{Transport: rt, Timeout: timeout}
}

// TrimLevels cuts both sides of a snapshot to at most limit levels. Some
// venues only serve fixed depths larger than asked for.
func TrimLevels(snap *models.DepthSnapshot, limit int) {
	if limit <= 0 {
		return
	}
	if len(snap.Bids) > limit {
		snap.Bids = snap.Bids[:limit]
	}
	if len(snap.Asks) > limit {
		snap.Asks = snap.Asks[:limit]
	}
}
