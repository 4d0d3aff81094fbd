package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"

	"pressureflow/config"
	ratemetrics "pressureflow/internal/metrics/rate"
	"pressureflow/logger"
	"pressureflow/models"
	"pressureflow/reader"
)

const exchangeName = "binance"

// depthLimits are the book sizes the futures depth endpoint accepts.
var depthLimits = []int{5, 10, 20, 50, 100, 500, 1000}

// Reader lists USDⓈ-M futures symbols and fetches their depth through the
// go-binance futures client.
type Reader struct {
	client      *futures.Client
	log         *logger.Log
	limits      *ratemetrics.Reporter
	tradingOnly bool
}

var _ reader.Exchange = (*Reader)(nil)

// NewReader builds a Reader from the binance source settings. The reporter
// receives used weight from every response and may be nil.
func NewReader(cfg *config.Config, limits *ratemetrics.Reporter) *Reader {
	log := logger.GetLogger()
	src := cfg.Source.Binance

	transport := reader.NewTransport(src.ConnectionPool, cfg.Reader.LocalIP)
	client := futures.NewClient("", "")
	client.HTTPClient = reader.NewHTTPClient(&ratemetrics.Transport{Base: transport, Reporter: limits}, cfg.Reader.Timeout)
	if src.URL != "" {
		client.BaseURL = strings.TrimRight(src.URL, "/")
	}

	log.WithComponent("binance_reader").WithFields(logger.Fields{
		"base_url":           client.BaseURL,
		"max_idle_conns":     src.ConnectionPool.MaxIdleConns,
		"max_conns_per_host": src.ConnectionPool.MaxConnsPerHost,
		"timeout":            cfg.Reader.Timeout,
		"local_ip":           cfg.Reader.LocalIP,
	}).Info("binance reader initialized")

	return &Reader{
		client:      client,
		log:         log,
		limits:      limits,
		tradingOnly: cfg.Collector.TradingOnly,
	}
}

func (r *Reader) Name() string {
	return exchangeName
}

// ListQuoteSymbols reads exchangeInfo once and keeps symbols quoted in
// quoteAsset. The weight budget advertised there is handed to the reporter.
func (r *Reader) ListQuoteSymbols(ctx context.Context, quoteAsset string) ([]string, error) {
	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{"operation": "list_symbols"})

	start := time.Now()
	info, err := r.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		r.reportLimit("", "exchange_info", err)
		return nil, fmt.Errorf("%w: binance exchangeInfo: %v", reader.ErrCatalogUnavailable, err)
	}
	logger.LogPerformanceEntry(log, "binance_reader", "exchange_info", time.Since(start), nil)

	if r.limits != nil {
		if limit := ratemetrics.RequestWeightLimit(info); limit > 0 {
			r.limits.SetWeightLimit(limit)
		}
	}

	instruments := make([]reader.Instrument, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		instruments = append(instruments, reader.Instrument{
			Symbol:     s.Symbol,
			QuoteAsset: s.QuoteAsset,
			Trading:    s.Status == "TRADING",
		})
	}
	symbols := reader.FilterSymbols(instruments, quoteAsset, r.tradingOnly)

	log.WithFields(logger.Fields{
		"quote_asset": quoteAsset,
		"instruments": len(info.Symbols),
		"symbols":     len(symbols),
	}).Debug("binance symbols listed")
	return symbols, nil
}

// FetchDepth requests the smallest supported book size covering depthLimit
// and trims the answer to depthLimit.
func (r *Reader) FetchDepth(ctx context.Context, symbol string, depthLimit int) (*models.DepthSnapshot, error) {
	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_depth",
	})

	start := time.Now()
	res, err := r.client.NewDepthService().Symbol(symbol).Limit(supportedLimit(depthLimit)).Do(ctx)
	if err != nil {
		r.reportLimit(symbol, "depth", err)
		return nil, fmt.Errorf("%w: binance %s: %v", reader.ErrDepthUnavailable, symbol, err)
	}
	logger.LogPerformanceEntry(log, "binance_reader", "api_request", time.Since(start), logger.Fields{"symbol": symbol})

	snap := &models.DepthSnapshot{
		Exchange:     exchangeName,
		Symbol:       symbol,
		Bids:         make([]models.PriceLevel, 0, len(res.Bids)),
		Asks:         make([]models.PriceLevel, 0, len(res.Asks)),
		LastUpdateID: res.LastUpdateID,
		FetchedAt:    time.Now().UTC(),
	}
	for _, b := range res.Bids {
		snap.Bids = append(snap.Bids, models.PriceLevel{Price: b.Price, Quantity: b.Quantity})
	}
	for _, a := range res.Asks {
		snap.Asks = append(snap.Asks, models.PriceLevel{Price: a.Price, Quantity: a.Quantity})
	}
	reader.TrimLevels(snap, depthLimit)
	return snap, nil
}

func (r *Reader) reportLimit(symbol, dataType string, err error) {
	if r.limits != nil {
		r.limits.FromError(symbol, dataType, err)
	}
}

func supportedLimit(n int) int {
	for _, l := range depthLimits {
		if n <= l {
			return l
		}
	}
	return depthLimits[len(depthLimits)-1]
}
