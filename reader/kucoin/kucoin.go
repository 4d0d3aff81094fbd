package kucoin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"

	"pressureflow/config"
	ratemetrics "pressureflow/internal/metrics/rate"
	"pressureflow/logger"
	"pressureflow/models"
	"pressureflow/reader"
)

const exchangeName = "kucoin"

// marketAPI is the part of the SDK futures market service the reader calls.
type marketAPI interface {
	GetAllSymbols(ctx context.Context) (*futuresmarket.GetAllSymbolsResp, error)
	GetPartOrderBook(req *futuresmarket.GetPartOrderBookReq, ctx context.Context) (*futuresmarket.GetPartOrderBookResp, error)
}

// Reader serves KuCoin futures contracts through the universal SDK.
type Reader struct {
	market      marketAPI
	log         *logger.Log
	limits      *ratemetrics.Reporter
	tradingOnly bool
}

var _ reader.Exchange = (*Reader)(nil)

func NewReader(cfg *config.Config, limits *ratemetrics.Reporter) *Reader {
	log := logger.GetLogger()
	src := cfg.Source.Kucoin

	baseURL := src.URL
	if baseURL == "" {
		baseURL = "https://api-futures.kucoin.com"
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetMaxIdleConns(src.ConnectionPool.MaxIdleConns).
		SetMaxIdleConnsPerHost(src.ConnectionPool.MaxIdleConns).
		SetMaxConnsPerHost(src.ConnectionPool.MaxConnsPerHost).
		SetIdleConnTimeout(src.ConnectionPool.IdleConnTimeout).
		SetTimeout(cfg.Reader.Timeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithFuturesEndpoint(baseURL).
		WithTransportOption(transportOpt).
		Build()

	client := api.NewClient(option)

	log.WithComponent("kucoin_reader").WithFields(logger.Fields{
		"base_url": baseURL,
		"timeout":  cfg.Reader.Timeout,
	}).Info("kucoin reader initialized")

	return newReader(client.RestService().GetFuturesService().GetMarketAPI(), limits, cfg.Collector.TradingOnly)
}

func newReader(market marketAPI, limits *ratemetrics.Reporter, tradingOnly bool) *Reader {
	return &Reader{
		market:      market,
		log:         logger.GetLogger(),
		limits:      limits,
		tradingOnly: tradingOnly,
	}
}

func (r *Reader) Name() string {
	return exchangeName
}

func (r *Reader) ListQuoteSymbols(ctx context.Context, quoteAsset string) ([]string, error) {
	resp, err := r.market.GetAllSymbols(ctx)
	if err != nil {
		r.reportLimit("", "contracts", err)
		return nil, fmt.Errorf("%w: kucoin contracts: %v", reader.ErrCatalogUnavailable, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: kucoin contracts: empty response", reader.ErrCatalogUnavailable)
	}

	instruments := make([]reader.Instrument, 0, len(resp.Data))
	for _, c := range resp.Data {
		instruments = append(instruments, reader.Instrument{
			Symbol:     c.Symbol,
			QuoteAsset: c.QuoteCurrency,
			Trading:    strings.EqualFold(c.Status, "Open"),
		})
	}

	symbols := reader.FilterSymbols(instruments, quoteAsset, r.tradingOnly)
	r.log.WithComponent("kucoin_reader").WithFields(logger.Fields{
		"quote_asset": quoteAsset,
		"contracts":   len(instruments),
		"symbols":     len(symbols),
	}).Debug("kucoin symbols listed")
	return symbols, nil
}

func (r *Reader) FetchDepth(ctx context.Context, symbol string, depthLimit int) (*models.DepthSnapshot, error) {
	log := r.log.WithComponent("kucoin_reader").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_depth",
	})

	req := futuresmarket.NewGetPartOrderBookReqBuilder().
		SetSymbol(symbol).
		SetSize(partSize(depthLimit)).
		Build()

	start := time.Now()
	resp, err := r.market.GetPartOrderBook(req, ctx)
	if err != nil {
		r.reportLimit(symbol, "depth", err)
		return nil, fmt.Errorf("%w: kucoin %s: %v", reader.ErrDepthUnavailable, symbol, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: kucoin %s: empty response", reader.ErrDepthUnavailable, symbol)
	}
	logger.LogPerformanceEntry(log, "kucoin_reader", "api_request", time.Since(start), logger.Fields{"symbol": symbol})

	bids, err := toLevels(resp.Bids)
	if err != nil {
		return nil, fmt.Errorf("%w: kucoin %s bids: %v", reader.ErrDepthUnavailable, symbol, err)
	}
	asks, err := toLevels(resp.Asks)
	if err != nil {
		return nil, fmt.Errorf("%w: kucoin %s asks: %v", reader.ErrDepthUnavailable, symbol, err)
	}

	snap := &models.DepthSnapshot{
		Exchange:     exchangeName,
		Symbol:       symbol,
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: resp.Sequence,
		FetchedAt:    time.Now().UTC(),
	}
	reader.TrimLevels(snap, depthLimit)
	return snap, nil
}

func (r *Reader) reportLimit(symbol, dataType string, err error) {
	if r.limits != nil {
		r.limits.FromError(symbol, dataType, err)
	}
}

// partSize maps a depth limit onto the two sizes the part order book
// endpoint serves.
func partSize(depthLimit int) string {
	if depthLimit > 0 && depthLimit <= 20 {
		return "20"
	}
	return "100"
}

func toLevels(raw [][]float64) ([]models.PriceLevel, error) {
	levels := make([]models.PriceLevel, 0, len(raw))
	for i, lvl := range raw {
		if len(lvl) < 2 {
			return nil, fmt.Errorf("level %d has %d fields", i, len(lvl))
		}
		levels = append(levels, models.PriceLevel{
			Price:    strconv.FormatFloat(lvl[0], 'f', -1, 64),
			Quantity: strconv.FormatFloat(lvl[1], 'f', -1, 64),
		})
	}
	return levels, nil
}
