package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"

	"pressureflow/config"
	ratemetrics "pressureflow/internal/metrics/rate"
	"pressureflow/logger"
	"pressureflow/models"
	"pressureflow/reader"
)

const (
	exchangeName = "bybit"
	// maxDepth is the deepest linear order book the v5 endpoint serves.
	maxDepth = 500
	// maxPages bounds instrument pagination in case the cursor never ends.
	maxPages = 50
)

// Reader lists linear perpetual symbols and fetches their order books
// through the bybit v5 market endpoints.
type Reader struct {
	client      *bybit.Client
	log         *logger.Log
	limits      *ratemetrics.Reporter
	category    string
	tradingOnly bool
}

var _ reader.Exchange = (*Reader)(nil)

type instrumentsResult struct {
	Category       string `json:"category"`
	NextPageCursor string `json:"nextPageCursor"`
	List           []struct {
		Symbol    string `json:"symbol"`
		QuoteCoin string `json:"quoteCoin"`
		Status    string `json:"status"`
	} `json:"list"`
}

type orderbookResult struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	Ts       int64      `json:"ts"`
	UpdateID int64      `json:"u"`
}

func NewReader(cfg *config.Config, limits *ratemetrics.Reporter) *Reader {
	log := logger.GetLogger()
	src := cfg.Source.Bybit

	transport := reader.NewTransport(src.ConnectionPool, cfg.Reader.LocalIP)
	base := strings.TrimRight(src.URL, "/")

	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(base))
	client.HTTPClient = reader.NewHTTPClient(&ratemetrics.Transport{Base: transport, Reporter: limits}, cfg.Reader.Timeout)

	category := src.Category
	if category == "" {
		category = "linear"
	}

	log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"base_url": base,
		"category": category,
		"timeout":  cfg.Reader.Timeout,
	}).Info("bybit reader initialized")

	return &Reader{
		client:      client,
		log:         log,
		limits:      limits,
		category:    category,
		tradingOnly: cfg.Collector.TradingOnly,
	}
}

func (r *Reader) Name() string {
	return exchangeName
}

func (r *Reader) ListQuoteSymbols(ctx context.Context, quoteAsset string) ([]string, error) {
	log := r.log.WithComponent("bybit_reader").WithFields(logger.Fields{"operation": "list_symbols"})

	var instruments []reader.Instrument
	cursor := ""
	for page := 0; page < maxPages; page++ {
		params := map[string]interface{}{
			"category": r.category,
			"limit":    1000,
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		resp, err := r.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
		if err != nil {
			r.reportLimit("", "instruments", err.Error())
			return nil, fmt.Errorf("%w: bybit instruments: %v", reader.ErrCatalogUnavailable, err)
		}
		if resp.RetCode != 0 {
			r.reportLimit("", "instruments", resp.RetMsg)
			return nil, fmt.Errorf("%w: bybit instruments: retCode=%d %s", reader.ErrCatalogUnavailable, resp.RetCode, resp.RetMsg)
		}

		var result instrumentsResult
		if err := decodeResult(resp.Result, &result); err != nil {
			return nil, fmt.Errorf("%w: bybit instruments: %v", reader.ErrCatalogUnavailable, err)
		}
		for _, inst := range result.List {
			instruments = append(instruments, reader.Instrument{
				Symbol:     inst.Symbol,
				QuoteAsset: inst.QuoteCoin,
				Trading:    inst.Status == "Trading",
			})
		}

		if result.NextPageCursor == "" || result.NextPageCursor == cursor {
			break
		}
		cursor = result.NextPageCursor
	}

	symbols := reader.FilterSymbols(instruments, quoteAsset, r.tradingOnly)
	log.WithFields(logger.Fields{
		"quote_asset": quoteAsset,
		"instruments": len(instruments),
		"symbols":     len(symbols),
	}).Debug("bybit symbols listed")
	return symbols, nil
}

func (r *Reader) FetchDepth(ctx context.Context, symbol string, depthLimit int) (*models.DepthSnapshot, error) {
	log := r.log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_depth",
	})

	limit := depthLimit
	if limit <= 0 || limit > maxDepth {
		limit = maxDepth
	}
	params := map[string]interface{}{
		"category": r.category,
		"symbol":   symbol,
		"limit":    limit,
	}

	start := time.Now()
	resp, err := r.client.NewUtaBybitServiceWithParams(params).GetOrderBookInfo(ctx)
	if err != nil {
		r.reportLimit(symbol, "orderbook", err.Error())
		return nil, fmt.Errorf("%w: bybit %s: %v", reader.ErrDepthUnavailable, symbol, err)
	}
	if resp.RetCode != 0 {
		r.reportLimit(symbol, "orderbook", resp.RetMsg)
		return nil, fmt.Errorf("%w: bybit %s: retCode=%d %s", reader.ErrDepthUnavailable, symbol, resp.RetCode, resp.RetMsg)
	}
	logger.LogPerformanceEntry(log, "bybit_reader", "api_request", time.Since(start), logger.Fields{"symbol": symbol})

	var book orderbookResult
	if err := decodeResult(resp.Result, &book); err != nil {
		return nil, fmt.Errorf("%w: bybit %s: %v", reader.ErrDepthUnavailable, symbol, err)
	}

	bids, err := toLevels(book.Bids)
	if err != nil {
		return nil, fmt.Errorf("%w: bybit %s bids: %v", reader.ErrDepthUnavailable, symbol, err)
	}
	asks, err := toLevels(book.Asks)
	if err != nil {
		return nil, fmt.Errorf("%w: bybit %s asks: %v", reader.ErrDepthUnavailable, symbol, err)
	}

	snap := &models.DepthSnapshot{
		Exchange:     exchangeName,
		Symbol:       symbol,
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: book.UpdateID,
		FetchedAt:    time.Now().UTC(),
	}
	reader.TrimLevels(snap, depthLimit)
	return snap, nil
}

func (r *Reader) reportLimit(symbol, dataType, msg string) {
	if r.limits != nil {
		r.limits.FromMessage(symbol, dataType, msg)
	}
}

// decodeResult re-encodes the untyped Result of a bybit ServerResponse into
// a concrete struct.
func decodeResult(result interface{}, out interface{}) error {
	if result == nil {
		return fmt.Errorf("empty result")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func toLevels(raw [][]string) ([]models.PriceLevel, error) {
	levels := make([]models.PriceLevel, 0, len(raw))
	for i, lvl := range raw {
		if len(lvl) < 2 {
			return nil, fmt.Errorf("level %d has %d fields", i, len(lvl))
		}
		levels = append(levels, models.PriceLevel{Price: lvl[0], Quantity: lvl[1]})
	}
	return levels, nil
}
