// Package notify hands finished cycle reports to outbound sinks. Delivery
// to chat or report channels lives outside this module; the log publisher
// and the parquet archive are the sinks shipped here.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pressureflow/internal/symbols"
	"pressureflow/logger"
	"pressureflow/models"
	"pressureflow/processor"
)

// Publisher receives every cycle report that produced a summary.
type Publisher interface {
	Publish(ctx context.Context, report *models.CycleReport) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, report *models.CycleReport) error

func (f PublisherFunc) Publish(ctx context.Context, report *models.CycleReport) error {
	return f(ctx, report)
}

// Multi publishes to every member and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, report *models.CycleReport) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes the rendered signal to the application log.
type LogPublisher struct {
	log       *logger.Log
	watchlist []string
	threshold float64
}

func NewLogPublisher(watchlist []string, threshold float64) *LogPublisher {
	return &LogPublisher{
		log:       logger.GetLogger(),
		watchlist: watchlist,
		threshold: threshold,
	}
}

func (p *LogPublisher) Publish(_ context.Context, report *models.CycleReport) error {
	if report == nil || report.Summary == nil {
		return nil
	}
	pressure := processor.Classify(report.Summary.TotalImbalance, p.threshold)
	p.log.WithComponent("notify").WithFields(logger.Fields{
		"cycle_id":  report.CycleID,
		"exchange":  report.Exchange,
		"persisted": report.Persisted(),
		"failed":    len(report.Failures),
		"imbalance": report.Summary.TotalImbalance,
		"pressure":  string(pressure),
	}).Info(FormatSignal(report, p.watchlist, p.threshold))
	return nil
}

// FormatSignal renders the market line followed by one block per watchlist
// entry. Watchlist entries are matched on canonical symbols so BTCUSDT also
// finds KuCoin's XBTUSDTM.
func FormatSignal(report *models.CycleReport, watchlist []string, threshold float64) string {
	if report == nil || report.Summary == nil {
		return ""
	}

	var b strings.Builder
	sum := report.Summary
	fmt.Fprintf(&b, "Order book analysis for all %s futures pairs (%s):\n", strings.ToUpper(report.Exchange), sum.Time.UTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "Total bid volume: %.2f\n", sum.TotalBidVolume)
	fmt.Fprintf(&b, "Total ask volume: %.2f\n", sum.TotalAskVolume)
	fmt.Fprintf(&b, "Total imbalance: %.2f%% (%s)\n", sum.TotalImbalance, processor.Classify(sum.TotalImbalance, threshold).Label())
	fmt.Fprintf(&b, "Pairs: %d persisted, %d failed\n", report.Persisted(), len(report.Failures))

	for _, watch := range watchlist {
		rec, ok := findRecord(report, watch)
		b.WriteString("\n")
		if !ok {
			fmt.Fprintf(&b, "No order book data for %s.\n", strings.ToUpper(watch))
			continue
		}
		fmt.Fprintf(&b, "Order book analysis for %s:\n", rec.Symbol)
		fmt.Fprintf(&b, "Bid volume: %.2f\n", rec.BidVolume)
		fmt.Fprintf(&b, "Ask volume: %.2f\n", rec.AskVolume)
		fmt.Fprintf(&b, "Imbalance: %.2f%% (%s)\n", rec.Imbalance, processor.Classify(rec.Imbalance, threshold).Label())
	}
	return strings.TrimRight(b.String(), "\n")
}

func findRecord(report *models.CycleReport, watch string) (models.PressureRecord, bool) {
	if rec, ok := report.Record(strings.ToUpper(watch)); ok {
		return rec, true
	}
	for _, rec := range report.Records {
		if symbols.Matches(report.Exchange, rec.Symbol, watch) {
			return rec, true
		}
	}
	return models.PressureRecord{}, false
}
