package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pressureflow/logger"
	"pressureflow/models"
)

func sampleReport(exchange string) *models.CycleReport {
	ts := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
	return &models.CycleReport{
		CycleID:   "c1",
		Exchange:  exchange,
		Time:      ts,
		Attempted: 3,
		Records: []models.PressureRecord{
			{Time: ts, Symbol: "XBTUSDTM", BidVolume: 75, AskVolume: 25, Imbalance: 50},
			{Time: ts, Symbol: "ETHUSDTM", BidVolume: 10, AskVolume: 10, Imbalance: 0},
		},
		Failures: []models.SymbolFailure{{Symbol: "SOLUSDTM", Stage: models.StageFetch, Error: "timeout"}},
		Summary: &models.MarketSummary{
			Time: ts, TotalBidVolume: 85, TotalAskVolume: 35, TotalImbalance: 41.67,
		},
	}
}

func TestFormatSignal(t *testing.T) {
	text := FormatSignal(sampleReport("kucoin"), []string{"btcusdt", "ETHUSDT", "TONUSDT"}, 10)

	for _, want := range []string{
		"Order book analysis for all KUCOIN futures pairs (2024-03-01 12:05 UTC):",
		"Total bid volume: 85.00",
		"Total imbalance: 41.67% (buyer pressure)",
		"Pairs: 2 persisted, 1 failed",
		"Order book analysis for XBTUSDTM:",
		"Imbalance: 50.00% (buyer pressure)",
		"Imbalance: 0.00% (balanced)",
		"No order book data for TONUSDT.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("signal missing %q:\n%s", want, text)
		}
	}
}

func TestFormatSignalWithoutSummary(t *testing.T) {
	report := sampleReport("binance")
	report.Summary = nil
	if text := FormatSignal(report, nil, 10); text != "" {
		t.Fatalf("expected empty signal, got %q", text)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	var calls int
	ok := PublisherFunc(func(context.Context, *models.CycleReport) error { calls++; return nil })
	bad := PublisherFunc(func(context.Context, *models.CycleReport) error { calls++; return errors.New("sink down") })

	err := Multi{ok, nil, bad, ok}.Publish(context.Background(), sampleReport("binance"))
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Fatalf("expected joined error, got %v", err)
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher([]string{"BTCUSDT"}, 10)
	p.log = logger.Logger()
	p.log.SetOutput(&buf)

	if err := p.Publish(context.Background(), sampleReport("kucoin")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"pressure":"buyers"`) || !strings.Contains(out, "XBTUSDTM") {
		t.Fatalf("unexpected log output: %s", out)
	}
}
