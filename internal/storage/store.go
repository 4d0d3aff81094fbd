package storage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"pressureflow/models"
)

// TimeLayout is how timestamps are stored. Fixed width UTC keeps lexical
// and chronological order identical.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// PressureStore persists per-symbol pressure records and per-cycle market
// summaries. Records are append-only and unique per (time, symbol).
type PressureStore interface {
	// EnsureSchema creates the relations if missing. Safe to call repeatedly.
	EnsureSchema(ctx context.Context) error

	// WritePressureRecord returns ErrDuplicateKey when (time, symbol) exists.
	WritePressureRecord(ctx context.Context, rec models.PressureRecord) error

	WriteMarketSummary(ctx context.Context, sum models.MarketSummary) error

	// LatestSummary returns ErrNotFound when no summary exists.
	LatestSummary(ctx context.Context) (models.MarketSummary, error)

	// LatestRecord returns ErrNotFound when the symbol has no records.
	LatestRecord(ctx context.Context, symbol string) (models.PressureRecord, error)

	// SummaryHistory returns summaries with from <= time <= to, oldest first.
	SummaryHistory(ctx context.Context, from, to time.Time) ([]models.MarketSummary, error)

	// RecordHistory returns one symbol's records with from <= time <= to,
	// oldest first.
	RecordHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.PressureRecord, error)

	Close() error
}

// FormatTime renders t in the stored layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// NormalizeTime truncates t to the stored precision.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// ValidateRecord checks the invariants every store enforces before writing.
func ValidateRecord(rec models.PressureRecord) error {
	if rec.Time.IsZero() {
		return fmt.Errorf("%w: zero time", ErrInvalidInput)
	}
	if strings.TrimSpace(rec.Symbol) == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidInput)
	}
	if !validVolume(rec.BidVolume) || !validVolume(rec.AskVolume) {
		return fmt.Errorf("%w: %s volumes must be finite and non-negative", ErrInvalidInput, rec.Symbol)
	}
	if !validPercent(rec.Imbalance) {
		return fmt.Errorf("%w: %s imbalance %v out of range", ErrInvalidInput, rec.Symbol, rec.Imbalance)
	}
	return nil
}

func ValidateSummary(sum models.MarketSummary) error {
	if sum.Time.IsZero() {
		return fmt.Errorf("%w: zero time", ErrInvalidInput)
	}
	if !validVolume(sum.TotalBidVolume) || !validVolume(sum.TotalAskVolume) {
		return fmt.Errorf("%w: summary volumes must be finite and non-negative", ErrInvalidInput)
	}
	if !validPercent(sum.TotalImbalance) {
		return fmt.Errorf("%w: summary imbalance %v out of range", ErrInvalidInput, sum.TotalImbalance)
	}
	return nil
}

func validVolume(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func validPercent(v float64) bool {
	return !math.IsNaN(v) && v >= -100 && v <= 100
}
