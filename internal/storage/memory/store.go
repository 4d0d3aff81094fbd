package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pressureflow/internal/storage"
	"pressureflow/models"
)

type recordKey struct {
	time   time.Time
	symbol string
}

// Store is an in-memory storage.PressureStore with the same key and
// ordering rules as the SQLite store.
type Store struct {
	mu        sync.RWMutex
	records   map[recordKey]models.PressureRecord
	summaries []models.MarketSummary
}

var _ storage.PressureStore = (*Store)(nil)

func New() *Store {
	return &Store{records: make(map[recordKey]models.PressureRecord)}
}

func (s *Store) EnsureSchema(context.Context) error {
	return nil
}

func (s *Store) WritePressureRecord(_ context.Context, rec models.PressureRecord) error {
	if err := storage.ValidateRecord(rec); err != nil {
		return err
	}
	rec.Time = storage.NormalizeTime(rec.Time)
	rec.Symbol = strings.ToUpper(rec.Symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{time: rec.Time, symbol: rec.Symbol}
	if _, exists := s.records[key]; exists {
		return storage.ErrDuplicateKey
	}
	s.records[key] = rec
	return nil
}

func (s *Store) WriteMarketSummary(_ context.Context, sum models.MarketSummary) error {
	if err := storage.ValidateSummary(sum); err != nil {
		return err
	}
	sum.Time = storage.NormalizeTime(sum.Time)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
	return nil
}

// LatestSummary picks the greatest time; among equal times the last written
// wins, matching rowid order in SQLite.
func (s *Store) LatestSummary(context.Context) (models.MarketSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.summaries) == 0 {
		return models.MarketSummary{}, storage.ErrNotFound
	}
	latest := s.summaries[0]
	for _, sum := range s.summaries[1:] {
		if !sum.Time.Before(latest.Time) {
			latest = sum
		}
	}
	return latest, nil
}

func (s *Store) LatestRecord(_ context.Context, symbol string) (models.PressureRecord, error) {
	symbol = strings.ToUpper(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest models.PressureRecord
		found  bool
	)
	for key, rec := range s.records {
		if key.symbol != symbol {
			continue
		}
		if !found || rec.Time.After(latest.Time) {
			latest = rec
			found = true
		}
	}
	if !found {
		return models.PressureRecord{}, storage.ErrNotFound
	}
	return latest, nil
}

func (s *Store) SummaryHistory(_ context.Context, from, to time.Time) ([]models.MarketSummary, error) {
	from, to = storage.NormalizeTime(from), storage.NormalizeTime(to)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.MarketSummary, 0)
	for _, sum := range s.summaries {
		if inRange(sum.Time, from, to) {
			out = append(out, sum)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (s *Store) RecordHistory(_ context.Context, symbol string, from, to time.Time) ([]models.PressureRecord, error) {
	symbol = strings.ToUpper(symbol)
	from, to = storage.NormalizeTime(from), storage.NormalizeTime(to)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PressureRecord, 0)
	for key, rec := range s.records {
		if key.symbol == symbol && inRange(rec.Time, from, to) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// Records returns every stored record written at t, sorted by symbol.
func (s *Store) Records(t time.Time) []models.PressureRecord {
	t = storage.NormalizeTime(t)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PressureRecord
	for key, rec := range s.records {
		if key.time.Equal(t) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Summaries returns a copy of all summaries in write order.
func (s *Store) Summaries() []models.MarketSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.MarketSummary(nil), s.summaries...)
}

func (s *Store) Close() error {
	return nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}
