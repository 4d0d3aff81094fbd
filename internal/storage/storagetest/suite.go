// Package storagetest holds the behaviour every storage.PressureStore must
// share, run against each implementation from its own tests.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressureflow/internal/storage"
	"pressureflow/models"
)

// Factory returns a fresh, empty store with its schema applied.
type Factory func(t *testing.T) storage.PressureStore

var base = time.Date(2024, 3, 1, 12, 0, 0, 123456000, time.UTC)

func record(t time.Time, symbol string, bid, ask, imb float64) models.PressureRecord {
	return models.PressureRecord{Time: t, Symbol: symbol, BidVolume: bid, AskVolume: ask, Imbalance: imb}
}

// Run executes the shared store behaviour against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("EnsureSchemaIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureSchema(ctx))
		require.NoError(t, s.EnsureSchema(ctx))
		require.NoError(t, s.WritePressureRecord(ctx, record(base, "BTCUSDT", 1, 1, 0)))
		require.NoError(t, s.EnsureSchema(ctx))
		_, err := s.LatestRecord(ctx, "BTCUSDT")
		require.NoError(t, err)
	})

	t.Run("DuplicateKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.WritePressureRecord(ctx, record(base, "BTCUSDT", 5, 5, 0)))

		err := s.WritePressureRecord(ctx, record(base, "BTCUSDT", 9, 1, 80))
		require.ErrorIs(t, err, storage.ErrDuplicateKey)
		assert.False(t, errors.Is(err, storage.ErrStorage))

		got, err := s.LatestRecord(ctx, "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, 5.0, got.BidVolume, "first write must survive")

		require.NoError(t, s.WritePressureRecord(ctx, record(base, "ETHUSDT", 1, 2, -33.3)))
		require.NoError(t, s.WritePressureRecord(ctx, record(base.Add(time.Microsecond), "BTCUSDT", 1, 2, -33.3)))
	})

	t.Run("ConcurrentDuplicateWrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			ok, dupErr int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.WritePressureRecord(ctx, record(base, "SOLUSDT", 1, 1, 0))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, storage.ErrDuplicateKey):
					dupErr++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, ok)
		assert.Equal(t, 7, dupErr)
	})

	t.Run("LatestByTimeNotInsertion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.LatestSummary(ctx)
		require.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.LatestRecord(ctx, "BTCUSDT")
		require.ErrorIs(t, err, storage.ErrNotFound)

		later := base.Add(5 * time.Minute)
		require.NoError(t, s.WriteMarketSummary(ctx, models.MarketSummary{Time: later, TotalBidVolume: 2, TotalAskVolume: 1, TotalImbalance: 33.3}))
		require.NoError(t, s.WriteMarketSummary(ctx, models.MarketSummary{Time: base, TotalBidVolume: 1, TotalAskVolume: 2, TotalImbalance: -33.3}))
		require.NoError(t, s.WritePressureRecord(ctx, record(later, "BTCUSDT", 2, 1, 33.3)))
		require.NoError(t, s.WritePressureRecord(ctx, record(base, "BTCUSDT", 1, 2, -33.3)))

		sum, err := s.LatestSummary(ctx)
		require.NoError(t, err)
		assert.True(t, sum.Time.Equal(later))
		assert.Equal(t, 2.0, sum.TotalBidVolume)

		rec, err := s.LatestRecord(ctx, "btcusdt")
		require.NoError(t, err)
		assert.True(t, rec.Time.Equal(later))
		assert.Equal(t, "BTCUSDT", rec.Symbol)
	})

	t.Run("SummaryIsAppendOnly", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sum := models.MarketSummary{Time: base, TotalBidVolume: 1, TotalAskVolume: 1}
		require.NoError(t, s.WriteMarketSummary(ctx, sum))
		require.NoError(t, s.WriteMarketSummary(ctx, sum))

		hist, err := s.SummaryHistory(ctx, base, base)
		require.NoError(t, err)
		assert.Len(t, hist, 2)
	})

	t.Run("TimeRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		local := base.In(time.FixedZone("UTC+3", 3*3600))
		require.NoError(t, s.WritePressureRecord(ctx, record(local, "BTCUSDT", 1, 0, 100)))

		got, err := s.LatestRecord(ctx, "BTCUSDT")
		require.NoError(t, err)
		assert.True(t, got.Time.Equal(base), "got %s", got.Time)
		assert.Equal(t, time.UTC, got.Time.Location())
		assert.Equal(t, 100.0, got.Imbalance)
	})

	t.Run("History", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 4; i >= 0; i-- {
			ts := base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, s.WritePressureRecord(ctx, record(ts, "ETHUSDT", float64(i), 1, 0)))
			require.NoError(t, s.WritePressureRecord(ctx, record(ts, "BTCUSDT", 1, 1, 0)))
			require.NoError(t, s.WriteMarketSummary(ctx, models.MarketSummary{Time: ts, TotalBidVolume: float64(i)}))
		}

		recs, err := s.RecordHistory(ctx, "ETHUSDT", base.Add(time.Minute), base.Add(3*time.Minute))
		require.NoError(t, err)
		require.Len(t, recs, 3)
		for i, rec := range recs {
			assert.Equal(t, "ETHUSDT", rec.Symbol)
			assert.Equal(t, float64(i+1), rec.BidVolume)
		}

		sums, err := s.SummaryHistory(ctx, base, base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, sums, 5)
		for i := 1; i < len(sums); i++ {
			assert.True(t, sums[i-1].Time.Before(sums[i].Time))
		}

		empty, err := s.RecordHistory(ctx, "XRPUSDT", base, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("RejectsInvalidInput", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		cases := []models.PressureRecord{
			record(time.Time{}, "BTCUSDT", 1, 1, 0),
			record(base, " ", 1, 1, 0),
			record(base, "BTCUSDT", -1, 1, 0),
			record(base, "BTCUSDT", 1, 1, 101),
		}
		for _, rec := range cases {
			require.ErrorIs(t, s.WritePressureRecord(ctx, rec), storage.ErrInvalidInput)
		}
		require.ErrorIs(t, s.WriteMarketSummary(ctx, models.MarketSummary{}), storage.ErrInvalidInput)
	})
}
