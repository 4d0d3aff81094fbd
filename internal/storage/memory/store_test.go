package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressureflow/internal/storage"
	"pressureflow/internal/storage/storagetest"
	"pressureflow/models"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.PressureStore {
		return New()
	})
}

func TestRecordsAtTime(t *testing.T) {
	s := New()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.WritePressureRecord(ctx, models.PressureRecord{Time: ts, Symbol: "ETHUSDT", BidVolume: 1}))
	require.NoError(t, s.WritePressureRecord(ctx, models.PressureRecord{Time: ts, Symbol: "BTCUSDT", BidVolume: 2}))
	require.NoError(t, s.WritePressureRecord(ctx, models.PressureRecord{Time: ts.Add(time.Second), Symbol: "BTCUSDT"}))

	recs := s.Records(ts)
	require.Len(t, recs, 2)
	assert.Equal(t, "BTCUSDT", recs[0].Symbol)
	assert.Equal(t, "ETHUSDT", recs[1].Symbol)
}
