package writer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "pressureflow/config"
	"pressureflow/internal/metrics"
	"pressureflow/models"
)

type fakePutter struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	return out
}

func testConfig() *appconfig.Config {
	cfg := appconfig.Default()
	cfg.Storage.S3 = appconfig.S3Config{Enabled: true, Bucket: "pressure-archive", Region: "eu-west-1", Prefix: "/raw/"}
	cfg.Writer.QueueSize = 1
	cfg.Writer.Partitioning.TimeFormat = "year={year}/month={month}/day={day}/hour={hour}"
	return &cfg
}

func testReport() *models.CycleReport {
	ts := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	return &models.CycleReport{
		CycleID:   "0b3c9a7e-1111-2222-3333-444455556666",
		Exchange:  "binance",
		Time:      ts,
		Attempted: 2,
		Records: []models.PressureRecord{
			{Time: ts, Symbol: "BTCUSDT", BidVolume: 3, AskVolume: 1, Imbalance: 50},
			{Time: ts, Symbol: "ETHUSDT", BidVolume: 1, AskVolume: 1, Imbalance: 0},
		},
		Summary: &models.MarketSummary{Time: ts, TotalBidVolume: 4, TotalAskVolume: 2, TotalImbalance: 33.33},
	}
}

func isParquet(data []byte) bool {
	return len(data) > 8 && bytes.HasPrefix(data, []byte("PAR1")) && bytes.HasSuffix(data, []byte("PAR1"))
}

func TestGenerateS3Key(t *testing.T) {
	a := newArchiver(testConfig(), &fakePutter{}, nil)
	key := a.generateS3Key("pressure", testReport())
	assert.Equal(t, "raw/pressure/exchange=binance/year=2024/month=03/day=01/hour=09/binance_pressure_20240301T090500Z_0b3c9a7e.parquet", key)

	cfg := testConfig()
	cfg.Storage.S3.Prefix = ""
	cfg.Writer.Partitioning.AdditionalKeys = nil
	cfg.Writer.Partitioning.TimeFormat = ""
	a = newArchiver(cfg, &fakePutter{}, nil)
	assert.Equal(t, "summary/binance_summary_20240301T090500Z_0b3c9a7e.parquet", a.generateS3Key("summary", testReport()))
}

func TestEncodeParquet(t *testing.T) {
	for _, codec := range []string{"snappy", "gzip", "none"} {
		data, err := encodeParquet(new(PressureRow), pressureRows(testReport()), codec)
		require.NoError(t, err, codec)
		assert.True(t, isParquet(data), codec)
	}

	data, err := encodeParquet(new(SummaryRow), summaryRows(testReport()), "snappy")
	require.NoError(t, err)
	assert.True(t, isParquet(data))
}

func TestArchiverUploadsCycle(t *testing.T) {
	putter := &fakePutter{}
	reg := metrics.New(false)
	a := newArchiver(testConfig(), putter, reg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	require.Error(t, a.Start(ctx), "second start is rejected")

	require.NoError(t, a.Publish(context.Background(), testReport()))
	require.Eventually(t, func() bool { return len(putter.keys()) == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	a.Stop()

	for _, key := range putter.keys() {
		assert.True(t, strings.HasPrefix(key, "raw/"), key)
		assert.True(t, isParquet(putter.objects[key]), key)
	}
	stats := a.Stats()
	assert.EqualValues(t, 2, stats.FilesWritten)
	assert.Zero(t, stats.ErrorsCount)
	n, err := testutil.GatherAndCount(reg.Gatherer(), "pressureflow_archive_uploads_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestArchiverSkipsIncompleteReports(t *testing.T) {
	a := newArchiver(testConfig(), &fakePutter{}, nil)

	aborted := testReport()
	aborted.Aborted = true
	assert.NoError(t, a.Publish(context.Background(), aborted))

	noSummary := testReport()
	noSummary.Summary = nil
	assert.NoError(t, a.Publish(context.Background(), noSummary))

	assert.Error(t, a.Publish(context.Background(), testReport()), "not running")
}

func TestArchiverDropsWhenQueueFull(t *testing.T) {
	reg := metrics.New(false)
	a := newArchiver(testConfig(), &fakePutter{}, reg)
	a.running = true

	require.NoError(t, a.Publish(context.Background(), testReport()))
	err := a.Publish(context.Background(), testReport())
	require.ErrorIs(t, err, ErrQueueFull)
	assert.EqualValues(t, 1, a.Stats().Dropped)
	assert.Equal(t, 1, a.Stats().QueueLen)
}

func TestArchiverCountsUploadFailures(t *testing.T) {
	a := newArchiver(testConfig(), &fakePutter{err: errors.New("access denied")}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Publish(context.Background(), testReport()))
	require.Eventually(t, func() bool { return a.Stats().ErrorsCount == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	a.Stop()
	assert.Zero(t, a.Stats().FilesWritten)
}

func TestArchiverDrainsQueueOnShutdown(t *testing.T) {
	putter := &fakePutter{}
	a := newArchiver(testConfig(), putter, nil)
	a.running = true
	require.NoError(t, a.Publish(context.Background(), testReport()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.running = false
	require.NoError(t, a.Start(ctx))
	a.Stop()
	assert.Len(t, putter.keys(), 2)
}
