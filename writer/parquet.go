package writer

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"pressureflow/models"
)

// PressureRow is one per-symbol record in the archive.
type PressureRow struct {
	CycleID   string  `parquet:"name=cycle_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchange  string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	BidVolume float64 `parquet:"name=bid_volume, type=DOUBLE"`
	AskVolume float64 `parquet:"name=ask_volume, type=DOUBLE"`
	Imbalance float64 `parquet:"name=imbalance, type=DOUBLE"`
}

// SummaryRow is the market summary of one cycle.
type SummaryRow struct {
	CycleID        string  `parquet:"name=cycle_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchange       string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp      int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	Attempted      int32   `parquet:"name=attempted, type=INT32"`
	Persisted      int32   `parquet:"name=persisted, type=INT32"`
	Failed         int32   `parquet:"name=failed, type=INT32"`
	TotalBidVolume float64 `parquet:"name=total_bid_volume, type=DOUBLE"`
	TotalAskVolume float64 `parquet:"name=total_ask_volume, type=DOUBLE"`
	TotalImbalance float64 `parquet:"name=total_imbalance, type=DOUBLE"`
}

// memoryFileWriter is a write-only source.ParquetFile backed by a buffer.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(string) (source.ParquetFile, error)   { return mfw, nil }

// Seek only reports the current size; the writer never seeks backwards.
func (mfw *memoryFileWriter) Seek(int64, int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "zstd":
		return parquet.CompressionCodec_ZSTD
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

func pressureRows(report *models.CycleReport) []interface{} {
	rows := make([]interface{}, 0, len(report.Records))
	for _, rec := range report.Records {
		rows = append(rows, PressureRow{
			CycleID:   report.CycleID,
			Exchange:  report.Exchange,
			Symbol:    rec.Symbol,
			Timestamp: rec.Time.UnixMicro(),
			BidVolume: rec.BidVolume,
			AskVolume: rec.AskVolume,
			Imbalance: rec.Imbalance,
		})
	}
	return rows
}

func summaryRows(report *models.CycleReport) []interface{} {
	sum := report.Summary
	return []interface{}{SummaryRow{
		CycleID:        report.CycleID,
		Exchange:       report.Exchange,
		Timestamp:      sum.Time.UnixMicro(),
		Attempted:      int32(report.Attempted),
		Persisted:      int32(report.Persisted()),
		Failed:         int32(len(report.Failures)),
		TotalBidVolume: sum.TotalBidVolume,
		TotalAskVolume: sum.TotalAskVolume,
		TotalImbalance: sum.TotalImbalance,
	}}
}

// encodeParquet writes rows of schema into an in-memory parquet file.
func encodeParquet(schema interface{}, rows []interface{}, compression string) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, schema, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return fw.Bytes(), nil
}
