package metrics

import "pressureflow/logger"

// WriterStats holds counters of the archive writer.
type WriterStats struct {
	FilesWritten int64
	BytesWritten int64
	ErrorsCount  int64
	Dropped      int64
	QueueLen     int
	QueueCap     int
}

// ReportWriter emits writer metrics under component.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	l := log.WithComponent(component)

	errorRate := float64(0)
	if stats.FilesWritten+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.FilesWritten+stats.ErrorsCount)
	}

	l.LogMetric(component, "files_written", stats.FilesWritten, "counter", nil)
	l.LogMetric(component, "bytes_written", stats.BytesWritten, "counter", nil)
	l.LogMetric(component, "errors_count", stats.ErrorsCount, "counter", nil)
	l.LogMetric(component, "error_rate", errorRate, "gauge", nil)
	l.LogMetric(component, "queue_len", stats.QueueLen, "gauge", nil)

	entry := l.WithFields(logger.Fields{
		"files_written": stats.FilesWritten,
		"bytes_written": stats.BytesWritten,
		"errors_count":  stats.ErrorsCount,
		"dropped":       stats.Dropped,
		"error_rate":    errorRate,
		"queue_len":     stats.QueueLen,
		"queue_cap":     stats.QueueCap,
	})

	if stats.ErrorsCount > 0 || stats.Dropped > 0 {
		entry.Warn(component + " metrics")
		return
	}
	entry.Info(component + " metrics")
}
