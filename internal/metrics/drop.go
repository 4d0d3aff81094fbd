package metrics

import "pressureflow/logger"

// DropMetric identifies the metric name emitted when queued work is dropped.
type DropMetric string

const (
	// DropMetricArchiveQueue records cycle reports dropped before archiving.
	DropMetricArchiveQueue DropMetric = "archive_reports_dropped"
)

// EmitDropMetric logs and emits a single dropped-item metric. Optional
// metadata is attached as fields when non-empty.
func EmitDropMetric(log *logger.Log, metric DropMetric, exchange, stage string) {
	fields := logger.Fields{}
	if exchange != "" {
		fields["exchange"] = exchange
	}
	if stage != "" {
		fields["stage"] = stage
	}
	EmitMetric(log, "queue_drops", string(metric), 1, "counter", fields)
}

// EmitMetric logs the metric locally and publishes it to CloudWatch when the
// logger has a CloudWatch client.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	if metric == "" {
		return
	}
	if log == nil {
		log = logger.GetLogger()
	}
	log.LogMetric(component, metric, value, metricType, fields)
}
