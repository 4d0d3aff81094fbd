package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureReportLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "report")

	log := Logger()
	if err := log.Configure("debug", "text", "stdout", 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if !log.ReportEnabled() {
		t.Fatalf("expected report mode from LOG_LEVEL")
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestJSONOutputFields(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)
	log.WithComponent("collector").WithFields(Fields{"symbol": "BTCUSDT"}).Info("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["message"] != "hello" || line["component"] != "collector" || line["symbol"] != "BTCUSDT" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp missing: %v", line)
	}
}

func TestWarnAndErrorCountedPerComponent(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})

	log.WithComponent("counted").Warn("w")
	log.WithComponent("counted").Error("e")
	log.WithComponent("counted").Error("e")

	cs := componentStats("counted")
	if cs.warns != 1 || cs.errors != 2 {
		t.Fatalf("warns=%d errors=%d", cs.warns, cs.errors)
	}
}

type fakePutter struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (f *fakePutter) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (f *fakePutter) PutDashboard(context.Context, *cloudwatch.PutDashboardInput, ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error) {
	return &cloudwatch.PutDashboardOutput{}, nil
}

func TestLogMetricPublishesToCloudWatch(t *testing.T) {
	fake := &fakePutter{}
	setCloudWatchClient(fake, "TestNS")
	t.Cleanup(func() { setCloudWatchClient(nil, "Pressureflow") })

	log := Logger()
	log.SetOutput(&bytes.Buffer{})
	log.LogMetric("collector", "CycleSymbolsFailed", 3, "counter", Fields{"exchange": "binance", "ignored": 1})
	log.LogMetric("collector", "NotNumeric", "x", "", nil)

	if len(fake.inputs) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(fake.inputs))
	}
	in := fake.inputs[0]
	if *in.Namespace != "TestNS" {
		t.Fatalf("namespace = %s", *in.Namespace)
	}
	datum := in.MetricData[0]
	if *datum.MetricName != "CycleSymbolsFailed" || *datum.Value != 3 {
		t.Fatalf("unexpected datum: %+v", datum)
	}
	if len(datum.Dimensions) != 2 {
		t.Fatalf("expected component and exchange dimensions, got %d", len(datum.Dimensions))
	}
}

func TestRecordCycleFeedsReport(t *testing.T) {
	before := reportFields()
	RecordCycle(4, 1, false)
	RecordCycle(0, 0, true)
	after := reportFields()

	if after["cycles_completed"].(int64)-before["cycles_completed"].(int64) != 1 {
		t.Fatalf("cycles_completed not incremented")
	}
	if after["cycles_aborted"].(int64)-before["cycles_aborted"].(int64) != 1 {
		t.Fatalf("cycles_aborted not incremented")
	}
	if after["symbols_persisted"].(int64)-before["symbols_persisted"].(int64) != 4 {
		t.Fatalf("symbols_persisted not incremented")
	}
}
