package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

type componentStat struct {
	warns  int64
	errors int64
}

var (
	cyclesCompleted  int64
	cyclesAborted    int64
	symbolsPersisted int64
	symbolsFailed    int64
	components       sync.Map // map[string]*componentStat
)

func componentStats(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&componentStats(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&componentStats(component).errors, 1)
}

// RecordCycle feeds the runtime report with the outcome of one cycle.
func RecordCycle(persisted, failed int, aborted bool) {
	if aborted {
		atomic.AddInt64(&cyclesAborted, 1)
	} else {
		atomic.AddInt64(&cyclesCompleted, 1)
	}
	atomic.AddInt64(&symbolsPersisted, int64(persisted))
	atomic.AddInt64(&symbolsFailed, int64(failed))
}

// StartReport logs a runtime report every interval until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func reportFields() Fields {
	perComponent := map[string]map[string]int64{}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		perComponent[k.(string)] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		return true
	})

	return Fields{
		"cycles_completed":  atomic.LoadInt64(&cyclesCompleted),
		"cycles_aborted":    atomic.LoadInt64(&cyclesAborted),
		"symbols_persisted": atomic.LoadInt64(&symbolsPersisted),
		"symbols_failed":    atomic.LoadInt64(&symbolsFailed),
		"goroutines":        runtime.NumGoroutine(),
		"components":        perComponent,
	}
}

func logReport(ctx context.Context, log *Log) {
	fields := reportFields()

	cpuPct := 0.0
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	}
	memMB := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memMB = float64(vm.Used) / 1024 / 1024
	}
	diskMB := 0.0
	if du, err := disk.Usage("/"); err == nil {
		diskMB = float64(du.Used) / 1024 / 1024
	}
	fields["cpu_percent"] = cpuPct
	fields["memory_mb"] = int64(memMB)
	fields["disk_mb"] = int64(diskMB)

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	publishMetrics(ctx, []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memMB)},
		{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(diskMB)},
		{MetricName: aws.String("Goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(runtime.NumGoroutine()))},
	})
}
