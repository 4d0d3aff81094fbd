package collector

import (
	"time"

	"pressureflow/config"
)

// Options tune one Scheduler. Zero values fall back to the defaults noted
// on each field.
type Options struct {
	// Interval between aligned ticks. Default 5m.
	Interval time.Duration
	// CycleTimeout bounds one cycle. Default Interval.
	CycleTimeout time.Duration
	RunOnStart   bool

	// QuoteAsset selects the symbol universe. Default USDT.
	QuoteAsset string
	// DepthLimit is the number of levels per side. Default 100.
	DepthLimit int
	// MaxWorkers bounds concurrent symbol fetches. Default 16.
	MaxWorkers int

	// RequestsPerSecond and BurstSize shape outbound depth requests.
	// RequestsPerSecond <= 0 disables the limiter.
	RequestsPerSecond int
	BurstSize         int

	Retry config.RetryConfig

	// Clock supplies the cycle timestamp. Default time.Now.
	Clock func() time.Time
}

// OptionsFromConfig maps the collector and reader sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Interval:          cfg.Collector.Interval,
		CycleTimeout:      cfg.Collector.CycleTimeout,
		RunOnStart:        cfg.Collector.RunOnStart,
		QuoteAsset:        cfg.Collector.QuoteAsset,
		DepthLimit:        cfg.Collector.DepthLimit,
		MaxWorkers:        cfg.Collector.MaxWorkers,
		RequestsPerSecond: cfg.Reader.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.Reader.RateLimit.BurstSize,
		Retry:             cfg.Reader.Retry,
	}
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Minute
	}
	if o.CycleTimeout <= 0 {
		o.CycleTimeout = o.Interval
	}
	if o.QuoteAsset == "" {
		o.QuoteAsset = "USDT"
	}
	if o.DepthLimit <= 0 {
		o.DepthLimit = 100
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 16
	}
	if o.BurstSize <= 0 {
		o.BurstSize = 1
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = 1
	}
	if o.Retry.BaseDelay <= 0 {
		o.Retry.BaseDelay = 200 * time.Millisecond
	}
	if o.Retry.MaxDelay < o.Retry.BaseDelay {
		o.Retry.MaxDelay = o.Retry.BaseDelay
	}
	if o.Retry.BackoffMultiplier < 1 {
		o.Retry.BackoffMultiplier = 2
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
