// Package collector runs the recurring order book collection cycle: list
// symbols, fetch and analyze every book on a bounded worker pool, persist
// one record per symbol and one market summary per cycle.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pressureflow/internal/metrics"
	"pressureflow/internal/notify"
	"pressureflow/internal/storage"
	"pressureflow/logger"
	"pressureflow/models"
	"pressureflow/processor"
	"pressureflow/reader"
)

// ErrCycleInProgress is returned when a cycle is requested while another
// one is still collecting.
var ErrCycleInProgress = errors.New("collection cycle already in progress")

type State int32

const (
	StateIdle State = iota
	StateCollecting
)

func (s State) String() string {
	if s == StateCollecting {
		return "collecting"
	}
	return "idle"
}

// Scheduler owns the collection loop for one exchange.
type Scheduler struct {
	exchange  reader.Exchange
	store     storage.PressureStore
	publisher notify.Publisher
	metrics   *metrics.Registry
	opts      Options
	log       *logger.Log

	// guard holds one token while a cycle runs.
	guard   chan struct{}
	state   atomic.Int32
	skipped atomic.Int64
	wg      sync.WaitGroup

	mu   sync.RWMutex
	last *models.CycleReport
}

// New builds a Scheduler. reg may be nil.
func New(exchange reader.Exchange, store storage.PressureStore, opts Options, reg *metrics.Registry, publishers ...notify.Publisher) *Scheduler {
	return &Scheduler{
		exchange:  exchange,
		store:     store,
		publisher: notify.Multi(publishers),
		metrics:   reg,
		opts:      opts.withDefaults(),
		log:       logger.GetLogger(),
		guard:     make(chan struct{}, 1),
	}
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// SkippedTicks counts ticks dropped because the previous cycle was still
// running.
func (s *Scheduler) SkippedTicks() int64 {
	return s.skipped.Load()
}

// LastReport returns the most recent finished cycle, or nil.
func (s *Scheduler) LastReport() *models.CycleReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run ticks on interval boundaries until ctx is cancelled, then waits for
// the cycle in flight to wind down.
func (s *Scheduler) Run(ctx context.Context) error {
	log := s.log.WithComponent("collector").WithFields(logger.Fields{
		"exchange":    s.exchange.Name(),
		"interval":    s.opts.Interval.String(),
		"max_workers": s.opts.MaxWorkers,
	})
	log.Info("starting collection scheduler")

	if s.opts.RunOnStart {
		s.tick(ctx)
	}

	interval := s.opts.Interval
	now := time.Now()
	next := now.Truncate(interval).Add(interval)
	timer := time.NewTimer(next.Sub(now))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopping, waiting for cycle in flight")
			s.wg.Wait()
			log.Info("collection scheduler stopped")
			return nil
		case <-timer.C:
			s.tick(ctx)
			next = time.Now().Truncate(interval).Add(interval)
			timer.Reset(time.Until(next))
		}
	}
}

// tick starts a cycle in the background or records a skipped tick.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.acquire() {
		n := s.skipped.Add(1)
		s.metrics.IncSkippedTick()
		s.log.WithComponent("collector").WithFields(logger.Fields{
			"skipped_ticks": n,
		}).Warn("previous cycle still running, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		_, _ = s.runCycle(ctx)
	}()
}

// RunCycle executes one cycle synchronously. It returns ErrCycleInProgress
// without side effects when a cycle is already running. The error is
// non-nil when the cycle was aborted; per-symbol failures only show up in
// the report.
func (s *Scheduler) RunCycle(ctx context.Context) (*models.CycleReport, error) {
	if !s.acquire() {
		return nil, ErrCycleInProgress
	}
	defer s.release()
	return s.runCycle(ctx)
}

func (s *Scheduler) acquire() bool {
	select {
	case s.guard <- struct{}{}:
		s.state.Store(int32(StateCollecting))
		return true
	default:
		return false
	}
}

func (s *Scheduler) release() {
	s.state.Store(int32(StateIdle))
	<-s.guard
}

func (s *Scheduler) runCycle(ctx context.Context) (*models.CycleReport, error) {
	start := time.Now()
	report := &models.CycleReport{
		CycleID:  uuid.NewString(),
		Exchange: s.exchange.Name(),
		Time:     storage.NormalizeTime(s.opts.Clock()),
	}

	err := s.collect(ctx, report)
	report.Duration = time.Since(start)
	if err != nil {
		report.Aborted = true
		report.AbortError = err.Error()
	}

	s.finish(ctx, report)
	return report, err
}

type outcome struct {
	record  *models.PressureRecord
	failure *models.SymbolFailure
}

func (s *Scheduler) collect(ctx context.Context, report *models.CycleReport) error {
	log := s.log.WithComponent("collector").WithFields(logger.Fields{
		"cycle_id": report.CycleID,
		"exchange": report.Exchange,
		"time":     storage.FormatTime(report.Time),
	})

	cycleCtx, cancel := context.WithTimeout(ctx, s.opts.CycleTimeout)
	defer cancel()

	var symbols []string
	err := s.retry(cycleCtx, func() error {
		var err error
		symbols, err = s.exchange.ListQuoteSymbols(cycleCtx, s.opts.QuoteAsset)
		return err
	})
	if err != nil {
		if !errors.Is(err, reader.ErrCatalogUnavailable) {
			err = fmt.Errorf("%w: %v", reader.ErrCatalogUnavailable, err)
		}
		log.WithError(err).Error("symbol catalog unavailable, abandoning cycle")
		return err
	}
	report.Attempted = len(symbols)
	log.WithFields(logger.Fields{"symbols": len(symbols)}).Debug("collecting order books")

	var limiter *rate.Limiter
	if s.opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.RequestsPerSecond), s.opts.BurstSize)
	}

	var (
		mu       sync.Mutex
		outcomes = make([]outcome, 0, len(symbols))
	)
	collect := func(o outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(s.opts.MaxWorkers)
	for i, sym := range symbols {
		if ctx.Err() != nil {
			for _, rest := range symbols[i:] {
				collect(outcome{failure: &models.SymbolFailure{Symbol: rest, Stage: models.StageCancelled, Error: ctx.Err().Error()}})
			}
			break
		}
		g.Go(func() error {
			collect(s.collectSymbol(ctx, cycleCtx, limiter, report.Time, sym))
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.record != nil {
			report.Records = append(report.Records, *o.record)
		}
		if o.failure != nil {
			report.Failures = append(report.Failures, *o.failure)
		}
	}
	sort.Slice(report.Records, func(i, j int) bool { return report.Records[i].Symbol < report.Records[j].Symbol })
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].Symbol < report.Failures[j].Symbol })

	if err := ctx.Err(); err != nil {
		log.WithFields(logger.Fields{
			"persisted": report.Persisted(),
			"failed":    len(report.Failures),
		}).Warn("cycle interrupted by shutdown, summary not written")
		return fmt.Errorf("cycle interrupted: %w", err)
	}

	s.writeSummary(ctx, report, log)
	return nil
}

// collectSymbol runs fetch, analyze and store for one symbol. parent is
// the process context; cycleCtx additionally carries the cycle deadline.
func (s *Scheduler) collectSymbol(parent, cycleCtx context.Context, limiter *rate.Limiter, ts time.Time, symbol string) outcome {
	fail := func(stage models.Stage, err error) outcome {
		if parent.Err() != nil {
			stage = models.StageCancelled
		}
		return outcome{failure: &models.SymbolFailure{Symbol: symbol, Stage: stage, Error: err.Error()}}
	}
	log := s.log.WithComponent("collector").WithFields(logger.Fields{"symbol": symbol})

	var snap *models.DepthSnapshot
	err := s.retry(cycleCtx, func() error {
		if limiter != nil {
			if err := limiter.Wait(cycleCtx); err != nil {
				return backoff.Permanent(err)
			}
		}
		var err error
		snap, err = s.exchange.FetchDepth(cycleCtx, symbol, s.opts.DepthLimit)
		return err
	})
	if err != nil {
		if !errors.Is(err, reader.ErrDepthUnavailable) {
			err = fmt.Errorf("%w: %s: %v", reader.ErrDepthUnavailable, symbol, err)
		}
		log.WithError(err).Warn("order book fetch failed")
		return fail(models.StageFetch, err)
	}

	imb, err := processor.Analyze(snap)
	if err != nil {
		log.WithError(err).Warn("order book analysis failed")
		return fail(models.StageAnalyze, err)
	}

	if err := parent.Err(); err != nil {
		return fail(models.StageCancelled, err)
	}

	rec := models.PressureRecord{
		Time:      ts,
		Symbol:    symbol,
		BidVolume: imb.BidVolume,
		AskVolume: imb.AskVolume,
		Imbalance: imb.Percent,
	}
	if err := s.store.WritePressureRecord(parent, rec); err != nil {
		entry := log.WithError(err)
		if errors.Is(err, storage.ErrDuplicateKey) {
			entry.Warn("pressure record already stored for this cycle")
		} else {
			entry.Error("failed to store pressure record")
		}
		return fail(models.StageStore, err)
	}
	return outcome{record: &rec}
}

// writeSummary totals the persisted records and stores the market summary.
func (s *Scheduler) writeSummary(ctx context.Context, report *models.CycleReport, log *logger.Entry) {
	bid, ask := decimal.Zero, decimal.Zero
	for _, rec := range report.Records {
		bid = bid.Add(decimal.NewFromFloat(rec.BidVolume))
		ask = ask.Add(decimal.NewFromFloat(rec.AskVolume))
	}

	sum := models.MarketSummary{
		Time:           report.Time,
		TotalBidVolume: bid.InexactFloat64(),
		TotalAskVolume: ask.InexactFloat64(),
		TotalImbalance: processor.ImbalancePercent(bid, ask),
	}
	if report.Persisted() == 0 {
		log.WithFields(logger.Fields{
			"attempted": report.Attempted,
			"failed":    len(report.Failures),
		}).Error("no symbol persisted in cycle, writing empty summary")
	}

	if err := s.store.WriteMarketSummary(ctx, sum); err != nil {
		log.WithError(err).Error("failed to store market summary")
		return
	}
	report.Summary = &sum
}

// retry runs op under the configured exponential backoff. Cancellation of
// ctx stops retrying.
func (s *Scheduler) retry(ctx context.Context, op func() error) error {
	cfg := s.opts.Retry
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = float64(cfg.BackoffMultiplier)
	b.MaxElapsedTime = 0

	var last error
	err := backoff.Retry(func() error {
		err := op()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			last = perm.Err
			return err
		}
		last = err
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1)), ctx))
	if err != nil && last != nil && !errors.Is(err, last) {
		return fmt.Errorf("%w (%v)", last, err)
	}
	return err
}

func (s *Scheduler) finish(ctx context.Context, report *models.CycleReport) {
	log := s.log.WithComponent("collector").WithFields(logger.Fields{
		"cycle_id":    report.CycleID,
		"exchange":    report.Exchange,
		"time":        storage.FormatTime(report.Time),
		"attempted":   report.Attempted,
		"persisted":   report.Persisted(),
		"failed":      len(report.Failures),
		"duration_ms": report.Duration.Milliseconds(),
	})

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	s.metrics.ObserveCycle(report)
	logger.RecordCycle(report.Persisted(), len(report.Failures), report.Aborted)

	dims := logger.Fields{"exchange": report.Exchange}
	metrics.EmitMetric(s.log, "collector", "CycleSymbolsPersisted", report.Persisted(), "counter", dims)
	metrics.EmitMetric(s.log, "collector", "CycleSymbolsFailed", len(report.Failures), "counter", dims)

	if report.Aborted {
		log.WithFields(logger.Fields{"error": report.AbortError}).Warn("collection cycle aborted")
		return
	}
	logger.LogDataFlowEntry(log, "collector", "store", report.Persisted(), "pressure_record")

	if report.Summary == nil {
		log.Error("collection cycle finished without a market summary")
		return
	}
	metrics.EmitMetric(s.log, "collector", "MarketImbalance", report.Summary.TotalImbalance, "gauge", dims)
	log.WithFields(logger.Fields{
		"total_bid_volume": report.Summary.TotalBidVolume,
		"total_ask_volume": report.Summary.TotalAskVolume,
		"total_imbalance":  report.Summary.TotalImbalance,
	}).Info("collection cycle completed")

	if err := s.publisher.Publish(ctx, report); err != nil {
		log.WithError(err).Warn("failed to publish cycle report")
	}
}
