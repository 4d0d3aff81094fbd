// Package writer archives finished collection cycles to S3 as parquet.
package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "pressureflow/config"
	"pressureflow/internal/metrics"
	"pressureflow/logger"
	"pressureflow/models"
)

// ErrQueueFull is returned by Publish when the archive queue is saturated
// and the report was dropped.
var ErrQueueFull = errors.New("archive queue full")

// objectPutter is the part of the S3 client the archiver needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver uploads the records and summary of every completed cycle. It
// implements notify.Publisher; uploads happen on a background worker fed
// through a bounded queue.
type Archiver struct {
	cfg     *appconfig.Config
	client  objectPutter
	queue   chan *models.CycleReport
	log     *logger.Log
	metrics *metrics.Registry

	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	filesWritten atomic.Int64
	bytesWritten atomic.Int64
	errorsCount  atomic.Int64
	dropped      atomic.Int64
}

// NewArchiver builds the S3 client from the storage.s3 section.
func NewArchiver(ctx context.Context, cfg *appconfig.Config, reg *metrics.Registry) (*Archiver, error) {
	log := logger.GetLogger()
	s3cfg := cfg.Storage.S3

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(s3cfg.Region),
	}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})

	log.WithComponent("archiver").WithFields(logger.Fields{
		"bucket":     s3cfg.Bucket,
		"region":     s3cfg.Region,
		"endpoint":   s3cfg.Endpoint,
		"path_style": s3cfg.PathStyle,
	}).Info("s3 archiver initialized")

	return newArchiver(cfg, client, reg), nil
}

func newArchiver(cfg *appconfig.Config, client objectPutter, reg *metrics.Registry) *Archiver {
	size := cfg.Writer.QueueSize
	if size <= 0 {
		size = 1
	}
	return &Archiver{
		cfg:     cfg,
		client:  client,
		queue:   make(chan *models.CycleReport, size),
		log:     logger.GetLogger(),
		metrics: reg,
	}
}

// Publish enqueues a completed cycle. Aborted cycles and cycles without a
// summary are ignored. A full queue drops the report.
func (a *Archiver) Publish(_ context.Context, report *models.CycleReport) error {
	if report == nil || report.Aborted || report.Summary == nil {
		return nil
	}

	a.mu.RLock()
	running := a.running
	a.mu.RUnlock()
	if !running {
		return fmt.Errorf("archiver not running")
	}

	select {
	case a.queue <- report:
		return nil
	default:
		a.dropped.Add(1)
		a.metrics.IncArchiveDropped()
		metrics.EmitDropMetric(a.log, metrics.DropMetricArchiveQueue, report.Exchange, "archive")
		return fmt.Errorf("%w: cycle %s dropped", ErrQueueFull, report.CycleID)
	}
}

func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archiver already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	a.log.WithComponent("archiver").WithFields(logger.Fields{
		"queue_size": cap(a.queue),
		"bucket":     a.cfg.Storage.S3.Bucket,
	}).Info("starting archiver")

	a.wg.Add(1)
	go a.worker()
	return nil
}

// Stop waits for the worker to drain the queue. The context passed to
// Start must be cancelled first.
func (a *Archiver) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.log.WithComponent("archiver").Info("stopping archiver")
	a.wg.Wait()
	metrics.ReportWriter(a.log, "archiver", a.Stats())
	a.log.WithComponent("archiver").Info("archiver stopped")
}

// Stats snapshots the archiver counters.
func (a *Archiver) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		FilesWritten: a.filesWritten.Load(),
		BytesWritten: a.bytesWritten.Load(),
		ErrorsCount:  a.errorsCount.Load(),
		Dropped:      a.dropped.Load(),
		QueueLen:     len(a.queue),
		QueueCap:     cap(a.queue),
	}
}

func (a *Archiver) worker() {
	defer a.wg.Done()
	log := a.log.WithComponent("archiver").WithFields(logger.Fields{"worker": "upload"})

	for {
		select {
		case <-a.ctx.Done():
			// uploads already queued still go out
			for {
				select {
				case report := <-a.queue:
					a.process(context.WithoutCancel(a.ctx), report)
				default:
					log.Info("archive worker stopped")
					return
				}
			}
		case report := <-a.queue:
			a.process(a.ctx, report)
		}
	}
}

func (a *Archiver) process(ctx context.Context, report *models.CycleReport) {
	log := a.log.WithComponent("archiver").WithFields(logger.Fields{
		"cycle_id": report.CycleID,
		"exchange": report.Exchange,
	})

	if err := a.archive(ctx, report); err != nil {
		a.errorsCount.Add(1)
		a.metrics.IncArchiveUpload("failed")
		log.WithError(err).WithEnv("S3_BUCKET").Error("failed to archive cycle")
		return
	}
	a.metrics.IncArchiveUpload("succeeded")
	logger.LogDataFlowEntry(log, "archiver", "s3", report.Persisted(), "pressure_record")
}

// archive uploads the records file, when there are records, then the
// summary file.
func (a *Archiver) archive(ctx context.Context, report *models.CycleReport) error {
	compression := a.cfg.Writer.Formats.Parquet.Compression

	if len(report.Records) > 0 {
		data, err := encodeParquet(new(PressureRow), pressureRows(report), compression)
		if err != nil {
			return err
		}
		if err := a.upload(ctx, a.generateS3Key("pressure", report), data); err != nil {
			return err
		}
	}

	data, err := encodeParquet(new(SummaryRow), summaryRows(report), compression)
	if err != nil {
		return err
	}
	return a.upload(ctx, a.generateS3Key("summary", report), data)
}

func (a *Archiver) generateS3Key(kind string, report *models.CycleReport) string {
	ts := report.Time.UTC()

	var parts []string
	if prefix := strings.Trim(a.cfg.Storage.S3.Prefix, "/"); prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, kind)
	for _, k := range a.cfg.Writer.Partitioning.AdditionalKeys {
		if k == "exchange" && report.Exchange != "" {
			parts = append(parts, fmt.Sprintf("exchange=%s", report.Exchange))
		}
	}

	timePath := a.cfg.Writer.Partitioning.TimeFormat
	timePath = strings.ReplaceAll(timePath, "{year}", fmt.Sprintf("%04d", ts.Year()))
	timePath = strings.ReplaceAll(timePath, "{month}", fmt.Sprintf("%02d", ts.Month()))
	timePath = strings.ReplaceAll(timePath, "{day}", fmt.Sprintf("%02d", ts.Day()))
	timePath = strings.ReplaceAll(timePath, "{hour}", fmt.Sprintf("%02d", ts.Hour()))
	if timePath != "" {
		parts = append(parts, timePath)
	}

	filename := fmt.Sprintf("%s_%s_%s_%s.parquet", report.Exchange, kind, ts.Format("20060102T150405Z"), shortID(report.CycleID))
	return path.Join(append(parts, filename)...)
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (a *Archiver) upload(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":         "parquet",
			"compression":          a.cfg.Writer.Formats.Parquet.Compression,
			"pressureflow-version": a.cfg.Pressureflow.Version,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3 bucket %s: %w", key, a.cfg.Storage.S3.Bucket, err)
	}

	a.filesWritten.Add(1)
	a.bytesWritten.Add(int64(len(data)))
	logger.LogPerformanceEntry(a.log.WithComponent("archiver"), "archiver", "s3_upload", time.Since(start), logger.Fields{
		"s3_key":    key,
		"data_size": len(data),
	})
	return nil
}
