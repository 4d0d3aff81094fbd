package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pressureflow/config"
	"pressureflow/internal/collector"
	"pressureflow/internal/dashboard"
	"pressureflow/internal/metrics"
	ratemetrics "pressureflow/internal/metrics/rate"
	"pressureflow/internal/notify"
	"pressureflow/internal/storage"
	"pressureflow/internal/storage/memory"
	"pressureflow/internal/storage/sqlite"
	"pressureflow/logger"
	"pressureflow/reader"
	"pressureflow/reader/binance"
	"pressureflow/reader/bybit"
	"pressureflow/reader/kucoin"
	"pressureflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	once := flag.Bool("once", false, "Run a single collection cycle and exit")
	dryRun := flag.Bool("dry-run", false, "Keep results in memory instead of the SQLite database")
	flag.Parse()

	path := config.ResolveConfigPath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithEnv("APP_ENV").WithFields(logger.Fields{
		"service":  cfg.Pressureflow.Name,
		"version":  cfg.Pressureflow.Version,
		"exchange": cfg.Reader.Exchange,
		"config":   path,
		"dry_run":  *dryRun,
	}).Info("starting pressureflow")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if log.ReportEnabled() {
		logger.StartReport(ctx, log, 30*time.Second)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	var reg *metrics.Registry
	if cfg.Metrics.Prometheus {
		reg = metrics.New(true)
	}

	store, err := openStore(ctx, cfg, *dryRun)
	if err != nil {
		log.WithError(err).Error("Failed to open pressure store")
		os.Exit(1)
	}
	defer store.Close()

	limits := ratemetrics.NewReporter(log, reg, cfg.Reader.Exchange, cfg.Reader.LocalIP)
	exchange, err := newExchange(cfg, limits)
	if err != nil {
		log.WithError(err).Error("Failed to create exchange reader")
		os.Exit(1)
	}

	publishers := []notify.Publisher{
		notify.NewLogPublisher(cfg.Collector.Watchlist, cfg.Collector.ImbalanceThreshold),
	}

	archiveCtx, stopArchive := context.WithCancel(ctx)
	defer stopArchive()

	var archiver *writer.Archiver
	if cfg.Storage.S3.Enabled && !*dryRun {
		archiver, err = writer.NewArchiver(ctx, cfg, reg)
		if err != nil {
			log.WithError(err).Error("failed to create S3 archiver")
			os.Exit(1)
		}
		if err := archiver.Start(archiveCtx); err != nil {
			log.WithError(err).Error("failed to start S3 archiver")
			os.Exit(1)
		}
		publishers = append(publishers, archiver)
	} else {
		log.WithComponent("main").Info("S3 archive disabled; skipping archiver")
	}

	scheduler := collector.New(exchange, store, collector.OptionsFromConfig(cfg), reg, publishers...)

	if *once {
		report, err := scheduler.RunCycle(ctx)
		stopArchive()
		if archiver != nil {
			archiver.Stop()
		}
		if err != nil {
			log.WithError(err).Error("collection cycle failed")
			os.Exit(1)
		}
		log.WithFields(logger.Fields{
			"persisted": report.Persisted(),
			"failed":    len(report.Failures),
		}).Info("single cycle finished")
		return
	}

	var wg sync.WaitGroup

	server, err := dashboard.NewServer(cfg.Dashboard, log, store, scheduler, reg)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard server")
		os.Exit(1)
	}
	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx); err != nil {
				log.WithError(err).Warn("dashboard server stopped with error")
			}
		}()
	}

	if err := scheduler.Run(ctx); err != nil {
		log.WithError(err).Error("scheduler stopped with error")
	}

	log.Info("starting graceful shutdown")
	stopArchive()
	if archiver != nil {
		log.Info("stopping S3 archiver")
		archiver.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("pressureflow stopped")
}

func openStore(ctx context.Context, cfg *config.Config, dryRun bool) (storage.PressureStore, error) {
	var store storage.PressureStore
	if dryRun {
		store = memory.New()
	} else {
		s, err := sqlite.Open(ctx, cfg.Storage.SQLite.Path, cfg.Storage.SQLite.BusyTimeout)
		if err != nil {
			return nil, err
		}
		store = s
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func newExchange(cfg *config.Config, limits *ratemetrics.Reporter) (reader.Exchange, error) {
	switch cfg.Reader.Exchange {
	case config.ExchangeBinance:
		return binance.NewReader(cfg, limits), nil
	case config.ExchangeBybit:
		return bybit.NewReader(cfg, limits), nil
	case config.ExchangeKucoin:
		return kucoin.NewReader(cfg, limits), nil
	default:
		return nil, fmt.Errorf("unsupported exchange '%s'", cfg.Reader.Exchange)
	}
}
