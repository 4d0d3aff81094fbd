package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Pressureflow PressureflowConfig `yaml:"pressureflow"`
	Collector    CollectorConfig    `yaml:"collector"`
	Reader       ReaderConfig       `yaml:"reader"`
	Source       SourceConfig       `yaml:"source"`
	Storage      StorageConfig      `yaml:"storage"`
	Writer       WriterConfig       `yaml:"writer"`
	Dashboard    DashboardConfig    `yaml:"dashboard"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type PressureflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// CollectorConfig drives the collection cycle.
type CollectorConfig struct {
	Interval           time.Duration `yaml:"interval"`
	RunOnStart         bool          `yaml:"run_on_start"`
	CycleTimeout       time.Duration `yaml:"cycle_timeout"`
	QuoteAsset         string        `yaml:"quote_asset"`
	DepthLimit         int           `yaml:"depth_limit"`
	MaxWorkers         int           `yaml:"max_workers"`
	TradingOnly        bool          `yaml:"trading_only"`
	Watchlist          []string      `yaml:"watchlist"`
	ImbalanceThreshold float64       `yaml:"imbalance_threshold"`
}

type ReaderConfig struct {
	Exchange  string          `yaml:"exchange"`
	Timeout   time.Duration   `yaml:"timeout"`
	LocalIP   string          `yaml:"local_ip"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type SourceConfig struct {
	Binance ExchangeSourceConfig `yaml:"binance"`
	Bybit   ExchangeSourceConfig `yaml:"bybit"`
	Kucoin  ExchangeSourceConfig `yaml:"kucoin"`
}

type ExchangeSourceConfig struct {
	URL            string               `yaml:"url"`
	Category       string               `yaml:"category"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `yaml:"sqlite"`
	S3     S3Config     `yaml:"s3"`
}

type SQLiteConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type WriterConfig struct {
	QueueSize    int                `yaml:"queue_size"`
	Partitioning PartitioningConfig `yaml:"partitioning"`
	Formats      FormatsConfig      `yaml:"formats"`
}

type PartitioningConfig struct {
	TimeFormat     string   `yaml:"time_format"`
	AdditionalKeys []string `yaml:"additional_keys"`
}

type FormatsConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
}

type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	LogHistory int    `yaml:"log_history"`
}

type MetricsConfig struct {
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

const (
	ExchangeBinance = "binance"
	ExchangeBybit   = "bybit"
	ExchangeKucoin  = "kucoin"
)

// Default returns the configuration used for every key the YAML file leaves out.
func Default() Config {
	return Config{
		Pressureflow: PressureflowConfig{Name: "pressureflow", Version: "dev"},
		Collector: CollectorConfig{
			Interval:           5 * time.Minute,
			RunOnStart:         true,
			QuoteAsset:         "USDT",
			DepthLimit:         100,
			MaxWorkers:         16,
			ImbalanceThreshold: 10,
		},
		Reader: ReaderConfig{
			Exchange:  ExchangeBinance,
			Timeout:   10 * time.Second,
			RateLimit: RateLimitConfig{RequestsPerSecond: 20, BurstSize: 5},
			Retry: RetryConfig{
				MaxAttempts:       3,
				BaseDelay:         200 * time.Millisecond,
				MaxDelay:          2 * time.Second,
				BackoffMultiplier: 2,
			},
		},
		Source: SourceConfig{
			Binance: ExchangeSourceConfig{URL: "https://fapi.binance.com", ConnectionPool: defaultPool()},
			Bybit:   ExchangeSourceConfig{URL: "https://api.bybit.com", Category: "linear", ConnectionPool: defaultPool()},
			Kucoin:  ExchangeSourceConfig{URL: "https://api-futures.kucoin.com", ConnectionPool: defaultPool()},
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{Path: "market_pressure.db", BusyTimeout: 5 * time.Second},
		},
		Writer: WriterConfig{
			QueueSize: 16,
			Partitioning: PartitioningConfig{
				TimeFormat:     "year={year}/month={month}/day={day}",
				AdditionalKeys: []string{"exchange"},
			},
			Formats: FormatsConfig{Parquet: ParquetConfig{Compression: "snappy"}},
		},
		Dashboard: DashboardConfig{Address: ":8080", LogHistory: 200},
		Metrics: MetricsConfig{
			Prometheus: true,
			CloudWatch: CloudWatchConfig{Namespace: "Pressureflow"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func defaultPool() ConnectionPoolConfig {
	return ConnectionPoolConfig{MaxIdleConns: 32, MaxConnsPerHost: 32, IdleConnTimeout: 90 * time.Second}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if config.Collector.CycleTimeout <= 0 {
		config.Collector.CycleTimeout = config.Collector.Interval
	}
	config.Reader.Exchange = strings.ToLower(strings.TrimSpace(config.Reader.Exchange))
	config.Collector.QuoteAsset = strings.ToUpper(strings.TrimSpace(config.Collector.QuoteAsset))
	for i, s := range config.Collector.Watchlist {
		config.Collector.Watchlist[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("PRESSUREFLOW_DB_PATH"); v != "" {
		config.Storage.SQLite.Path = strings.TrimSpace(v)
	}
	if v := os.Getenv("PRESSUREFLOW_EXCHANGE"); v != "" {
		config.Reader.Exchange = strings.TrimSpace(v)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Pressureflow.Name == "" {
		return fmt.Errorf("pressureflow.name is required")
	}

	if cfg.Collector.Interval <= 0 {
		return fmt.Errorf("collector.interval must be greater than 0")
	}
	if cfg.Collector.CycleTimeout > cfg.Collector.Interval {
		return fmt.Errorf("collector.cycle_timeout must not exceed collector.interval")
	}
	if cfg.Collector.QuoteAsset == "" {
		return fmt.Errorf("collector.quote_asset is required")
	}
	if cfg.Collector.DepthLimit <= 0 {
		return fmt.Errorf("collector.depth_limit must be greater than 0")
	}
	if cfg.Collector.MaxWorkers <= 0 {
		return fmt.Errorf("collector.max_workers must be greater than 0")
	}
	if cfg.Collector.ImbalanceThreshold < 0 || cfg.Collector.ImbalanceThreshold > 100 {
		return fmt.Errorf("collector.imbalance_threshold must be within [0, 100]")
	}

	switch cfg.Reader.Exchange {
	case ExchangeBinance, ExchangeBybit, ExchangeKucoin:
	default:
		return fmt.Errorf("reader.exchange '%s' is not supported", cfg.Reader.Exchange)
	}
	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}
	if cfg.Reader.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("reader.rate_limit.requests_per_second must not be negative")
	}
	if cfg.Reader.Retry.MaxAttempts < 1 {
		return fmt.Errorf("reader.retry.max_attempts must be at least 1")
	}

	if cfg.Storage.SQLite.Path == "" {
		return fmt.Errorf("storage.sqlite.path is required")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		if cfg.Writer.QueueSize <= 0 {
			return fmt.Errorf("writer.queue_size must be greater than 0 when S3 is enabled")
		}
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.Address == "" {
		return fmt.Errorf("dashboard.address is required when the dashboard is enabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
