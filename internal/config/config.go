package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings
	Database DatabaseConfig

	// Storage (MinIO/S3) settings
	Storage StorageConfig

	// Vision model settings
	Vision VisionConfig

	// Extraction pipeline settings
	Extraction ExtractionConfig

	// Discovery settings
	Discovery DiscoveryConfig

	// Scheduler and reconciler settings
	Scheduler SchedulerConfig

	// Remote drive API settings
	Drive DriveConfig

	// Event bus settings
	Events EventsConfig

	// OpenTelemetry settings
	Otel OtelConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"28800s"` // 8 hours for long-lived WebSocket connections
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"28800s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"veridoc"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"veridoc"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// StorageConfig holds storage (MinIO/S3) configuration
type StorageConfig struct {
	// Endpoint is the MinIO/S3 endpoint URL
	Endpoint string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	// AccessKeyID is the access key ID
	AccessKeyID string `env:"MINIO_ACCESS_KEY" envDefault:""`
	// SecretAccessKey is the secret access key
	SecretAccessKey string `env:"MINIO_SECRET_KEY" envDefault:""`
	// Bucket is the bucket name
	Bucket string `env:"MINIO_BUCKET" envDefault:"veridoc"`
	// UseSSL determines if SSL should be used
	UseSSL bool `env:"MINIO_USE_SSL" envDefault:"false"`
	// Region is the bucket region (for S3 compatibility)
	Region string `env:"MINIO_REGION" envDefault:"us-east-1"`
}

// IsConfigured returns true if storage is configured
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKeyID != "" && s.SecretAccessKey != ""
}

// VisionConfig holds vision model configuration
type VisionConfig struct {
	// Provider selects the model backend: "gemini" or "anthropic"
	Provider string `env:"VISION_PROVIDER" envDefault:"gemini"`

	// GeminiAPIKey is the Google Generative AI API key
	GeminiAPIKey string `env:"GEMINI_API_KEY" envDefault:""`

	// GeminiModel is the Gemini model name
	GeminiModel string `env:"GEMINI_MODEL" envDefault:"gemini-3-flash-preview"`

	// AnthropicAPIKey is the Anthropic API key
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY" envDefault:""`

	// AnthropicModel is the Anthropic model name
	AnthropicModel string `env:"ANTHROPIC_MODEL" envDefault:"claude-sonnet-4-5"`

	// MaxOutputTokens caps the model response size
	MaxOutputTokens int `env:"VISION_MAX_OUTPUT_TOKENS" envDefault:"16384"`

	// Timeout is the per-request deadline
	Timeout time.Duration `env:"VISION_TIMEOUT" envDefault:"120s"`

	// NetworkDisabled disables vision network calls (for testing)
	NetworkDisabled bool `env:"VISION_NETWORK_DISABLED" envDefault:"false"`
}

// IsEnabled returns true if a vision provider is configured
func (v *VisionConfig) IsEnabled() bool {
	if v.NetworkDisabled {
		return false
	}
	switch v.Provider {
	case "anthropic":
		return v.AnthropicAPIKey != ""
	default:
		return v.GeminiAPIKey != ""
	}
}

// ExtractionConfig holds extraction pipeline settings
type ExtractionConfig struct {
	// WorkerConcurrency is the number of documents processed concurrently per process
	WorkerConcurrency int `env:"EXTRACTION_WORKER_CONCURRENCY" envDefault:"50"`

	// WorkerIntervalMs is the broker polling interval in milliseconds
	WorkerIntervalMs int `env:"EXTRACTION_WORKER_INTERVAL_MS" envDefault:"2000"`

	// PrefetchMultiplier scales the dequeue batch relative to free worker slots
	PrefetchMultiplier int `env:"EXTRACTION_PREFETCH_MULTIPLIER" envDefault:"1"`

	// MaxRetries is the default per-document retry budget
	MaxRetries int `env:"EXTRACTION_MAX_RETRIES" envDefault:"3"`

	// BaseRetryDelaySec is the base backoff delay in seconds
	BaseRetryDelaySec int `env:"EXTRACTION_BASE_RETRY_DELAY_SEC" envDefault:"60"`

	// MaxRetryDelaySec caps the backoff delay
	MaxRetryDelaySec int `env:"EXTRACTION_MAX_RETRY_DELAY_SEC" envDefault:"3600"`

	// HardDeadline is the per-document time budget; tasks still marked
	// processing past it are recovered as stale
	HardDeadline time.Duration `env:"EXTRACTION_HARD_DEADLINE" envDefault:"30m"`

	// SoftDeadline triggers a warning log when exceeded
	SoftDeadline time.Duration `env:"EXTRACTION_SOFT_DEADLINE" envDefault:"25m"`

	// PageBatchSize is the number of pages per vision call
	PageBatchSize int `env:"EXTRACTION_PAGE_BATCH_SIZE" envDefault:"5"`

	// ReviewThreshold is the confidence floor; fields under it are
	// flagged for manual review
	ReviewThreshold float64 `env:"EXTRACTION_REVIEW_THRESHOLD" envDefault:"0.7"`

	// AdaptiveScaling lets the health monitor shrink worker concurrency
	// under resource pressure
	AdaptiveScaling bool `env:"EXTRACTION_ADAPTIVE_SCALING" envDefault:"true"`

	// MinWorkerConcurrency floors adaptive scaling
	MinWorkerConcurrency int `env:"EXTRACTION_MIN_WORKER_CONCURRENCY" envDefault:"5"`

	// RasterDPI is the page rasterization density
	RasterDPI int `env:"RASTER_DPI" envDefault:"200"`

	// RasterWorkers sizes the rasterization pool (0 = number of CPU cores)
	RasterWorkers int `env:"RASTER_WORKERS" envDefault:"0"`

	// KeepaliveInterval spaces the no-op heartbeat round-trips that keep
	// session-pooler connections from idling out
	KeepaliveInterval time.Duration `env:"EXTRACTION_KEEPALIVE_INTERVAL" envDefault:"15m"`
}

// WorkerInterval returns the broker polling interval as a Duration
func (e *ExtractionConfig) WorkerInterval() time.Duration {
	return time.Duration(e.WorkerIntervalMs) * time.Millisecond
}

// DiscoveryConfig holds source discovery settings
type DiscoveryConfig struct {
	// EstimateCap bounds how many documents the estimate endpoint counts
	EstimateCap int `env:"DISCOVERY_ESTIMATE_CAP" envDefault:"5000"`

	// BatchSize is the Document insert batch size during discovery
	BatchSize int `env:"DISCOVERY_BATCH_SIZE" envDefault:"100"`

	// WorkerIntervalMs is the discovery broker polling interval in milliseconds
	WorkerIntervalMs int `env:"DISCOVERY_WORKER_INTERVAL_MS" envDefault:"2000"`

	// WorkerBatchSize is the number of discovery tasks claimed per poll
	WorkerBatchSize int `env:"DISCOVERY_WORKER_BATCH_SIZE" envDefault:"2"`
}

// WorkerInterval returns the discovery polling interval as a Duration
func (d *DiscoveryConfig) WorkerInterval() time.Duration {
	return time.Duration(d.WorkerIntervalMs) * time.Millisecond
}

// SchedulerConfig holds the cadences of the background maintenance
// tasks and the reconciler's stall threshold
type SchedulerConfig struct {
	// Enabled turns the maintenance scheduler on or off
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`

	// ReconcileIntervalSec is how often the reconciler sweeps jobs
	ReconcileIntervalSec int `env:"SCHEDULER_RECONCILE_INTERVAL_SEC" envDefault:"60"`

	// KeepaliveIntervalMin is how often the database pool is pinged
	KeepaliveIntervalMin int `env:"SCHEDULER_KEEPALIVE_INTERVAL_MIN" envDefault:"15"`

	// BackfillIntervalMin is how often needs_review documents are
	// backfilled into the review queue
	BackfillIntervalMin int `env:"SCHEDULER_BACKFILL_INTERVAL_MIN" envDefault:"5"`

	// StaleRecoveryIntervalMin is how often stuck broker tasks are
	// recovered
	StaleRecoveryIntervalMin int `env:"SCHEDULER_STALE_RECOVERY_INTERVAL_MIN" envDefault:"10"`

	// StallThresholdMin is how long a document may sit in processing
	// before the reconciler reverts it to queued
	StallThresholdMin int `env:"SCHEDULER_STALL_THRESHOLD_MIN" envDefault:"30"`
}

// StallThreshold returns the processing stall threshold as a Duration
func (s *SchedulerConfig) StallThreshold() time.Duration {
	return time.Duration(s.StallThresholdMin) * time.Minute
}

// DriveConfig holds remote drive API configuration
type DriveConfig struct {
	// BaseURL is the remote drive API endpoint
	BaseURL string `env:"DRIVE_API_BASE_URL" envDefault:""`
	// APIToken authenticates drive API calls
	APIToken string `env:"DRIVE_API_TOKEN" envDefault:""`
	// Timeout is the per-request deadline for drive calls
	Timeout time.Duration `env:"DRIVE_API_TIMEOUT" envDefault:"60s"`
}

// IsConfigured returns true if the remote drive API is configured
func (d *DriveConfig) IsConfigured() bool {
	return d.BaseURL != ""
}

// EventsConfig holds event bus settings
type EventsConfig struct {
	// FieldEventRatePerSec throttles field_extracted events per channel
	// (0 disables throttling)
	FieldEventRatePerSec float64 `env:"EVENTS_FIELD_RATE_PER_SEC" envDefault:"0"`

	// BufferSize is the per-subscriber channel buffer
	BufferSize int `env:"EVENTS_BUFFER_SIZE" envDefault:"256"`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.String("vision_provider", cfg.Vision.Provider),
	)

	return cfg, nil
}
