package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Queue       QueueConfig      `toml:"queue"`
	Downloader  DownloaderConfig `toml:"downloader"`
	Webhook     WebhookConfig    `toml:"webhook"`
	Batch       BatchConfig      `toml:"batch"`
	Logging     LoggingConfig    `toml:"logging"`
}

type ServerConfig struct {
	Port          int    `toml:"port"`
	Host          string `toml:"host"`
	PublicBaseURL string `toml:"public_base_url"` // Prefix for public artifact URLs
}

// StorageConfig controls the artifact storage area
type StorageConfig struct {
	Root           string  `toml:"root"`            // Base directory for all artifact I/O, validated at startup
	RetentionHours float64 `toml:"retention_hours"` // Default artifact retention after completion (0 = keep)
}

// QueueConfig controls the execution queue (worker pool + download cap)
type QueueConfig struct {
	WorkerCount            int `toml:"worker_count"`             // Worker pool size
	MaxConcurrentDownloads int `toml:"max_concurrent_downloads"` // Simultaneously RUNNING download cap
}

// DownloaderConfig controls the external downloader binary invocation
type DownloaderConfig struct {
	BinaryPath         string        `toml:"binary_path"`          // Path to the downloader binary
	JobTimeout         time.Duration `toml:"job_timeout"`          // Overall per-job wall clock bound
	ProgressStallLimit time.Duration `toml:"progress_stall_limit"` // Fail the job if no progress within this window
}

// WebhookConfig controls lifecycle-event delivery
type WebhookConfig struct {
	Enabled          bool          `toml:"enabled"`
	Timeout          time.Duration `toml:"timeout"`           // Per-request timeout (1s..60s)
	MaxRetries       int           `toml:"max_retries"`       // Total attempts including the first (1..10)
	ProgressInterval time.Duration `toml:"progress_interval"` // Minimum interval between progress events per job
	SigningSecret    string        `toml:"signing_secret"`    // HMAC-SHA256 key, treated as opaque
	UserAgent        string        `toml:"user_agent"`        // Optional User-Agent header on deliveries
}

// BatchConfig controls multi-URL submissions
type BatchConfig struct {
	MaxSize      int    `toml:"max_size"`      // Hard cap on URLs per batch
	ReapAge      string `toml:"reap_age"`      // Terminal batches older than this are evicted (duration string)
	ReapSchedule string `toml:"reap_schedule"` // Cron schedule for the reap pass
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:          8080,
			Host:          "localhost",
			PublicBaseURL: "http://localhost:8080",
		},
		Storage: StorageConfig{
			Root:           "./data/media",
			RetentionHours: 1, // Artifacts are ephemeral by default
		},
		Queue: QueueConfig{
			WorkerCount:            2,
			MaxConcurrentDownloads: 3,
		},
		Downloader: DownloaderConfig{
			BinaryPath:         "yt-dlp",
			JobTimeout:         30 * time.Minute,
			ProgressStallLimit: 2 * time.Minute,
		},
		Webhook: WebhookConfig{
			Enabled:          true,
			Timeout:          10 * time.Second,
			MaxRetries:       3,
			ProgressInterval: 1 * time.Second,
			UserAgent:        "carpo-webhook/" + Version,
		},
		Batch: BatchConfig{
			MaxSize:      100,
			ReapAge:      "24h",
			ReapSchedule: "@every 1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files; later files override earlier ones.
// Priority: environment variables > last config file > ... > first config file > defaults.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks configured values against their allowed ranges and prepares the
// storage root. Called once at startup; invalid configuration is a hard failure.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root must be set")
	}
	if err := os.MkdirAll(c.Storage.Root, 0o755); err != nil {
		return fmt.Errorf("storage root %s is not usable: %w", c.Storage.Root, err)
	}
	if c.Storage.RetentionHours < 0 {
		return fmt.Errorf("storage.retention_hours must be >= 0, got %v", c.Storage.RetentionHours)
	}
	if c.Queue.WorkerCount < 1 {
		return fmt.Errorf("queue.worker_count must be >= 1, got %d", c.Queue.WorkerCount)
	}
	if c.Queue.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("queue.max_concurrent_downloads must be >= 1, got %d", c.Queue.MaxConcurrentDownloads)
	}
	if c.Downloader.JobTimeout <= 0 {
		return fmt.Errorf("downloader.job_timeout must be positive, got %v", c.Downloader.JobTimeout)
	}
	if c.Downloader.ProgressStallLimit <= 0 {
		return fmt.Errorf("downloader.progress_stall_limit must be positive, got %v", c.Downloader.ProgressStallLimit)
	}
	if c.Webhook.Timeout < time.Second || c.Webhook.Timeout > 60*time.Second {
		return fmt.Errorf("webhook.timeout must be within 1s..60s, got %v", c.Webhook.Timeout)
	}
	if c.Webhook.MaxRetries < 1 || c.Webhook.MaxRetries > 10 {
		return fmt.Errorf("webhook.max_retries must be within 1..10, got %d", c.Webhook.MaxRetries)
	}
	if c.Webhook.ProgressInterval <= 0 {
		return fmt.Errorf("webhook.progress_interval must be positive, got %v", c.Webhook.ProgressInterval)
	}
	if c.Batch.MaxSize < 1 {
		return fmt.Errorf("batch.max_size must be >= 1, got %d", c.Batch.MaxSize)
	}
	if c.Batch.ReapAge != "" {
		if _, err := time.ParseDuration(c.Batch.ReapAge); err != nil {
			return fmt.Errorf("batch.reap_age is not a valid duration: %w", err)
		}
	}
	return nil
}

// ReapAgeDuration returns the parsed batch reap age. Validate has already
// checked the format; a missing value falls back to 24h.
func (c *Config) ReapAgeDuration() time.Duration {
	if c.Batch.ReapAge == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(c.Batch.ReapAge)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CARPO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("CARPO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CARPO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if base := os.Getenv("CARPO_PUBLIC_BASE_URL"); base != "" {
		config.Server.PublicBaseURL = base
	}

	// Storage configuration
	if root := os.Getenv("CARPO_STORAGE_ROOT"); root != "" {
		config.Storage.Root = root
	}
	if retention := os.Getenv("CARPO_RETENTION_HOURS"); retention != "" {
		if r, err := strconv.ParseFloat(retention, 64); err == nil {
			config.Storage.RetentionHours = r
		}
	}

	// Queue configuration
	if workers := os.Getenv("CARPO_WORKER_COUNT"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Queue.WorkerCount = w
		}
	}
	if maxDownloads := os.Getenv("CARPO_MAX_CONCURRENT_DOWNLOADS"); maxDownloads != "" {
		if m, err := strconv.Atoi(maxDownloads); err == nil {
			config.Queue.MaxConcurrentDownloads = m
		}
	}

	// Downloader configuration
	if binary := os.Getenv("CARPO_DOWNLOADER_BINARY"); binary != "" {
		config.Downloader.BinaryPath = binary
	}
	if timeout := os.Getenv("CARPO_JOB_TIMEOUT"); timeout != "" {
		if t, err := time.ParseDuration(timeout); err == nil {
			config.Downloader.JobTimeout = t
		}
	}
	if stall := os.Getenv("CARPO_PROGRESS_STALL_LIMIT"); stall != "" {
		if s, err := time.ParseDuration(stall); err == nil {
			config.Downloader.ProgressStallLimit = s
		}
	}

	// Webhook configuration
	if enabled := os.Getenv("CARPO_WEBHOOK_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Webhook.Enabled = e
		}
	}
	if timeout := os.Getenv("CARPO_WEBHOOK_TIMEOUT"); timeout != "" {
		if t, err := time.ParseDuration(timeout); err == nil {
			config.Webhook.Timeout = t
		}
	}
	if retries := os.Getenv("CARPO_WEBHOOK_MAX_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			config.Webhook.MaxRetries = r
		}
	}
	if interval := os.Getenv("CARPO_WEBHOOK_PROGRESS_INTERVAL"); interval != "" {
		if i, err := time.ParseDuration(interval); err == nil {
			config.Webhook.ProgressInterval = i
		}
	}
	if secret := os.Getenv("CARPO_WEBHOOK_SIGNING_SECRET"); secret != "" {
		config.Webhook.SigningSecret = secret
	}

	// Batch configuration
	if maxSize := os.Getenv("CARPO_BATCH_MAX_SIZE"); maxSize != "" {
		if m, err := strconv.Atoi(maxSize); err == nil {
			config.Batch.MaxSize = m
		}
	}

	// Logging configuration
	if level := os.Getenv("CARPO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CARPO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// DiscoverConfigFile returns the first carpo.toml found in the current
// directory then the executable directory, or "" when none exists.
func DiscoverConfigFile() string {
	if _, err := os.Stat("carpo.toml"); err == nil {
		return "carpo.toml"
	}
	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), "carpo.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
