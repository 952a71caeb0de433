// Package config loads and validates metadata worker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/poucher/metadata-worker/internal/fetcher/httpfetch"
)

// Queue providers.
const (
	QueueMemory = "memory"
	QueuePubSub = "pubsub"
	QueueNATS   = "nats"
)

// Archive providers.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	DB      DBConfig      `mapstructure:"db"`
	Queue   QueueConfig   `mapstructure:"queue"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// FetchConfig bounds every page fetch.
type FetchConfig struct {
	TimeoutSeconds       int     `mapstructure:"timeout_seconds"`
	MaxBytes             int64   `mapstructure:"max_bytes"`
	UserAgent            string  `mapstructure:"user_agent"`
	MaxRedirects         int     `mapstructure:"max_redirects"`
	BlockPrivateNetworks bool    `mapstructure:"block_private_networks"`
	HostRPS              float64 `mapstructure:"host_rps"`
	HostBurst            int     `mapstructure:"host_burst"`
}

// WorkerConfig governs retries and the local worker pool.
type WorkerConfig struct {
	MaxAttempts       int `mapstructure:"max_attempts"`
	Concurrency       int `mapstructure:"concurrency"`
	QueueDepth        int `mapstructure:"queue_depth"`
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds"`
}

// DBConfig controls access to the bookmarks table. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// QueueConfig selects the delivery transport.
type QueueConfig struct {
	Provider string `mapstructure:"provider"`
}

// PubSubConfig holds the subscription consumed and the topic results go to.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Subscription string `mapstructure:"subscription"`
	ResultTopic  string `mapstructure:"result_topic"`
}

// NATSConfig configures the JetStream consumer.
type NATSConfig struct {
	URL        string `mapstructure:"url"`
	Subject    string `mapstructure:"subject"`
	QueueGroup string `mapstructure:"queue_group"`
}

// ArchiveConfig configures optional snapshot archival.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("METADATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Queue.Provider = strings.ToLower(strings.TrimSpace(cfg.Queue.Provider))
	cfg.Archive.Provider = strings.ToLower(strings.TrimSpace(cfg.Archive.Provider))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetch.timeout_seconds", 10)
	v.SetDefault("fetch.max_bytes", 1048576)
	v.SetDefault("fetch.user_agent", "PoucherMetadataBot/1.0 (+https://poucher.app)")
	v.SetDefault("fetch.max_redirects", 5)
	v.SetDefault("fetch.block_private_networks", false)
	v.SetDefault("fetch.host_rps", 0)
	v.SetDefault("fetch.host_burst", 1)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 256)
	v.SetDefault("worker.retry_delay_seconds", 5)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "bookmarks")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("queue.provider", QueueMemory)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.subscription", "")
	v.SetDefault("pubsub.result_topic", "")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "bookmarks.metadata")
	v.SetDefault("nats.queue_group", "metadata-worker")
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("logging.development", false)
}

// bindLegacyEnv accepts the variable names deployments already set.
// Earlier names in each list take precedence.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.port":         {"METADATA_SERVER_PORT", "PORT"},
		"fetch.max_bytes":     {"METADATA_FETCH_MAX_BYTES", "METADATA_MAX_BYTES"},
		"worker.max_attempts": {"METADATA_WORKER_MAX_ATTEMPTS", "METADATA_MAX_ATTEMPTS"},
		"db.dsn":              {"METADATA_DB_DSN", "DATABASE_URL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("fetch.max_bytes must be > 0")
	}
	if c.Fetch.HostRPS < 0 {
		return fmt.Errorf("fetch.host_rps must be >= 0")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.RetryDelaySeconds < 0 {
		return fmt.Errorf("worker.retry_delay_seconds must be >= 0")
	}
	switch c.Queue.Provider {
	case QueueMemory:
	case QueuePubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.Subscription == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.subscription are required for the pubsub queue")
		}
	case QueueNATS:
		if c.NATS.URL == "" || c.NATS.Subject == "" {
			return fmt.Errorf("nats.url and nats.subject are required for the nats queue")
		}
	default:
		return fmt.Errorf("unknown queue.provider %q", c.Queue.Provider)
	}
	switch c.Archive.Provider {
	case ArchiveNone, ArchiveMemory:
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs archive")
		}
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir is required for the local archive")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	if c.PubSub.ResultTopic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.result_topic is set")
	}
	return nil
}

// FetchTimeout converts the configured seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// RetryDelay is the base redelivery backoff for retried messages.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Worker.RetryDelaySeconds) * time.Second
}

// FetcherConfig is the fetcher setup shared by every binary.
func (c Config) FetcherConfig() httpfetch.Config {
	return httpfetch.Config{
		UserAgent:            c.Fetch.UserAgent,
		Timeout:              c.FetchTimeout(),
		MaxBytes:             c.Fetch.MaxBytes,
		MaxRedirects:         c.Fetch.MaxRedirects,
		BlockPrivateNetworks: c.Fetch.BlockPrivateNetworks,
	}
}
