// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (LOREKEEP_ prefix, runtime override)
//  2. Config file (./config.yaml or ~/.lorekeep/config.yaml)
//  3. Default values
//
// Sensitive fields (the Postgres password) are never logged. Validation uses
// sentinel errors so callers can match with errors.Is.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidEmbedderModel indicates the embedder model name is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidChunking indicates chunk size/overlap are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidRelevanceFloor indicates the retrieval score floor is out of [0,1).
	ErrInvalidRelevanceFloor = errors.New("invalid relevance floor")

	// ErrInvalidQueueSettings indicates queue attempts/backoff are invalid.
	ErrInvalidQueueSettings = errors.New("invalid queue settings")
)

const (
	// DefaultEmbedderModel is the Gemini embedder used for vectorisation.
	// text-embedding-004 outputs 768 dimensions; the pgvector schema and
	// vector.Dim must match it.
	DefaultEmbedderModel = "text-embedding-004"

	// DefaultGenerationModel answers chat turns after RAG augmentation.
	DefaultGenerationModel = "googleai/gemini-2.5-flash"
)

// Config stores application configuration.
type Config struct {
	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Embedding and generation
	EmbedderModel   string  `mapstructure:"embedder_model"`
	GenerationModel string  `mapstructure:"generation_model"`
	Temperature     float32 `mapstructure:"temperature"`

	// Crawler
	CrawlerUserAgent  string        `mapstructure:"crawler_user_agent"`
	CrawlerTimeout    time.Duration `mapstructure:"crawler_timeout"`
	CrawlerRatePerSec float64       `mapstructure:"crawler_rate_per_sec"`
	CrawlerCheckEvery int           `mapstructure:"crawler_check_every"`

	// Chunking
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`

	// Job queue
	QueuePollInterval time.Duration `mapstructure:"queue_poll_interval"`
	QueueMaxAttempts  int           `mapstructure:"queue_max_attempts"`
	QueueBackoffBase  time.Duration `mapstructure:"queue_backoff_base"`
	QueueLeaseTimeout time.Duration `mapstructure:"queue_lease_timeout"`
	QueueWorkers      int           `mapstructure:"queue_workers"`

	// Retrieval
	RetrievalTopK  int     `mapstructure:"retrieval_top_k"`
	RelevanceFloor float64 `mapstructure:"relevance_floor"`

	// Observability
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Logging
	LogJSON  bool   `mapstructure:"log_json"`
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from defaults, an optional config file and the
// environment, then validates it.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".lorekeep"))
	}

	v.SetEnvPrefix("LOREKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus env are enough.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "lorekeep")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", "lorekeep")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("generation_model", DefaultGenerationModel)
	v.SetDefault("temperature", 0.7)

	v.SetDefault("crawler_user_agent", "LorekeepBot/1.0 (+https://lorekeep.dev/bot)")
	v.SetDefault("crawler_timeout", 15*time.Second)
	v.SetDefault("crawler_rate_per_sec", 4.0)
	v.SetDefault("crawler_check_every", 10)

	v.SetDefault("chunk_size", 500)
	v.SetDefault("chunk_overlap", 50)

	v.SetDefault("queue_poll_interval", time.Second)
	v.SetDefault("queue_max_attempts", 3)
	v.SetDefault("queue_backoff_base", 3*time.Second)
	v.SetDefault("queue_lease_timeout", 5*time.Minute)
	v.SetDefault("queue_workers", 4)

	v.SetDefault("retrieval_top_k", 5)
	v.SetDefault("relevance_floor", 0.3)

	v.SetDefault("metrics_addr", ":9090")

	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}
	if c.RelevanceFloor < 0 || c.RelevanceFloor >= 1 {
		return fmt.Errorf("%w: floor %g must be in [0, 1)", ErrInvalidRelevanceFloor, c.RelevanceFloor)
	}
	if c.QueueMaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts %d must be at least 1", ErrInvalidQueueSettings, c.QueueMaxAttempts)
	}
	if c.QueueBackoffBase <= 0 {
		return fmt.Errorf("%w: backoff base must be positive", ErrInvalidQueueSettings)
	}
	if c.QueueLeaseTimeout <= 0 {
		return fmt.Errorf("%w: lease timeout must be positive", ErrInvalidQueueSettings)
	}
	return nil
}

// ConnString builds the pgx connection string. The password is included here
// and nowhere else; callers must not log the result.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDBName, c.PostgresSSLMode)
}
