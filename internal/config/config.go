package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server      Server      `yaml:"server"`
	Database    Database    `yaml:"database"`
	Redis       Redis       `yaml:"redis"`
	S3          S3          `yaml:"s3"`
	Platforms   Platforms   `yaml:"platforms"`
	Coordinator Coordinator `yaml:"coordinator"`
	Webhook     Webhook     `yaml:"webhook"`
	Sweeper     Sweeper     `yaml:"sweeper"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port         string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Database holds database configuration
type Database struct {
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`

	MaxOpenConns int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" env:"DB_CONN_LIFETIME" env-default:"5m"`
}

// Redis holds Redis configuration for the rate budget ledger
type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// S3 holds S3/MinIO storage configuration for media metadata lookups
type S3 struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"media"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
}

// Platforms holds per-platform API endpoints
type Platforms struct {
	Instagram Upstream `yaml:"instagram"`
	TikTok    Upstream `yaml:"tiktok"`
	X         Upstream `yaml:"x"`
	Reddit    Upstream `yaml:"reddit"`

	RedditSubreddit string `yaml:"reddit_subreddit" env:"REDDIT_DEFAULT_SUBREDDIT" env-default:"u_crosspost"`
	RedditUserAgent string `yaml:"reddit_user_agent" env:"REDDIT_USER_AGENT" env-default:"crosspost/1.0"`
}

// Upstream holds one platform API endpoint configuration
type Upstream struct {
	BaseURL    string        `yaml:"base_url" env-default:""`
	APIVersion string        `yaml:"api_version" env-default:""`
	Timeout    time.Duration `yaml:"timeout" env-default:"30s"`
}

// Coordinator holds publish workflow timing configuration
type Coordinator struct {
	MaxPublishRetries int           `yaml:"max_publish_retries" env:"COORD_MAX_PUBLISH_RETRIES" env-default:"3"`
	RetryBackoffBase  time.Duration `yaml:"retry_backoff_base" env:"COORD_RETRY_BACKOFF_BASE" env-default:"1m"`
	PolicyTimeout     time.Duration `yaml:"policy_timeout" env:"COORD_POLICY_TIMEOUT" env-default:"10s"`
	ReserveTimeout    time.Duration `yaml:"reserve_timeout" env:"COORD_RESERVE_TIMEOUT" env-default:"5s"`
	PublishTimeout    time.Duration `yaml:"publish_timeout" env:"COORD_PUBLISH_TIMEOUT" env-default:"5m"`
	AckWindow         time.Duration `yaml:"ack_window" env:"COORD_ACK_WINDOW" env-default:"30m"`
	AckPollInterval   time.Duration `yaml:"ack_poll_interval" env:"COORD_ACK_POLL_INTERVAL" env-default:"30s"`
	RunRetention      time.Duration `yaml:"run_retention" env:"COORD_RUN_RETENTION" env-default:"1h"`
}

// Webhook holds webhook correlator retry configuration
type Webhook struct {
	MaxAttempts int           `yaml:"max_attempts" env:"WEBHOOK_MAX_ATTEMPTS" env-default:"6"`
	BaseBackoff time.Duration `yaml:"base_backoff" env:"WEBHOOK_BASE_BACKOFF" env-default:"5s"`
	DueBatch    int           `yaml:"due_batch" env:"WEBHOOK_DUE_BATCH" env-default:"100"`
}

// Sweeper holds stale workflow sweeper configuration
type Sweeper struct {
	Enabled    bool          `yaml:"enabled" env:"SWEEPER_ENABLED" env-default:"true"`
	StaleAfter time.Duration `yaml:"stale_after" env:"SWEEPER_STALE_AFTER" env-default:"2h"`
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
