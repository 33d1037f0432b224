// Package config defines the top-level configuration for the marketforge
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MFORGE_* environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Auth      AuthConfig      `toml:"auth"`
	Admission AdmissionConfig `toml:"admission"`
	Safety    SafetyConfig    `toml:"safety"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ServerConfig holds the HTTP API server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the broker and locks.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// AuthConfig holds the two credential domains: worker JWTs and admin address
// allow-lists.
type AuthConfig struct {
	JWTSecret           string   `toml:"jwt_secret"`
	TokenTTLMinutes     int      `toml:"token_ttl_minutes"`
	AdminAddresses      []string `toml:"admin_addresses"`
	SuperAdminAddresses []string `toml:"super_admin_addresses"`
}

// TokenTTL returns the worker token lifetime as a duration.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// AdmissionConfig holds per-endpoint-class rate limits.
type AdmissionConfig struct {
	ProposePerMinute int `toml:"propose_per_minute"`
	ProposePerHour   int `toml:"propose_per_hour"`
	ProposePerDay    int `toml:"propose_per_day"`
	DisputePerHour   int `toml:"dispute_per_hour"`
	DisputePerDay    int `toml:"dispute_per_day"`
	DefaultPerMinute int `toml:"default_per_minute"`
	DefaultPerHour   int `toml:"default_per_hour"`
	RetentionDays    int `toml:"retention_days"`
}

// SafetyConfig holds content-safety filter parameters.
type SafetyConfig struct {
	// RulesPath optionally overrides the built-in rule table with a TOML file.
	RulesPath         string `toml:"rules_path"`
	ClassifierEnabled bool   `toml:"classifier_enabled"`
	ClassifierURL     string `toml:"classifier_url"`
}

// PipelineConfig holds worker and orchestration parameters.
type PipelineConfig struct {
	// APIBaseURL is the lifecycle API the workers report to.
	APIBaseURL string `toml:"api_base_url"`
	// APIKey is the worker credential exchanged for short-lived JWTs.
	APIKey              string  `toml:"api_key"`
	ConsumerGroup       string  `toml:"consumer_group"`
	MaxDeliveries       int     `toml:"max_deliveries"`
	BlockSeconds        int     `toml:"block_seconds"`
	ClaimMinIdleSeconds int     `toml:"claim_min_idle_seconds"`
	SchedulerSeconds    int     `toml:"scheduler_seconds"`
	ResolverPollSeconds int     `toml:"resolver_poll_seconds"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	AIVersion           string  `toml:"ai_version"`
	// CrawlerFeedURL enables the crawler when set. The endpoint returns a
	// JSON array of news items.
	CrawlerFeedURL         string `toml:"crawler_feed_url"`
	CrawlerIntervalSeconds int    `toml:"crawler_interval_seconds"`
}

// S3Config holds object storage parameters for the evidence archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Enabled        bool   `toml:"enabled"`
}

// NotifyConfig holds escalation notification parameters.
type NotifyConfig struct {
	WebhookURL     string `toml:"webhook_url"`
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
}

// Defaults returns a Config populated with sane defaults. Load overlays the
// TOML file and environment on top of this.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketforge",
			User:          "marketforge",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 15,
		},
		Admission: AdmissionConfig{
			ProposePerMinute: 5,
			ProposePerHour:   20,
			ProposePerDay:    50,
			DisputePerHour:   3,
			DisputePerDay:    10,
			DefaultPerMinute: 60,
			DefaultPerHour:   1000,
			RetentionDays:    2,
		},
		Pipeline: PipelineConfig{
			APIBaseURL:             "http://localhost:8080",
			ConsumerGroup:          "mforge-workers",
			MaxDeliveries:          5,
			BlockSeconds:           5,
			ClaimMinIdleSeconds:    60,
			SchedulerSeconds:       60,
			ResolverPollSeconds:    300,
			ConfidenceThreshold:    0.7,
			AIVersion:              "dev",
			CrawlerIntervalSeconds: 300,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Validate checks cross-field constraints that cannot be expressed by types.
func (c *Config) Validate() error {
	var problems []string

	switch c.Mode {
	case "api", "pipeline", "full":
	default:
		if !strings.HasPrefix(c.Mode, "worker:") {
			problems = append(problems, fmt.Sprintf("mode %q is not api, pipeline, full or worker:<type>", c.Mode))
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Auth.JWTSecret == "" {
		problems = append(problems, "auth.jwt_secret is required")
	}
	if c.Auth.TokenTTLMinutes <= 1 {
		problems = append(problems, "auth.token_ttl_minutes must exceed 1 (the refresh margin)")
	}
	if c.Pipeline.MaxDeliveries < 1 {
		problems = append(problems, "pipeline.max_deliveries must be at least 1")
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		problems = append(problems, "pipeline.confidence_threshold must be within [0,1]")
	}
	if c.Admission.RetentionDays < 1 {
		problems = append(problems, "admission.retention_days must be at least 1")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		problems = append(problems, "s3.bucket is required when s3.enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
