package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MFORGE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MFORGE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "MFORGE_SERVER_PORT")
	setList(&cfg.Server.CORSOrigins, "MFORGE_SERVER_CORS_ORIGINS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MFORGE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MFORGE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MFORGE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MFORGE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MFORGE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MFORGE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MFORGE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MFORGE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MFORGE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MFORGE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MFORGE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MFORGE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MFORGE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MFORGE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MFORGE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MFORGE_REDIS_TLS_ENABLED")

	// ── Auth ──
	setStr(&cfg.Auth.JWTSecret, "MFORGE_AUTH_JWT_SECRET")
	setInt(&cfg.Auth.TokenTTLMinutes, "MFORGE_AUTH_TOKEN_TTL_MINUTES")
	setList(&cfg.Auth.AdminAddresses, "MFORGE_AUTH_ADMIN_ADDRESSES")
	setList(&cfg.Auth.SuperAdminAddresses, "MFORGE_AUTH_SUPER_ADMIN_ADDRESSES")

	// ── Safety ──
	setStr(&cfg.Safety.RulesPath, "MFORGE_SAFETY_RULES_PATH")
	setBool(&cfg.Safety.ClassifierEnabled, "MFORGE_SAFETY_CLASSIFIER_ENABLED")
	setStr(&cfg.Safety.ClassifierURL, "MFORGE_SAFETY_CLASSIFIER_URL")

	// ── Pipeline ──
	setStr(&cfg.Pipeline.APIBaseURL, "MFORGE_PIPELINE_API_BASE_URL")
	setStr(&cfg.Pipeline.ConsumerGroup, "MFORGE_PIPELINE_CONSUMER_GROUP")
	setInt(&cfg.Pipeline.MaxDeliveries, "MFORGE_PIPELINE_MAX_DELIVERIES")
	setFloat(&cfg.Pipeline.ConfidenceThreshold, "MFORGE_PIPELINE_CONFIDENCE_THRESHOLD")
	setStr(&cfg.Pipeline.AIVersion, "MFORGE_PIPELINE_AI_VERSION")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MFORGE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MFORGE_S3_REGION")
	setStr(&cfg.S3.Bucket, "MFORGE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MFORGE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MFORGE_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "MFORGE_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.Enabled, "MFORGE_S3_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.WebhookURL, "MFORGE_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.TelegramToken, "MFORGE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MFORGE_NOTIFY_TELEGRAM_CHAT_ID")

	// ── Top level ──
	setStr(&cfg.Mode, "MFORGE_MODE")
	setStr(&cfg.LogLevel, "MFORGE_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
