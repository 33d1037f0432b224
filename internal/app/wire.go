package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quorumlabs/marketforge/internal/admission"
	"github.com/quorumlabs/marketforge/internal/agent"
	"github.com/quorumlabs/marketforge/internal/auth"
	s3blob "github.com/quorumlabs/marketforge/internal/blob/s3"
	"github.com/quorumlabs/marketforge/internal/config"
	"github.com/quorumlabs/marketforge/internal/domain"
	"github.com/quorumlabs/marketforge/internal/lifecycle"
	"github.com/quorumlabs/marketforge/internal/metrics"
	"github.com/quorumlabs/marketforge/internal/notify"
	queueredis "github.com/quorumlabs/marketforge/internal/queue/redis"
	"github.com/quorumlabs/marketforge/internal/safety"
	"github.com/quorumlabs/marketforge/internal/server/ws"
	"github.com/quorumlabs/marketforge/internal/store/postgres"
)

// Dependencies bundles everything the operating modes need. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Persistence. Nil in worker modes that run store-free.
	DB         *postgres.Client
	Stores     lifecycle.Stores
	RateLimits domain.RateLimitStore
	WorkerKeys domain.WorkerKeyStore

	// Broker and locks.
	Redis  *queueredis.Client
	Broker *queueredis.Broker
	Locks  domain.LockManager

	// Admission control.
	Limiter *admission.Limiter
	Sweeper *admission.Sweeper

	// Auth.
	JWT    auth.JWT
	Admins *auth.AdminRegistry
	Keys   *auth.KeyService

	// Content safety.
	Filter *safety.Filter

	// Core lifecycle service. Nil without Postgres.
	Service *lifecycle.Service

	// Evidence archive. Nil unless S3 is enabled.
	Evidence *s3blob.EvidenceStore

	// Ambient.
	Metrics  *metrics.Metrics
	Hub      *ws.Hub
	Notifier *notify.Notifier
	Agent    agent.Agent
}

// needsPostgres reports whether the mode touches the stores. Stage workers
// other than the scheduler operate purely over the broker and the HTTP API.
func needsPostgres(mode string) bool {
	switch mode {
	case "api", "pipeline", "full", "worker:scheduler":
		return true
	default:
		return false
	}
}

// Wire constructs the concrete dependency graph for the configured mode and
// returns it with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		JWT: auth.JWT{
			Secret:   []byte(cfg.Auth.JWTSecret),
			TokenTTL: cfg.Auth.TokenTTL(),
		},
		Admins: auth.NewAdminRegistry(cfg.Auth.AdminAddresses, cfg.Auth.SuperAdminAddresses),
	}

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.DB = pgClient
		deps.Stores = lifecycle.Stores{
			Proposals:   postgres.NewProposalStore(pool),
			Candidates:  postgres.NewCandidateStore(pool),
			Markets:     postgres.NewMarketStore(pool),
			Resolutions: postgres.NewResolutionStore(pool),
			Disputes:    postgres.NewDisputeStore(pool),
			Audit:       postgres.NewAuditStore(pool),
		}
		deps.RateLimits = postgres.NewRateLimitStore(pool)
		deps.WorkerKeys = postgres.NewWorkerKeyStore(pool)
	}

	// --- Redis: broker, locks ---
	redisClient, err := queueredis.New(ctx, queueredis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.Broker = queueredis.NewBroker(redisClient, queueredis.BrokerConfig{
		MaxDeliveries: cfg.Pipeline.MaxDeliveries,
		Block:         time.Duration(cfg.Pipeline.BlockSeconds) * time.Second,
		ClaimMinIdle:  time.Duration(cfg.Pipeline.ClaimMinIdleSeconds) * time.Second,
		OnDeadLetter: func(queue string) {
			deps.Metrics.DeadLetters.WithLabelValues(queue).Inc()
		},
	}, logger)
	deps.Locks = queueredis.NewLocks(redisClient)

	if err := deps.Broker.EnsureTopology(ctx, cfg.Pipeline.ConsumerGroup); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: broker topology: %w", err)
	}

	// --- Admission control (needs the Postgres counter store) ---
	if deps.RateLimits != nil {
		limits := admission.DefaultLimits(
			cfg.Admission.ProposePerMinute,
			cfg.Admission.ProposePerHour,
			cfg.Admission.ProposePerDay,
			cfg.Admission.DisputePerHour,
			cfg.Admission.DisputePerDay,
			cfg.Admission.DefaultPerMinute,
			cfg.Admission.DefaultPerHour,
		)
		deps.Limiter = admission.NewLimiter(deps.RateLimits, limits)
		retention := time.Duration(cfg.Admission.RetentionDays) * 24 * time.Hour
		deps.Sweeper = admission.NewSweeper(deps.RateLimits, deps.Locks, retention, logger)
	}

	// --- Content safety ---
	table := safety.DefaultRules()
	if cfg.Safety.RulesPath != "" {
		table, err = safety.LoadRules(cfg.Safety.RulesPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: safety rules: %w", err)
		}
	}
	var classifier safety.Classifier
	if cfg.Safety.ClassifierEnabled && cfg.Safety.ClassifierURL != "" {
		classifier = safety.NewHTTPClassifier(cfg.Safety.ClassifierURL)
	}
	deps.Filter, err = safety.NewFilter(table, classifier)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: safety filter: %w", err)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL))
	}
	deps.Notifier = notify.New(senders, logger)

	// --- S3 evidence archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Evidence = s3blob.NewEvidenceStore(s3Client)
	}

	// --- Event feed, worker key service ---
	deps.Hub = ws.NewHub(logger)
	if deps.WorkerKeys != nil {
		deps.Keys = auth.NewKeyService(deps.WorkerKeys, deps.JWT, logger)
	}

	// --- Lifecycle service ---
	if deps.DB != nil {
		var archiver lifecycle.EvidenceArchiver
		if deps.Evidence != nil {
			archiver = deps.Evidence
		}
		deps.Service = lifecycle.NewService(
			deps.Stores,
			deps.Broker,
			deps.Hub,
			deps.Notifier,
			archiver,
			lifecycle.Config{
				ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
				AIVersion:           cfg.Pipeline.AIVersion,
			},
			logger,
		)
	}

	// --- Model agent for stage workers ---
	deps.Agent = agent.NewStub(cfg.Pipeline.ConfidenceThreshold)

	return deps, cleanup, nil
}
