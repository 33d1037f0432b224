package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quorumlabs/marketforge/internal/config"
	"github.com/quorumlabs/marketforge/internal/domain"
	"github.com/quorumlabs/marketforge/internal/pipeline"
	"github.com/quorumlabs/marketforge/internal/safety"
	"github.com/quorumlabs/marketforge/internal/server"
	"github.com/quorumlabs/marketforge/internal/server/handler"
	"github.com/quorumlabs/marketforge/internal/workerclient"
)

// APIMode serves the HTTP API and the WebSocket event feed. The pipeline runs
// elsewhere; this process owns the stores and the state machines.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := deps.Hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("event hub: %w", err)
	})

	// The API consumes config.refresh too: rule-table reloads must reach
	// the process that runs the safety filter.
	g.Go(func() error {
		err := deps.Broker.Consume(ctx,
			domain.QueueConfigRefresh,
			a.cfg.Pipeline.ConsumerGroup+"-api",
			a.consumerName("api"),
			func(ctx context.Context, msg domain.Message) error {
				if err := reloadSafetyRules(a.cfg, deps.Filter); err != nil {
					a.logger.Error("safety rule reload failed", slog.String("error", err.Error()))
				} else {
					a.logger.Info("safety rules reloaded", slog.String("version", deps.Filter.Version()))
				}
				return nil
			})
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("config refresh consumer: %w", err)
	})

	g.Go(func() error {
		return a.serveHTTP(ctx, deps)
	})

	return g.Wait()
}

// PipelineMode runs every stage worker plus the scheduler and, when a feed is
// configured, the crawler. It reports to the API at pipeline.api_base_url.
func (a *App) PipelineMode(ctx context.Context, deps *Dependencies) error {
	orch, err := a.buildOrchestrator(deps, allStageNames())
	if err != nil {
		return err
	}
	return orch.Run(ctx)
}

// FullMode runs the API and the whole pipeline in one process. The stage
// workers still report over HTTP so the admission, auth and audit paths are
// identical to a split deployment.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.APIMode(ctx, deps)
	})

	g.Go(func() error {
		// Give the API a moment to bind before the first worker report.
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
		return a.PipelineMode(ctx, deps)
	})

	return g.Wait()
}

// WorkerMode runs a single stage worker, for deployments that scale stages
// independently.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies, workerType string) error {
	if !domain.WorkerType(workerType).Valid() {
		return fmt.Errorf("app: unknown worker type %q", workerType)
	}
	orch, err := a.buildOrchestrator(deps, []string{workerType})
	if err != nil {
		return err
	}
	return orch.Run(ctx)
}

// serveHTTP wires the route table and blocks until ctx is cancelled, then
// shuts the server down gracefully.
func (a *App) serveHTTP(ctx context.Context, deps *Dependencies) error {
	var dbPinger handler.Pinger
	if deps.DB != nil {
		dbPinger = deps.DB
	}

	srv := server.New(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, server.Deps{
		Health:    handler.NewHealthHandler(dbPinger, deps.Broker, deps.Metrics),
		Proposals: handler.NewProposalHandler(deps.Service, deps.Filter, deps.Metrics, a.logger),
		Worker:    handler.NewWorkerHandler(deps.Keys, deps.Service, deps.Metrics, a.logger),
		Admin:     handler.NewAdminHandler(deps.Service, deps.WorkerKeys, deps.Broker, a.logger),
		Hub:       deps.Hub,
		JWT:       deps.JWT,
		Admins:    deps.Admins,
		Limiter:   deps.Limiter,
		Metrics:   deps.Metrics,
	}, a.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildOrchestrator assembles the requested stages plus their shared API
// client and, for the scheduler stage, the store-backed maintenance loop.
func (a *App) buildOrchestrator(deps *Dependencies, stageNames []string) (*pipeline.Orchestrator, error) {
	api := workerclient.New(a.cfg.Pipeline.APIBaseURL, a.cfg.Pipeline.APIKey)

	var (
		stages    []pipeline.Stage
		scheduler *pipeline.Scheduler
		crawler   *pipeline.Crawler
	)
	for _, name := range stageNames {
		switch domain.WorkerType(name) {
		case domain.WorkerCrawler:
			if a.cfg.Pipeline.CrawlerFeedURL == "" {
				a.logger.Info("crawler disabled: no feed configured")
				continue
			}
			crawler = pipeline.NewCrawler(
				pipeline.NewFeedSource(a.cfg.Pipeline.CrawlerFeedURL),
				deps.Broker,
				time.Duration(a.cfg.Pipeline.CrawlerIntervalSeconds)*time.Second,
				a.logger,
			)
		case domain.WorkerExtractor:
			stages = append(stages, pipeline.NewExtractor(deps.Agent, api, a.logger))
		case domain.WorkerGenerator:
			stages = append(stages, pipeline.NewGenerator(deps.Agent, api, a.logger))
		case domain.WorkerValidator:
			stages = append(stages, pipeline.NewValidator(deps.Agent, api, a.logger))
		case domain.WorkerPublisher:
			stages = append(stages, pipeline.NewPublisher(pipeline.NewDevChain(), api, a.logger))
		case domain.WorkerResolver:
			stages = append(stages, pipeline.NewResolver(deps.Agent, api, a.logger))
		case domain.WorkerDisputeAgent:
			stages = append(stages, pipeline.NewDisputer(deps.Agent, api, a.logger))
		case domain.WorkerScheduler:
			if deps.Service == nil {
				return nil, fmt.Errorf("app: scheduler stage requires the store-backed service")
			}
			scheduler = pipeline.NewScheduler(
				deps.Service,
				deps.Sweeper,
				deps.Locks,
				time.Duration(a.cfg.Pipeline.SchedulerSeconds)*time.Second,
				a.logger,
			)
		default:
			return nil, fmt.Errorf("app: unknown stage %q", name)
		}
	}

	return pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Broker:    deps.Broker,
		Stages:    stages,
		Scheduler: scheduler,
		Crawler:   crawler,
		OnRefresh: func(ctx context.Context) error {
			return reloadSafetyRules(a.cfg, deps.Filter)
		},
		Metrics:  deps.Metrics,
		Group:    a.cfg.Pipeline.ConsumerGroup,
		Consumer: a.consumerName("worker"),
	}, a.logger), nil
}

// allStageNames lists the stages PipelineMode runs, crawler included.
func allStageNames() []string {
	names := make([]string, 0, len(domain.AllWorkerTypes))
	for _, t := range domain.AllWorkerTypes {
		names = append(names, string(t))
	}
	return names
}

// consumerName derives a stable per-process consumer identity for stream
// pending-entry ownership.
func (a *App) consumerName(role string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return fmt.Sprintf("%s-%s-%d", host, role, os.Getpid())
}

// reloadSafetyRules re-reads the configured rule table into the filter. With
// no rules_path configured the built-in table is re-applied, which changes
// nothing but is harmless.
func reloadSafetyRules(cfg *config.Config, filter *safety.Filter) error {
	table := safety.DefaultRules()
	if cfg.Safety.RulesPath != "" {
		var err error
		table, err = safety.LoadRules(cfg.Safety.RulesPath)
		if err != nil {
			return err
		}
	}
	return filter.Reload(table)
}
