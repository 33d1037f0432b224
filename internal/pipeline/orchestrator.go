package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/quorumlabs/marketforge/internal/domain"
	"github.com/quorumlabs/marketforge/internal/metrics"
)

// Orchestrator runs a set of stage workers plus the optional scheduler and
// crawler as one errgroup. Each stage gets its own consume loop; if any loop
// fails with a non-context error the group cancels and Run returns it.
type Orchestrator struct {
	broker    domain.Broker
	stages    []Stage
	scheduler *Scheduler
	crawler   *Crawler
	onRefresh func(ctx context.Context) error
	metrics   *metrics.Metrics
	group     string
	consumer  string
	logger    *slog.Logger
}

// OrchestratorConfig wires an Orchestrator. Scheduler, Crawler and OnRefresh
// are optional.
type OrchestratorConfig struct {
	Broker    domain.Broker
	Stages    []Stage
	Scheduler *Scheduler
	Crawler   *Crawler
	// OnRefresh runs when a config.refresh message arrives.
	OnRefresh func(ctx context.Context) error
	Metrics   *metrics.Metrics
	Group     string
	Consumer  string
}

func NewOrchestrator(cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		broker:    cfg.Broker,
		stages:    cfg.Stages,
		scheduler: cfg.Scheduler,
		crawler:   cfg.Crawler,
		onRefresh: cfg.OnRefresh,
		metrics:   cfg.Metrics,
		group:     cfg.Group,
		consumer:  cfg.Consumer,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled or a loop fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	names := make([]string, 0, len(o.stages))
	for _, st := range o.stages {
		names = append(names, st.Name())
	}
	o.logger.Info("pipeline orchestrator starting",
		slog.Any("stages", names),
		slog.String("group", o.group),
		slog.String("consumer", o.consumer),
		slog.Bool("scheduler", o.scheduler != nil),
		slog.Bool("crawler", o.crawler != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	for _, st := range o.stages {
		g.Go(func() error {
			o.logger.Info("starting stage consumer",
				slog.String("stage", st.Name()),
				slog.String("queue", st.Queue()),
			)
			err := o.broker.Consume(ctx, st.Queue(), o.group, o.consumerFor(st), o.instrument(st))
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("stage %s: %w", st.Name(), err)
		})
	}

	if o.onRefresh != nil {
		g.Go(func() error {
			err := o.broker.Consume(ctx, domain.QueueConfigRefresh, o.group, o.consumer, o.handleRefresh)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("config refresh consumer: %w", err)
		})
	}

	if o.scheduler != nil {
		g.Go(func() error {
			o.logger.Info("starting scheduler loop")
			err := o.scheduler.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("scheduler: %w", err)
		})
	}

	if o.crawler != nil {
		g.Go(func() error {
			o.logger.Info("starting crawler loop")
			err := o.crawler.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("crawler: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

// consumerFor gives each stage a distinct consumer name so pending-entry
// ownership in the stream groups stays per-stage.
func (o *Orchestrator) consumerFor(st Stage) string {
	return o.consumer + ":" + st.Name()
}

// instrument wraps a stage handler with the per-queue message counters.
func (o *Orchestrator) instrument(st Stage) domain.Handler {
	return func(ctx context.Context, msg domain.Message) error {
		err := st.Handle(ctx, msg)
		if o.metrics != nil {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			o.metrics.Messages.WithLabelValues(st.Queue(), outcome).Inc()
		}
		return err
	}
}

func (o *Orchestrator) handleRefresh(ctx context.Context, msg domain.Message) error {
	o.logger.Info("pipeline: config refresh requested", slog.String("message_id", msg.ID))
	if err := o.onRefresh(ctx); err != nil {
		// Log and ack: a failed reload keeps the previous config, and
		// the control queue has no DLQ to drain bad messages into.
		o.logger.Error("pipeline: config refresh failed", slog.String("error", err.Error()))
	}
	return nil
}
