// Package pipeline runs the stage workers that turn raw news into published
// prediction markets. Each stage consumes one queue, calls its model, and
// reports the result back through the lifecycle API over HTTP. The API owns
// all state transitions; a stage acks its message only after the API accepted
// the report, so an ack is proof the transition is durable.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/quorumlabs/marketforge/internal/domain"
	"github.com/quorumlabs/marketforge/internal/workerclient"
)

// Stage is one queue consumer in the pipeline.
type Stage interface {
	// Name is the worker role the stage runs as.
	Name() string
	// Queue is the queue the stage consumes.
	Queue() string
	// Handle processes one message. A nil return acks it.
	Handle(ctx context.Context, msg domain.Message) error
}

// acceptConflict collapses state-conflict responses from the lifecycle API
// into a clean ack. A conflict means another delivery of the same message
// already reported this stage, so the work is done and retrying would
// dead-letter a message whose effect is durable.
func acceptConflict(logger *slog.Logger, stage string, msg domain.Message, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *workerclient.APIError
	if errors.As(err, &apiErr) && apiErr.IsConflict() {
		logger.Info("pipeline: report already recorded",
			slog.String("stage", stage),
			slog.String("queue", msg.Queue),
			slog.String("message_id", msg.ID),
			slog.String("code", apiErr.Code),
		)
		return nil
	}
	return err
}
