package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quorumlabs/marketforge/internal/agent"
	"github.com/quorumlabs/marketforge/internal/domain"
	"github.com/quorumlabs/marketforge/internal/workerclient"
)

// Disputer consumes opened disputes and adjudicates them: uphold the
// original resolution, overturn it with a new result, or escalate to a
// human. The message carries the dispute and the contested resolution so
// adjudication needs no store access.
type Disputer struct {
	agent  agent.Agent
	api    *workerclient.Client
	logger *slog.Logger
}

func NewDisputer(a agent.Agent, api *workerclient.Client, logger *slog.Logger) *Disputer {
	return &Disputer{agent: a, api: api, logger: logger}
}

func (d *Disputer) Name() string  { return string(domain.WorkerDisputeAgent) }
func (d *Disputer) Queue() string { return domain.QueueDisputes }

func (d *Disputer) Handle(ctx context.Context, msg domain.Message) error {
	var in domain.DisputeMessage
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		return fmt.Errorf("disputer: decode %s: %w", msg.ID, err)
	}

	decision, err := d.agent.ReviewDispute(ctx, domain.Dispute{
		ID:           in.DisputeID,
		ResolutionID: in.ResolutionID,
		Reason:       in.Reason,
		EvidenceURLs: in.EvidenceURLs,
	}, domain.Resolution{
		ID:          in.ResolutionID,
		MarketID:    in.MarketID,
		FinalResult: in.FinalResult,
		Source:      in.Source,
	})
	if err != nil {
		return fmt.Errorf("disputer: model: %w", err)
	}

	err = d.api.Post(ctx, "/api/worker/disputes/"+in.DisputeID+"/review", map[string]any{
		"decision":       string(decision.Decision),
		"new_result":     string(decision.NewResult),
		"reasoning":      decision.Reasoning,
		"confidence":     decision.Confidence,
		"llm_request_id": decision.LLMRequestID,
		"correlation_id": in.CorrelationID,
	}, nil)
	return acceptConflict(d.logger, d.Name(), msg, err)
}
