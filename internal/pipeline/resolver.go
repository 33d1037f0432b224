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

// Resolver consumes markets.resolve and determines each market's outcome
// against its resolution rules. The API rejects sources outside the rules'
// allow-list, so a model that cites a disallowed source fails the report and
// the message retries toward the DLQ rather than resolving the market.
type Resolver struct {
	agent  agent.Agent
	api    *workerclient.Client
	logger *slog.Logger
}

func NewResolver(a agent.Agent, api *workerclient.Client, logger *slog.Logger) *Resolver {
	return &Resolver{agent: a, api: api, logger: logger}
}

func (r *Resolver) Name() string  { return string(domain.WorkerResolver) }
func (r *Resolver) Queue() string { return domain.QueueMarketsResolve }

func (r *Resolver) Handle(ctx context.Context, msg domain.Message) error {
	var in domain.ResolveMessage
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		return fmt.Errorf("resolver: decode %s: %w", msg.ID, err)
	}

	outcome, err := r.agent.Resolve(ctx, domain.Market{
		ID:    in.MarketID,
		Title: in.Title,
		Rules: in.Rules,
	})
	if err != nil {
		return fmt.Errorf("resolver: model: %w", err)
	}

	err = r.api.Post(ctx, "/api/worker/resolutions", map[string]any{
		"market_id":         in.MarketID,
		"final_result":      string(outcome.FinalResult),
		"source":            outcome.Source,
		"evidence_raw":      json.RawMessage(outcome.EvidenceRaw),
		"criteria_met":      outcome.CriteriaMet,
		"criteria_excluded": outcome.CriteriaExcluded,
		"llm_request_id":    outcome.LLMRequestID,
		"correlation_id":    in.CorrelationID,
	}, nil)
	return acceptConflict(r.logger, r.Name(), msg, err)
}
