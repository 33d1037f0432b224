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

// Validator consumes drafted markets and reports an approve, reject or
// escalate verdict. The API enforces the confidence floor on approvals, so
// the validator just reports what the model said.
type Validator struct {
	agent  agent.Agent
	api    *workerclient.Client
	logger *slog.Logger
}

func NewValidator(a agent.Agent, api *workerclient.Client, logger *slog.Logger) *Validator {
	return &Validator{agent: a, api: api, logger: logger}
}

func (v *Validator) Name() string  { return string(domain.WorkerValidator) }
func (v *Validator) Queue() string { return domain.QueueDraftsValidate }

func (v *Validator) Handle(ctx context.Context, msg domain.Message) error {
	var in domain.DraftMessage
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		return fmt.Errorf("validator: decode %s: %w", msg.ID, err)
	}

	verdict, err := v.agent.Validate(ctx, domain.Market{
		ID:          in.MarketID,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Rules:       in.Rules,
	})
	if err != nil {
		return fmt.Errorf("validator: model: %w", err)
	}

	err = v.api.Post(ctx, "/api/worker/validations", map[string]any{
		"market_id":      in.MarketID,
		"decision":       string(verdict.Decision),
		"confidence":     verdict.Confidence,
		"reasoning":      verdict.Reasoning,
		"llm_request_id": verdict.LLMRequestID,
		"correlation_id": in.CorrelationID,
	}, nil)
	return acceptConflict(v.logger, v.Name(), msg, err)
}
