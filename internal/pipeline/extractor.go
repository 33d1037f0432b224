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

// Extractor consumes news.raw, classifies each item with the extraction
// model, and reports the verdict as a candidate. Items the model judges not
// market-worthy are still reported so the originating proposal is rejected
// rather than left dangling.
type Extractor struct {
	agent  agent.Agent
	api    *workerclient.Client
	logger *slog.Logger
}

func NewExtractor(a agent.Agent, api *workerclient.Client, logger *slog.Logger) *Extractor {
	return &Extractor{agent: a, api: api, logger: logger}
}

func (e *Extractor) Name() string  { return string(domain.WorkerExtractor) }
func (e *Extractor) Queue() string { return domain.QueueNewsRaw }

func (e *Extractor) Handle(ctx context.Context, msg domain.Message) error {
	var in domain.NewsRawMessage
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		return fmt.Errorf("extractor: decode %s: %w", msg.ID, err)
	}

	ext, err := e.agent.Extract(ctx, in.Text, in.CategoryHint)
	if err != nil {
		return fmt.Errorf("extractor: model: %w", err)
	}

	reason := ""
	if !ext.MarketWorthy {
		reason = "no market-worthy event identified"
	}
	err = e.api.Post(ctx, "/api/worker/candidates", map[string]any{
		"proposal_id":    in.ProposalID,
		"news_ref":       in.NewsRef,
		"text":           in.Text,
		"category_hint":  in.CategoryHint,
		"entities":       ext.Entities,
		"event_type":     ext.EventType,
		"market_worthy":  ext.MarketWorthy,
		"confidence":     ext.Confidence,
		"reason":         reason,
		"llm_request_id": ext.LLMRequestID,
		"correlation_id": in.CorrelationID,
	}, nil)
	return acceptConflict(e.logger, e.Name(), msg, err)
}
