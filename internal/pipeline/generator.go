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

// Generator consumes candidates and drafts the market content: title,
// description, category and the resolution rule block the validator and
// resolver will later hold the market to.
type Generator struct {
	agent  agent.Agent
	api    *workerclient.Client
	logger *slog.Logger
}

func NewGenerator(a agent.Agent, api *workerclient.Client, logger *slog.Logger) *Generator {
	return &Generator{agent: a, api: api, logger: logger}
}

func (g *Generator) Name() string  { return string(domain.WorkerGenerator) }
func (g *Generator) Queue() string { return domain.QueueCandidates }

func (g *Generator) Handle(ctx context.Context, msg domain.Message) error {
	var in domain.CandidateMessage
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		return fmt.Errorf("generator: decode %s: %w", msg.ID, err)
	}

	draft, err := g.agent.Generate(ctx, domain.Candidate{
		ID:         in.CandidateID,
		ProposalID: in.ProposalID,
	}, in.Text)
	if err != nil {
		return fmt.Errorf("generator: model: %w", err)
	}

	err = g.api.Post(ctx, "/api/worker/drafts", map[string]any{
		"candidate_id":   in.CandidateID,
		"title":          draft.Title,
		"description":    draft.Description,
		"category":       draft.Category,
		"rules":          draft.Rules,
		"confidence":     draft.Confidence,
		"llm_request_id": draft.LLMRequestID,
		"correlation_id": in.CorrelationID,
	}, nil)
	return acceptConflict(g.logger, g.Name(), msg, err)
}
