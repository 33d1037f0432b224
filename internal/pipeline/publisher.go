package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quorumlabs/marketforge/internal/domain"
	"github.com/quorumlabs/marketforge/internal/workerclient"
)

// Publisher consumes markets.publish. A create message deploys the market
// through the chain client and reports the address back; a resolution_update
// message pushes an overturned result to the already deployed market and
// needs no report.
type Publisher struct {
	chain  ChainClient
	api    *workerclient.Client
	logger *slog.Logger
}

func NewPublisher(chain ChainClient, api *workerclient.Client, logger *slog.Logger) *Publisher {
	return &Publisher{chain: chain, api: api, logger: logger}
}

func (p *Publisher) Name() string  { return string(domain.WorkerPublisher) }
func (p *Publisher) Queue() string { return domain.QueueMarketsPublish }

func (p *Publisher) Handle(ctx context.Context, msg domain.Message) error {
	var in domain.PublishMessage
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		return fmt.Errorf("publisher: decode %s: %w", msg.ID, err)
	}

	switch in.Kind {
	case domain.PublishKindCreate:
		return p.create(ctx, msg, in)
	case domain.PublishKindResolutionUpdate:
		if err := p.chain.UpdateResolution(ctx, in.MarketID, in.NewResult); err != nil {
			return fmt.Errorf("publisher: update resolution %s: %w", in.MarketID, err)
		}
		p.logger.Info("pipeline: resolution update propagated",
			slog.String("market_id", in.MarketID),
			slog.String("new_result", string(in.NewResult)),
		)
		return nil
	default:
		// Unknown kinds are not retryable; let the sweep dead-letter them.
		return fmt.Errorf("publisher: unknown kind %q in %s", in.Kind, msg.ID)
	}
}

func (p *Publisher) create(ctx context.Context, msg domain.Message, in domain.PublishMessage) error {
	address, sig, err := p.chain.CreateMarket(ctx, in.MarketID)
	if err != nil {
		return fmt.Errorf("publisher: create market %s: %w", in.MarketID, err)
	}

	err = p.api.Post(ctx, "/api/worker/markets/"+in.MarketID+"/published", map[string]any{
		"market_address": address,
		"tx_signature":   sig,
		"correlation_id": in.CorrelationID,
	}, nil)
	return acceptConflict(p.logger, p.Name(), msg, err)
}
