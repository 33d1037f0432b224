package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// streamMaxLen is the approximate maximum length for pipeline streams,
// enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// BrokerConfig tunes consumption behaviour. The broker, not the handlers,
// owns retry and dead-letter policy.
type BrokerConfig struct {
	// MaxDeliveries is the delivery bound after which a message moves to the
	// queue's DLQ instead of being redelivered.
	MaxDeliveries int
	// Block is how long a read blocks waiting for new messages.
	Block time.Duration
	// ClaimMinIdle is how long a pending message must sit unacked before
	// another consumer may claim it.
	ClaimMinIdle time.Duration
	// OnDeadLetter, when set, is called after a message lands in a DLQ.
	OnDeadLetter func(queue string)
}

// Broker implements domain.Broker on Redis streams. Each pipeline queue is a
// stream under the exchange prefix with one consumer group; failed handlers
// leave the message pending until it is either reclaimed or, past the
// delivery bound, appended to the paired dead-letter stream.
type Broker struct {
	rdb    *redis.Client
	cfg    BrokerConfig
	logger *slog.Logger
}

// NewBroker creates a Broker backed by the given Client.
func NewBroker(c *Client, cfg BrokerConfig, logger *slog.Logger) *Broker {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = time.Minute
	}
	return &Broker{rdb: c.DB(), cfg: cfg, logger: logger}
}

// streamName maps a queue to its Redis stream key under the exchange.
func streamName(queue string) string {
	return domain.Exchange + ":" + queue
}

// EnsureTopology declares the consumer group on every pipeline queue,
// creating the backing streams as needed. Dead-letter streams are created on
// first use. Safe to call from every process at startup.
func (b *Broker) EnsureTopology(ctx context.Context, group string) error {
	for _, queue := range domain.AllQueues {
		err := b.rdb.XGroupCreateMkStream(ctx, streamName(queue), group, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("redis: declare queue %s: %w", queue, err)
		}
	}
	return nil
}

// isBusyGroup reports whether err is the BUSYGROUP reply for an already
// existing consumer group.
func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// Publish appends a JSON payload to a pipeline queue.
func (b *Broker) Publish(ctx context.Context, queue string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: streamName(queue),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", queue, err)
	}
	return nil
}

// Ping checks broker connectivity.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Consume runs the blocking consume loop for one queue. Each iteration first
// sweeps stale pending messages (reclaiming them or dead-lettering those past
// the delivery bound), then blocks for new messages. A message is acked only
// when the handler returns nil; handler errors leave it pending for
// redelivery. Consume returns when ctx is cancelled.
func (b *Broker) Consume(ctx context.Context, queue, group, consumer string, h domain.Handler) error {
	stream := streamName(queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := b.sweepPending(ctx, queue, group, consumer, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error("broker: pending sweep failed",
				slog.String("queue", queue),
				slog.String("error", err.Error()),
			)
		}

		results, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    b.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // block timed out with no new messages
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("redis: read group %s/%s: %w", queue, group, err)
		}

		for _, res := range results {
			for _, msg := range res.Messages {
				b.handle(ctx, queue, group, msg, 1, h)
			}
		}
	}
}

// sweepPending inspects messages left unacked longer than ClaimMinIdle.
// Messages past the delivery bound are moved to the DLQ; the rest are
// reclaimed and retried by this consumer.
func (b *Broker) sweepPending(ctx context.Context, queue, group, consumer string, h domain.Handler) error {
	stream := streamName(queue)

	pending, err := b.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  10,
		Idle:   b.cfg.ClaimMinIdle,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("redis: pending %s/%s: %w", queue, group, err)
	}
	if len(pending) == 0 {
		return nil
	}

	var retry []string
	retryCount := make(map[string]int64, len(pending))
	for _, p := range pending {
		if domain.HasDLQ(queue) && p.RetryCount >= int64(b.cfg.MaxDeliveries) {
			if err := b.deadLetter(ctx, queue, group, p.ID); err != nil {
				return err
			}
			continue
		}
		retry = append(retry, p.ID)
		retryCount[p.ID] = p.RetryCount
	}
	if len(retry) == 0 {
		return nil
	}

	claimed, err := b.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  b.cfg.ClaimMinIdle,
		Messages: retry,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: claim %s/%s: %w", queue, group, err)
	}

	for _, msg := range claimed {
		b.handle(ctx, queue, group, msg, retryCount[msg.ID]+1, h)
	}
	return nil
}

// deadLetter copies a message to the queue's DLQ stream, then acks and
// removes it from the source.
func (b *Broker) deadLetter(ctx context.Context, queue, group, id string) error {
	stream := streamName(queue)

	msgs, err := b.rdb.XRange(ctx, stream, id, id).Result()
	if err != nil {
		return fmt.Errorf("redis: read %s for dead-letter: %w", queue, err)
	}

	if len(msgs) > 0 {
		if err := b.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: streamName(domain.DLQName(queue)),
			MaxLen: streamMaxLen,
			Approx: true,
			Values: msgs[0].Values,
		}).Err(); err != nil {
			return fmt.Errorf("redis: dead-letter %s %s: %w", queue, id, err)
		}
	}

	if err := b.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("redis: ack dead-lettered %s %s: %w", queue, id, err)
	}

	b.logger.Warn("broker: message dead-lettered",
		slog.String("queue", queue),
		slog.String("message_id", id),
	)
	if b.cfg.OnDeadLetter != nil {
		b.cfg.OnDeadLetter(queue)
	}
	return nil
}

// handle invokes the handler for one message and acks on success.
func (b *Broker) handle(ctx context.Context, queue, group string, msg redis.XMessage, delivery int64, h domain.Handler) {
	payload := extractPayload(msg)

	err := h(ctx, domain.Message{
		ID:       msg.ID,
		Queue:    queue,
		Payload:  payload,
		Delivery: delivery,
	})
	if err != nil {
		// Leave unacked: the pending sweep redelivers or dead-letters it.
		b.logger.Error("broker: handler failed",
			slog.String("queue", queue),
			slog.String("message_id", msg.ID),
			slog.Int64("delivery", delivery),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := b.rdb.XAck(ctx, streamName(queue), group, msg.ID).Err(); err != nil {
		b.logger.Error("broker: ack failed",
			slog.String("queue", queue),
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}
}

// extractPayload pulls the payload field out of a stream entry.
func extractPayload(msg redis.XMessage) []byte {
	v, ok := msg.Values["payload"]
	if !ok {
		return nil
	}
	switch data := v.(type) {
	case string:
		return []byte(data)
	case []byte:
		return data
	}
	return nil
}

// Compile-time interface check.
var _ domain.Broker = (*Broker)(nil)
