package domain

import "context"

// Exchange is the broker exchange name; every queue lives under it.
const Exchange = "mforge"

// Pipeline queues, one per stage. Every queue except the control queue
// (config.refresh) has a paired dead-letter queue.
const (
	QueueNewsRaw        = "news.raw"
	QueueCandidates     = "candidates"
	QueueDraftsValidate = "drafts.validate"
	QueueMarketsPublish = "markets.publish"
	QueueMarketsResolve = "markets.resolve"
	QueueDisputes       = "disputes"
	QueueConfigRefresh  = "config.refresh"
)

// AllQueues lists every pipeline queue in stage order.
var AllQueues = []string{
	QueueNewsRaw,
	QueueCandidates,
	QueueDraftsValidate,
	QueueMarketsPublish,
	QueueMarketsResolve,
	QueueDisputes,
	QueueConfigRefresh,
}

// DLQName returns the dead-letter companion for a queue.
func DLQName(queue string) string {
	return queue + ".dlq"
}

// HasDLQ reports whether the queue dead-letters failed messages. The control
// queue does not.
func HasDLQ(queue string) bool {
	return queue != QueueConfigRefresh
}

// Message is one delivery from the broker.
type Message struct {
	ID       string
	Queue    string
	Payload  []byte
	Delivery int64 // how many times this message has been delivered
}

// Handler processes one message. A nil return acknowledges the message; an
// error leaves it for redelivery until the broker's bound moves it to the DLQ.
type Handler func(ctx context.Context, msg Message) error

// Publisher enqueues JSON payloads onto pipeline queues.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload []byte) error
}

// Consumer runs a blocking consume loop for one queue and consumer group. It
// returns when ctx is cancelled or the broker fails irrecoverably.
type Consumer interface {
	Consume(ctx context.Context, queue, group, consumer string, h Handler) error
}

// Broker combines publish and consume with connectivity probing.
type Broker interface {
	Publisher
	Consumer
	Ping(ctx context.Context) error
}
