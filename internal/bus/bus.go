// Package bus wraps a watermill publisher/subscriber over NATS so every
// service talks to the four topics of §6 through one small interface,
// partitioned by trading symbol (or by orderId for saga timeouts).
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/klauspost/compress/snappy"
	natsio "github.com/nats-io/nats.go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	tcerrors "github.com/abdoElHodaky/tradcore/pkg/errors"
)

// Config controls the NATS transport and topic namespacing.
type Config struct {
	URL         string
	TopicPrefix string
}

// Bus publishes and subscribes to the symbol-keyed, partitioned topics.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	prefix     string
	logger     *zap.Logger
}

// New connects to NATS and builds a Bus. JetStream gives the at-least-once,
// per-subject-ordered delivery the outbox bridge's publish path (§4.3) needs.
func New(cfg Config, logger *zap.Logger) (*Bus, error) {
	marshaler := &nats.GobMarshaler{}
	logAdapter := watermill.NewStdLogger(false, false)

	opts := []natsio.Option{natsio.Name("tradcore")}

	publisher, err := nats.NewPublisher(
		nats.PublisherConfig{
			URL:         cfg.URL,
			NatsOptions: opts,
			Marshaler:   marshaler,
			JetStream:   nats.JetStreamConfig{Disabled: false, AutoProvision: true},
		},
		logAdapter,
	)
	if err != nil {
		return nil, fmt.Errorf("bus: failed to create publisher: %w", err)
	}

	subscriber, err := nats.NewSubscriber(
		nats.SubscriberConfig{
			URL:         cfg.URL,
			NatsOptions: opts,
			Unmarshaler: marshaler,
			JetStream:   nats.JetStreamConfig{Disabled: false, AutoProvision: true},
			QueueGroup:  "tradcore",
		},
		logAdapter,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("bus: failed to create subscriber: %w", err)
	}

	return &Bus{publisher: publisher, subscriber: subscriber, prefix: cfg.TopicPrefix, logger: logger}, nil
}

// NewWithPubSub builds a Bus directly from a publisher/subscriber pair,
// bypassing the NATS dial in New. Production code has no reason to call
// this; it exists so other packages' tests can exercise Publish/Subscribe
// against an in-memory transport (e.g. watermill's gochannel), the same
// in-memory-backend mode the teacher's own event bus adapter configures
// alongside its NATS mode (internal/architecture/cqrs/eventbus/watermill_adapter.go).
func NewWithPubSub(pub message.Publisher, sub message.Subscriber, cfg Config, logger *zap.Logger) *Bus {
	return &Bus{publisher: pub, subscriber: sub, prefix: cfg.TopicPrefix, logger: logger}
}

// Close releases the underlying NATS connections.
func (b *Bus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	return b.subscriber.Close()
}

// Module provides a *Bus built from cfg and closes it on shutdown.
func Module(cfg Config) fx.Option {
	return fx.Options(
		fx.Provide(func(logger *zap.Logger) (*Bus, error) {
			return New(cfg, logger)
		}),
		fx.Invoke(func(lc fx.Lifecycle, b *Bus) {
			lc.Append(fx.Hook{
				OnStop: func(_ context.Context) error {
					return b.Close()
				},
			})
		}),
	)
}

// topic applies the bus-wide prefix and the partition key, so every symbol
// lands on its own NATS subject and therefore its own ordered partition.
func (b *Bus) topic(base, partitionKey string) string {
	return fmt.Sprintf("%s%s.%s", b.prefix, base, partitionKey)
}

// Publish marshals payload to JSON, snappy-compresses it (§4.3 step 5), and
// publishes it to base.partitionKey.
func (b *Bus) Publish(ctx context.Context, base, partitionKey string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: failed to marshal payload: %w", err)
	}

	compressed := snappy.Encode(nil, raw)

	msg := message.NewMessage(uuid.New().String(), compressed)
	msg.Metadata.Set("partition_key", partitionKey)
	msg.SetContext(ctx)

	return b.publisher.Publish(b.topic(base, partitionKey), msg)
}

// PublishRaw publishes an already-serialized payload, keyed by idempotencyKey
// rather than a fresh UUID. The outbox bridge (§4.3 step 5) uses this so a
// replayed PENDING row produces the same message id on every attempt,
// letting idempotent-producer semantics collapse duplicate redeliveries
// instead of minting a new message each retry.
func (b *Bus) PublishRaw(ctx context.Context, base, partitionKey, idempotencyKey string, raw []byte) error {
	compressed := snappy.Encode(nil, raw)

	msg := message.NewMessage(idempotencyKey, compressed)
	msg.Metadata.Set("partition_key", partitionKey)
	msg.SetContext(ctx)

	return b.publisher.Publish(b.topic(base, partitionKey), msg)
}

// Handler processes one decompressed, unmarshaled message body. Returning a
// retryable error (pkg/errors IsRetryable) leaves the message unacked so the
// bus redelivers it; any other outcome acks, per §7/§5 backpressure rules.
type Handler func(ctx context.Context, body []byte) error

// Subscribe subscribes to every partition of base (base.*) and invokes fn
// for each delivered message after snappy-decompression.
func (b *Bus) Subscribe(ctx context.Context, base string, fn Handler) error {
	wildcard := b.topic(base, "*")

	messages, err := b.subscriber.Subscribe(ctx, wildcard)
	if err != nil {
		return fmt.Errorf("bus: failed to subscribe to %s: %w", wildcard, err)
	}

	go func() {
		for msg := range messages {
			body, decErr := snappy.Decode(nil, msg.Payload)
			if decErr != nil {
				b.logger.Error("bus: failed to decompress message", zap.Error(decErr))
				msg.Nack()
				continue
			}

			if err := fn(msg.Context(), body); err != nil {
				b.logger.Warn("bus: handler failed", zap.Error(err), zap.String("topic", wildcard))
				if tcerrors.IsRetryable(err) {
					msg.Nack()
					continue
				}
			}
			msg.Ack()
		}
	}()

	return nil
}
