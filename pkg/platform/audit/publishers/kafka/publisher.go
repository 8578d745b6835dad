// Package kafka publishes audit events to a Kafka topic, keyed by record ID
// so the events of one record stay ordered within a partition.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "validity/pkg/platform/audit"
)

// Publisher produces audit events synchronously.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

type Option func(*options)

type options struct {
	logger *slog.Logger
	linger time.Duration
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLinger lets the producer wait up to d to batch records.
func WithLinger(d time.Duration) Option {
	return func(o *options) {
		o.linger = d
	}
}

// New connects to brokers. The client is lazy: broker failures surface on
// the first Emit, not here.
func New(brokers []string, topic string, opts ...Option) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher: topic is required")
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if o.linger > 0 {
		kopts = append(kopts, kgo.ProducerLinger(o.linger))
	}
	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}
	return &Publisher{client: client, topic: topic, logger: o.logger}, nil
}

// Emit produces event and waits for the broker acknowledgement.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	body, err := audit.Encode(event)
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Key:       []byte(event.RecordID.String()),
		Value:     body,
		Timestamp: event.Timestamp,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.Action)},
			{Key: "kind", Value: []byte(event.Kind)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.logger.WarnContext(ctx, "kafka produce failed",
			"topic", p.topic,
			"event", event.Action,
			"record_id", event.RecordID.String(),
			"error", err,
		)
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes buffered records and closes the client.
func (p *Publisher) Close(ctx context.Context) error {
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}
