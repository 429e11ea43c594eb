package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards engine events to Kafka, one topic per event type, keyed by
// case id so a case's events stay ordered within a partition.
type KafkaPublisher struct {
	writer      MessageWriter
	topicPrefix string
	logger      *zap.Logger
}

// NewKafkaPublisher connects a writer to brokers.
func NewKafkaPublisher(brokers []string, topicPrefix string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, goerr.New("kafka publisher requires at least one broker")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return NewKafkaPublisherWithWriter(writer, topicPrefix, logger), nil
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(writer MessageWriter, topicPrefix string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topicPrefix: topicPrefix, logger: logger}
}

// Register subscribes the publisher to every event type.
func (p *KafkaPublisher) Register(d Dispatcher) {
	SubscribeAll(d, p.Handle)
}

// Handle serializes event and writes it.
func (p *KafkaPublisher) Handle(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return goerr.Wrap(err, "failed to encode event", goerr.V("event_id", event.ID))
	}
	msg := kafka.Message{
		Topic: p.Topic(event.Type),
		Key:   []byte(event.CaseID),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("kafka publish failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return goerr.Wrap(err, "failed to publish event", goerr.V("event_id", event.ID))
	}
	return nil
}

// Topic maps an event type to its topic name.
func (p *KafkaPublisher) Topic(t EventType) string {
	if p.topicPrefix == "" {
		return string(t)
	}
	return p.topicPrefix + "." + string(t)
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
