package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	ClickRecorded       = "affiliate.click.recorded"
	CommissionCredited  = "affiliate.commission.credited"
	CommissionsReleased = "affiliate.commission.released"
)

type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
	Close() error
}

type KafkaPublisher struct {
	writer       *kafka.Writer
	topicByEvent map[string]string
}

func NewKafkaPublisher(brokers []string, topicByEvent map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topicByEvent: topicByEvent,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	topic := eventType
	if mapped, ok := p.topicByEvent[eventType]; ok && mapped != "" {
		topic = mapped
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(partitionKey),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NewPublisher returns a Kafka publisher when brokers are configured and a LogPublisher
// otherwise.
func NewPublisher(brokers []string, logger *slog.Logger) (Publisher, error) {
	if len(brokers) == 0 {
		return LogPublisher{Logger: logger}, nil
	}
	return NewKafkaPublisher(brokers, nil)
}

// LogPublisher writes events to the logger; used when no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "event", "type", eventType, "key", partitionKey, "payload", string(payload))
	return nil
}

func (LogPublisher) Close() error { return nil }

type Message struct {
	Type    string
	Key     string
	Payload []byte
}

// MemoryPublisher keeps published events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	Events []Message
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, eventType string, payload []byte, partitionKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, Message{Type: eventType, Key: partitionKey, Payload: payload})
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

func (p *MemoryPublisher) Count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.Events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// Emit marshals payload and publishes it. Failures are logged: events are emitted after
// the write commits and never undo it.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, eventType, key string, payload any) {
	if p == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		logger.ErrorContext(ctx, "marshal event", "type", eventType, "error", err)
		return
	}
	if err := p.Publish(ctx, eventType, body, key); err != nil {
		logger.WarnContext(ctx, "publish event failed", "type", eventType, "key", key, "error", err)
	}
}
