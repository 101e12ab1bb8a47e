package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/models"
)

// DefaultTopic is the decision event topic.
const DefaultTopic = "verishield.decisions"

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher emits decision events to Kafka. Optional; the pipeline works
// without it.
type Publisher struct {
	writer kafkaWriter
	topic  string
}

// PublisherConfig configures the decision event publisher.
type PublisherConfig struct {
	Brokers []string
	Topic   string
}

// NewPublisher builds the publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Publisher{writer: w, topic: topic}, nil
}

// PublishDecision writes one decision record, keyed by tenant so a tenant's
// decisions stay ordered within a partition.
func (p *Publisher) PublishDecision(ctx context.Context, rec models.DecisionRecord) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("kafka publisher not initialized")
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.Tenant),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
