// Package producer publishes critical audit entries to Kafka for downstream
// consumers (the alert worker, SIEM ingestion).
package producer

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"attendguard/internal/audit/domain"
)

// KafkaAlerter publishes critical audit entries to a Kafka topic using
// segmentio/kafka-go. Messages are keyed by user ID so one user's alerts
// stay ordered within a partition.
type KafkaAlerter struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaAlerter creates a producer that writes to the given topic.
// Returns (nil, nil) when brokers or topic are unset so callers can treat
// Kafka as optional. Call Close when shutting down.
func NewKafkaAlerter(brokers []string, topic string) (*KafkaAlerter, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaAlerter{writer: writer, topic: topic}, nil
}

// CriticalEvent serializes the entry as JSON and writes it to the topic.
// A short timeout keeps slow brokers from stalling the caller.
func (p *KafkaAlerter) CriticalEvent(ctx context.Context, entry domain.Entry) error {
	if p == nil || p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(entry.UserID),
		Value: payload,
	})
	if err != nil {
		log.Printf("telemetry: kafka alert failed: %v", err)
		return err
	}
	return nil
}

// Close closes the Kafka writer. Safe to call multiple times.
func (p *KafkaAlerter) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
