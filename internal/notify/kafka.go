package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka publishes alert messages to a topic, for downstream consumers that
// want the raw alert stream instead of a chat.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka creates a Kafka sink.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (k *Kafka) Deliver(ctx context.Context, text string) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Value: []byte(text),
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publishing alert: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
