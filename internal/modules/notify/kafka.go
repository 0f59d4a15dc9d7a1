package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka publishes events keyed by booking so a booking's history stays ordered in one partition.
type Kafka struct {
	writer messageWriter
}

func NewKafka(w *kafka.Writer) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) Send(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.BookingID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}
