package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Publisher writes ingestion events to the balance.snapshots topic.
type Publisher struct {
	writer *kafka.Writer
}

// envelope wraps every event with a unique id so consumers can deduplicate
// redeliveries.
type envelope struct {
	EventID   string          `json:"event_id"`
	EmittedAt time.Time       `json:"emitted_at"`
	Payload   json.RawMessage `json:"payload"`
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    "balance.snapshots",
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	eventID := uuid.NewString()
	data, err := json.Marshal(envelope{
		EventID:   eventID,
		EmittedAt: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(eventID),
		Value: data,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
