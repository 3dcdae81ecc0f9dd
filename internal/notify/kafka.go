package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mmeshcher/evbooking/internal/model"
)

// DefaultTopic: топик событий по итогам оплаты.
const DefaultTopic = "booking-payment-outcomes"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher публикует итоги сверки в Kafka с ключом по бронированию,
// чтобы события одного бронирования попадали в одну партицию.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher создаёт публикатор в topic. Пустой topic заменяется DefaultTopic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w}
}

// Publish пишет итог в Kafka с ключом по бронированию.
func (k *KafkaPublisher) Publish(ctx context.Context, outcome model.Outcome) error {
	body, err := json.Marshal(NewEvent(outcome))
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(outcome.BookingID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(outcome.Kind)},
			{Key: "attempt_id", Value: []byte(outcome.AttemptID)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close закрывает writer.
func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
