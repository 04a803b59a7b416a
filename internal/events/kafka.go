package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/peopledesk/ticketd/internal/config"
)

// KafkaSink wraps an inner dispatcher and mirrors every published event to a
// Kafka topic, keyed by ticket id so a ticket's events stay ordered within a
// partition. Local subscribers keep working through the inner dispatcher.
type KafkaSink struct {
	inner  Dispatcher
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaSink builds the sink around an inner dispatcher.
func NewKafkaSink(cfg config.KafkaConfig, inner Dispatcher, logger *zap.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaSink{inner: inner, writer: writer, logger: logger}
}

// Publish forwards to local handlers, then writes to Kafka. A broker failure
// is logged rather than surfaced: downstream consumers are best effort.
func (s *KafkaSink) Publish(ctx context.Context, event Event) error {
	if err := s.inner.Publish(ctx, event); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal event", zap.Error(err))
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.TicketID),
		Value: payload,
	}); err != nil {
		s.logger.Error("kafka publish failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
	return nil
}

// Subscribe registers a handler on the inner dispatcher.
func (s *KafkaSink) Subscribe(eventType EventType, handler EventHandler) {
	s.inner.Subscribe(eventType, handler)
}

// Close flushes and closes the Kafka writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
