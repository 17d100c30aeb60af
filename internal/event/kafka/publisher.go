package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/withrein/store-app/internal/service"
)

// KafkaInvoiceEventPublisher реализует InvoiceEventPublisher используя Kafka
type KafkaInvoiceEventPublisher struct {
	logger *zap.Logger
	writer *kafka.Writer
	topic  string
}

// NewKafkaInvoiceEventPublisher создаёт новый Kafka publisher для событий инвойса
func NewKafkaInvoiceEventPublisher(logger *zap.Logger, brokers []string, topic string) *KafkaInvoiceEventPublisher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &KafkaInvoiceEventPublisher{
		logger: logger,
		writer: writer,
		topic:  topic,
	}
}

// Close закрывает Kafka writer
func (p *KafkaInvoiceEventPublisher) Close() error {
	return p.writer.Close()
}

// PublishInvoiceEvent публикует событие жизненного цикла инвойса в Kafka.
// Ключ сообщения - invoice_id: события одного инвойса попадают в одну
// партицию и сохраняют порядок.
func (p *KafkaInvoiceEventPublisher) PublishInvoiceEvent(ctx context.Context, event service.InvoiceEvent) error {
	eventID := event.EventID
	if eventID == "" {
		eventID = uuid.New().String()
	}

	payload := map[string]interface{}{
		"event_id":      eventID,
		"event_type":    event.EventType,
		"event_version": event.EventVersion,
		"occurred_at":   event.OccurredAt.Format(time.RFC3339),
		"invoice_id":    event.InvoiceID,
		"order_id":      event.OrderID,
		"amount":        event.Amount,
		"status":        event.Status,
	}

	valueBytes, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("failed to marshal invoice event",
			zap.Error(err),
			zap.String("invoice_id", event.InvoiceID),
		)
		return err
	}

	message := kafka.Message{
		Key:   []byte(event.InvoiceID),
		Value: valueBytes,
	}

	err = p.writer.WriteMessages(ctx, message)
	if err != nil {
		p.logger.Error("failed to publish invoice event",
			zap.Error(err),
			zap.String("topic", p.topic),
			zap.String("event_type", event.EventType),
			zap.String("invoice_id", event.InvoiceID),
		)
		return err
	}

	p.logger.Info("invoice event published",
		zap.String("topic", p.topic),
		zap.String("event_id", eventID),
		zap.String("event_type", event.EventType),
		zap.String("invoice_id", event.InvoiceID),
	)

	return nil
}

// NoopInvoiceEventPublisher используется при выключенной Kafka (KAFKA_ENABLED=false)
type NoopInvoiceEventPublisher struct{}

func (NoopInvoiceEventPublisher) PublishInvoiceEvent(ctx context.Context, event service.InvoiceEvent) error {
	return nil
}
