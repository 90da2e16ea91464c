package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	EventInterventionStatusChanged = "intervention.status_changed"
	EventReportStatusChanged       = "report.status_changed"
	EventInvoiceCreated            = "invoice.created"
	EventInvoiceStatusChanged      = "invoice.status_changed"
	EventEmailIngested             = "email.ingested"
)

// EventPublisher — интерфейс ленты изменений (для подмены в тестах).
type EventPublisher interface {
	Publish(ctx context.Context, event, key string, payload map[string]interface{})
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer пишет события в топик Kafka (best-effort, ошибки только в лог).
type Producer struct {
	writer messageWriter
	topic  string
	log    *zap.Logger
}

// NewProducer создаёт продюсер. Если brokers или topic пустые — Publish no-op.
func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{log: log}
	}
	return &Producer{
		topic: topic,
		log:   log,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *Producer) Enabled() bool {
	return p != nil && p.writer != nil
}

// Publish отправляет событие; key — id сущности, чтобы версии одной строки шли в одну партицию.
func (p *Producer) Publish(ctx context.Context, event, key string, payload map[string]interface{}) {
	if !p.Enabled() {
		return
	}
	msg := map[string]interface{}{
		"event":       event,
		"occurred_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range payload {
		msg[k] = v
	}
	body, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn("kafka: marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: body}); err != nil {
		p.log.Warn("kafka: write event", zap.String("event", event), zap.String("key", key), zap.Error(err))
	}
}

func (p *Producer) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.writer.Close()
}
