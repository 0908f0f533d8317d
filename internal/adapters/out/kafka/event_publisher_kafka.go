package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/EthanQC/verification-service/internal/ports/out"
)

const DefaultTopic = "verification.events"

// messageWriter kafka.Writer 的子集，测试时替换
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher 使用 segmentio/kafka-go 发布审计事件
type EventPublisher struct {
	writer messageWriter
	topic  string
}

var _ out.EventPublisher = (*EventPublisher)(nil)

func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewEventPublisher(w *kafka.Writer, topic string) *EventPublisher {
	return newEventPublisher(w, topic)
}

func newEventPublisher(w messageWriter, topic string) *EventPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &EventPublisher{writer: w, topic: topic}
}

// Publish 以 request_id 作为 key，同一次请求的事件落在同一分区
func (p *EventPublisher) Publish(ctx context.Context, event *out.VerificationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal verification event failed: %w", err)
	}
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.RequestID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
		Time: event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish verification event failed: %w", err)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
