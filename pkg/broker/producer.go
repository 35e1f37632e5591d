package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// Producer publishes JSON encoded values to a single topic.
type Producer struct {
	l     *slog.Logger
	w     *kafka.Writer
	topic string
}

// NewProducer creates a producer for topic. An async producer never reports delivery
// errors to Send callers, they are only logged by the writer.
func NewProducer(l *slog.Logger, brokers []string, topic string, async bool) *Producer {
	l = l.WithGroup("kafka").With("topic", topic)

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		Async:                  async,
		RequiredAcks:           kafka.RequireAll,
		Logger:                 &infoLogger{l: l},
		ErrorLogger:            &errorLogger{l: l},
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		l:     l,
		w:     w,
		topic: topic,
	}
}

func (p *Producer) Send(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: b,
		Topic: p.topic,
	})
	if err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}

	return nil
}

// Forward writes m to the producer topic keeping its key, value and headers.
func (p *Producer) Forward(ctx context.Context, m kafka.Message) error {
	err := p.w.WriteMessages(ctx, kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Headers: m.Headers,
		Topic:   p.topic,
	})
	if err != nil {
		return fmt.Errorf("forward kafka message: %w", err)
	}

	return nil
}

func (p *Producer) Close() {
	err := p.w.Close()
	if err != nil {
		p.l.Error(fmt.Sprintf("close kafka writer: %s", err))
	}
}
