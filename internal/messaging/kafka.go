// Package messaging moves completion events out of the outbox and commands
// into the engine. The engine never talks to the broker directly.
package messaging

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher writes messages to their Topic.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Source yields messages until they are committed. A message that is
// never committed is delivered again.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
	Close() error
}

// KafkaPublisher publishes with one writer for every topic. Messages are
// hashed by key, so events of one transaction keep their order.
type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msgs ...kafka.Message) error {
	return p.w.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// KafkaSource reads one topic as part of a consumer group with manual
// commits.
type KafkaSource struct {
	r *kafka.Reader
}

func NewKafkaSource(brokers []string, topic, groupID string) *KafkaSource {
	return &KafkaSource{r: kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})}
}

func (s *KafkaSource) Fetch(ctx context.Context) (kafka.Message, error) {
	return s.r.FetchMessage(ctx)
}

func (s *KafkaSource) Commit(ctx context.Context, msg kafka.Message) error {
	return s.r.CommitMessages(ctx, msg)
}

func (s *KafkaSource) Close() error { return s.r.Close() }

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
