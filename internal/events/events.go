// Package events carries the signals other services react to: a new
// registration and an account deletion. Bus wiring lives outside this
// repository, so the shipped publisher writes structured log records.
package events

import (
	"context"
	"log/slog"
	"sync"
)

const (
	TopicRegistered     = "email_topic"
	TopicAccountDeleted = "account_data_delete"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	p.log.InfoContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("key", key),
		slog.Int("payload_bytes", len(payload)),
	)
	return nil
}

type Message struct {
	Topic   string
	Key     string
	Payload []byte
}

// Recorder keeps every published message in memory. Err, when set, is
// returned from Publish after the message is recorded.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (r *Recorder) Publish(ctx context.Context, topic, key string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Topic: topic, Key: key, Payload: append([]byte(nil), payload...)})
	return r.Err
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Topic returns the recorded messages for one topic.
func (r *Recorder) Topic(topic string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
