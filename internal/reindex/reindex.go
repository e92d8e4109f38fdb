// Package reindex carries articles whose index projection failed to the worker
// that re-projects them.
package reindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Message asks the worker to project one canonical article again.
type Message struct {
	EventID    string    `json:"event_id"`
	ArticleID  int64     `json:"article_id"`
	Reason     string    `json:"reason,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewMessage builds a message for id with a fresh event id.
func NewMessage(id int64, cause error) Message {
	m := Message{
		EventID:    uuid.NewString(),
		ArticleID:  id,
		EnqueuedAt: time.Now().UTC(),
	}
	if cause != nil {
		m.Reason = cause.Error()
	}
	return m
}

// Encode turns m into a Kafka message keyed by article id, so retries for the
// same article land on the same partition.
func (m Message) Encode() (kafka.Message, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal reindex message: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(m.ArticleID, 10)),
		Value: payload,
	}, nil
}

// Decode parses a message written by Encode.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode reindex message: %w", err)
	}
	if m.ArticleID <= 0 {
		return Message{}, errors.New("reindex message without article id")
	}
	return m, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher writes reindex requests to a Kafka topic.
type Publisher struct {
	w messageWriter
}

// NewPublisher creates a publisher for topic on brokers.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
	}}
}

// Enqueue publishes a reindex request for id.
func (p *Publisher) Enqueue(ctx context.Context, id int64, cause error) error {
	msg, err := NewMessage(id, cause).Encode()
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish reindex %d: %w", id, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
