package queue

import (
	"context"
	"errors"
)

// Queue is the transport behind lifecycle notifications. The in-memory
// implementation is the only one wired today; the interface keeps the
// door open for an external broker without touching publishers.
type Queue interface {
	// Publish sends one message to a topic
	Publish(ctx context.Context, topic string, message []byte) error

	// Subscribe registers a handler for a topic
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error

	// Close shuts the queue down; further publishes fail
	Close() error

	// Health reports whether the queue accepts messages
	Health() error
}

// MessageHandler consumes one delivered message
type MessageHandler func(ctx context.Context, topic string, message []byte) error

// QueueStats counters exposed for diagnostics
type QueueStats struct {
	Topic         string `json:"topic"`
	ProducerID    string `json:"producer_id"`
	ConsumerGroup string `json:"consumer_group"`
	Connected     bool   `json:"connected"`
	MessagesSent  int64  `json:"messages_sent"`
	MessagesRecv  int64  `json:"messages_received"`
}

var (
	ErrQueueClosed    = errors.New("queue is closed")
	ErrPublishTimeout = errors.New("publish timeout")
)
