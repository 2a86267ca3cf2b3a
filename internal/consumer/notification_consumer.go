package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"tripbook/internal/notify"
	"tripbook/pkg/log"
	"tripbook/pkg/queue"
)

// NotificationConsumer drains order lifecycle topics and pushes user-facing
// notifications. The delivery channel here is the structured log; swapping
// in SMS or push means replacing deliver only.
type NotificationConsumer struct {
	q queue.Queue
}

// NewNotificationConsumer creates a notification consumer
func NewNotificationConsumer(q queue.Queue) *NotificationConsumer {
	return &NotificationConsumer{q: q}
}

// Start subscribes to every lifecycle topic. Subscriptions live until the
// context is cancelled or the queue closes.
func (c *NotificationConsumer) Start(ctx context.Context) error {
	topics := []string{
		notify.TopicOrderCreated,
		notify.TopicOrderPaid,
		notify.TopicOrderCancelled,
		notify.TopicOrderExpired,
		notify.TopicRefundRequested,
		notify.TopicRefunded,
		notify.TopicRefundRejected,
	}

	for _, topic := range topics {
		if err := c.q.Subscribe(ctx, topic, c.handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (c *NotificationConsumer) handle(ctx context.Context, topic string, message []byte) error {
	var event notify.Event
	if err := json.Unmarshal(message, &event); err != nil {
		// poison message, drop it rather than redeliver forever
		log.WithFields(logrus.Fields{"topic": topic}).WithError(err).Error("Dropping undecodable lifecycle event")
		return nil
	}

	log.WithFields(logrus.Fields{
		"topic":    topic,
		"order_no": event.OrderNo,
		"user_id":  event.UserID,
		"status":   event.Status,
	}).Info(messageFor(topic))
	return nil
}

func messageFor(topic string) string {
	switch topic {
	case notify.TopicOrderCreated:
		return "Order created, awaiting payment"
	case notify.TopicOrderPaid:
		return "Payment received, booking confirmed"
	case notify.TopicOrderCancelled:
		return "Order cancelled"
	case notify.TopicOrderExpired:
		return "Order expired without payment"
	case notify.TopicRefundRequested:
		return "Refund request received"
	case notify.TopicRefunded:
		return "Refund completed"
	case notify.TopicRefundRejected:
		return "Refund request rejected"
	default:
		return "Order update"
	}
}
