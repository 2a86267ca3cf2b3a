package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"tripbook/pkg/log"
	"tripbook/pkg/queue"
)

// Topics carrying order lifecycle events. One topic per transition the
// user should hear about.
const (
	TopicOrderCreated    = "order.created"
	TopicOrderPaid       = "order.paid"
	TopicOrderCancelled  = "order.cancelled"
	TopicOrderExpired    = "order.expired"
	TopicRefundRequested = "order.refund_requested"
	TopicRefunded        = "order.refunded"
	TopicRefundRejected  = "order.refund_rejected"
)

// Event is the payload published on every order lifecycle topic.
type Event struct {
	OrderNo    string    `json:"order_no"`
	UserID     uint64    `json:"user_id"`
	Status     string    `json:"status"`
	Amount     int64     `json:"amount"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier publishes order lifecycle events. Publishing is best effort:
// a queue failure is logged but never fails the state change that
// triggered it.
type Notifier struct {
	q queue.Queue
}

// NewNotifier creates a notifier over the given queue.
func NewNotifier(q queue.Queue) *Notifier {
	return &Notifier{q: q}
}

// Publish emits one event. Errors are swallowed after logging.
func (n *Notifier) Publish(ctx context.Context, topic string, event Event) {
	if n == nil || n.q == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).Error("Failed to encode lifecycle event")
		return
	}

	if err := n.q.Publish(ctx, topic, data); err != nil {
		log.WithFields(logrus.Fields{
			"topic":    topic,
			"order_no": event.OrderNo,
		}).WithError(err).Error("Failed to publish lifecycle event")
	}
}
