package repository

import (
	"context"
	"errors"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"tripbook/internal/model"
)

// ErrDuplicateEvent signals a notification that was already durably
// accepted. It is a recognized no-op outcome, not a failure.
var ErrDuplicateEvent = errors.New("webhook event already recorded")

// WebhookEventRepository webhook event repository interface
type WebhookEventRepository interface {
	// Get by dedup key
	GetByTransaction(ctx context.Context, gateway, transactionID string) (*model.WebhookEvent, error)

	// Record the event and confirm the order payment in one transaction
	RecordAndConfirm(ctx context.Context, event *model.WebhookEvent, pay model.PaymentRecord) error
}

// webhookEventRepository webhook event repository implementation
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a webhook event repository
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// GetByTransaction gets an event by its (gateway, transaction id) dedup key
func (r *webhookEventRepository) GetByTransaction(ctx context.Context, gateway, transactionID string) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("gateway = ? AND transaction_id = ?", gateway, transactionID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// RecordAndConfirm inserts the dedup record and applies the pending->paid
// transition in one transaction, so a crash between them cannot lose or
// double-apply the effect. The unique (gateway, transaction_id) index is
// the idempotency barrier: a duplicate delivery fails the insert, the
// transaction rolls back, and the caller gets ErrDuplicateEvent.
func (r *webhookEventRepository) RecordAndConfirm(ctx context.Context, event *model.WebhookEvent, pay model.PaymentRecord) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrDuplicateEvent
			}
			return err
		}

		return transitionStatus(tx, event.OrderID, model.OrderStatusPending, model.OrderStatusPaid,
			map[string]interface{}{
				"payment_method": pay.Method,
				"transaction_id": pay.TransactionID,
				"paid_amount":    pay.PaidAmount,
				"paid_at":        pay.PaidAt,
			})
	})
	return err
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *gomysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
