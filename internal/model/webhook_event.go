package model

import (
	"time"
)

// WebhookEvent records one durably accepted payment notification. The
// composite unique index on (gateway, transaction_id) is the idempotency
// barrier: a second delivery of the same real-world event hits the
// constraint instead of re-touching the order. Rows are written once and
// never updated.
type WebhookEvent struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Gateway       string    `gorm:"type:varchar(20);not null;uniqueIndex:ux_webhook_gateway_txn,priority:1" json:"gateway"`
	TransactionID string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_webhook_gateway_txn,priority:2" json:"transaction_id"`
	OrderID       uint64    `gorm:"type:bigint unsigned;not null;index" json:"order_id"`
	PaidAmount    int64     `gorm:"type:bigint;not null" json:"paid_amount"`
	ProcessedAt   time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"processed_at"`
}

// TableName set name
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
