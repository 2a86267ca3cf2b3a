package model

import (
	"time"
)

// Order booking order model
type Order struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo      string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"order_no"`
	UserID       uint64     `gorm:"type:bigint unsigned;not null;index" json:"user_id"`
	Kind         ItemKind   `gorm:"type:varchar(16);not null;index" json:"kind"`
	ItemID       uint64     `gorm:"type:bigint unsigned;not null;index" json:"item_id"`
	DestID       *uint64    `gorm:"type:bigint unsigned" json:"dest_id,omitempty"`
	Quantity     int        `gorm:"type:int;not null" json:"quantity"`
	UnitPrice    int64      `gorm:"type:bigint;not null" json:"unit_price"`
	Amount       int64      `gorm:"type:bigint;not null" json:"amount"`
	Status       int8       `gorm:"type:tinyint;not null;default:1;index" json:"status"`
	VisitDate    time.Time  `gorm:"type:date;not null" json:"visit_date"`
	ContactName  string     `gorm:"type:varchar(50);not null" json:"contact_name"`
	ContactPhone string     `gorm:"type:varchar(20);not null" json:"contact_phone"`

	PaymentMethod *string    `gorm:"type:varchar(20)" json:"payment_method,omitempty"`
	TransactionID *string    `gorm:"type:varchar(64);index" json:"transaction_id,omitempty"`
	PaidAmount    *int64     `gorm:"type:bigint" json:"paid_amount,omitempty"`
	PaidAt        *time.Time `gorm:"type:timestamp" json:"paid_at,omitempty"`

	RefundAmount    *int64     `gorm:"type:bigint" json:"refund_amount,omitempty"`
	RefundReason    *string    `gorm:"type:varchar(255)" json:"refund_reason,omitempty"`
	RefundNo        *string    `gorm:"type:varchar(64)" json:"refund_no,omitempty"`
	RefundDecidedBy *string    `gorm:"type:varchar(50)" json:"refund_decided_by,omitempty"`
	RefundDecidedAt *time.Time `gorm:"type:timestamp" json:"refund_decided_at,omitempty"`

	// operator's stated reason, distinct from the requester's RefundReason
	RefundDecisionReason *string `gorm:"type:varchar(255)" json:"refund_decision_reason,omitempty"`

	ExpireAt  time.Time `gorm:"type:timestamp;not null;index" json:"expire_at"`
	CreatedAt time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`

	Item *InventoryItem `gorm:"foreignKey:ItemID" json:"item,omitempty"`
}

// TableName set name
func (Order) TableName() string {
	return "orders"
}

// OrderStatus order status const
const (
	OrderStatusPending        = 1 // awaiting payment
	OrderStatusPaid           = 2
	OrderStatusCompleted      = 3
	OrderStatusCancelled      = 4
	OrderStatusRefundPending  = 5
	OrderStatusRefunded       = 6
	OrderStatusRefundRejected = 7 // refund denied, order stays payable-terminal
)

// PaymentMethod payment method const
const (
	PaymentMethodWechat = "wechat"
	PaymentMethodAlipay = "alipay"
)

// orderTransitions is the closed transition table. Any pair not listed here
// is rejected, which is what keeps a racing cancel/confirmPayment from
// corrupting state: the CAS update in the repository only matches the "from"
// status, so the loser simply affects zero rows.
var orderTransitions = map[int8][]int8{
	OrderStatusPending:        {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:           {OrderStatusCompleted, OrderStatusRefundPending},
	OrderStatusCompleted:      {OrderStatusRefundPending},
	OrderStatusRefundPending:  {OrderStatusRefunded, OrderStatusRefundRejected},
	OrderStatusRefundRejected: {OrderStatusRefundPending},
}

// CanTransition reports whether from -> to is a legal order transition.
func CanTransition(from, to int8) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StatusName returns the wire name of an order status.
func StatusName(status int8) string {
	switch status {
	case OrderStatusPending:
		return "pending"
	case OrderStatusPaid:
		return "paid"
	case OrderStatusCompleted:
		return "completed"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusRefundPending:
		return "refund_pending"
	case OrderStatusRefunded:
		return "refunded"
	case OrderStatusRefundRejected:
		return "refund_rejected"
	default:
		return "unknown"
	}
}

// IsPending check order is pending
func (o *Order) IsPending() bool {
	return o.Status == OrderStatusPending
}

// IsPaid check order is paid
func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid
}

// IsExpired check order is past its payment deadline
func (o *Order) IsExpired() bool {
	return time.Now().After(o.ExpireAt)
}

// CanPay check order can start a payment session
func (o *Order) CanPay() bool {
	return o.IsPending() && !o.IsExpired()
}

// CanRequestRefund check order can enter the refund workflow
func (o *Order) CanRequestRefund() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusCompleted ||
		o.Status == OrderStatusRefundRejected
}

// AmountYuan get order amount in yuan
func (o *Order) AmountYuan() float64 {
	return float64(o.Amount) / 100
}

// PaymentRecord payment fields applied when an order transitions to paid.
type PaymentRecord struct {
	Method        string    `json:"method"`
	TransactionID string    `json:"transaction_id"`
	PaidAmount    int64     `json:"paid_amount"`
	PaidAt        time.Time `json:"paid_at"`
}
