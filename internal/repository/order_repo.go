package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"tripbook/internal/model"
	"tripbook/pkg/utils"
)

// OrderRepository order repository interface
type OrderRepository interface {
	// Create order together with its inventory reservation (one transaction)
	CreateWithReservation(ctx context.Context, order *model.Order) error

	// Get order by ID
	GetByID(ctx context.Context, id uint64) (*model.Order, error)

	// Get order by order number
	GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error)

	// Compare-and-swap state transition with optional column updates
	Transition(ctx context.Context, id uint64, from, to int8, updates map[string]interface{}) error

	// Cancel a pending order and release its reservation (one transaction)
	CancelPending(ctx context.Context, id uint64) error

	// List user orders
	ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]*model.Order, int64, error)

	// List orders in a status, paginated (admin views)
	ListByStatus(ctx context.Context, status int8, page, pageSize int) ([]*model.Order, int64, error)

	// List expired pending orders
	ListExpired(ctx context.Context, limit int) ([]*model.Order, error)
}

// orderRepository order repository implementation
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates an order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// CreateWithReservation decrements item stock and inserts the order in a
// single transaction: either both happen or neither does. The stock
// decrement uses the conditional update in allocateStock, so an
// insufficient-stock failure rolls back cleanly with no order row.
func (r *orderRepository) CreateWithReservation(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := allocateStock(tx, order.ItemID, order.Quantity); err != nil {
			return err
		}
		return tx.Create(order).Error
	})
}

// GetByID gets an order by ID
func (r *orderRepository) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByOrderNo gets an order by order number
func (r *orderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// Transition moves an order from one status to another with a conditional
// update keyed on the current status. A zero-row result means the order was
// not in the expected state (raced, already terminal, or missing) and maps
// to ErrInvalidStateTransition without touching the row.
func (r *orderRepository) Transition(ctx context.Context, id uint64, from, to int8, updates map[string]interface{}) error {
	return transitionStatus(r.db.WithContext(ctx), id, from, to, updates)
}

func transitionStatus(tx *gorm.DB, id uint64, from, to int8, updates map[string]interface{}) error {
	if !model.CanTransition(from, to) {
		return utils.ErrInvalidStateTransition
	}

	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to

	result := tx.Model(&model.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return utils.ErrInvalidStateTransition
	}

	return nil
}

// CancelPending cancels a pending order and returns its reservation to
// stock in one transaction. The CAS runs first: if a concurrent payment
// confirmation won the race the transition fails and stock is untouched.
func (r *orderRepository) CancelPending(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.Order
		if err := tx.Where("id = ?", id).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrOrderNotFound
			}
			return err
		}

		if err := transitionStatus(tx, id, model.OrderStatusPending, model.OrderStatusCancelled, nil); err != nil {
			return err
		}

		return releaseStock(tx, order.ItemID, order.Quantity)
	})
}

// ListByUser lists user orders
func (r *orderRepository) ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	offset := (page - 1) * pageSize

	db := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("user_id = ?", userID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Offset(offset).
		Limit(pageSize).
		Order("created_at DESC").
		Find(&orders).Error

	return orders, total, err
}

// ListByStatus lists orders in a status, oldest first so admin queues
// drain in arrival order
func (r *orderRepository) ListByStatus(ctx context.Context, status int8, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	db := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("status = ?", status)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := db.Offset(offset).
		Limit(pageSize).
		Order("updated_at ASC").
		Find(&orders).Error

	return orders, total, err
}

// ListExpired lists pending orders past their payment deadline
func (r *orderRepository) ListExpired(ctx context.Context, limit int) ([]*model.Order, error) {
	var orders []*model.Order

	err := r.db.WithContext(ctx).
		Where("status = ?", model.OrderStatusPending).
		Where("expire_at < ?", time.Now()).
		Limit(limit).
		Find(&orders).Error

	return orders, err
}
