package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"tripbook/internal/model"
	"tripbook/pkg/utils"
)

// ItemRepository inventory item repository interface
type ItemRepository interface {
	// Create item
	Create(ctx context.Context, item *model.InventoryItem) error

	// Get item by ID
	GetByID(ctx context.Context, id uint64) (*model.InventoryItem, error)

	// List active, in-stock items of a blind-box type
	ListActiveByBoxType(ctx context.Context, boxType string) ([]*model.InventoryItem, error)

	// List active items of a kind, paginated
	ListActive(ctx context.Context, kind model.ItemKind, page, pageSize int) ([]*model.InventoryItem, int64, error)

	// Allocate stock (atomic conditional decrement)
	Allocate(ctx context.Context, id uint64, quantity int) error

	// Release stock (reverses an allocation)
	Release(ctx context.Context, id uint64, quantity int) error
}

// itemRepository inventory item repository implementation
type itemRepository struct {
	db *gorm.DB
}

// NewItemRepository creates an item repository
func NewItemRepository(db *gorm.DB) ItemRepository {
	return &itemRepository{db: db}
}

// Create creates an item
func (r *itemRepository) Create(ctx context.Context, item *model.InventoryItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// GetByID gets an item by ID
func (r *itemRepository) GetByID(ctx context.Context, id uint64) (*model.InventoryItem, error) {
	var item model.InventoryItem
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

// ListActiveByBoxType lists active in-stock blind boxes of the given type
func (r *itemRepository) ListActiveByBoxType(ctx context.Context, boxType string) ([]*model.InventoryItem, error) {
	var items []*model.InventoryItem
	err := r.db.WithContext(ctx).
		Where("kind = ?", model.ItemKindBlindbox).
		Where("box_type = ?", boxType).
		Where("status = ?", model.ItemStatusActive).
		Where("stock > 0").
		Find(&items).Error
	return items, err
}

// ListActive lists active items of a kind with pagination
func (r *itemRepository) ListActive(ctx context.Context, kind model.ItemKind, page, pageSize int) ([]*model.InventoryItem, int64, error) {
	var items []*model.InventoryItem
	var total int64

	query := r.db.WithContext(ctx).Model(&model.InventoryItem{}).
		Where("kind = ?", kind).
		Where("status IN ?", []int8{model.ItemStatusActive, model.ItemStatusSoldOut})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&items).Error
	return items, total, err
}

// Allocate decrements stock by quantity. See allocateStock for the
// concurrency contract.
func (r *itemRepository) Allocate(ctx context.Context, id uint64, quantity int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return allocateStock(tx, id, quantity)
	})
}

// Release reverses an allocation.
func (r *itemRepository) Release(ctx context.Context, id uint64, quantity int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return releaseStock(tx, id, quantity)
	})
}

// allocateStock is the single place stock goes down. The decrement is one
// conditional UPDATE guarded by `stock >= quantity`, so two concurrent
// allocations of the last unit cannot both succeed: the loser affects zero
// rows and gets ErrInsufficientStock. Callers that need the decrement tied
// to another write (order creation) run this inside their own transaction.
func allocateStock(tx *gorm.DB, itemID uint64, quantity int) error {
	if quantity <= 0 {
		return utils.ErrInvalidParam
	}

	result := tx.Model(&model.InventoryItem{}).
		Where("id = ? AND status = ? AND stock >= ?", itemID, model.ItemStatusActive, quantity).
		Updates(map[string]interface{}{
			"stock":      gorm.Expr("stock - ?", quantity),
			"sold_count": gorm.Expr("sold_count + ?", quantity),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return utils.ErrInsufficientStock
	}

	// soldout iff stock == 0
	return tx.Model(&model.InventoryItem{}).
		Where("id = ? AND stock = 0", itemID).
		Update("status", model.ItemStatusSoldOut).Error
}

// releaseStock reverses allocateStock and clears the soldout flag, since a
// positive release always leaves stock > 0.
func releaseStock(tx *gorm.DB, itemID uint64, quantity int) error {
	if quantity <= 0 {
		return utils.ErrInvalidParam
	}

	result := tx.Model(&model.InventoryItem{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"stock":      gorm.Expr("stock + ?", quantity),
			"sold_count": gorm.Expr("sold_count - ?", quantity),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return utils.ErrItemNotFound
	}

	return tx.Model(&model.InventoryItem{}).
		Where("id = ? AND status = ?", itemID, model.ItemStatusSoldOut).
		Update("status", model.ItemStatusActive).Error
}
