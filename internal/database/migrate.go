package database

import (
	"fmt"

	"gorm.io/gorm"

	"tripbook/internal/model"
	"tripbook/pkg/log"
)

// AutoMigrate auto migrate database table schema
func AutoMigrate(db *gorm.DB) error {
	log.Info("Starting database migration...")

	models := []interface{}{
		&model.User{},
		&model.InventoryItem{},
		&model.Order{},
		&model.WebhookEvent{},
	}

	for _, m := range models {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", m, err)
		}
		log.Infof("Migrated model: %T", m)
	}

	log.Info("Database migration completed successfully")
	return nil
}

// CreateIndexes create additional indexes
func CreateIndexes(db *gorm.DB) error {
	indexes := []struct {
		name string
		sql  string
	}{
		{
			name: "idx_orders_user_status",
			sql:  "CREATE INDEX IF NOT EXISTS idx_orders_user_status ON orders (user_id, status, created_at)",
		},
		{
			name: "idx_orders_status_expire",
			sql:  "CREATE INDEX IF NOT EXISTS idx_orders_status_expire ON orders (status, expire_at)",
		},
		{
			name: "idx_items_kind_status",
			sql:  "CREATE INDEX IF NOT EXISTS idx_items_kind_status ON inventory_items (kind, status)",
		},
	}

	for _, idx := range indexes {
		if err := db.Exec(idx.sql).Error; err != nil {
			log.Warnf("Failed to create index %s: %v", idx.name, err)
		}
	}

	return nil
}
