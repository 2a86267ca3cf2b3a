package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ItemKind tags a sellable item as a plain spot ticket or a blind box.
// It is a closed enum; everything that dispatches on item behavior goes
// through it rather than a stringly-typed model lookup.
type ItemKind string

const (
	ItemKindSpot     ItemKind = "spot"
	ItemKindBlindbox ItemKind = "blindbox"
)

// Valid reports whether the kind is one of the known variants.
func (k ItemKind) Valid() bool {
	return k == ItemKindSpot || k == ItemKindBlindbox
}

// InventoryItem a sellable ticket pool: a spot ticket or a blind box.
type InventoryItem struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string          `gorm:"type:varchar(200);not null" json:"name"`
	Kind         ItemKind        `gorm:"type:varchar(16);not null;index" json:"kind"`
	BoxType      *string         `gorm:"type:varchar(50);index" json:"box_type,omitempty"`
	UnitPrice    int64           `gorm:"type:bigint;not null" json:"unit_price"`
	Stock        int             `gorm:"type:int;not null;default:0" json:"stock"`
	SoldCount    int             `gorm:"type:int;not null;default:0" json:"sold_count"`
	Status       int8            `gorm:"type:tinyint;not null;default:1;index" json:"status"`
	Destinations DestinationList `gorm:"type:json" json:"destinations,omitempty"`
	CreatedAt    time.Time       `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (InventoryItem) TableName() string {
	return "inventory_items"
}

// ItemStatus item status const
const (
	ItemStatusActive   = 1
	ItemStatusSoldOut  = 2
	ItemStatusInactive = 3
)

// Destination one weighted outcome of a blind box. Probability is a weight
// in [0,100]; weights across one item's list need not sum to 100.
type Destination struct {
	SpotID      uint64 `json:"spot_id"`
	Name        string `json:"name"`
	Probability int    `json:"probability"`
}

// DestinationList json column of weighted destinations
type DestinationList []Destination

// Value implement driver.Valuer interface
func (d DestinationList) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan implement sql.Scanner interface
func (d *DestinationList) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into DestinationList", value)
	}

	return json.Unmarshal(bytes, d)
}

// IsActive check item is sellable
func (i *InventoryItem) IsActive() bool {
	return i.Status == ItemStatusActive
}

// IsSoldOut check item is sold out
func (i *InventoryItem) IsSoldOut() bool {
	return i.Status == ItemStatusSoldOut
}

// HasStock check item has remaining stock
func (i *InventoryItem) HasStock() bool {
	return i.Stock > 0
}

// UnitPriceYuan get unit price in yuan
func (i *InventoryItem) UnitPriceYuan() float64 {
	return float64(i.UnitPrice) / 100
}
