package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem tracks stock counts per book.
//
// AvailableQty is the purchasable pool and is decremented on reserve.
// OnHandQty is physical stock and only moves when a reservation commits.
// Invariant: available_qty = on_hand_qty - reserved_qty, all >= 0.
type InventoryItem struct {
	BookID       uuid.UUID `gorm:"column:book_id;type:uuid;primaryKey"`
	OnHandQty    int       `gorm:"column:on_hand_qty;not null;default:0"`
	AvailableQty int       `gorm:"column:available_qty;not null;default:0"`
	ReservedQty  int       `gorm:"column:reserved_qty;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
