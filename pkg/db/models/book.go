package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Book is a catalog entry. Prices are captured onto order lines at checkout,
// so later edits here never change what a settled order was charged.
type Book struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Title          string    `gorm:"column:title;not null"`
	Author         string    `gorm:"column:author;not null"`
	ISBN           string    `gorm:"column:isbn;uniqueIndex"`
	UnitPriceCents int       `gorm:"column:unit_price_cents;not null"`
	Currency       string    `gorm:"column:currency;type:text;not null;default:'usd'"`
	Active         bool      `gorm:"column:active;not null;default:true"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the row ID when the caller has not.
func (b *Book) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
