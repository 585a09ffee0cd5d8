package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkwellbooks/bookstore-backend/pkg/enums"
)

// Order is the aggregate root of the purchase lifecycle. Status moves through
// pending_payment -> confirmed -> shipped -> delivered, with cancellation
// allowed before shipment. All status writes go through conditional UPDATEs
// keyed on the expected current status.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber     string            `gorm:"column:order_number;not null;uniqueIndex"`
	CustomerID      uuid.UUID         `gorm:"column:customer_id;type:uuid;not null;index"`
	Status          enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending_payment';index"`
	TotalCents      int               `gorm:"column:total_cents;not null"`
	Currency        string            `gorm:"column:currency;type:text;not null;default:'usd'"`
	PaymentIntentID *string           `gorm:"column:payment_intent_id;uniqueIndex"`
	FailureReason   *string           `gorm:"column:failure_reason"`
	ConfirmedAt     *time.Time        `gorm:"column:confirmed_at"`
	ShippedAt       *time.Time        `gorm:"column:shipped_at"`
	DeliveredAt     *time.Time        `gorm:"column:delivered_at"`
	CancelledAt     *time.Time        `gorm:"column:cancelled_at"`
	Items           []OrderLineItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
