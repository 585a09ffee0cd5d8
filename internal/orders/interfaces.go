package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkwellbooks/bookstore-backend/pkg/db/models"
	"github.com/inkwellbooks/bookstore-backend/pkg/enums"
	"github.com/inkwellbooks/bookstore-backend/pkg/pagination"
)

// CustomerOrderFilters narrows customer order listings.
type CustomerOrderFilters struct {
	Status *enums.OrderStatus
}

// CustomerOrderList is a cursor page of orders.
type CustomerOrderList struct {
	Orders     []models.Order
	NextCursor string
}

// Repository defines persistence operations for the order tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	CreateLineItems(ctx context.Context, items []models.OrderLineItem) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByIDWithItems(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByPaymentIntentID(ctx context.Context, intentID string) (*models.Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params, filters CustomerOrderFilters) (*CustomerOrderList, error)
	FindPendingPaymentBefore(ctx context.Context, cutoff time.Time) ([]models.Order, error)
	SetPaymentIntentID(ctx context.Context, orderID uuid.UUID, intentID string) error
	// TransitionStatus performs a conditional status flip and reports whether
	// the row was updated. Zero rows means the order was not in `from` anymore.
	TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
}
