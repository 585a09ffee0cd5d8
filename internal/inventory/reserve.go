package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkwellbooks/bookstore-backend/pkg/db/models"
	"github.com/inkwellbooks/bookstore-backend/pkg/enums"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
)

// ReservationRequest asks for a hold of Qty units of a book.
type ReservationRequest struct {
	BookID uuid.UUID
	Qty    int
}

// ReservationResult reports the outcome per request. Reserved=false carries a
// human-readable reason; the caller decides whether to abort the transaction.
type ReservationResult struct {
	BookID   uuid.UUID
	Qty      int
	Reserved bool
	Reason   string
}

// ReserveInventory decrements available stock and records a held reservation
// row per request, all inside the caller's transaction. The conditional UPDATE
// guarded on available_qty is what prevents overselling under concurrency: two
// competing checkouts both run the decrement, and only the one the database
// applies first can pass the guard for the final units.
func ReserveInventory(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, requests []ReservationRequest) ([]ReservationResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory reserve")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	results := make([]ReservationResult, 0, len(requests))
	for _, req := range requests {
		if req.BookID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "book id required")
		}
		if req.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation qty must be positive")
		}

		res := tx.WithContext(ctx).Exec(`
			UPDATE inventory_items
			SET available_qty = available_qty - ?,
				reserved_qty = reserved_qty + ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE book_id = ? AND available_qty >= ?
		`, req.Qty, req.Qty, req.BookID, req.Qty)
		if res.Error != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
		}
		if res.RowsAffected == 0 {
			results = append(results, ReservationResult{
				BookID: req.BookID,
				Qty:    req.Qty,
				Reason: "insufficient stock",
			})
			continue
		}

		row := models.Reservation{
			ID:      uuid.New(),
			OrderID: orderID,
			BookID:  req.BookID,
			Qty:     req.Qty,
			Status:  enums.ReservationStatusHeld,
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record reservation")
		}

		results = append(results, ReservationResult{
			BookID:   req.BookID,
			Qty:      req.Qty,
			Reserved: true,
		})
	}

	return results, nil
}
