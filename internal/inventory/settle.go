package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkwellbooks/bookstore-backend/pkg/db/models"
	"github.com/inkwellbooks/bookstore-backend/pkg/enums"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
)

// CommitForOrder flips the order's held reservations to committed and removes
// the units from physical stock. Reservations already committed or released
// are skipped, which makes the call safe to repeat: the per-row conditional
// status flip is the idempotency guard.
func CommitForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	return settleForOrder(ctx, tx, orderID, enums.ReservationStatusCommitted)
}

// ReleaseForOrder flips held reservations back to released and returns the
// units to the purchasable pool. Same idempotency contract as CommitForOrder.
func ReleaseForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	return settleForOrder(ctx, tx, orderID, enums.ReservationStatusReleased)
}

// RestockForOrder undoes a commit for a cancelled-but-unshipped order: each
// committed reservation flips to released and its units rejoin both physical
// and purchasable stock. Safe to repeat for the same reasons as the other
// settle paths.
func RestockForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory restock")
	}
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var rows []models.Reservation
	err := tx.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.ReservationStatusCommitted).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load committed reservations")
	}

	for _, row := range rows {
		res := tx.WithContext(ctx).Exec(`
			UPDATE reservations
			SET status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = ?
		`, enums.ReservationStatusReleased, row.ID, enums.ReservationStatusCommitted)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "flip reservation status")
		}
		if res.RowsAffected == 0 {
			continue
		}

		apply := tx.WithContext(ctx).Exec(`
			UPDATE inventory_items
			SET on_hand_qty = on_hand_qty + ?,
				available_qty = available_qty + ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE book_id = ?
		`, row.Qty, row.Qty, row.BookID)
		if apply.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, apply.Error, "restock inventory")
		}
		if apply.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeDependency, "inventory counts out of sync with reservations")
		}
	}

	return nil
}

func settleForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, target enums.ReservationStatus) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory settle")
	}
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var rows []models.Reservation
	err := tx.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservations")
	}

	for _, row := range rows {
		res := tx.WithContext(ctx).Exec(`
			UPDATE reservations
			SET status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = ?
		`, target, row.ID, enums.ReservationStatusHeld)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "flip reservation status")
		}
		if res.RowsAffected == 0 {
			// Already settled by a concurrent path.
			continue
		}

		if err := applyStockDelta(ctx, tx, row, target); err != nil {
			return err
		}
	}

	return nil
}

func applyStockDelta(ctx context.Context, tx *gorm.DB, row models.Reservation, target enums.ReservationStatus) error {
	var res *gorm.DB
	switch target {
	case enums.ReservationStatusCommitted:
		res = tx.WithContext(ctx).Exec(`
			UPDATE inventory_items
			SET on_hand_qty = on_hand_qty - ?,
				reserved_qty = reserved_qty - ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE book_id = ? AND on_hand_qty >= ? AND reserved_qty >= ?
		`, row.Qty, row.Qty, row.BookID, row.Qty, row.Qty)
	case enums.ReservationStatusReleased:
		res = tx.WithContext(ctx).Exec(`
			UPDATE inventory_items
			SET available_qty = available_qty + ?,
				reserved_qty = reserved_qty - ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE book_id = ? AND reserved_qty >= ?
		`, row.Qty, row.Qty, row.BookID, row.Qty)
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, "unsupported reservation target status")
	}

	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "apply stock delta")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeDependency, "inventory counts out of sync with reservations")
	}
	return nil
}
