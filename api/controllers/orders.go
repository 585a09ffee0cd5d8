package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/inkwellbooks/bookstore-backend/api/responses"
	"github.com/inkwellbooks/bookstore-backend/api/validators"
	internalorders "github.com/inkwellbooks/bookstore-backend/internal/orders"
	"github.com/inkwellbooks/bookstore-backend/pkg/enums"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
	"github.com/inkwellbooks/bookstore-backend/pkg/logger"
	"github.com/inkwellbooks/bookstore-backend/pkg/pagination"
)

type orderListResponse struct {
	Orders     []OrderView `json:"orders"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// ListOrders returns the authenticated customer's order history.
func ListOrders(repo internalorders.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders repository unavailable"))
			return
		}

		customerID, err := customerIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))

		filters, err := buildOrderFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := repo.ListByCustomer(r.Context(), customerID, pagination.Params{Limit: limit, Cursor: cursor}, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders"))
			return
		}

		responses.WriteSuccess(w, orderListResponse{
			Orders:     toOrderViews(list.Orders),
			NextCursor: list.NextCursor,
		})
	}
}

// OrderDetail returns the full order after checking the customer owns it.
func OrderDetail(repo internalorders.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders repository unavailable"))
			return
		}

		customerID, err := customerIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := orderIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := repo.FindByIDWithItems(r.Context(), orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch order"))
			return
		}

		if order.CustomerID != customerID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer"))
			return
		}

		responses.WriteSuccess(w, toOrderView(order))
	}
}

func buildOrderFilters(r *http.Request) (internalorders.CustomerOrderFilters, error) {
	var filters internalorders.CustomerOrderFilters
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return filters, nil
	}
	status := enums.OrderStatus(strings.ToLower(raw))
	if !status.IsValid() {
		return filters, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", raw))
	}
	filters.Status = &status
	return filters, nil
}
