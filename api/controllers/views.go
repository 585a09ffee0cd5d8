package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/inkwellbooks/bookstore-backend/api/middleware"
	"github.com/inkwellbooks/bookstore-backend/pkg/db/models"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
)

// OrderView is the wire shape for an order.
type OrderView struct {
	ID              string         `json:"id"`
	OrderNumber     string         `json:"order_number"`
	Status          string         `json:"status"`
	TotalCents      int            `json:"total_cents"`
	Currency        string         `json:"currency"`
	PaymentIntentID *string        `json:"payment_intent_id,omitempty"`
	FailureReason   *string        `json:"failure_reason,omitempty"`
	ConfirmedAt     *time.Time     `json:"confirmed_at,omitempty"`
	ShippedAt       *time.Time     `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time     `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time     `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	Items           []LineItemView `json:"items,omitempty"`
}

// LineItemView is the wire shape for a captured order line.
type LineItemView struct {
	BookID         string `json:"book_id"`
	Title          string `json:"title"`
	UnitPriceCents int    `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
	TotalCents     int    `json:"total_cents"`
}

func toOrderView(order *models.Order) OrderView {
	view := OrderView{
		ID:              order.ID.String(),
		OrderNumber:     order.OrderNumber,
		Status:          string(order.Status),
		TotalCents:      order.TotalCents,
		Currency:        order.Currency,
		PaymentIntentID: order.PaymentIntentID,
		FailureReason:   order.FailureReason,
		ConfirmedAt:     order.ConfirmedAt,
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		CreatedAt:       order.CreatedAt,
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, LineItemView{
			BookID:         item.BookID.String(),
			Title:          item.Title,
			UnitPriceCents: item.UnitPriceCents,
			Qty:            item.Qty,
			TotalCents:     item.TotalCents,
		})
	}
	return view
}

func toOrderViews(orders []models.Order) []OrderView {
	views := make([]OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, toOrderView(&orders[i]))
	}
	return views
}

func customerIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return parsed, nil
}

func orderIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return parsed, nil
}
