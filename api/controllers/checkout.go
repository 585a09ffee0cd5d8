package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/inkwellbooks/bookstore-backend/api/responses"
	"github.com/inkwellbooks/bookstore-backend/api/validators"
	"github.com/inkwellbooks/bookstore-backend/internal/checkout"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
	"github.com/inkwellbooks/bookstore-backend/pkg/logger"
)

type checkoutRequest struct {
	Items []checkoutItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

type checkoutItemRequest struct {
	BookID string `json:"book_id" validate:"required,uuid4"`
	Qty    int    `json:"qty" validate:"required,gt=0"`
}

type checkoutResponse struct {
	Order        OrderView `json:"order"`
	IntentID     string    `json:"payment_intent_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
}

// Checkout places an order from the customer's cart and opens a payment intent.
func Checkout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		customerID, err := customerIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := checkout.CheckoutInput{Items: make([]checkout.CheckoutItem, 0, len(payload.Items))}
		for _, item := range payload.Items {
			bookID, err := uuid.Parse(item.BookID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid book id"))
				return
			}
			input.Items = append(input.Items, checkout.CheckoutItem{BookID: bookID, Qty: item.Qty})
		}

		result, err := svc.Execute(r.Context(), customerID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			Order:        toOrderView(result.Order),
			IntentID:     result.IntentID,
			ClientSecret: result.ClientSecret,
		})
	}
}

// RequestPaymentIntent reopens payment collection for an order whose intent
// was never created or was cancelled at the gateway.
func RequestPaymentIntent(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
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

		result, err := svc.RequestPaymentIntent(r.Context(), customerID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, checkoutResponse{
			Order:        toOrderView(result.Order),
			IntentID:     result.IntentID,
			ClientSecret: result.ClientSecret,
		})
	}
}
