package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/inkwellbooks/bookstore-backend/api/middleware"
	"github.com/inkwellbooks/bookstore-backend/api/responses"
	"github.com/inkwellbooks/bookstore-backend/api/validators"
	"github.com/inkwellbooks/bookstore-backend/internal/payments"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
	"github.com/inkwellbooks/bookstore-backend/pkg/logger"
)

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

func actorFromRequest(r *http.Request) (payments.Actor, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return payments.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return payments.Actor{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return payments.Actor{
		UserID: userID,
		Role:   middleware.RoleFromContext(r.Context()),
	}, nil
}

// AdminShipOrder moves a confirmed order to shipped.
func AdminShipOrder(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return adminTransitionHandler(svc, logg, func(r *http.Request, orderID uuid.UUID, actor payments.Actor) (any, error) {
		order, err := svc.MarkShipped(r.Context(), orderID, actor)
		if err != nil {
			return nil, err
		}
		return toOrderView(order), nil
	})
}

// AdminDeliverOrder moves a shipped order to delivered.
func AdminDeliverOrder(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return adminTransitionHandler(svc, logg, func(r *http.Request, orderID uuid.UUID, actor payments.Actor) (any, error) {
		order, err := svc.MarkDelivered(r.Context(), orderID, actor)
		if err != nil {
			return nil, err
		}
		return toOrderView(order), nil
	})
}

// AdminCancelOrder cancels an order. Cancelling after confirmation restocks
// the committed inventory and flags the payment for refund.
func AdminCancelOrder(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := orderIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelOrderRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		reason := strings.TrimSpace(payload.Reason)
		if reason == "" {
			reason = "cancelled by admin"
		}

		order, err := svc.Cancel(r.Context(), orderID, actor, reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderView(order))
	}
}

func adminTransitionHandler(
	svc payments.Service,
	logg *logger.Logger,
	apply func(r *http.Request, orderID uuid.UUID, actor payments.Actor) (any, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := orderIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := apply(r, orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
