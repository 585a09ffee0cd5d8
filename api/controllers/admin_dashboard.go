package controllers

import (
	"net/http"

	"github.com/inkwellbooks/bookstore-backend/api/responses"
	"github.com/inkwellbooks/bookstore-backend/api/validators"
	"github.com/inkwellbooks/bookstore-backend/internal/dashboard"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
	"github.com/inkwellbooks/bookstore-backend/pkg/logger"
)

const (
	defaultRecentOrdersLimit = 10
	defaultActivitiesLimit   = 10
)

// AdminDashboardStats serves the storefront overview aggregates.
func AdminDashboardStats(svc *dashboard.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dashboard service unavailable"))
			return
		}

		stats, err := svc.GetStats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// AdminRecentOrders lists the latest orders across all customers.
func AdminRecentOrders(svc *dashboard.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dashboard service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", defaultRecentOrdersLimit, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orders, err := svc.RecentOrders(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orderListResponse{Orders: toOrderViews(orders)})
	}
}

// AdminActivities serves the merged activity feed.
func AdminActivities(svc *dashboard.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dashboard service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", defaultActivitiesLimit, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		activities, err := svc.Activities(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"activities": activities})
	}
}
