package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	internalorders "github.com/inkwellbooks/bookstore-backend/internal/orders"
	"github.com/inkwellbooks/bookstore-backend/pkg/db/models"
	"github.com/inkwellbooks/bookstore-backend/pkg/enums"
	"github.com/inkwellbooks/bookstore-backend/pkg/pagination"
	"github.com/inkwellbooks/bookstore-backend/pkg/types"
)

type stubOrdersRepo struct {
	orders      map[uuid.UUID]*models.Order
	list        *internalorders.CustomerOrderList
	lastFilters internalorders.CustomerOrderFilters
}

func (s *stubOrdersRepo) WithTx(*gorm.DB) internalorders.Repository { return s }

func (s *stubOrdersRepo) Create(_ context.Context, order *models.Order) (*models.Order, error) {
	return order, nil
}

func (s *stubOrdersRepo) CreateLineItems(context.Context, []models.OrderLineItem) error { return nil }

func (s *stubOrdersRepo) FindByID(_ context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.find(orderID)
}

func (s *stubOrdersRepo) FindByIDWithItems(_ context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.find(orderID)
}

func (s *stubOrdersRepo) FindByPaymentIntentID(context.Context, string) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrdersRepo) ListByCustomer(_ context.Context, _ uuid.UUID, _ pagination.Params, filters internalorders.CustomerOrderFilters) (*internalorders.CustomerOrderList, error) {
	s.lastFilters = filters
	if s.list != nil {
		return s.list, nil
	}
	return &internalorders.CustomerOrderList{}, nil
}

func (s *stubOrdersRepo) FindPendingPaymentBefore(context.Context, time.Time) ([]models.Order, error) {
	return nil, nil
}

func (s *stubOrdersRepo) SetPaymentIntentID(context.Context, uuid.UUID, string) error { return nil }

func (s *stubOrdersRepo) TransitionStatus(context.Context, uuid.UUID, enums.OrderStatus, enums.OrderStatus, map[string]any) (bool, error) {
	return false, nil
}

func (s *stubOrdersRepo) find(orderID uuid.UUID) (*models.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return order, nil
}

func TestListOrders(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	repo := &stubOrdersRepo{list: &internalorders.CustomerOrderList{
		Orders: []models.Order{
			{ID: uuid.New(), OrderNumber: "ORD-20260830-000001", CustomerID: customerID, Status: enums.OrderStatusConfirmed},
		},
		NextCursor: "next",
	}}

	req := authedRequest(http.MethodGet, "/api/v1/orders?status=confirmed", nil, customerID, "customer")
	rec := httptest.NewRecorder()
	ListOrders(repo, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, repo.lastFilters.Status)
	require.Equal(t, enums.OrderStatusConfirmed, *repo.lastFilters.Status)

	var envelope types.SuccessEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	data, ok := envelope.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "next", data["next_cursor"])
}

func TestListOrdersRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	repo := &stubOrdersRepo{}
	req := authedRequest(http.MethodGet, "/api/v1/orders?status=bogus", nil, uuid.New(), "customer")
	rec := httptest.NewRecorder()
	ListOrders(repo, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderDetailChecksOwnership(t *testing.T) {
	t.Parallel()

	customerID := uuid.New()
	orderID := uuid.New()
	repo := &stubOrdersRepo{orders: map[uuid.UUID]*models.Order{
		orderID: {ID: orderID, OrderNumber: "ORD-20260830-000002", CustomerID: customerID, Status: enums.OrderStatusPendingPayment},
	}}

	router := chi.NewRouter()
	router.Get("/orders/{orderId}", OrderDetail(repo, nil))

	// Owner sees the order.
	req := authedRequest(http.MethodGet, fmt.Sprintf("/orders/%s", orderID), nil, customerID, "customer")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Anyone else gets forbidden.
	req = authedRequest(http.MethodGet, fmt.Sprintf("/orders/%s", orderID), nil, uuid.New(), "customer")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOrderDetailNotFound(t *testing.T) {
	t.Parallel()

	repo := &stubOrdersRepo{}
	router := chi.NewRouter()
	router.Get("/orders/{orderId}", OrderDetail(repo, nil))

	req := authedRequest(http.MethodGet, fmt.Sprintf("/orders/%s", uuid.New()), nil, uuid.New(), "customer")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
