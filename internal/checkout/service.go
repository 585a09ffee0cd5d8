package checkout

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkwellbooks/bookstore-backend/internal/books"
	"github.com/inkwellbooks/bookstore-backend/internal/gateway"
	"github.com/inkwellbooks/bookstore-backend/internal/inventory"
	"github.com/inkwellbooks/bookstore-backend/internal/orders"
	"github.com/inkwellbooks/bookstore-backend/pkg/db/models"
	"github.com/inkwellbooks/bookstore-backend/pkg/enums"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
	"github.com/inkwellbooks/bookstore-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type reservationRunner interface {
	Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, requests []inventory.ReservationRequest) ([]inventory.ReservationResult, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type numberGenerator interface {
	Next(ctx context.Context) (string, error)
}

type reservationEngine struct{}

func (reservationEngine) Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, requests []inventory.ReservationRequest) ([]inventory.ReservationResult, error) {
	return inventory.ReserveInventory(ctx, tx, orderID, requests)
}

// Service executes checkout orchestration.
type Service interface {
	Execute(ctx context.Context, customerID uuid.UUID, input CheckoutInput) (*CheckoutResult, error)
	RequestPaymentIntent(ctx context.Context, customerID, orderID uuid.UUID) (*CheckoutResult, error)
}

// CheckoutItem is one requested cart line.
type CheckoutItem struct {
	BookID uuid.UUID
	Qty    int
}

// CheckoutInput carries the customer's cart.
type CheckoutInput struct {
	Items []CheckoutItem
}

// CheckoutResult returns the created order plus the gateway handle the client
// needs to collect payment.
type CheckoutResult struct {
	Order        *models.Order
	IntentID     string
	ClientSecret string
}

// OrderCreatedEvent is emitted when checkout persists an order.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	CustomerID  uuid.UUID         `json:"customer_id"`
	Status      enums.OrderStatus `json:"status"`
	TotalCents  int               `json:"total_cents"`
	Currency    string            `json:"currency"`
	ItemCount   int               `json:"item_count"`
}

type service struct {
	tx          txRunner
	ordersRepo  orders.Repository
	bookRepo    books.Repository
	reservation reservationRunner
	outbox      outboxPublisher
	gateway     gateway.PaymentGateway
	numbers     numberGenerator
	currency    string
}

// NewService builds the checkout service.
func NewService(
	tx txRunner,
	ordersRepo orders.Repository,
	bookRepo books.Repository,
	reservation reservationRunner,
	publisher outboxPublisher,
	gw gateway.PaymentGateway,
	numbers numberGenerator,
	currency string,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if bookRepo == nil {
		return nil, fmt.Errorf("book repository required")
	}
	if reservation == nil {
		reservation = reservationEngine{}
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if gw == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if numbers == nil {
		return nil, fmt.Errorf("order number generator required")
	}
	if currency == "" {
		currency = "usd"
	}
	return &service{
		tx:          tx,
		ordersRepo:  ordersRepo,
		bookRepo:    bookRepo,
		reservation: reservation,
		outbox:      publisher,
		gateway:     gw,
		numbers:     numbers,
		currency:    currency,
	}, nil
}

// Execute runs the all-or-nothing checkout transaction: price capture, order
// row, line items, inventory holds, and the order_created outbox event either
// all land or none do. The payment intent is opened only after the commit, so
// a gateway outage can never leave phantom holds behind.
func (s *service) Execute(ctx context.Context, customerID uuid.UUID, input CheckoutInput) (*CheckoutResult, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	items, err := normalizeItems(input.Items)
	if err != nil {
		return nil, err
	}

	orderNumber, err := s.numbers.Next(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate order number")
	}

	var order *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ordersRepo := s.ordersRepo.WithTx(tx)

		ids := make([]uuid.UUID, len(items))
		for i, item := range items {
			ids[i] = item.BookID
		}
		catalog, err := s.bookRepo.WithTx(tx).FindActiveByIDs(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load books")
		}
		byID := make(map[uuid.UUID]models.Book, len(catalog))
		for _, book := range catalog {
			byID[book.ID] = book
		}

		missing := []string{}
		for _, item := range items {
			if _, ok := byID[item.BookID]; !ok {
				missing = append(missing, item.BookID.String())
			}
		}
		if len(missing) > 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "book not found").
				WithDetails(map[string]any{"book_ids": missing})
		}

		total := 0
		lines := make([]models.OrderLineItem, len(items))
		for i, item := range items {
			book := byID[item.BookID]
			lineTotal := book.UnitPriceCents * item.Qty
			lines[i] = models.OrderLineItem{
				BookID:         book.ID,
				Title:          book.Title,
				UnitPriceCents: book.UnitPriceCents,
				Qty:            item.Qty,
				TotalCents:     lineTotal,
			}
			total += lineTotal
		}

		created, err := ordersRepo.Create(ctx, &models.Order{
			OrderNumber: orderNumber,
			CustomerID:  customerID,
			Status:      enums.OrderStatusPendingPayment,
			TotalCents:  total,
			Currency:    s.currency,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		for i := range lines {
			lines[i].OrderID = created.ID
		}
		if err := ordersRepo.CreateLineItems(ctx, lines); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create line items")
		}

		requests := make([]inventory.ReservationRequest, len(items))
		for i, item := range items {
			requests[i] = inventory.ReservationRequest{BookID: item.BookID, Qty: item.Qty}
		}
		results, err := s.reservation.Reserve(ctx, tx, created.ID, requests)
		if err != nil {
			return err
		}

		failures := []map[string]any{}
		for _, result := range results {
			if result.Reserved {
				continue
			}
			failures = append(failures, map[string]any{
				"book_id":   result.BookID.String(),
				"requested": result.Qty,
				"reason":    result.Reason,
			})
		}
		if len(failures) > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
				WithDetails(map[string]any{"items": failures})
		}

		created.Items = lines
		order = created

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   created.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{UserID: customerID, Role: "customer"},
			Data: OrderCreatedEvent{
				OrderID:     created.ID,
				OrderNumber: created.OrderNumber,
				CustomerID:  created.CustomerID,
				Status:      created.Status,
				TotalCents:  created.TotalCents,
				Currency:    created.Currency,
				ItemCount:   len(lines),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	return s.attachIntent(ctx, order)
}

// RequestPaymentIntent lets a customer retry intent creation for an order that
// is still awaiting payment, returning the existing intent when it is usable.
func (s *service) RequestPaymentIntent(ctx context.Context, customerID, orderID uuid.UUID) (*CheckoutResult, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.ordersRepo.FindByIDWithItems(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
	}
	if order.Status != enums.OrderStatusPendingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment")
	}

	if order.PaymentIntentID != nil {
		intent, err := s.gateway.RetrieveIntent(ctx, *order.PaymentIntentID)
		if err != nil {
			return nil, s.gatewayError(err, order)
		}
		if !intent.Status.Terminal() {
			return &CheckoutResult{Order: order, IntentID: intent.ID, ClientSecret: intent.ClientSecret}, nil
		}
		if intent.Status == gateway.IntentStatusSucceeded {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment already completed for this order")
		}
		// Canceled at the gateway: fall through and open a fresh intent.
	}

	return s.attachIntent(ctx, order)
}

func (s *service) attachIntent(ctx context.Context, order *models.Order) (*CheckoutResult, error) {
	intent, err := s.gateway.CreateIntent(ctx, gateway.CreateIntentInput{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		AmountCents: order.TotalCents,
		Currency:    order.Currency,
	})
	if err != nil {
		return nil, s.gatewayError(err, order)
	}

	if err := s.ordersRepo.SetPaymentIntentID(ctx, order.ID, intent.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment intent id").
			WithDetails(orderRef(order))
	}
	order.PaymentIntentID = &intent.ID

	return &CheckoutResult{
		Order:        order,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// gatewayError preserves the order reference so callers can retry intent
// creation without re-running checkout.
func (s *service) gatewayError(err error, order *models.Order) error {
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway unavailable").
		WithDetails(orderRef(order))
}

func orderRef(order *models.Order) map[string]any {
	return map[string]any{
		"order_id":     order.ID.String(),
		"order_number": order.OrderNumber,
	}
}

func normalizeItems(items []CheckoutItem) ([]CheckoutItem, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout requires at least one item")
	}

	merged := make([]CheckoutItem, 0, len(items))
	index := map[uuid.UUID]int{}
	for _, item := range items {
		if item.BookID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "book id required")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item qty must be positive")
		}
		if at, ok := index[item.BookID]; ok {
			merged[at].Qty += item.Qty
			continue
		}
		index[item.BookID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}
