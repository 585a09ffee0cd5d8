package payments

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/inkwellbooks/bookstore-backend/internal/gateway"
	"github.com/inkwellbooks/bookstore-backend/internal/inventory"
	"github.com/inkwellbooks/bookstore-backend/internal/orders"
	"github.com/inkwellbooks/bookstore-backend/pkg/db/models"
	"github.com/inkwellbooks/bookstore-backend/pkg/enums"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
	"github.com/inkwellbooks/bookstore-backend/pkg/outbox"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubPublisher struct {
	events []outbox.DomainEvent
}

func (s *stubPublisher) Emit(_ context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	s.events = append(s.events, event)
	return nil
}

type stubGateway struct {
	intents map[string]*gateway.Intent
}

func (s *stubGateway) CreateIntent(_ context.Context, input gateway.CreateIntentInput) (*gateway.Intent, error) {
	return nil, fmt.Errorf("not used in payments tests")
}

func (s *stubGateway) RetrieveIntent(_ context.Context, intentID string) (*gateway.Intent, error) {
	intent, ok := s.intents[intentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "intent not found")
	}
	return intent, nil
}

type paymentsFixture struct {
	db        *gorm.DB
	svc       Service
	gateway   *stubGateway
	publisher *stubPublisher
}

func newFixture(t *testing.T) *paymentsFixture {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Book{}, &models.InventoryItem{}, &models.Reservation{},
		&models.Order{}, &models.OrderLineItem{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	gw := &stubGateway{intents: map[string]*gateway.Intent{}}
	publisher := &stubPublisher{}
	svc, err := NewService(testTxRunner{db: db}, orders.NewRepository(db), gw, publisher, nil, nil, nil)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return &paymentsFixture{db: db, svc: svc, gateway: gw, publisher: publisher}
}

// seedPendingOrder creates a pending_payment order with one held reservation
// of qty 2 against a stock of 10, plus a gateway intent in the given status.
func (f *paymentsFixture) seedPendingOrder(t *testing.T, intentStatus gateway.IntentStatus) *models.Order {
	t.Helper()
	bookID := uuid.New()
	if err := f.db.Create(&models.InventoryItem{BookID: bookID, OnHandQty: 10, AvailableQty: 10}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	order := models.Order{
		ID:          uuid.New(),
		OrderNumber: "ORD-TEST-" + uuid.NewString()[:6],
		CustomerID:  uuid.New(),
		Status:      enums.OrderStatusPendingPayment,
		TotalCents:  3000,
		Currency:    "usd",
	}
	intentID := "pi_" + uuid.NewString()[:8]
	order.PaymentIntentID = &intentID
	if err := f.db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, terr := inventory.ReserveInventory(context.Background(), tx, order.ID,
			[]inventory.ReservationRequest{{BookID: bookID, Qty: 2}})
		return terr
	})
	if err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	f.gateway.intents[intentID] = &gateway.Intent{
		ID:     intentID,
		Status: intentStatus,
	}
	return &order
}

func (f *paymentsFixture) orderStatus(t *testing.T, orderID uuid.UUID) enums.OrderStatus {
	t.Helper()
	var order models.Order
	if err := f.db.First(&order, "id = ?", orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	return order.Status
}

func (f *paymentsFixture) inventoryFor(t *testing.T, orderID uuid.UUID) models.InventoryItem {
	t.Helper()
	var res models.Reservation
	if err := f.db.First(&res, "order_id = ?", orderID).Error; err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	var inv models.InventoryItem
	if err := f.db.First(&inv, "book_id = ?", res.BookID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	return inv
}

func TestConfirmPaymentSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedPendingOrder(t, gateway.IntentStatusSucceeded)

	confirmed, err := f.svc.ConfirmPayment(ctx, order.CustomerID, order.ID, *order.PaymentIntentID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != enums.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}
	if confirmed.ConfirmedAt == nil {
		t.Fatal("expected confirmed_at stamp")
	}

	inv := f.inventoryFor(t, order.ID)
	if inv.OnHandQty != 8 || inv.ReservedQty != 0 {
		t.Fatalf("expected committed inventory, got %+v", inv)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].EventType != enums.EventOrderConfirmed {
		t.Fatalf("expected order_confirmed event, got %+v", f.publisher.events)
	}
}

func TestConfirmPaymentNotSucceededAtGateway(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.seedPendingOrder(t, gateway.IntentStatusProcessing)

	_, err := f.svc.ConfirmPayment(context.Background(), order.CustomerID, order.ID, "")
	if err == nil {
		t.Fatal("expected state conflict")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.orderStatus(t, order.ID); got != enums.OrderStatusPendingPayment {
		t.Fatalf("order must stay pending, got %s", got)
	}
}

func TestConfirmPaymentIntentMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.seedPendingOrder(t, gateway.IntentStatusSucceeded)

	_, err := f.svc.ConfirmPayment(context.Background(), order.CustomerID, order.ID, "pi_someone_elses")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("unexpected error: %v", err)
	}
}

// The webhook and the client confirm race for the same settlement; inventory
// must be committed exactly once no matter how many signals arrive.
func TestSettlementIsExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedPendingOrder(t, gateway.IntentStatusSucceeded)

	if _, err := f.svc.ConfirmPayment(ctx, order.CustomerID, order.ID, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	outcome := gateway.WebhookOutcome{
		Kind:     gateway.OutcomeSucceeded,
		EventID:  "evt_1",
		IntentID: *order.PaymentIntentID,
	}
	for i := 0; i < 3; i++ {
		if err := f.svc.HandleWebhookOutcome(ctx, outcome); err != nil {
			t.Fatalf("webhook round %d: %v", i, err)
		}
	}

	inv := f.inventoryFor(t, order.ID)
	if inv.OnHandQty != 8 || inv.ReservedQty != 0 || inv.AvailableQty != 8 {
		t.Fatalf("inventory committed more than once: %+v", inv)
	}

	confirmedEvents := 0
	for _, event := range f.publisher.events {
		if event.EventType == enums.EventOrderConfirmed {
			confirmedEvents++
		}
	}
	if confirmedEvents != 1 {
		t.Fatalf("expected exactly one order_confirmed event, got %d", confirmedEvents)
	}
}

func TestWebhookSuccessSettlesOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.seedPendingOrder(t, gateway.IntentStatusSucceeded)

	err := f.svc.HandleWebhookOutcome(context.Background(), gateway.WebhookOutcome{
		Kind:     gateway.OutcomeSucceeded,
		IntentID: *order.PaymentIntentID,
	})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if got := f.orderStatus(t, order.ID); got != enums.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got)
	}
}

func TestWebhookFailureCancelsAndReleases(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.seedPendingOrder(t, gateway.IntentStatusRequiresPayment)

	err := f.svc.HandleWebhookOutcome(context.Background(), gateway.WebhookOutcome{
		Kind:          gateway.OutcomeFailed,
		IntentID:      *order.PaymentIntentID,
		FailureReason: "card declined",
	})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}

	var stored models.Order
	if err := f.db.First(&stored, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if stored.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}
	if stored.FailureReason == nil || *stored.FailureReason != "card declined" {
		t.Fatalf("expected failure reason, got %+v", stored.FailureReason)
	}

	inv := f.inventoryFor(t, order.ID)
	if inv.AvailableQty != 10 || inv.ReservedQty != 0 || inv.OnHandQty != 10 {
		t.Fatalf("expected released inventory, got %+v", inv)
	}
}

func TestWebhookFailureAfterSuccessIsDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedPendingOrder(t, gateway.IntentStatusSucceeded)

	if _, err := f.svc.ConfirmPayment(ctx, order.CustomerID, order.ID, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	err := f.svc.HandleWebhookOutcome(ctx, gateway.WebhookOutcome{
		Kind:          gateway.OutcomeFailed,
		IntentID:      *order.PaymentIntentID,
		FailureReason: "late failure",
	})
	if err != nil {
		t.Fatalf("late failure webhook must be acknowledged: %v", err)
	}
	if got := f.orderStatus(t, order.ID); got != enums.OrderStatusConfirmed {
		t.Fatalf("success must win, got %s", got)
	}
}

func TestWebhookUnknownIntentAcknowledged(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.svc.HandleWebhookOutcome(context.Background(), gateway.WebhookOutcome{
		Kind:     gateway.OutcomeSucceeded,
		IntentID: "pi_never_seen",
	})
	if err != nil {
		t.Fatalf("unknown intent must not error: %v", err)
	}
}

func TestShipDeliverLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedPendingOrder(t, gateway.IntentStatusSucceeded)
	actor := Actor{UserID: uuid.New(), Role: "admin"}

	if _, err := f.svc.ConfirmPayment(ctx, order.CustomerID, order.ID, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	shipped, err := f.svc.MarkShipped(ctx, order.ID, actor)
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if shipped.Status != enums.OrderStatusShipped || shipped.ShippedAt == nil {
		t.Fatalf("unexpected shipped state: %+v", shipped)
	}

	delivered, err := f.svc.MarkDelivered(ctx, order.ID, actor)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if delivered.Status != enums.OrderStatusDelivered || delivered.DeliveredAt == nil {
		t.Fatalf("unexpected delivered state: %+v", delivered)
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	actor := Actor{UserID: uuid.New(), Role: "admin"}

	// Shipping an unpaid order is refused.
	pending := f.seedPendingOrder(t, gateway.IntentStatusRequiresPayment)
	if _, err := f.svc.MarkShipped(ctx, pending.ID, actor); err == nil {
		t.Fatal("expected state conflict shipping a pending order")
	} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("unexpected error: %v", err)
	}

	// Delivering a confirmed (not shipped) order is refused.
	confirmed := f.seedPendingOrder(t, gateway.IntentStatusSucceeded)
	if _, err := f.svc.ConfirmPayment(ctx, confirmed.CustomerID, confirmed.ID, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.svc.MarkDelivered(ctx, confirmed.ID, actor); err == nil {
		t.Fatal("expected state conflict delivering an unshipped order")
	}

	// Cancelling a shipped order is refused, and so is shipping it again.
	if _, err := f.svc.MarkShipped(ctx, confirmed.ID, actor); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, confirmed.ID, actor, "too late"); err == nil {
		t.Fatal("expected state conflict cancelling a shipped order")
	}
	if _, err := f.svc.MarkShipped(ctx, confirmed.ID, actor); err == nil {
		t.Fatal("expected state conflict re-shipping a shipped order")
	} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("unexpected error: %v", err)
	}

	// Delivered is terminal. Repeating the delivery is refused too.
	if _, err := f.svc.MarkDelivered(ctx, confirmed.ID, actor); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, confirmed.ID, actor, "way too late"); err == nil {
		t.Fatal("expected state conflict cancelling a delivered order")
	}
	if _, err := f.svc.MarkDelivered(ctx, confirmed.ID, actor); err == nil {
		t.Fatal("expected state conflict re-delivering a delivered order")
	} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCancelPendingReleasesHolds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedPendingOrder(t, gateway.IntentStatusRequiresPayment)
	actor := Actor{UserID: uuid.New(), Role: "admin"}

	cancelled, err := f.svc.Cancel(ctx, order.ID, actor, "customer request")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancel state: %+v", cancelled)
	}

	inv := f.inventoryFor(t, order.ID)
	if inv.AvailableQty != 10 || inv.ReservedQty != 0 {
		t.Fatalf("expected holds released, got %+v", inv)
	}
}

func TestCancelConfirmedRestocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedPendingOrder(t, gateway.IntentStatusSucceeded)
	actor := Actor{UserID: uuid.New(), Role: "admin"}

	if _, err := f.svc.ConfirmPayment(ctx, order.CustomerID, order.ID, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	inv := f.inventoryFor(t, order.ID)
	if inv.OnHandQty != 8 {
		t.Fatalf("expected committed stock before cancel, got %+v", inv)
	}

	cancelled, err := f.svc.Cancel(ctx, order.ID, actor, "refund requested")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	inv = f.inventoryFor(t, order.ID)
	if inv.OnHandQty != 10 || inv.AvailableQty != 10 || inv.ReservedQty != 0 {
		t.Fatalf("expected restocked inventory, got %+v", inv)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := f.seedPendingOrder(t, gateway.IntentStatusRequiresPayment)
	actor := Actor{UserID: uuid.New(), Role: "admin"}

	if _, err := f.svc.Cancel(ctx, order.ID, actor, "first"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, order.ID, actor, "second"); err != nil {
		t.Fatalf("repeat cancel must be a no-op: %v", err)
	}

	inv := f.inventoryFor(t, order.ID)
	if inv.AvailableQty != 10 || inv.ReservedQty != 0 {
		t.Fatalf("repeat cancel must not double-release: %+v", inv)
	}
}
