package checkout

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/inkwellbooks/bookstore-backend/internal/books"
	"github.com/inkwellbooks/bookstore-backend/internal/gateway"
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
	creates   int
	retrieves int
	intents   map[string]*gateway.Intent
	failing   bool
}

func (s *stubGateway) CreateIntent(_ context.Context, input gateway.CreateIntentInput) (*gateway.Intent, error) {
	if s.failing {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway timeout")
	}
	s.creates++
	intent := &gateway.Intent{
		ID:           fmt.Sprintf("pi_%d", s.creates),
		ClientSecret: fmt.Sprintf("secret_%d", s.creates),
		Status:       gateway.IntentStatusRequiresPayment,
		AmountCents:  input.AmountCents,
		Currency:     input.Currency,
	}
	if s.intents == nil {
		s.intents = map[string]*gateway.Intent{}
	}
	s.intents[intent.ID] = intent
	return intent, nil
}

func (s *stubGateway) RetrieveIntent(_ context.Context, intentID string) (*gateway.Intent, error) {
	if s.failing {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway timeout")
	}
	s.retrieves++
	intent, ok := s.intents[intentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "intent not found")
	}
	return intent, nil
}

type stubNumbers struct {
	issued int
}

func (s *stubNumbers) Next(context.Context) (string, error) {
	s.issued++
	return fmt.Sprintf("ORD-TEST-%06d", s.issued), nil
}

type checkoutFixture struct {
	db        *gorm.DB
	svc       Service
	gateway   *stubGateway
	publisher *stubPublisher
}

func newFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
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

	gw := &stubGateway{}
	publisher := &stubPublisher{}
	svc, err := NewService(
		testTxRunner{db: db},
		orders.NewRepository(db),
		books.NewRepository(db),
		nil,
		publisher,
		gw,
		&stubNumbers{},
		"usd",
	)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return &checkoutFixture{db: db, svc: svc, gateway: gw, publisher: publisher}
}

func (f *checkoutFixture) seedBook(t *testing.T, priceCents, stock int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	book := models.Book{
		ID:             id,
		Title:          "The Test Book",
		Author:         "A. Writer",
		ISBN:           id.String(),
		UnitPriceCents: priceCents,
		Currency:       "usd",
		Active:         true,
	}
	if err := f.db.Create(&book).Error; err != nil {
		t.Fatalf("seed book: %v", err)
	}
	if err := f.db.Create(&models.InventoryItem{
		BookID:       book.ID,
		OnHandQty:    stock,
		AvailableQty: stock,
	}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	return book.ID
}

func TestExecuteHappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	bookA := f.seedBook(t, 1500, 10)
	bookB := f.seedBook(t, 900, 3)

	result, err := f.svc.Execute(ctx, customerID, CheckoutInput{Items: []CheckoutItem{
		{BookID: bookA, Qty: 2},
		{BookID: bookB, Qty: 1},
	}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if result.Order.Status != enums.OrderStatusPendingPayment {
		t.Fatalf("expected pending_payment, got %s", result.Order.Status)
	}
	if result.Order.TotalCents != 3900 {
		t.Fatalf("expected total 3900, got %d", result.Order.TotalCents)
	}
	if result.ClientSecret == "" || result.IntentID == "" {
		t.Fatalf("expected gateway handle, got %+v", result)
	}

	var stored models.Order
	if err := f.db.Preload("Items").First(&stored, "id = ?", result.Order.ID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if stored.PaymentIntentID == nil || *stored.PaymentIntentID != result.IntentID {
		t.Fatalf("intent id not persisted: %+v", stored.PaymentIntentID)
	}
	if len(stored.Items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(stored.Items))
	}

	var inv models.InventoryItem
	if err := f.db.First(&inv, "book_id = ?", bookA).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if inv.AvailableQty != 8 || inv.ReservedQty != 2 {
		t.Fatalf("unexpected inventory state: %+v", inv)
	}

	if len(f.publisher.events) != 1 || f.publisher.events[0].EventType != enums.EventOrderCreated {
		t.Fatalf("expected order_created event, got %+v", f.publisher.events)
	}
}

func TestExecuteCapturesPriceAtCheckout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	book := f.seedBook(t, 1200, 5)

	result, err := f.svc.Execute(ctx, customerID, CheckoutInput{Items: []CheckoutItem{{BookID: book, Qty: 1}}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	// A catalog price change after checkout must not touch the order.
	if err := f.db.Model(&models.Book{}).Where("id = ?", book).Update("unit_price_cents", 9999).Error; err != nil {
		t.Fatalf("update price: %v", err)
	}

	var line models.OrderLineItem
	if err := f.db.First(&line, "order_id = ?", result.Order.ID).Error; err != nil {
		t.Fatalf("load line: %v", err)
	}
	if line.UnitPriceCents != 1200 || line.TotalCents != 1200 {
		t.Fatalf("expected captured price 1200, got %+v", line)
	}
}

func TestExecuteInsufficientStockRollsBackEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	bookA := f.seedBook(t, 1500, 10)
	bookB := f.seedBook(t, 900, 1)

	_, err := f.svc.Execute(ctx, customerID, CheckoutInput{Items: []CheckoutItem{
		{BookID: bookA, Qty: 2},
		{BookID: bookB, Qty: 5},
	}})
	if err == nil {
		t.Fatal("expected insufficient stock error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("unexpected error: %v", err)
	}
	if typed.Details() == nil {
		t.Fatal("expected per-line details")
	}

	var orderCount int64
	if err := f.db.Model(&models.Order{}).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 0 {
		t.Fatalf("expected rollback, found %d orders", orderCount)
	}

	// The successful hold on book A must have been rolled back too.
	var invA models.InventoryItem
	if err := f.db.First(&invA, "book_id = ?", bookA).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if invA.AvailableQty != 10 || invA.ReservedQty != 0 {
		t.Fatalf("expected untouched inventory, got %+v", invA)
	}

	if len(f.publisher.events) != 0 {
		t.Fatalf("no events expected on rollback, got %d", len(f.publisher.events))
	}
}

func TestExecuteUnknownBook(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Execute(context.Background(), uuid.New(), CheckoutInput{
		Items: []CheckoutItem{{BookID: uuid.New(), Qty: 1}},
	})
	if err == nil {
		t.Fatal("expected not found error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecuteGatewayDownKeepsOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	book := f.seedBook(t, 2000, 4)

	f.gateway.failing = true
	_, err := f.svc.Execute(ctx, customerID, CheckoutInput{Items: []CheckoutItem{{BookID: book, Qty: 1}}})
	if err == nil {
		t.Fatal("expected dependency error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("unexpected error: %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok || details["order_id"] == nil {
		t.Fatalf("expected order reference in details, got %+v", typed.Details())
	}

	// The order and its holds survive the outage for a later intent retry.
	var stored models.Order
	if err := f.db.First(&stored, "order_number = ?", "ORD-TEST-000001").Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if stored.Status != enums.OrderStatusPendingPayment || stored.PaymentIntentID != nil {
		t.Fatalf("unexpected order state: %+v", stored)
	}

	f.gateway.failing = false
	result, err := f.svc.RequestPaymentIntent(ctx, customerID, stored.ID)
	if err != nil {
		t.Fatalf("retry intent: %v", err)
	}
	if result.ClientSecret == "" {
		t.Fatal("expected client secret on retry")
	}
}

func TestRequestPaymentIntentReturnsExisting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	book := f.seedBook(t, 1000, 4)

	first, err := f.svc.Execute(ctx, customerID, CheckoutInput{Items: []CheckoutItem{{BookID: book, Qty: 1}}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	again, err := f.svc.RequestPaymentIntent(ctx, customerID, first.Order.ID)
	if err != nil {
		t.Fatalf("request intent: %v", err)
	}
	if again.IntentID != first.IntentID {
		t.Fatalf("expected existing intent %s, got %s", first.IntentID, again.IntentID)
	}
	if f.gateway.creates != 1 {
		t.Fatalf("expected a single gateway create, got %d", f.gateway.creates)
	}
}

func TestRequestPaymentIntentWrongCustomer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	book := f.seedBook(t, 1000, 4)

	result, err := f.svc.Execute(ctx, customerID, CheckoutInput{Items: []CheckoutItem{{BookID: book, Qty: 1}}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	_, err = f.svc.RequestPaymentIntent(ctx, uuid.New(), result.Order.ID)
	if err == nil {
		t.Fatal("expected forbidden error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecuteMergesDuplicateLines(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	book := f.seedBook(t, 500, 10)

	result, err := f.svc.Execute(ctx, uuid.New(), CheckoutInput{Items: []CheckoutItem{
		{BookID: book, Qty: 2},
		{BookID: book, Qty: 3},
	}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Order.TotalCents != 2500 {
		t.Fatalf("expected merged total 2500, got %d", result.Order.TotalCents)
	}

	var lineCount int64
	if err := f.db.Model(&models.OrderLineItem{}).Where("order_id = ?", result.Order.ID).Count(&lineCount).Error; err != nil {
		t.Fatalf("count lines: %v", err)
	}
	if lineCount != 1 {
		t.Fatalf("expected a single merged line, got %d", lineCount)
	}
}
