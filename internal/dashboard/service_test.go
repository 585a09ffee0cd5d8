package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/inkwellbooks/bookstore-backend/internal/books"
	"github.com/inkwellbooks/bookstore-backend/pkg/config"
	"github.com/inkwellbooks/bookstore-backend/pkg/db/models"
	"github.com/inkwellbooks/bookstore-backend/pkg/enums"
)

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := "file:dashboard_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Book{}, &models.InventoryItem{},
		&models.Order{}, &models.OrderLineItem{}, &models.Customer{},
	))

	svc, err := NewService(db, books.NewRepository(db), config.DashboardConfig{
		PeriodDays:        30,
		LowStockThreshold: 10,
		SignupWindowDays:  7,
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return testNow }
	return svc, db
}

func seedOrder(t *testing.T, db *gorm.DB, status enums.OrderStatus, totalCents int, createdAt time.Time) models.Order {
	t.Helper()
	order := models.Order{
		ID:          uuid.New(),
		OrderNumber: "ORD-" + uuid.NewString()[:8],
		CustomerID:  uuid.New(),
		Status:      status,
		TotalCents:  totalCents,
		Currency:    "usd",
	}
	require.NoError(t, db.Create(&order).Error)
	// autoCreateTime stamps now; rewrite for deterministic windows.
	require.NoError(t, db.Model(&models.Order{}).Where("id = ?", order.ID).Update("created_at", createdAt).Error)
	order.CreatedAt = createdAt
	return order
}

func seedCustomer(t *testing.T, db *gorm.DB, name string, createdAt time.Time) models.Customer {
	t.Helper()
	customer := models.Customer{
		ID:       uuid.New(),
		Email:    uuid.NewString()[:8] + "@example.com",
		FullName: name,
	}
	require.NoError(t, db.Create(&customer).Error)
	require.NoError(t, db.Model(&models.Customer{}).Where("id = ?", customer.ID).Update("created_at", createdAt).Error)
	customer.CreatedAt = createdAt
	return customer
}

func TestGetStatsRevenueOnlyCountsSettledOrders(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	inWindow := testNow.Add(-24 * time.Hour)

	seedOrder(t, db, enums.OrderStatusConfirmed, 1000, inWindow)
	seedOrder(t, db, enums.OrderStatusShipped, 2000, inWindow)
	seedOrder(t, db, enums.OrderStatusDelivered, 4000, inWindow)
	seedOrder(t, db, enums.OrderStatusPendingPayment, 100000, inWindow)
	seedOrder(t, db, enums.OrderStatusCancelled, 50000, inWindow)

	stats, err := svc.GetStats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 7000, stats.Current.RevenueCents)
	require.EqualValues(t, 3, stats.Current.OrderCount)
	require.EqualValues(t, 1, stats.PendingOrderCount)
}

func TestGetStatsPeriodOverPeriod(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	current := testNow.Add(-24 * time.Hour)
	previous := testNow.Add(-35 * 24 * time.Hour)

	seedOrder(t, db, enums.OrderStatusConfirmed, 3000, current)
	seedOrder(t, db, enums.OrderStatusConfirmed, 2000, previous)

	stats, err := svc.GetStats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3000, stats.Current.RevenueCents)
	require.EqualValues(t, 2000, stats.Previous.RevenueCents)
	require.True(t, stats.RevenueChangePct.Equal(decimal.NewFromInt(50)),
		"expected +50%%, got %s", stats.RevenueChangePct)
}

// A store with no prior-period revenue divides by one, not zero, so the pct
// equals the raw current value times one hundred.
func TestGetStatsEmptyPreviousPeriodQuirk(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	seedOrder(t, db, enums.OrderStatusConfirmed, 500, testNow.Add(-24*time.Hour))

	stats, err := svc.GetStats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.Previous.RevenueCents)
	require.True(t, stats.RevenueChangePct.Equal(decimal.NewFromInt(50000)),
		"expected 50000%%, got %s", stats.RevenueChangePct)
}

func TestRecentOrdersOrderedAndLimited(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	for i := 0; i < 5; i++ {
		seedOrder(t, db, enums.OrderStatusConfirmed, 1000, testNow.Add(-time.Duration(i)*time.Hour))
	}

	rows, err := svc.RecentOrders(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.True(t, rows[0].CreatedAt.After(rows[1].CreatedAt))
	require.True(t, rows[1].CreatedAt.After(rows[2].CreatedAt))
}

func TestActivitiesMergedFeed(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)

	book := models.Book{ID: uuid.New(), Title: "Rare Title", Author: "A. Writer", UnitPriceCents: 900, Currency: "usd", Active: true}
	require.NoError(t, db.Create(&book).Error)
	require.NoError(t, db.Create(&models.InventoryItem{BookID: book.ID, OnHandQty: 3, AvailableQty: 3}).Error)

	seedCustomer(t, db, "Recent Joiner", testNow.Add(-2*24*time.Hour))
	seedCustomer(t, db, "Old Timer", testNow.Add(-40*24*time.Hour))
	seedOrder(t, db, enums.OrderStatusConfirmed, 1500, testNow.Add(-1*time.Hour))

	feed, err := svc.Activities(context.Background(), 0)
	require.NoError(t, err)

	kinds := map[string]int{}
	for _, entry := range feed {
		kinds[entry.Kind]++
	}
	require.Equal(t, 1, kinds[ActivityLowStock])
	require.Equal(t, 1, kinds[ActivityNewCustomer], "signups outside the window are excluded")
	require.Equal(t, 1, kinds[ActivityOrderPlaced])

	for i := 1; i < len(feed); i++ {
		require.False(t, feed[i].OccurredAt.After(feed[i-1].OccurredAt), "feed must be newest first")
	}
}

func TestActivitiesTruncated(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	for i := 0; i < 15; i++ {
		seedCustomer(t, db, "Joiner", testNow.Add(-time.Duration(i)*time.Hour))
	}

	// Zero falls back to the default feed size.
	feed, err := svc.Activities(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, feed, activityFeedLimit)
}

func TestActivitiesHonorsRequestedLimit(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	for i := 0; i < 15; i++ {
		seedCustomer(t, db, "Joiner", testNow.Add(-time.Duration(i)*time.Hour))
	}

	feed, err := svc.Activities(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, feed, 5)

	feed, err = svc.Activities(context.Background(), 12)
	require.NoError(t, err)
	require.Len(t, feed, 12)
}
