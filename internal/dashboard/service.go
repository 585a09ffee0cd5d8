package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/inkwellbooks/bookstore-backend/internal/books"
	"github.com/inkwellbooks/bookstore-backend/pkg/config"
	"github.com/inkwellbooks/bookstore-backend/pkg/db/models"
	"github.com/inkwellbooks/bookstore-backend/pkg/enums"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
)

// revenueStatuses are the order states that count toward revenue. Pending and
// cancelled orders never do.
var revenueStatuses = []enums.OrderStatus{
	enums.OrderStatusConfirmed,
	enums.OrderStatusShipped,
	enums.OrderStatusDelivered,
}

// PeriodStats aggregates one reporting window.
type PeriodStats struct {
	RevenueCents     int64 `json:"revenue_cents"`
	OrderCount       int64 `json:"order_count"`
	NewCustomerCount int64 `json:"new_customer_count"`
}

// Stats is the storefront overview: the current window, the window before it,
// and period-over-period change percentages.
type Stats struct {
	PeriodDays         int             `json:"period_days"`
	Current            PeriodStats     `json:"current"`
	Previous           PeriodStats     `json:"previous"`
	RevenueChangePct   decimal.Decimal `json:"revenue_change_pct"`
	OrdersChangePct    decimal.Decimal `json:"orders_change_pct"`
	CustomersChangePct decimal.Decimal `json:"customers_change_pct"`
	PendingOrderCount  int64           `json:"pending_order_count"`
}

// Activity is one entry in the merged storefront activity feed.
type Activity struct {
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	RefID      string    `json:"ref_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

const (
	ActivityLowStock    = "low_stock"
	ActivityNewCustomer = "new_customer"
	ActivityOrderPlaced = "order_placed"
)

const (
	recentOrderSample = 3
	activityFeedLimit = 10
)

// Service serves the admin dashboard reads straight from the order ledger.
type Service struct {
	db       *gorm.DB
	bookRepo books.Repository
	cfg      config.DashboardConfig
	now      func() time.Time
}

// NewService builds the dashboard query service.
func NewService(db *gorm.DB, bookRepo books.Repository, cfg config.DashboardConfig) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if bookRepo == nil {
		return nil, fmt.Errorf("book repository required")
	}
	if cfg.PeriodDays <= 0 {
		cfg.PeriodDays = 30
	}
	if cfg.LowStockThreshold <= 0 {
		cfg.LowStockThreshold = 10
	}
	if cfg.SignupWindowDays <= 0 {
		cfg.SignupWindowDays = 7
	}
	return &Service{db: db, bookRepo: bookRepo, cfg: cfg, now: time.Now}, nil
}

// GetStats aggregates the current reporting window against the previous one.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	now := s.now().UTC()
	period := time.Duration(s.cfg.PeriodDays) * 24 * time.Hour
	currentStart := now.Add(-period)
	previousStart := currentStart.Add(-period)

	current, err := s.periodStats(ctx, currentStart, now)
	if err != nil {
		return nil, err
	}
	previous, err := s.periodStats(ctx, previousStart, currentStart)
	if err != nil {
		return nil, err
	}

	var pending int64
	err = s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status = ?", enums.OrderStatusPendingPayment).
		Count(&pending).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count pending orders")
	}

	return &Stats{
		PeriodDays:         s.cfg.PeriodDays,
		Current:            *current,
		Previous:           *previous,
		RevenueChangePct:   changePct(current.RevenueCents, previous.RevenueCents),
		OrdersChangePct:    changePct(current.OrderCount, previous.OrderCount),
		CustomersChangePct: changePct(current.NewCustomerCount, previous.NewCustomerCount),
		PendingOrderCount:  pending,
	}, nil
}

// RecentOrders returns the latest orders with their line items.
func (s *Service) RecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []models.Order
	err := s.db.WithContext(ctx).
		Preload("Items").
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load recent orders")
	}
	return rows, nil
}

// Activities merges low-stock warnings, recent signups, and the latest orders
// into a single feed, newest first, truncated to limit entries.
func (s *Service) Activities(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = activityFeedLimit
	}
	now := s.now().UTC()
	feed := []Activity{}

	lowStock, err := s.bookRepo.ListLowStock(ctx, s.cfg.LowStockThreshold)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load low stock")
	}
	for _, entry := range lowStock {
		feed = append(feed, Activity{
			Kind:       ActivityLowStock,
			Message:    fmt.Sprintf("%q is low on stock (%d left)", entry.Title, entry.AvailableQty),
			RefID:      entry.BookID.String(),
			OccurredAt: now,
		})
	}

	signupsSince := now.Add(-time.Duration(s.cfg.SignupWindowDays) * 24 * time.Hour)
	var customers []models.Customer
	err = s.db.WithContext(ctx).
		Where("created_at >= ?", signupsSince).
		Order("created_at DESC").
		Find(&customers).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load recent customers")
	}
	for _, customer := range customers {
		feed = append(feed, Activity{
			Kind:       ActivityNewCustomer,
			Message:    fmt.Sprintf("%s joined the store", customer.FullName),
			RefID:      customer.ID.String(),
			OccurredAt: customer.CreatedAt,
		})
	}

	orders, err := s.RecentOrders(ctx, recentOrderSample)
	if err != nil {
		return nil, err
	}
	for _, order := range orders {
		feed = append(feed, Activity{
			Kind:       ActivityOrderPlaced,
			Message:    fmt.Sprintf("order %s placed (%s)", order.OrderNumber, formatCents(order.TotalCents, order.Currency)),
			RefID:      order.ID.String(),
			OccurredAt: order.CreatedAt,
		})
	}

	sort.SliceStable(feed, func(i, j int) bool {
		return feed[i].OccurredAt.After(feed[j].OccurredAt)
	})
	if len(feed) > limit {
		feed = feed[:limit]
	}
	return feed, nil
}

func (s *Service) periodStats(ctx context.Context, start, end time.Time) (*PeriodStats, error) {
	stats := &PeriodStats{}

	row := struct {
		Revenue int64
		Count   int64
	}{}
	err := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("COALESCE(SUM(total_cents), 0) AS revenue, COUNT(*) AS count").
		Where("status IN ?", revenueStatuses).
		Where("created_at >= ? AND created_at < ?", start, end).
		Scan(&row).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "aggregate revenue")
	}
	stats.RevenueCents = row.Revenue
	stats.OrderCount = row.Count

	err = s.db.WithContext(ctx).
		Model(&models.Customer{}).
		Where("created_at >= ? AND created_at < ?", start, end).
		Count(&stats.NewCustomerCount).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count signups")
	}

	return stats, nil
}

// changePct computes period-over-period change. An empty previous period uses
// a denominator of one so a fresh store reports growth instead of dividing by
// zero.
func changePct(current, previous int64) decimal.Decimal {
	denom := previous
	if denom == 0 {
		denom = 1
	}
	return decimal.NewFromInt(current - previous).
		Div(decimal.NewFromInt(denom)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}

func formatCents(cents int, currency string) string {
	amount := decimal.NewFromInt(int64(cents)).Div(decimal.NewFromInt(100))
	return fmt.Sprintf("%s %s", amount.StringFixed(2), currency)
}
