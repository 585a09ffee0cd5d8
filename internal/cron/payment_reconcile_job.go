package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/inkwellbooks/bookstore-backend/internal/gateway"
	"github.com/inkwellbooks/bookstore-backend/internal/payments"
	"github.com/inkwellbooks/bookstore-backend/pkg/db/models"
	"github.com/inkwellbooks/bookstore-backend/pkg/logger"
)

type pendingOrderReader interface {
	FindPendingPaymentBefore(ctx context.Context, cutoff time.Time) ([]models.Order, error)
}

type intentRetriever interface {
	RetrieveIntent(ctx context.Context, intentID string) (*gateway.Intent, error)
}

type settlementHandler interface {
	HandleWebhookOutcome(ctx context.Context, outcome gateway.WebhookOutcome) error
	Cancel(ctx context.Context, orderID uuid.UUID, actor payments.Actor, reason string) (*models.Order, error)
}

const reconcileReason = "payment window expired"

// PaymentReconcileJobParams configure the stale payment sweeper.
type PaymentReconcileJobParams struct {
	Logger        *logger.Logger
	PendingReader pendingOrderReader
	Gateway       intentRetriever
	Payments      settlementHandler
	PendingTTL    time.Duration
}

// NewPaymentReconcileJob builds the cron job that settles or expires orders
// stuck in pending_payment past the checkout TTL.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.PendingReader == nil {
		return nil, fmt.Errorf("pending orders reader required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &paymentReconcileJob{
		logg:          params.Logger,
		pendingReader: params.PendingReader,
		gateway:       params.Gateway,
		payments:      params.Payments,
		pendingTTL:    ttl,
		now:           time.Now,
	}, nil
}

type paymentReconcileJob struct {
	logg          *logger.Logger
	pendingReader pendingOrderReader
	gateway       intentRetriever
	payments      settlementHandler
	pendingTTL    time.Duration
	now           func() time.Time
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

// Run sweeps orders that outlived the payment window. The gateway is asked
// before anything is cancelled: a lost success webhook must still settle the
// order instead of expiring it.
func (j *paymentReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.pendingTTL)
	stale, err := j.pendingReader.FindPendingPaymentBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load stale pending orders: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	var errs error
	for _, order := range stale {
		if err := j.reconcile(ctx, order); err != nil {
			orderCtx := j.logg.WithOrderID(ctx, order.ID.String())
			j.logg.Error(orderCtx, "reconcile failed", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (j *paymentReconcileJob) reconcile(ctx context.Context, order models.Order) error {
	if order.PaymentIntentID == nil {
		_, err := j.payments.Cancel(ctx, order.ID, payments.Actor{}, reconcileReason)
		return err
	}

	intent, err := j.gateway.RetrieveIntent(ctx, *order.PaymentIntentID)
	if err != nil {
		return err
	}

	if intent.Status == gateway.IntentStatusSucceeded {
		orderCtx := j.logg.WithOrderID(ctx, order.ID.String())
		j.logg.Warn(orderCtx, "found paid order stuck in pending_payment; settling")
		return j.payments.HandleWebhookOutcome(ctx, gateway.WebhookOutcome{
			Kind:     gateway.OutcomeSucceeded,
			IntentID: intent.ID,
		})
	}

	return j.payments.HandleWebhookOutcome(ctx, gateway.WebhookOutcome{
		Kind:          gateway.OutcomeFailed,
		IntentID:      intent.ID,
		FailureReason: reconcileReason,
	})
}
