package cron

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/inkwellbooks/bookstore-backend/internal/gateway"
	"github.com/inkwellbooks/bookstore-backend/internal/payments"
	"github.com/inkwellbooks/bookstore-backend/pkg/db/models"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
	"github.com/inkwellbooks/bookstore-backend/pkg/logger"
)

type stubPendingReader struct {
	orders []models.Order
	cutoff time.Time
}

func (s *stubPendingReader) FindPendingPaymentBefore(_ context.Context, cutoff time.Time) ([]models.Order, error) {
	s.cutoff = cutoff
	return s.orders, nil
}

type stubIntentRetriever struct {
	intents map[string]*gateway.Intent
}

func (s *stubIntentRetriever) RetrieveIntent(_ context.Context, intentID string) (*gateway.Intent, error) {
	intent, ok := s.intents[intentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway unavailable")
	}
	return intent, nil
}

type stubSettlement struct {
	outcomes  []gateway.WebhookOutcome
	cancelled []uuid.UUID
}

func (s *stubSettlement) HandleWebhookOutcome(_ context.Context, outcome gateway.WebhookOutcome) error {
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func (s *stubSettlement) Cancel(_ context.Context, orderID uuid.UUID, _ payments.Actor, _ string) (*models.Order, error) {
	s.cancelled = append(s.cancelled, orderID)
	return &models.Order{ID: orderID}, nil
}

func pendingOrder(intentID *string) models.Order {
	return models.Order{
		ID:              uuid.New(),
		OrderNumber:     "ORD-" + uuid.NewString()[:8],
		CustomerID:      uuid.New(),
		PaymentIntentID: intentID,
	}
}

func newReconcileJob(t *testing.T, reader *stubPendingReader, retriever *stubIntentRetriever, settlement *stubSettlement) Job {
	t.Helper()
	job, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "test"}),
		PendingReader: reader,
		Gateway:       retriever,
		Payments:      settlement,
		PendingTTL:    30 * time.Minute,
	})
	require.NoError(t, err)
	return job
}

func TestPaymentReconcileExpiresUnpaidOrders(t *testing.T) {
	t.Parallel()

	intentID := "pi_stale"
	reader := &stubPendingReader{orders: []models.Order{pendingOrder(&intentID)}}
	retriever := &stubIntentRetriever{intents: map[string]*gateway.Intent{
		intentID: {ID: intentID, Status: gateway.IntentStatusRequiresPayment},
	}}
	settlement := &stubSettlement{}

	job := newReconcileJob(t, reader, retriever, settlement)
	require.NoError(t, job.Run(context.Background()))

	require.Len(t, settlement.outcomes, 1)
	require.Equal(t, gateway.OutcomeFailed, settlement.outcomes[0].Kind)
	require.Equal(t, reconcileReason, settlement.outcomes[0].FailureReason)
}

// A lost success webhook must not expire a paid order; the sweep settles it.
func TestPaymentReconcileSettlesPaidOrders(t *testing.T) {
	t.Parallel()

	intentID := "pi_paid"
	reader := &stubPendingReader{orders: []models.Order{pendingOrder(&intentID)}}
	retriever := &stubIntentRetriever{intents: map[string]*gateway.Intent{
		intentID: {ID: intentID, Status: gateway.IntentStatusSucceeded},
	}}
	settlement := &stubSettlement{}

	job := newReconcileJob(t, reader, retriever, settlement)
	require.NoError(t, job.Run(context.Background()))

	require.Len(t, settlement.outcomes, 1)
	require.Equal(t, gateway.OutcomeSucceeded, settlement.outcomes[0].Kind)
	require.Empty(t, settlement.cancelled)
}

func TestPaymentReconcileCancelsOrdersWithoutIntent(t *testing.T) {
	t.Parallel()

	order := pendingOrder(nil)
	reader := &stubPendingReader{orders: []models.Order{order}}
	retriever := &stubIntentRetriever{}
	settlement := &stubSettlement{}

	job := newReconcileJob(t, reader, retriever, settlement)
	require.NoError(t, job.Run(context.Background()))

	require.Equal(t, []uuid.UUID{order.ID}, settlement.cancelled)
	require.Empty(t, settlement.outcomes)
}

// One unreachable intent must not abort the rest of the sweep.
func TestPaymentReconcileContinuesPastFailures(t *testing.T) {
	t.Parallel()

	badIntent := "pi_unreachable"
	goodIntent := "pi_ok"
	reader := &stubPendingReader{orders: []models.Order{
		pendingOrder(&badIntent),
		pendingOrder(&goodIntent),
	}}
	retriever := &stubIntentRetriever{intents: map[string]*gateway.Intent{
		goodIntent: {ID: goodIntent, Status: gateway.IntentStatusRequiresPayment},
	}}
	settlement := &stubSettlement{}

	job := newReconcileJob(t, reader, retriever, settlement)
	err := job.Run(context.Background())
	require.Error(t, err)

	require.Len(t, settlement.outcomes, 1)
	require.Equal(t, goodIntent, settlement.outcomes[0].IntentID)
}
