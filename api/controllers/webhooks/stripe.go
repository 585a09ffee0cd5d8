package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/inkwellbooks/bookstore-backend/api/responses"
	"github.com/inkwellbooks/bookstore-backend/internal/gateway"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
	"github.com/inkwellbooks/bookstore-backend/pkg/logger"
	"github.com/inkwellbooks/bookstore-backend/pkg/metrics"
)

type settlementService interface {
	HandleWebhookOutcome(ctx context.Context, outcome gateway.WebhookOutcome) error
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// StripeWebhook handles payment intent lifecycle events. Redelivered events
// are acknowledged without reprocessing; unknown event types are acked so the
// gateway stops retrying them.
func StripeWebhook(
	parser gateway.WebhookParser,
	svc settlementService,
	guard webhookGuard,
	paymentMetrics *metrics.PaymentMetrics,
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if parser == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook parser unavailable"))
			return
		}
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			paymentMetrics.IncWebhook("invalid_signature")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		outcome, err := parser.ParseWebhook(payload, sigHeader)
		if err != nil {
			paymentMetrics.IncWebhook("invalid_signature")
			if logg != nil {
				logg.Warn(ctx, "webhook rejected: signature verification failed")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if outcome.Kind == gateway.OutcomeIgnored {
			paymentMetrics.IncWebhook("ignored")
			if logg != nil {
				eventCtx := logg.WithField(ctx, "event_type", outcome.EventType)
				logg.Warn(eventCtx, "ignoring unhandled webhook event type")
			}
			responses.WriteSuccess(w, nil)
			return
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, outcome.EventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			paymentMetrics.IncWebhook("duplicate")
			responses.WriteSuccess(w, nil)
			return
		}

		if err := svc.HandleWebhookOutcome(ctx, *outcome); err != nil {
			_ = guard.Delete(ctx, outcome.EventID)
			paymentMetrics.IncWebhook("error")
			responses.WriteError(ctx, logg, w, err)
			return
		}

		paymentMetrics.IncWebhook("processed")
		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("stripe event %s processed", outcome.EventID))
		}
		responses.WriteSuccess(w, nil)
	}
}
