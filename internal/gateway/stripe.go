package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
	pkgstripe "github.com/inkwellbooks/bookstore-backend/pkg/stripe"
)

// StripeGateway adapts Stripe payment intents and webhooks to the
// provider-agnostic gateway surface.
type StripeGateway struct {
	client *pkgstripe.Client
}

// NewStripeGateway wires the configured Stripe client.
func NewStripeGateway(client *pkgstripe.Client) (*StripeGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	return &StripeGateway{client: client}, nil
}

func (g *StripeGateway) CreateIntent(ctx context.Context, input CreateIntentInput) (*Intent, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(input.AmountCents)),
		Currency: stripe.String(input.Currency),
	}
	params.Context = ctx
	params.AddMetadata("order_id", input.OrderID.String())
	params.AddMetadata("order_number", input.OrderNumber)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve payment intent")
	}
	return intentFromStripe(pi), nil
}

// ParseWebhook verifies the signature before anything else. A payload that
// fails verification is never inspected further.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookOutcome, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.client.SigningSecret())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook signature")
	}
	return TranslateEvent(event)
}

// TranslateEvent maps a verified Stripe event onto an order outcome.
func TranslateEvent(event stripe.Event) (*WebhookOutcome, error) {
	outcome := &WebhookOutcome{
		EventID:   event.ID,
		EventType: string(event.Type),
	}

	switch event.Type {
	case "payment_intent.succeeded":
		outcome.Kind = OutcomeSucceeded
	case "payment_intent.payment_failed":
		outcome.Kind = OutcomeFailed
	case "payment_intent.canceled":
		outcome.Kind = OutcomeFailed
		outcome.FailureReason = "canceled by gateway"
	default:
		outcome.Kind = OutcomeIgnored
		return outcome, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent payload")
	}
	if pi.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload missing intent id")
	}
	outcome.IntentID = pi.ID

	if outcome.Kind == OutcomeFailed && outcome.FailureReason == "" {
		outcome.FailureReason = "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			outcome.FailureReason = pi.LastPaymentError.Msg
		}
	}
	return outcome, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       IntentStatus(pi.Status),
		AmountCents:  int(pi.Amount),
		Currency:     string(pi.Currency),
	}
}
