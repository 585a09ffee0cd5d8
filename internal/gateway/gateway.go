package gateway

import (
	"context"

	"github.com/google/uuid"
)

// IntentStatus mirrors the gateway-side lifecycle of a payment intent.
type IntentStatus string

const (
	IntentStatusRequiresPayment IntentStatus = "requires_payment_method"
	IntentStatusProcessing      IntentStatus = "processing"
	IntentStatusSucceeded       IntentStatus = "succeeded"
	IntentStatusCanceled        IntentStatus = "canceled"
)

// Terminal reports whether the gateway will not move the intent further.
func (s IntentStatus) Terminal() bool {
	return s == IntentStatusSucceeded || s == IntentStatusCanceled
}

// Intent is the provider-agnostic view of a gateway payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	AmountCents  int
	Currency     string
}

// CreateIntentInput carries everything the gateway needs to open an intent.
type CreateIntentInput struct {
	OrderID     uuid.UUID
	OrderNumber string
	AmountCents int
	Currency    string
}

// PaymentGateway is the outbound payment provider surface.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, input CreateIntentInput) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
}

// OutcomeKind classifies what a webhook event means for an order.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeFailed    OutcomeKind = "failed"
	// OutcomeIgnored marks event types the engine does not act on. The caller
	// still acknowledges them so the gateway stops retrying.
	OutcomeIgnored OutcomeKind = "ignored"
)

// WebhookOutcome is the verified, translated result of a gateway webhook.
type WebhookOutcome struct {
	Kind          OutcomeKind
	EventID       string
	EventType     string
	IntentID      string
	FailureReason string
}

// WebhookParser verifies a raw webhook payload and translates it.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*WebhookOutcome, error)
}
