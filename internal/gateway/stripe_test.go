package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stripe/stripe-go/v84"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
)

func buildEvent(t *testing.T, eventType string, payload any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return stripe.Event{
		ID:   "evt_test_1",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestTranslateEventSucceeded(t *testing.T) {
	t.Parallel()

	event := buildEvent(t, "payment_intent.succeeded", map[string]any{"id": "pi_123"})

	outcome, err := TranslateEvent(event)
	require.NoError(t, err)
	require.Equal(t, OutcomeSucceeded, outcome.Kind)
	require.Equal(t, "pi_123", outcome.IntentID)
	require.Equal(t, "evt_test_1", outcome.EventID)
}

func TestTranslateEventFailedCarriesReason(t *testing.T) {
	t.Parallel()

	event := buildEvent(t, "payment_intent.payment_failed", map[string]any{
		"id": "pi_123",
		"last_payment_error": map[string]any{
			"message": "card declined",
		},
	})

	outcome, err := TranslateEvent(event)
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, outcome.Kind)
	require.Equal(t, "card declined", outcome.FailureReason)
}

func TestTranslateEventFailedDefaultReason(t *testing.T) {
	t.Parallel()

	event := buildEvent(t, "payment_intent.payment_failed", map[string]any{"id": "pi_123"})

	outcome, err := TranslateEvent(event)
	require.NoError(t, err)
	require.Equal(t, "payment failed", outcome.FailureReason)
}

func TestTranslateEventCanceled(t *testing.T) {
	t.Parallel()

	event := buildEvent(t, "payment_intent.canceled", map[string]any{"id": "pi_123"})

	outcome, err := TranslateEvent(event)
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, outcome.Kind)
	require.Equal(t, "canceled by gateway", outcome.FailureReason)
}

func TestTranslateEventUnhandledTypeIgnored(t *testing.T) {
	t.Parallel()

	event := buildEvent(t, "charge.refunded", map[string]any{"id": "ch_1"})

	outcome, err := TranslateEvent(event)
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, outcome.Kind)
	require.Empty(t, outcome.IntentID)
}

func TestTranslateEventMissingIntentID(t *testing.T) {
	t.Parallel()

	event := buildEvent(t, "payment_intent.succeeded", map[string]any{})

	_, err := TranslateEvent(event)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
}
