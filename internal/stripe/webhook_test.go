package stripe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/pkg/logger"
)

const testWebhookSecret = "whsec_test_secret"

func signedPayload(t *testing.T, payload string) ([]byte, string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func newTestParser() *EventParser {
	return NewEventParser(testWebhookSecret, logger.New(logger.ERROR))
}

func checkoutEventJSON(userID, planID string) string {
	return fmt.Sprintf(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_1",
				"subscription": {"id": "sub_123"},
				"amount_total": 2990,
				"metadata": {"UserId": %q, "PlanId": %q}
			}
		}
	}`, userID, planID)
}

func TestParse_CheckoutCompleted(t *testing.T) {
	parser := newTestParser()
	payload, header := signedPayload(t, checkoutEventJSON("42", "2"))

	event, err := parser.Parse(payload, header)
	require.NoError(t, err)

	assert.Equal(t, domain.EventCheckoutCompleted, event.Kind)
	assert.Equal(t, int64(42), event.UserID)
	assert.Equal(t, int64(2), event.PlanID)
	assert.Equal(t, "sub_123", event.ExternalSubscriptionID)
	assert.InDelta(t, 29.90, event.Amount, 0.001)
}

func TestParse_InvoicePaid(t *testing.T) {
	parser := newTestParser()
	payload, header := signedPayload(t, `{
		"id": "evt_2",
		"type": "invoice.paid",
		"data": {
			"object": {
				"id": "in_1",
				"subscription": {"id": "sub_456"},
				"amount_paid": 1990
			}
		}
	}`)

	event, err := parser.Parse(payload, header)
	require.NoError(t, err)

	assert.Equal(t, domain.EventRecurringPaymentSucceeded, event.Kind)
	assert.Equal(t, "sub_456", event.ExternalSubscriptionID)
}

func TestParse_ToleratesAPIVersionSkew(t *testing.T) {
	parser := newTestParser()
	// Версия API аккаунта отличается от версии SDK, событие все равно принимается
	payload, header := signedPayload(t, `{
		"id": "evt_5",
		"type": "invoice.paid",
		"api_version": "2020-08-27",
		"data": {
			"object": {
				"id": "in_2",
				"subscription": {"id": "sub_789"},
				"amount_paid": 2990
			}
		}
	}`)

	event, err := parser.Parse(payload, header)
	require.NoError(t, err)
	assert.Equal(t, domain.EventRecurringPaymentSucceeded, event.Kind)
	assert.Equal(t, "sub_789", event.ExternalSubscriptionID)
}

func TestParse_InvalidSignature(t *testing.T) {
	parser := newTestParser()
	payload, _ := signedPayload(t, checkoutEventJSON("42", "2"))

	_, err := parser.Parse(payload, "t=123,v1=deadbeef")
	assert.ErrorIs(t, err, domain.ErrWebhookValidationFailed)
}

func TestParse_UnknownEventTypeIgnored(t *testing.T) {
	parser := newTestParser()
	payload, header := signedPayload(t, `{
		"id": "evt_3",
		"type": "customer.created",
		"data": {"object": {}}
	}`)

	event, err := parser.Parse(payload, header)
	require.NoError(t, err)
	assert.Equal(t, domain.EventUnrecognized, event.Kind)
}

func TestParse_CheckoutWithoutMetadataIgnored(t *testing.T) {
	parser := newTestParser()
	payload, header := signedPayload(t, `{
		"id": "evt_4",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test_2", "amount_total": 2990, "metadata": {}}}
	}`)

	event, err := parser.Parse(payload, header)
	require.NoError(t, err)
	assert.Equal(t, domain.EventUnrecognized, event.Kind)
}
