package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/spokehub/pkg/entitlements"
)

const subscriptionPayload = `{
	"meta": {
		"event_name": "subscription_created",
		"webhook_id": "wh-1",
		"custom_data": {"user_id": "u1"}
	},
	"data": {
		"type": "subscriptions",
		"id": "1001",
		"attributes": {
			"store_id": 7,
			"customer_id": 42,
			"product_id": 200,
			"variant_id": 201,
			"product_name": "Extra Game",
			"user_email": "alice@example.com",
			"status": "on_trial",
			"pause": null,
			"trial_ends_at": "2026-03-08T12:00:00.000000Z",
			"renews_at": null,
			"ends_at": null,
			"urls": {"customer_portal": "https://mystore.lemonsqueezy.com/billing?expires=1"}
		}
	}
}`

const invoicePayload = `{
	"meta": {"event_name": "subscription_payment_success"},
	"data": {
		"type": "subscription-invoices",
		"id": "9001",
		"attributes": {
			"subscription_id": 1001,
			"customer_id": 42,
			"user_email": "alice@example.com",
			"billing_reason": "renewal",
			"status": "paid",
			"total": 999
		}
	}
}`

func TestParseEvent_Subscription(t *testing.T) {
	event, err := ParseEvent(EventSubscriptionCreated, []byte(subscriptionPayload))
	require.NoError(t, err)

	ev, ok := event.(*SubscriptionEvent)
	require.True(t, ok)
	assert.Equal(t, "1001", ev.SubscriptionID)
	assert.Equal(t, "u1", ev.UserID())
	assert.Equal(t, "wh-1", ev.Metadata().WebhookID)
	assert.Equal(t, "alice@example.com", ev.CustomerEmail())
	assert.Equal(t, []string{"200", "201"}, ev.ExternalProductIDs())

	sub := ev.Snapshot("extra")
	assert.Equal(t, entitlements.StatusOnTrial, sub.Status)
	assert.Equal(t, "42", sub.ExternalCustomerID)
	assert.Equal(t, "https://mystore.lemonsqueezy.com/billing?expires=1", sub.PortalURL)
	require.NotNil(t, sub.TrialEndsAt)
	assert.Nil(t, sub.RenewsAt)
	assert.Nil(t, sub.Pause)
}

func TestParseEvent_Invoice(t *testing.T) {
	event, err := ParseEvent(EventSubscriptionPaymentSuccess, []byte(invoicePayload))
	require.NoError(t, err)

	ev, ok := event.(*InvoiceEvent)
	require.True(t, ok)
	assert.Equal(t, ID("1001"), ev.Attributes.SubscriptionID)
	assert.Equal(t, "alice@example.com", ev.CustomerEmail())
}

func TestParseEvent_EventNameFromMeta(t *testing.T) {
	event, err := ParseEvent("", []byte(subscriptionPayload))
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionCreated, event.Name())
}

func TestParseEvent_Errors(t *testing.T) {
	tests := []struct {
		name  string
		event string
		body  string
		want  error
	}{
		{"not json", EventSubscriptionCreated, `{`, ErrMalformedPayload},
		{"unknown event", "order_created", `{"data":{"type":"orders","attributes":{}}}`, ErrUnsupportedEvent},
		{"missing attributes", EventSubscriptionCreated, `{"data":{"type":"subscriptions","id":"1"}}`, ErrMalformedPayload},
		{"unknown type", EventSubscriptionCreated, `{"data":{"type":"orders","id":"1","attributes":{}}}`, ErrMalformedPayload},
		{"invoice for non payment event", EventSubscriptionCreated, `{"data":{"type":"subscription-invoices","id":"1","attributes":{"subscription_id":1}}}`, ErrMalformedPayload},
		{"subscription without id", EventSubscriptionUpdated, `{"data":{"type":"subscriptions","attributes":{"product_id":1,"status":"active"}}}`, ErrMalformedPayload},
		{"subscription without product", EventSubscriptionUpdated, `{"data":{"type":"subscriptions","id":"1","attributes":{"status":"active"}}}`, ErrMalformedPayload},
		{"unknown status", EventSubscriptionUpdated, `{"data":{"type":"subscriptions","id":"1","attributes":{"product_id":1,"status":"weird"}}}`, ErrMalformedPayload},
		{"invoice without subscription", EventSubscriptionPaymentFailed, `{"data":{"type":"subscription-invoices","id":"1","attributes":{"status":"pending"}}}`, ErrMalformedPayload},
		{"bad id type", EventSubscriptionUpdated, `{"data":{"type":"subscriptions","id":"1","attributes":{"product_id":true,"status":"active"}}}`, ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent(tt.event, []byte(tt.body))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCustomData_Get(t *testing.T) {
	c := CustomData{"user_id": " u1 ", "n": float64(12), "flag": true}
	assert.Equal(t, "u1", c.Get("user_id"))
	assert.Equal(t, "12", c.Get("n"))
	assert.Empty(t, c.Get("flag"))
	assert.Empty(t, CustomData(nil).Get("user_id"))
}
