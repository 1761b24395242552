package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/spokehub/pkg/entitlements"
)

// Event names delivered in X-Event-Name
const (
	EventSubscriptionCreated          = "subscription_created"
	EventSubscriptionUpdated          = "subscription_updated"
	EventSubscriptionPlanChanged      = "subscription_plan_changed"
	EventSubscriptionCancelled        = "subscription_cancelled"
	EventSubscriptionResumed          = "subscription_resumed"
	EventSubscriptionExpired          = "subscription_expired"
	EventSubscriptionPaused           = "subscription_paused"
	EventSubscriptionUnpaused         = "subscription_unpaused"
	EventSubscriptionPaymentSuccess   = "subscription_payment_success"
	EventSubscriptionPaymentFailed    = "subscription_payment_failed"
	EventSubscriptionPaymentRecovered = "subscription_payment_recovered"
	EventSubscriptionPaymentRefunded  = "subscription_payment_refunded"
)

// JSON:API resource types found in data.type
const (
	typeSubscriptions        = "subscriptions"
	typeSubscriptionInvoices = "subscription-invoices"
)

var (
	// ErrMalformedPayload is returned for bodies that are not a valid event
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrUnsupportedEvent is returned for event names the hub does not handle
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
)

var knownEvents = map[string]bool{
	EventSubscriptionCreated:          true,
	EventSubscriptionUpdated:          true,
	EventSubscriptionPlanChanged:      true,
	EventSubscriptionCancelled:        true,
	EventSubscriptionResumed:          true,
	EventSubscriptionExpired:          true,
	EventSubscriptionPaused:           true,
	EventSubscriptionUnpaused:         true,
	EventSubscriptionPaymentSuccess:   true,
	EventSubscriptionPaymentFailed:    true,
	EventSubscriptionPaymentRecovered: true,
	EventSubscriptionPaymentRefunded:  true,
}

// isPaymentEvent reports whether name may carry an invoice resource
func isPaymentEvent(name string) bool {
	return strings.HasPrefix(name, "subscription_payment_")
}

// ID is a provider identifier. Lemon Squeezy sends most ids as JSON
// numbers and resource ids as strings; both decode to a string.
type ID string

// UnmarshalJSON accepts a JSON string, number or null
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// CustomData is the free-form metadata attached at checkout
type CustomData map[string]interface{}

// Get returns key as a string; numbers are formatted, other types ignored
func (c CustomData) Get(key string) string {
	switch v := c[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// Meta is the envelope's meta block
type Meta struct {
	EventName  string     `json:"event_name"`
	WebhookID  string     `json:"webhook_id,omitempty"`
	TestMode   bool       `json:"test_mode,omitempty"`
	CustomData CustomData `json:"custom_data,omitempty"`
}

// UserID returns custom_data.user_id
func (m Meta) UserID() string {
	return m.CustomData.Get("user_id")
}

// Event is one decoded delivery: a *SubscriptionEvent or an *InvoiceEvent
type Event interface {
	Name() string
	Metadata() Meta
	// CustomerEmail is the address used when no user id was attached
	CustomerEmail() string
}

// PauseAttributes is the pause block of a subscription
type PauseAttributes struct {
	Mode      string     `json:"mode"`
	ResumesAt *time.Time `json:"resumes_at"`
}

// SubscriptionURLs are provider-hosted management links
type SubscriptionURLs struct {
	UpdatePaymentMethod string `json:"update_payment_method,omitempty"`
	CustomerPortal      string `json:"customer_portal,omitempty"`
}

// SubscriptionAttributes is a subscription resource snapshot
type SubscriptionAttributes struct {
	StoreID     ID               `json:"store_id"`
	CustomerID  ID               `json:"customer_id"`
	OrderID     ID               `json:"order_id"`
	ProductID   ID               `json:"product_id"`
	VariantID   ID               `json:"variant_id"`
	ProductName string           `json:"product_name"`
	VariantName string           `json:"variant_name"`
	UserName    string           `json:"user_name"`
	UserEmail   string           `json:"user_email"`
	Status      string           `json:"status"`
	Pause       *PauseAttributes `json:"pause"`
	Cancelled   bool             `json:"cancelled"`
	TrialEndsAt *time.Time       `json:"trial_ends_at"`
	RenewsAt    *time.Time       `json:"renews_at"`
	EndsAt      *time.Time       `json:"ends_at"`
	URLs        SubscriptionURLs `json:"urls"`
	CustomData  CustomData       `json:"custom_data,omitempty"`
	CreatedAt   *time.Time       `json:"created_at"`
	UpdatedAt   *time.Time       `json:"updated_at"`
}

// SubscriptionEvent carries a full subscription snapshot
type SubscriptionEvent struct {
	EventName      string
	Meta           Meta
	SubscriptionID string
	Attributes     SubscriptionAttributes
}

// Name implements Event
func (e *SubscriptionEvent) Name() string { return e.EventName }

// Metadata implements Event
func (e *SubscriptionEvent) Metadata() Meta { return e.Meta }

// CustomerEmail implements Event
func (e *SubscriptionEvent) CustomerEmail() string {
	if email := e.Meta.CustomData.Get("email"); email != "" {
		return email
	}
	return e.Attributes.UserEmail
}

// UserID returns the hub user id attached at checkout. Older deliveries
// carry it in attributes.custom_data.
func (e *SubscriptionEvent) UserID() string {
	if id := e.Meta.UserID(); id != "" {
		return id
	}
	return e.Attributes.CustomData.Get("user_id")
}

// ExternalProductIDs lists the provider ids the product may be mapped by,
// product id first
func (e *SubscriptionEvent) ExternalProductIDs() []string {
	ids := make([]string, 0, 2)
	if e.Attributes.ProductID != "" {
		ids = append(ids, string(e.Attributes.ProductID))
	}
	if e.Attributes.VariantID != "" && e.Attributes.VariantID != e.Attributes.ProductID {
		ids = append(ids, string(e.Attributes.VariantID))
	}
	return ids
}

// Snapshot converts the attributes into a subscription for productID with
// status taken from the provider and validUntil derived from it
func (e *SubscriptionEvent) Snapshot(productID string) entitlements.Subscription {
	a := e.Attributes
	sub := entitlements.Subscription{
		ProductID:              productID,
		ExternalSubscriptionID: e.SubscriptionID,
		ExternalCustomerID:     string(a.CustomerID),
		Status:                 entitlements.Status(a.Status),
		RenewsAt:               a.RenewsAt,
		EndsAt:                 a.EndsAt,
		TrialEndsAt:            a.TrialEndsAt,
		PortalURL:              a.URLs.CustomerPortal,
	}
	if sub.PortalURL == "" {
		sub.PortalURL = PortalURL(sub.ExternalCustomerID)
	}
	if a.Pause != nil {
		sub.Pause = &entitlements.Pause{Mode: a.Pause.Mode, ResumesAt: a.Pause.ResumesAt}
	}
	return sub
}

// InvoiceAttributes is a subscription invoice resource
type InvoiceAttributes struct {
	StoreID        ID         `json:"store_id"`
	SubscriptionID ID         `json:"subscription_id"`
	CustomerID     ID         `json:"customer_id"`
	UserEmail      string     `json:"user_email"`
	BillingReason  string     `json:"billing_reason"`
	Status         string     `json:"status"`
	Refunded       bool       `json:"refunded"`
	Total          int64      `json:"total"`
	Currency       string     `json:"currency"`
	CreatedAt      *time.Time `json:"created_at"`
}

// InvoiceEvent carries an invoice for an existing subscription
type InvoiceEvent struct {
	EventName  string
	Meta       Meta
	InvoiceID  string
	Attributes InvoiceAttributes
}

// Name implements Event
func (e *InvoiceEvent) Name() string { return e.EventName }

// Metadata implements Event
func (e *InvoiceEvent) Metadata() Meta { return e.Meta }

// CustomerEmail implements Event
func (e *InvoiceEvent) CustomerEmail() string { return e.Attributes.UserEmail }

type envelope struct {
	Meta Meta `json:"meta"`
	Data struct {
		Type       string          `json:"type"`
		ID         ID              `json:"id"`
		Attributes json.RawMessage `json:"attributes"`
	} `json:"data"`
}

// ParseEvent decodes a delivery body. The variant is chosen by data.type
// and must be consistent with eventName.
func ParseEvent(eventName string, body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if eventName == "" {
		eventName = env.Meta.EventName
	}
	if !knownEvents[eventName] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, eventName)
	}
	if len(env.Data.Attributes) == 0 {
		return nil, fmt.Errorf("%w: data.attributes is required", ErrMalformedPayload)
	}

	switch env.Data.Type {
	case typeSubscriptions:
		return parseSubscription(eventName, env)
	case typeSubscriptionInvoices:
		if !isPaymentEvent(eventName) {
			return nil, fmt.Errorf("%w: %s cannot carry an invoice", ErrMalformedPayload, eventName)
		}
		return parseInvoice(eventName, env)
	default:
		return nil, fmt.Errorf("%w: unexpected data.type %q", ErrMalformedPayload, env.Data.Type)
	}
}

func parseSubscription(eventName string, env envelope) (*SubscriptionEvent, error) {
	ev := &SubscriptionEvent{
		EventName:      eventName,
		Meta:           env.Meta,
		SubscriptionID: string(env.Data.ID),
	}
	if err := json.Unmarshal(env.Data.Attributes, &ev.Attributes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch {
	case ev.SubscriptionID == "":
		return nil, fmt.Errorf("%w: data.id is required", ErrMalformedPayload)
	case ev.Attributes.ProductID == "" && ev.Attributes.VariantID == "":
		return nil, fmt.Errorf("%w: product_id is required", ErrMalformedPayload)
	case !entitlements.Status(ev.Attributes.Status).Valid():
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedPayload, ev.Attributes.Status)
	}
	return ev, nil
}

func parseInvoice(eventName string, env envelope) (*InvoiceEvent, error) {
	ev := &InvoiceEvent{
		EventName: eventName,
		Meta:      env.Meta,
		InvoiceID: string(env.Data.ID),
	}
	if err := json.Unmarshal(env.Data.Attributes, &ev.Attributes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.Attributes.SubscriptionID == "" {
		return nil, fmt.Errorf("%w: subscription_id is required", ErrMalformedPayload)
	}
	return ev, nil
}
