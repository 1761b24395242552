package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/spokehub/pkg/entitlements"
	"github.com/platinummonkey/spokehub/pkg/observability"
)

// DefaultMarkerTTL is how long a processed delivery is remembered
const DefaultMarkerTTL = 24 * time.Hour

var (
	// ErrInvalidSignature is returned when X-Signature does not match
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnresolvedUser means neither custom data nor email matched a user
	ErrUnresolvedUser = errors.New("webhook user could not be resolved")
	// ErrUnresolvedProduct means the provider product is not in the catalog
	ErrUnresolvedProduct = errors.New("webhook product could not be resolved")
	// ErrUnknownSubscription means an invoice refers to a subscription the
	// hub never recorded
	ErrUnknownSubscription = errors.New("webhook subscription is not on file")
)

// Action is what a delivery did to the entitlement store
type Action string

const (
	ActionApplied   Action = "applied"
	ActionRemoved   Action = "removed"
	ActionIgnored   Action = "ignored"
	ActionDuplicate Action = "duplicate"
	ActionDropped   Action = "dropped"
)

// Result describes a processed delivery
type Result struct {
	Action    Action
	EventName string
	UserID    string
	ProductID string
	// Reason is set for dropped deliveries
	Reason error
}

// MarkerStore remembers processed deliveries
type MarkerStore interface {
	Seen(ctx context.Context, key string, now time.Time) (bool, error)
	Mark(ctx context.Context, key, eventName string, now time.Time, ttl time.Duration) (bool, error)
}

// ProcessorConfig wires a Processor
type ProcessorConfig struct {
	Secret        string
	Users         entitlements.UserStore
	Catalog       entitlements.CatalogStore
	Subscriptions entitlements.SubscriptionStore
	// Markers is optional; without it redeliveries rely on upsert
	// idempotency alone
	Markers   MarkerStore
	MarkerTTL time.Duration
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Now       func() time.Time
}

// Processor applies Lemon Squeezy deliveries to the subscription store
type Processor struct {
	secret    string
	users     entitlements.UserStore
	catalog   entitlements.CatalogStore
	subs      entitlements.SubscriptionStore
	markers   MarkerStore
	markerTTL time.Duration
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	unsignedWarning sync.Once
}

// NewProcessor creates a webhook processor
func NewProcessor(cfg ProcessorConfig) *Processor {
	p := &Processor{
		secret:    cfg.Secret,
		users:     cfg.Users,
		catalog:   cfg.Catalog,
		subs:      cfg.Subscriptions,
		markers:   cfg.Markers,
		markerTTL: cfg.MarkerTTL,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	if p.markerTTL <= 0 {
		p.markerTTL = DefaultMarkerTTL
	}
	if p.logger == nil {
		p.logger = observability.NewNopLogger()
	}
	if p.now == nil {
		p.now = time.Now
	}
	p.logger = p.logger.WithComponent("billing")
	return p
}

// Process authenticates, decodes and applies one delivery. Errors are
// ErrInvalidSignature, ErrMalformedPayload or a store failure; deliveries
// that cannot be correlated return ActionDropped without error.
func (p *Processor) Process(ctx context.Context, eventName, signature string, body []byte) (Result, error) {
	result, err := p.process(ctx, eventName, signature, body)

	outcome := string(result.Action)
	if err != nil {
		outcome = "error"
	}
	p.metrics.Webhook(metricEventName(result.EventName, eventName), outcome)
	return result, err
}

func (p *Processor) process(ctx context.Context, eventName, signature string, body []byte) (Result, error) {
	if p.secret == "" {
		p.unsignedWarning.Do(func() {
			p.logger.Warn("Lemon Squeezy webhook secret not configured, accepting unsigned deliveries")
		})
	} else if !VerifySignature(p.secret, body, signature) {
		return Result{EventName: eventName}, ErrInvalidSignature
	}

	event, err := ParseEvent(eventName, body)
	if errors.Is(err, ErrUnsupportedEvent) {
		p.logger.WithField("event", eventName).Info("Ignoring unhandled webhook event")
		return Result{Action: ActionIgnored, EventName: eventName}, nil
	}
	if err != nil {
		return Result{EventName: eventName}, err
	}

	logger := p.logger.WithField("event", event.Name())
	now := p.now()
	key := IdempotencyKey(event.Name(), body, event.Metadata().WebhookID)

	if p.markers != nil {
		seen, err := p.markers.Seen(ctx, key, now)
		if err != nil {
			return Result{EventName: event.Name()}, err
		}
		if seen {
			logger.Info("Duplicate webhook delivery skipped")
			return Result{Action: ActionDuplicate, EventName: event.Name()}, nil
		}
	}

	var result Result
	switch ev := event.(type) {
	case *SubscriptionEvent:
		result, err = p.applySubscription(ctx, ev)
	case *InvoiceEvent:
		result, err = p.applyInvoice(ctx, ev)
	default:
		err = fmt.Errorf("unexpected event type %T", event)
	}
	result.EventName = event.Name()

	if err != nil {
		if isCorrelationFailure(err) {
			logger.WithError(err).Warn("Dropping webhook that cannot be correlated")
			p.mark(ctx, key, event.Name(), now)
			return Result{Action: ActionDropped, EventName: event.Name(), Reason: err}, nil
		}
		return result, err
	}

	logger.WithFields(map[string]interface{}{
		"action":     result.Action,
		"user_id":    result.UserID,
		"product_id": result.ProductID,
	}).Info("Webhook processed")

	p.mark(ctx, key, event.Name(), now)
	return result, nil
}

// mark is best effort: the mutation is already applied
func (p *Processor) mark(ctx context.Context, key, eventName string, now time.Time) {
	if p.markers == nil {
		return
	}
	if _, err := p.markers.Mark(ctx, key, eventName, now, p.markerTTL); err != nil {
		p.logger.WithError(err).Warn("Failed to record processed webhook")
	}
}

func (p *Processor) applySubscription(ctx context.Context, ev *SubscriptionEvent) (Result, error) {
	if ev.EventName == EventSubscriptionPaymentRefunded {
		return Result{Action: ActionIgnored}, nil
	}

	userID, err := p.resolveUser(ctx, ev.UserID(), ev.CustomerEmail())
	if err != nil {
		return Result{}, err
	}
	product, err := p.resolveProduct(ctx, ev.ExternalProductIDs())
	if err != nil {
		return Result{UserID: userID}, err
	}
	result := Result{UserID: userID, ProductID: product.ID}

	if ev.EventName == EventSubscriptionExpired {
		if _, err := p.subs.DeleteSubscription(ctx, userID, product.ID); err != nil {
			return result, err
		}
		result.Action = ActionRemoved
		return result, nil
	}

	sub := ev.Snapshot(product.ID)
	switch ev.EventName {
	case EventSubscriptionPaused:
		sub.Status = entitlements.StatusPaused
	case EventSubscriptionResumed, EventSubscriptionUnpaused,
		EventSubscriptionPaymentSuccess, EventSubscriptionPaymentRecovered:
		sub.Status = entitlements.StatusActive
		sub.Pause = nil
	case EventSubscriptionCancelled:
		sub.Status = entitlements.StatusCancelled
	}
	sub.ValidUntil = entitlements.DeriveValidUntil(sub)
	sub.UpdatedAt = p.now()

	// a plan change moves the row to the new product
	if err := p.subs.ReplaceSubscription(ctx, userID, sub); err != nil {
		return result, err
	}
	result.Action = ActionApplied
	return result, nil
}

func (p *Processor) applyInvoice(ctx context.Context, ev *InvoiceEvent) (Result, error) {
	userID, sub, err := p.subs.FindSubscriptionByExternalID(ctx, string(ev.Attributes.SubscriptionID))
	if errors.Is(err, entitlements.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownSubscription, ev.Attributes.SubscriptionID)
	}
	if err != nil {
		return Result{}, err
	}
	result := Result{UserID: userID, ProductID: sub.ProductID}

	previous := sub.ValidUntil
	switch ev.EventName {
	case EventSubscriptionPaymentSuccess, EventSubscriptionPaymentRecovered:
		sub.Status = entitlements.StatusActive
		sub.Pause = nil
		sub.ValidUntil = entitlements.DeriveValidUntil(*sub)
		// invoices carry no renewal date; never shorten access on a payment
		if previous != nil && (sub.ValidUntil == nil || sub.ValidUntil.Before(*previous)) {
			sub.ValidUntil = previous
		}
	case EventSubscriptionPaymentFailed:
		sub.Status = entitlements.StatusPastDue
		sub.ValidUntil = entitlements.DeriveValidUntil(*sub)
	default:
		result.Action = ActionIgnored
		return result, nil
	}
	sub.UpdatedAt = p.now()

	if err := p.subs.UpsertSubscription(ctx, userID, *sub); err != nil {
		return result, err
	}
	result.Action = ActionApplied
	return result, nil
}

func (p *Processor) resolveUser(ctx context.Context, userID, email string) (string, error) {
	if userID != "" {
		user, err := p.users.GetUser(ctx, userID)
		if err == nil {
			return user.ID, nil
		}
		if !errors.Is(err, entitlements.ErrNotFound) {
			return "", err
		}
	}
	if email != "" {
		user, err := p.users.FindUserByEmail(ctx, email)
		if err == nil {
			return user.ID, nil
		}
		if !errors.Is(err, entitlements.ErrNotFound) {
			return "", err
		}
	}
	return "", ErrUnresolvedUser
}

func (p *Processor) resolveProduct(ctx context.Context, externalIDs []string) (*entitlements.Product, error) {
	for _, id := range externalIDs {
		product, err := p.catalog.GetProductByExternalID(ctx, id)
		if err == nil {
			return product, nil
		}
		if !errors.Is(err, entitlements.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnresolvedProduct, externalIDs)
}

func isCorrelationFailure(err error) bool {
	return errors.Is(err, ErrUnresolvedUser) ||
		errors.Is(err, ErrUnresolvedProduct) ||
		errors.Is(err, ErrUnknownSubscription)
}

func metricEventName(parsed, raw string) string {
	name := parsed
	if name == "" {
		name = raw
	}
	if !knownEvents[name] {
		return "other"
	}
	return name
}
