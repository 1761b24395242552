// Package billing turns Lemon Squeezy webhook deliveries into entitlement
// changes.
//
// A delivery is authenticated with an HMAC-SHA256 of the raw body, decoded
// into either a SubscriptionEvent or an InvoiceEvent, correlated to a hub
// user and product, and applied to the subscription store as a single
// upsert or delete. Deliveries that cannot be correlated are logged and
// dropped; nothing is guessed.
package billing
