package billing

import (
	"fmt"
	"net/url"
	"strings"
)

const customerPortalBase = "https://app.lemonsqueezy.com/my-orders/"

// PortalURL is the provider-hosted page where a customer manages orders
func PortalURL(customerID string) string {
	if customerID == "" {
		return ""
	}
	return customerPortalBase + url.PathEscape(customerID)
}

// CheckoutURL builds a hosted checkout link that carries the hub user id
// back in the webhook's custom data
func CheckoutURL(store, checkoutID, userID, email string) (string, error) {
	store = strings.TrimSpace(store)
	if store == "" {
		return "", fmt.Errorf("lemon squeezy store is not configured")
	}
	if checkoutID == "" {
		return "", fmt.Errorf("product has no checkout id")
	}

	q := url.Values{}
	q.Set("checkout[custom][user_id]", userID)
	if email != "" {
		q.Set("checkout[email]", email)
	}

	u := url.URL{
		Scheme:   "https",
		Host:     store + ".lemonsqueezy.com",
		Path:     "/checkout/buy/" + checkoutID,
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}
