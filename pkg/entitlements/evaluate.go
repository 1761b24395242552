package entitlements

import "time"

// Find returns the user's subscription for productID, or nil
func Find(u *User, productID string) *Subscription {
	if u == nil || productID == "" {
		return nil
	}
	for i := range u.Subscriptions {
		if u.Subscriptions[i].ProductID == productID {
			return &u.Subscriptions[i]
		}
	}
	return nil
}

// Active reports whether the subscription grants access at now. Status is
// deliberately not consulted: a cancelled subscription stays usable until
// its ValidUntil passes, and an "active" one without a deadline grants nothing.
func (s *Subscription) Active(now time.Time) bool {
	return s != nil && s.ValidUntil != nil && s.ValidUntil.After(now)
}

// IsEntitled reports whether u holds an unexpired subscription for productID
func IsEntitled(u *User, productID string, now time.Time) bool {
	return Find(u, productID).Active(now)
}

// CanLaunch reports whether u may launch app. The base product is always
// required; the app's own product is required when it differs.
func CanLaunch(u *User, app *App, baseProductID string, now time.Time) bool {
	if app == nil || baseProductID == "" {
		return false
	}
	if !IsEntitled(u, baseProductID, now) {
		return false
	}
	return app.ProductID == "" || app.ProductID == baseProductID || IsEntitled(u, app.ProductID, now)
}

// MissingRequirements lists the product names u still needs to launch app,
// base product first. appProduct may be nil when the app has no product of
// its own or it could not be loaded.
func MissingRequirements(u *User, app *App, base *Product, appProduct *Product, now time.Time) []string {
	var missing []string
	if base == nil || app == nil {
		return missing
	}
	if !IsEntitled(u, base.ID, now) {
		missing = append(missing, base.Name)
	}
	if app.ProductID != "" && app.ProductID != base.ID && !IsEntitled(u, app.ProductID, now) {
		name := app.ProductID
		if appProduct != nil && appProduct.Name != "" {
			name = appProduct.Name
		}
		missing = append(missing, name)
	}
	return missing
}

// ActiveSubscriptions returns the subscriptions granting access at now
func ActiveSubscriptions(u *User, now time.Time) []Subscription {
	if u == nil {
		return nil
	}
	active := make([]Subscription, 0, len(u.Subscriptions))
	for _, s := range u.Subscriptions {
		if s.Active(now) {
			active = append(active, s)
		}
	}
	return active
}

// DeriveValidUntil computes the access deadline for a subscription snapshot:
//
//	paused    -> pause.resumesAt (nil for an indefinite pause)
//	cancelled -> endsAt
//	expired   -> endsAt
//	on_trial  -> renewsAt, else trialEndsAt
//	otherwise -> renewsAt
func DeriveValidUntil(s Subscription) *time.Time {
	switch s.Status {
	case StatusPaused:
		if s.Pause == nil {
			return nil
		}
		return clone(s.Pause.ResumesAt)
	case StatusCancelled, StatusExpired:
		return clone(s.EndsAt)
	case StatusOnTrial:
		if s.RenewsAt != nil {
			return clone(s.RenewsAt)
		}
		return clone(s.TrialEndsAt)
	default:
		return clone(s.RenewsAt)
	}
}

func clone(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
