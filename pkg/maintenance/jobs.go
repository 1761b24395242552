package maintenance

import "github.com/platinummonkey/spokehub/pkg/observability"

// NonceCleanup removes expired SSO nonces every five minutes and once at
// startup
func NonceCleanup(store Cleaner, metrics *observability.Metrics) Job {
	return Job{
		Name:       JobCleanupNonces,
		Schedule:   "@every 5m",
		RunAtStart: true,
		Run:        store.DeleteExpired,
		OnDeleted:  metrics.NoncesDeleted,
	}
}

// WebhookMarkerCleanup removes expired processed-webhook markers hourly
func WebhookMarkerCleanup(store Cleaner) Job {
	return Job{
		Name:     JobCleanupWebhooks,
		Schedule: "@every 1h",
		Run:      store.DeleteExpired,
	}
}

// LockCleanup sweeps expired rows from the lock table. Only the Postgres
// lock backend needs it; Redis expires keys itself.
func LockCleanup(store Cleaner) Job {
	return Job{
		Name:     JobCleanupLocks,
		Schedule: "@every 10m",
		Run:      store.DeleteExpired,
	}
}
