package entitlements

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/spokehub/pkg/observability"
)

const defaultCatalogEntries = 1024

// CachedCatalog is a read-through CatalogStore with a short TTL. Catalog
// rows change rarely and are read on every launch and verification.
// Misses and errors are never cached.
type CachedCatalog struct {
	next     CatalogStore
	products *lru.LRU[string, Product]
	apps     *lru.LRU[string, App]
	metrics  *observability.Metrics
}

// NewCachedCatalog wraps next. A ttl of zero disables expiry.
func NewCachedCatalog(next CatalogStore, ttl time.Duration, metrics *observability.Metrics) *CachedCatalog {
	return &CachedCatalog{
		next:     next,
		products: lru.NewLRU[string, Product](defaultCatalogEntries, nil, ttl),
		apps:     lru.NewLRU[string, App](defaultCatalogEntries, nil, ttl),
		metrics:  metrics,
	}
}

// GetProduct implements CatalogStore
func (c *CachedCatalog) GetProduct(ctx context.Context, id string) (*Product, error) {
	return c.product("id:"+id, func() (*Product, error) { return c.next.GetProduct(ctx, id) })
}

// GetProductBySlug implements CatalogStore
func (c *CachedCatalog) GetProductBySlug(ctx context.Context, slug string) (*Product, error) {
	return c.product("slug:"+slug, func() (*Product, error) { return c.next.GetProductBySlug(ctx, slug) })
}

// GetProductByExternalID implements CatalogStore
func (c *CachedCatalog) GetProductByExternalID(ctx context.Context, externalID string) (*Product, error) {
	return c.product("ext:"+externalID, func() (*Product, error) { return c.next.GetProductByExternalID(ctx, externalID) })
}

// GetBaseProduct implements CatalogStore
func (c *CachedCatalog) GetBaseProduct(ctx context.Context) (*Product, error) {
	return c.product("base", func() (*Product, error) { return c.next.GetBaseProduct(ctx) })
}

// GetApp implements CatalogStore
func (c *CachedCatalog) GetApp(ctx context.Context, id string) (*App, error) {
	if app, ok := c.apps.Get(id); ok {
		c.metrics.CatalogLookup("app", true)
		return &app, nil
	}
	c.metrics.CatalogLookup("app", false)

	app, err := c.next.GetApp(ctx, id)
	if err != nil {
		return nil, err
	}
	c.apps.Add(id, *app)
	return app, nil
}

// Purge drops every cached entry
func (c *CachedCatalog) Purge() {
	c.products.Purge()
	c.apps.Purge()
}

func (c *CachedCatalog) product(key string, load func() (*Product, error)) (*Product, error) {
	if p, ok := c.products.Get(key); ok {
		c.metrics.CatalogLookup("product", true)
		return &p, nil
	}
	c.metrics.CatalogLookup("product", false)

	p, err := load()
	if err != nil {
		return nil, err
	}
	c.products.Add(key, *p)
	return p, nil
}
