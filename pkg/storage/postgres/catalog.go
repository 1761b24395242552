package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/spokehub/pkg/entitlements"
)

const (
	productColumns = `id, name, slug, required, COALESCE(external_product_id, ''), is_approved, is_active`
	appColumns     = `id, name, COALESCE(product_id, ''), COALESCE(spoke_id, ''), COALESCE(spoke_url, ''), is_approved, is_active`
)

// CatalogRepository reads and imports products and apps
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository creates a catalog repository
func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetProduct loads a product by internal id
func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*entitlements.Product, error) {
	return r.product(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

// GetProductBySlug loads a product by slug
func (r *CatalogRepository) GetProductBySlug(ctx context.Context, slug string) (*entitlements.Product, error) {
	return r.product(ctx, `SELECT `+productColumns+` FROM products WHERE slug = $1`, slug)
}

// GetProductByExternalID loads the product mapped to a billing provider product
func (r *CatalogRepository) GetProductByExternalID(ctx context.Context, externalID string) (*entitlements.Product, error) {
	return r.product(ctx, `SELECT `+productColumns+` FROM products WHERE external_product_id = $1`, externalID)
}

// GetBaseProduct loads the single required product
func (r *CatalogRepository) GetBaseProduct(ctx context.Context) (*entitlements.Product, error) {
	return r.product(ctx, `SELECT `+productColumns+` FROM products WHERE required LIMIT 1`)
}

// GetApp loads an app by id
func (r *CatalogRepository) GetApp(ctx context.Context, id string) (*entitlements.App, error) {
	var app entitlements.App
	err := r.db.QueryRowContext(ctx, `SELECT `+appColumns+` FROM apps WHERE id = $1`, id).Scan(
		&app.ID,
		&app.Name,
		&app.ProductID,
		&app.SpokeID,
		&app.SpokeURL,
		&app.IsApproved,
		&app.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entitlements.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get app: %w", err)
	}
	return &app, nil
}

// UpsertProduct creates or replaces a product by id
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p entitlements.Product) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, slug, required, external_product_id, is_approved, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			slug = EXCLUDED.slug,
			required = EXCLUDED.required,
			external_product_id = EXCLUDED.external_product_id,
			is_approved = EXCLUDED.is_approved,
			is_active = EXCLUDED.is_active
	`, p.ID, p.Name, p.Slug, p.Required, stringArg(p.ExternalProductID), p.IsApproved, p.IsActive)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("product %s conflicts with an existing slug, external id or required product: %w", p.ID, err)
		}
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

// UpsertApp creates or replaces an app by id
func (r *CatalogRepository) UpsertApp(ctx context.Context, a entitlements.App) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO apps (id, name, product_id, spoke_id, spoke_url, is_approved, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			product_id = EXCLUDED.product_id,
			spoke_id = EXCLUDED.spoke_id,
			spoke_url = EXCLUDED.spoke_url,
			is_approved = EXCLUDED.is_approved,
			is_active = EXCLUDED.is_active
	`, a.ID, a.Name, stringArg(a.ProductID), stringArg(a.SpokeID), stringArg(a.SpokeURL), a.IsApproved, a.IsActive)
	if err != nil {
		return fmt.Errorf("failed to upsert app: %w", err)
	}
	return nil
}

func (r *CatalogRepository) product(ctx context.Context, query string, args ...interface{}) (*entitlements.Product, error) {
	var p entitlements.Product
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID,
		&p.Name,
		&p.Slug,
		&p.Required,
		&p.ExternalProductID,
		&p.IsApproved,
		&p.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entitlements.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}
