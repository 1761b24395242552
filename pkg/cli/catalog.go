package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/spokehub/pkg/entitlements"
	"github.com/platinummonkey/spokehub/pkg/storage/postgres"
)

// CatalogFile is the import-catalog input format
type CatalogFile struct {
	Products []ProductEntry `yaml:"products"`
	Apps     []AppEntry     `yaml:"apps"`
}

// ProductEntry is one product in a catalog file. Approved and active
// default to true.
type ProductEntry struct {
	ID                string `yaml:"id"`
	Name              string `yaml:"name"`
	Slug              string `yaml:"slug"`
	Required          bool   `yaml:"required"`
	ExternalProductID string `yaml:"external_product_id"`
	Approved          *bool  `yaml:"approved"`
	Active            *bool  `yaml:"active"`
}

// AppEntry is one app in a catalog file. Approved and active default to
// true.
type AppEntry struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	ProductID string `yaml:"product_id"`
	SpokeID   string `yaml:"spoke_id"`
	SpokeURL  string `yaml:"spoke_url"`
	Approved  *bool  `yaml:"approved"`
	Active    *bool  `yaml:"active"`
}

// CatalogWriter persists catalog entries
type CatalogWriter interface {
	UpsertProduct(ctx context.Context, p entitlements.Product) error
	UpsertApp(ctx context.Context, a entitlements.App) error
}

// ParseCatalog decodes and validates a catalog file
func ParseCatalog(data []byte) ([]entitlements.Product, []entitlements.App, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	products := make([]entitlements.Product, 0, len(file.Products))
	seen := make(map[string]bool)
	slugs := make(map[string]bool)
	required := ""
	for i, p := range file.Products {
		id := strings.TrimSpace(p.ID)
		switch {
		case id == "":
			return nil, nil, fmt.Errorf("product %d: id is required", i)
		case seen[id]:
			return nil, nil, fmt.Errorf("product %q: duplicate id", id)
		case p.Slug == "":
			return nil, nil, fmt.Errorf("product %q: slug is required", id)
		case slugs[p.Slug]:
			return nil, nil, fmt.Errorf("product %q: duplicate slug %q", id, p.Slug)
		}
		if p.Required {
			if required != "" {
				return nil, nil, fmt.Errorf("product %q: %q is already the required product", id, required)
			}
			required = id
		}
		seen[id] = true
		slugs[p.Slug] = true

		products = append(products, entitlements.Product{
			ID:                id,
			Name:              p.Name,
			Slug:              p.Slug,
			Required:          p.Required,
			ExternalProductID: p.ExternalProductID,
			IsApproved:        boolOr(p.Approved, true),
			IsActive:          boolOr(p.Active, true),
		})
	}

	apps := make([]entitlements.App, 0, len(file.Apps))
	appIDs := make(map[string]bool)
	for i, a := range file.Apps {
		id := strings.TrimSpace(a.ID)
		switch {
		case id == "":
			return nil, nil, fmt.Errorf("app %d: id is required", i)
		case appIDs[id]:
			return nil, nil, fmt.Errorf("app %q: duplicate id", id)
		}
		appIDs[id] = true

		apps = append(apps, entitlements.App{
			ID:         id,
			Name:       a.Name,
			ProductID:  a.ProductID,
			SpokeID:    a.SpokeID,
			SpokeURL:   strings.TrimRight(a.SpokeURL, "/"),
			IsApproved: boolOr(a.Approved, true),
			IsActive:   boolOr(a.Active, true),
		})
	}

	return products, apps, nil
}

// ImportCatalog writes products before apps so app references resolve
func ImportCatalog(ctx context.Context, w CatalogWriter, products []entitlements.Product, apps []entitlements.App) error {
	for _, p := range products {
		if err := w.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("product %s: %w", p.ID, err)
		}
	}
	for _, a := range apps {
		if err := w.UpsertApp(ctx, a); err != nil {
			return fmt.Errorf("app %s: %w", a.ID, err)
		}
	}
	return nil
}

func newImportCatalogCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "import-catalog",
		Description: "Upsert products and apps from a YAML file",
		Flags:       flag.NewFlagSet("import-catalog", flag.ContinueOnError),
	}

	file := cmd.Flags.String("file", "", "Catalog YAML file")
	dryRun := cmd.Flags.Bool("dry-run", false, "Validate the file without writing")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *file == "" {
			return fmt.Errorf("file is required")
		}

		data, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("failed to read catalog: %w", err)
		}
		products, apps, err := ParseCatalog(data)
		if err != nil {
			return err
		}

		log := env.Log.WithField("products", len(products)).WithField("apps", len(apps))
		if *dryRun {
			log.Info("Catalog is valid")
			return nil
		}

		return env.withDB(ctx, func(db *sql.DB) error {
			if err := ImportCatalog(ctx, postgres.NewCatalogRepository(db), products, apps); err != nil {
				return err
			}
			log.Info("Catalog imported")
			return nil
		})
	}

	return cmd
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
