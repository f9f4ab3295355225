// Package masterdata groups reference data used by the ledger and the assignment engine.
package masterdata

import (
	"context"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
)

// BranchChecker reports branch activity.
type BranchChecker interface {
	IsActive(ctx context.Context, id int64) (bool, error)
}

// ProductChecker reports product and variant activity.
type ProductChecker interface {
	IsActive(ctx context.Context, productID int64, variant inventory.Variant) (bool, error)
}

// Catalog answers the ledger's activity checks from branch and product reference data.
type Catalog struct {
	branches BranchChecker
	products ProductChecker
}

// NewCatalog constructs Catalog.
func NewCatalog(branches BranchChecker, products ProductChecker) *Catalog {
	return &Catalog{branches: branches, products: products}
}

// BranchActive implements inventory.CatalogPort.
func (c *Catalog) BranchActive(ctx context.Context, branchID int64) (bool, error) {
	return c.branches.IsActive(ctx, branchID)
}

// ProductActive implements inventory.CatalogPort.
func (c *Catalog) ProductActive(ctx context.Context, productID int64, variant inventory.Variant) (bool, error) {
	return c.products.IsActive(ctx, productID, variant)
}

var _ inventory.CatalogPort = (*Catalog)(nil)
