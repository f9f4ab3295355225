package products

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/shared"
)

// StockInitializer creates zero inventory rows for a new variant.
type StockInitializer interface {
	InitializeVariant(ctx context.Context, productID int64, variant inventory.Variant) ([]inventory.Record, error)
}

type Service struct {
	repo   Repository
	stock  StockInitializer
	logger *slog.Logger
}

func NewService(repo Repository, stock StockInitializer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stock, logger: logger}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	filters.Normalize()
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, product Product) (Product, error) {
	if err := s.validate(product); err != nil {
		return Product{}, err
	}
	return s.repo.Create(ctx, product)
}

func (s *Service) Update(ctx context.Context, id int64, product Product) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if err := s.validate(product); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, product)
}

func (s *Service) Variants(ctx context.Context, productID int64) ([]Variant, error) {
	if productID <= 0 {
		return nil, shared.ErrInvalidID
	}
	return s.repo.ListVariants(ctx, productID)
}

// CreateVariant adds a variant to an active product and zero-initialises its stock at every
// active branch.
func (s *Service) CreateVariant(ctx context.Context, productID int64, variant Variant) (Variant, int, error) {
	product, err := s.Get(ctx, productID)
	if err != nil {
		return Variant{}, 0, err
	}
	if !product.IsActive {
		return Variant{}, 0, fmt.Errorf("%w: product %d is inactive", shared.ErrValidation, productID)
	}
	variant.ProductID = productID
	variant.IsActive = true
	if err := validateVariant(variant); err != nil {
		return Variant{}, 0, err
	}
	created, err := s.repo.CreateVariant(ctx, variant)
	if err != nil {
		return Variant{}, 0, err
	}
	if s.stock == nil {
		return created, 0, nil
	}
	rows, err := s.stock.InitializeVariant(ctx, productID, inventory.VariantOf(created.ID))
	if err != nil {
		// The variant exists; initialisation is idempotent and can be rerun.
		s.logger.Error("inventory initialisation failed",
			slog.Int64("product_id", productID),
			slog.Int64("variant_id", created.ID),
			slog.Any("error", err))
		return created, 0, err
	}
	return created, len(rows), nil
}

// IsActive reports whether a product, and its variant when present, can hold stock.
func (s *Service) IsActive(ctx context.Context, productID int64, variant inventory.Variant) (bool, error) {
	product, err := s.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrInvalidID) {
			return false, nil
		}
		return false, err
	}
	if !product.IsActive {
		return false, nil
	}
	variantID, ok := variant.ID()
	if !ok {
		return true, nil
	}
	v, err := s.repo.GetVariant(ctx, variantID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return v.ProductID == productID && v.IsActive, nil
}
