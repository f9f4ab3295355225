package products

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/shared"
)

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.Code) == "" {
		return fmt.Errorf("%w: product code is required", shared.ErrValidation)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: product name is required", shared.ErrValidation)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: price must be >= 0", shared.ErrValidation)
	}
	return nil
}

func validateVariant(v Variant) error {
	if strings.TrimSpace(v.SKU) == "" {
		return fmt.Errorf("%w: variant sku is required", shared.ErrValidation)
	}
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("%w: variant name is required", shared.ErrValidation)
	}
	return nil
}
