package branches

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/shared"
)

func (s *Service) validate(b Branch) error {
	if strings.TrimSpace(b.Code) == "" {
		return fmt.Errorf("%w: branch code is required", shared.ErrValidation)
	}
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: branch name is required", shared.ErrValidation)
	}
	if (b.Latitude == nil) != (b.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude go together", shared.ErrValidation)
	}
	if b.Latitude != nil && (*b.Latitude < -90 || *b.Latitude > 90) {
		return fmt.Errorf("%w: latitude out of range", shared.ErrValidation)
	}
	if b.Longitude != nil && (*b.Longitude < -180 || *b.Longitude > 180) {
		return fmt.Errorf("%w: longitude out of range", shared.ErrValidation)
	}
	return nil
}
