package inventory

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
)

var (
	// ErrValidation reports malformed input.
	ErrValidation = errors.New("inventory: validation failed")
	// ErrNotFound reports a missing record, or an inactive branch or product.
	ErrNotFound = errors.New("inventory: record not found")
	// ErrInsufficientStock means available quantity is below the requested amount.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInsufficientReserved means the release exceeds the reserved amount.
	ErrInsufficientReserved = errors.New("inventory: insufficient reserved quantity")
	// ErrCapacityExceeded means quantity would exceed max_stock_level.
	ErrCapacityExceeded = errors.New("inventory: capacity exceeded")
	// ErrReservationOutstanding blocks zeroing a record that still has reservations.
	ErrReservationOutstanding = errors.New("inventory: reservation outstanding")
	// ErrUnavailable wraps timeouts and connection failures of the store.
	ErrUnavailable = errors.New("inventory: store unavailable")

	errRecordExists = errors.New("inventory: record already exists")
)

func classify(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if db.IsUnavailable(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
