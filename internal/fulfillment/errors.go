package fulfillment

import (
	"errors"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
)

var (
	// ErrMissingLocation means the order has no delivery coordinate.
	ErrMissingLocation = errors.New("fulfillment: order has no delivery location")
	// ErrInvalidOrder means the order cannot be fulfilled as stored (no lines, bad quantities).
	ErrInvalidOrder = errors.New("fulfillment: invalid order")
	// ErrNoBranchAvailable means no candidate branch could reserve every line.
	ErrNoBranchAvailable = errors.New("fulfillment: no branch available")
	// ErrRankingUnavailable wraps ranker failures; it is always reported with ErrNoBranchAvailable.
	ErrRankingUnavailable = errors.New("fulfillment: ranking unavailable")
	// ErrAssignmentPersistFailed means stock was reserved but the link could not be written.
	ErrAssignmentPersistFailed = errors.New("fulfillment: assignment persist failed")
	// ErrCompensationIncomplete means some reservations could not be released.
	ErrCompensationIncomplete = errors.New("fulfillment: compensation incomplete")
	// ErrAlreadyAssigned means the order is linked to another branch.
	ErrAlreadyAssigned = errors.New("fulfillment: order already assigned")
	// ErrNotAssigned is returned by lookups of orders without a branch.
	ErrNotAssigned = errors.New("fulfillment: order not assigned")
)

func isUnavailable(err error) bool {
	return errors.Is(err, inventory.ErrUnavailable) || db.IsUnavailable(err)
}

// UserMessage turns an assignment failure into the single message shown to the customer.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingLocation):
		return "Alamat pengiriman belum memiliki titik lokasi."
	case errors.Is(err, ErrRankingUnavailable),
		errors.Is(err, ErrAssignmentPersistFailed),
		errors.Is(err, ErrCompensationIncomplete),
		isUnavailable(err):
		return "Layanan sedang sibuk, silakan coba lagi nanti."
	case errors.Is(err, ErrNoBranchAvailable):
		return "Stok tidak mencukupi di cabang mana pun, tunggu restock."
	default:
		return "Pesanan tidak dapat diproses."
	}
}
