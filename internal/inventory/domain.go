package inventory

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/audit"
)

// TableName is the audit table name of ledger rows.
const TableName = "inventory"

// Defaults applied to records created without explicit bounds.
const (
	DefaultMinStockLevel int64 = 5
	DefaultMaxStockLevel int64 = 1000
)

// Variant is an optional product variant. The zero value means "no variant".
type Variant struct {
	id    int64
	valid bool
}

// NoVariant returns the absent variant.
func NoVariant() Variant { return Variant{} }

// VariantOf returns a present variant.
func VariantOf(id int64) Variant { return Variant{id: id, valid: true} }

// VariantFromPtr maps a nullable id (JSON, SQL) to a Variant.
func VariantFromPtr(id *int64) Variant {
	if id == nil {
		return NoVariant()
	}
	return VariantOf(*id)
}

// ID returns the variant id and whether it is present.
func (v Variant) ID() (int64, bool) { return v.id, v.valid }

// Present reports whether a variant is set.
func (v Variant) Present() bool { return v.valid }

// Ptr returns a nullable id.
func (v Variant) Ptr() *int64 {
	if !v.valid {
		return nil
	}
	id := v.id
	return &id
}

func (v Variant) String() string {
	if !v.valid {
		return "-"
	}
	return fmt.Sprintf("%d", v.id)
}

// column encodes the variant for the unique key; 0 stands for absent.
func (v Variant) column() int64 {
	if !v.valid {
		return 0
	}
	return v.id
}

func variantFromColumn(id int64) Variant {
	if id == 0 {
		return NoVariant()
	}
	return VariantOf(id)
}

// Key identifies exactly one ledger row.
type Key struct {
	BranchID  int64
	ProductID int64
	Variant   Variant
}

func (k Key) String() string {
	return fmt.Sprintf("branch=%d product=%d variant=%s", k.BranchID, k.ProductID, k.Variant)
}

func (k Key) less(o Key) bool {
	if k.BranchID != o.BranchID {
		return k.BranchID < o.BranchID
	}
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	return k.Variant.column() < o.Variant.column()
}

// Record is the stock of one product variant at one branch.
type Record struct {
	ID               int64
	Key              Key
	Quantity         int64
	ReservedQuantity int64
	MinStockLevel    int64
	MaxStockLevel    int64
	UpdatedAt        time.Time
}

// LowStock reports whether available quantity dropped below the minimum.
func (r Record) LowStock() bool {
	return r.Quantity < r.MinStockLevel
}

func (r Record) snapshot() audit.Snapshot {
	return audit.Snapshot{
		"quantity":          r.Quantity,
		"reserved_quantity": r.ReservedQuantity,
		"min_stock_level":   r.MinStockLevel,
		"max_stock_level":   r.MaxStockLevel,
	}
}

// Item is one order line as seen by the ledger.
type Item struct {
	ProductID int64
	Variant   Variant
	Qty       int64
}

// KeyAt returns the ledger key of the item at a branch.
func (i Item) KeyAt(branchID int64) Key {
	return Key{BranchID: branchID, ProductID: i.ProductID, Variant: i.Variant}
}

// UpsertInput describes an absolute write of a record. Nil pointers keep the current value, or
// the default for a new record.
type UpsertInput struct {
	Key           Key
	Quantity      int64
	Reserved      *int64
	MinStockLevel *int64
	MaxStockLevel *int64
}

// ReleaseOverflowPolicy decides whether a release may push quantity above the maximum.
type ReleaseOverflowPolicy string

const (
	ReleaseOverflowReject ReleaseOverflowPolicy = "reject"
	ReleaseOverflowAllow  ReleaseOverflowPolicy = "allow"
)
