package fulfillment

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/geo"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
)

// Order is the read-only snapshot the engine works from.
type Order struct {
	ID       int64
	Location *geo.Coordinate
	Items    []inventory.Item
}

// Assignment links an order to the branch that reserved its stock.
type Assignment struct {
	OrderID   int64     `json:"order_id"`
	BranchID  int64     `json:"branch_id"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderSource loads orders for assignment.
type OrderSource interface {
	LoadOrder(ctx context.Context, orderID int64) (Order, error)
}

// Ranker returns candidate branch ids nearest-first.
type Ranker interface {
	Rank(ctx context.Context, at geo.Coordinate) ([]int64, error)
}

// Ledger is the subset of the inventory ledger used for probing and reserving.
type Ledger interface {
	SufficiencyCheck(ctx context.Context, branchID int64, items []inventory.Item) (bool, error)
	Reserve(ctx context.Context, key inventory.Key, qty int64) (inventory.Record, error)
	Release(ctx context.Context, key inventory.Key, qty int64) (inventory.Record, error)
	ReserveAll(ctx context.Context, branchID int64, items []inventory.Item) ([]inventory.Record, error)
}

// AssignmentRepository persists branch-order links. Link reports created=false when a link for
// the order already existed, and returns that existing link.
type AssignmentRepository interface {
	Link(ctx context.Context, orderID, branchID int64) (Assignment, bool, error)
	Get(ctx context.Context, orderID int64) (Assignment, error)
}

// EventPublisher emits domain events.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, key string, payload any) error
}

// Metrics records engine outcomes.
type Metrics interface {
	ObserveAssignment(outcome string)
	ObserveCheck(result string)
	ObserveCompensation(result string)
}

// EventBranchAssigned is published after a link is written.
const EventBranchAssigned = "BranchAssigned"

// BranchAssignedEvent is the payload of EventBranchAssigned.
type BranchAssignedEvent struct {
	OrderID  int64          `json:"order_id"`
	BranchID int64          `json:"branch_id"`
	Items    []AssignedItem `json:"items"`
	At       time.Time      `json:"assigned_at"`
}

// AssignedItem is one reserved line.
type AssignedItem struct {
	ProductID int64  `json:"product_id"`
	VariantID *int64 `json:"variant_id,omitempty"`
	Quantity  int64  `json:"quantity"`
}
