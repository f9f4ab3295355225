package orders

import (
	"time"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/geo"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered},
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the status machine allows moving from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type AssignmentState string

const (
	AssignmentUnassigned AssignmentState = "UNASSIGNED"
	AssignmentAssigned   AssignmentState = "ASSIGNED"
	AssignmentFailed     AssignmentState = "FAILED"
)

type Order struct {
	ID                int64           `json:"id"`
	DocNumber         string          `json:"doc_number"`
	CustomerID        int64           `json:"customer_id"`
	Status            OrderStatus     `json:"status"`
	AssignmentState   AssignmentState `json:"assignment_state"`
	BranchID          *int64          `json:"branch_id,omitempty"`
	AssignmentNote    *string         `json:"assignment_note,omitempty"`
	DeliveryLatitude  *float64        `json:"delivery_latitude,omitempty"`
	DeliveryLongitude *float64        `json:"delivery_longitude,omitempty"`
	Notes             *string         `json:"notes,omitempty"`
	CreatedBy         int64           `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Lines             []OrderLine     `json:"lines,omitempty"`
}

type OrderLine struct {
	ID        int64  `json:"id"`
	OrderID   int64  `json:"order_id"`
	ProductID int64  `json:"product_id"`
	VariantID *int64 `json:"variant_id,omitempty"`
	Quantity  int64  `json:"quantity"`
	LineOrder int    `json:"line_order"`
}

type StatusHistory struct {
	ID         int64        `json:"id"`
	OrderID    int64        `json:"order_id"`
	FromStatus *OrderStatus `json:"from_status,omitempty"`
	ToStatus   OrderStatus  `json:"to_status"`
	ActorID    int64        `json:"actor_id"`
	Note       *string      `json:"note,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// StatusChange is handed to the notifier after a transition commits.
type StatusChange struct {
	OrderID  int64       `json:"order_id"`
	From     OrderStatus `json:"from,omitempty"`
	To       OrderStatus `json:"to"`
	BranchID *int64      `json:"branch_id,omitempty"`
	ActorID  int64       `json:"actor_id"`
	At       time.Time   `json:"at"`
}

// fulfillmentOrder converts the stored order into the snapshot the assignment engine reads.
func (o Order) fulfillmentOrder() fulfillment.Order {
	out := fulfillment.Order{ID: o.ID}
	if o.DeliveryLatitude != nil && o.DeliveryLongitude != nil {
		out.Location = &geo.Coordinate{Latitude: *o.DeliveryLatitude, Longitude: *o.DeliveryLongitude}
	}
	for _, line := range o.Lines {
		out.Items = append(out.Items, inventory.Item{
			ProductID: line.ProductID,
			Variant:   inventory.VariantFromPtr(line.VariantID),
			Qty:       line.Quantity,
		})
	}
	return out
}
