package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sales/orders"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOrderNotify announces an order status change.
	TaskOrderNotify = "order:notify"
	// TaskLowStockAlert announces a ledger record below its minimum.
	TaskLowStockAlert = "inventory:low-stock"
	// TaskBranchReindex rebuilds the branch geo index.
	TaskBranchReindex = "branches:reindex"
)

// Event types written by the task handlers.
const (
	EventOrderStatusChanged = "OrderStatusChanged"
	EventLowStock           = "LowStock"
)

// EventPublisher emits domain events; satisfied by *broker.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, key string, payload any) error
}

// OrderNotifyPayload describes one committed order transition.
type OrderNotifyPayload struct {
	OrderID  int64     `json:"order_id"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to"`
	BranchID *int64    `json:"branch_id,omitempty"`
	ActorID  int64     `json:"actor_id"`
	At       time.Time `json:"at"`
}

// NewOrderNotifyTask constructs an Asynq task from a status change.
func NewOrderNotifyTask(change orders.StatusChange) (*asynq.Task, error) {
	payload := OrderNotifyPayload{
		OrderID:  change.OrderID,
		From:     string(change.From),
		To:       string(change.To),
		BranchID: change.BranchID,
		ActorID:  change.ActorID,
		At:       change.At.UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderNotify, data, asynq.Queue(QueueDefault), asynq.MaxRetry(10)), nil
}

// LowStockPayload carries the record state at the time of the warning.
type LowStockPayload struct {
	RecordID      int64     `json:"record_id"`
	BranchID      int64     `json:"branch_id"`
	ProductID     int64     `json:"product_id"`
	VariantID     *int64    `json:"variant_id,omitempty"`
	Quantity      int64     `json:"quantity"`
	MinStockLevel int64     `json:"min_stock_level"`
	At            time.Time `json:"at"`
}

// NewLowStockTask constructs an Asynq task for a low-stock record.
func NewLowStockTask(rec inventory.Record, at time.Time) (*asynq.Task, error) {
	payload := LowStockPayload{
		RecordID:      rec.ID,
		BranchID:      rec.Key.BranchID,
		ProductID:     rec.Key.ProductID,
		VariantID:     rec.Key.Variant.Ptr(),
		Quantity:      rec.Quantity,
		MinStockLevel: rec.MinStockLevel,
		At:            at.UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockAlert, data, asynq.Queue(QueueDefault)), nil
}

// BranchReindexPayload contains options for the reindex job.
type BranchReindexPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewBranchReindexTask builds a new reindex task.
func NewBranchReindexTask(reason string) (*asynq.Task, error) {
	body, err := json.Marshal(BranchReindexPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBranchReindex, body, asynq.Queue(QueueDefault)), nil
}
