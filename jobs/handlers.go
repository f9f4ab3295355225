package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-fulfillment/internal/jobs"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// OrderNotifyJob turns queued status changes into OrderStatusChanged events.
type OrderNotifyJob struct {
	Publisher EventPublisher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskOrderNotify tasks.
func (j *OrderNotifyJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track(TaskOrderNotify)
	defer func() { err = tracker.End(err) }()

	var payload OrderNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("order notify: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := j.Publisher.Publish(ctx, EventOrderStatusChanged, strconv.FormatInt(payload.OrderID, 10), payload); err != nil {
		return fmt.Errorf("order notify: publish: %w", err)
	}
	logger(j.Logger).Debug("order status change published",
		slog.Int64("order_id", payload.OrderID),
		slog.String("to", payload.To))
	return nil
}

// LowStockJob turns queued low-stock warnings into LowStock events.
type LowStockJob struct {
	Publisher EventPublisher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskLowStockAlert tasks.
func (j *LowStockJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track(TaskLowStockAlert)
	defer func() { err = tracker.End(err) }()

	var payload LowStockPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("low stock: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	key := fmt.Sprintf("%d:%d", payload.BranchID, payload.ProductID)
	if err := j.Publisher.Publish(ctx, EventLowStock, key, payload); err != nil {
		return fmt.Errorf("low stock: publish: %w", err)
	}
	return nil
}

// GeoIndexer rebuilds the branch geo set; satisfied by *geo.Indexer.
type GeoIndexer interface {
	Rebuild(ctx context.Context) (int, error)
}

// IndexLocker guards the rebuild against concurrent workers; satisfied by *shared.Locker.
type IndexLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*shared.Lock, error)
}

// BranchReindexJob refreshes the geo index the ranker reads.
type BranchReindexJob struct {
	Indexer GeoIndexer
	Locker  IndexLocker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	LockTTL time.Duration
}

// Handle processes TaskBranchReindex tasks. A rebuild already running elsewhere makes this one a
// no-op.
func (j *BranchReindexJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track(TaskBranchReindex)
	defer func() { err = tracker.End(err) }()

	var payload BranchReindexPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("branch reindex: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	log := logger(j.Logger).With(slog.String("reason", payload.Reason))

	ttl := j.LockTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	if j.Locker != nil {
		lock, err := j.Locker.Acquire(ctx, shared.BranchIndexLockKey(), ttl)
		if err != nil {
			if errors.Is(err, shared.ErrLockNotAcquired) {
				log.Info("branch reindex already running")
				return nil
			}
			return err
		}
		defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
	}

	count, err := j.Indexer.Rebuild(ctx)
	if err != nil {
		log.Error("branch reindex failed", slog.Any("error", err))
		return err
	}
	j.Metrics.SetIndexedBranches(count)
	log.Info("branch geo index rebuilt", slog.Int("branches", count))
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
