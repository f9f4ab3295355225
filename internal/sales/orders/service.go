package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

var (
	ErrInvalidStatus = errors.New("invalid status transition")
	ErrValidation    = errors.New("orders: validation failed")

	// ErrTransitionInProgress means another request holds the order's transition lock.
	ErrTransitionInProgress = errors.New("orders: transition in progress")
)

const defaultLockTTL = 30 * time.Second

// Assigner picks and releases the fulfilling branch of an order.
type Assigner interface {
	Assign(ctx context.Context, orderID int64) (fulfillment.Assignment, error)
	ReleaseOrder(ctx context.Context, orderID int64) error
}

// Locker hands out per-order transition locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*shared.Lock, error)
}

// StatusNotifier is told about committed transitions.
type StatusNotifier interface {
	OrderStatusChanged(ctx context.Context, change StatusChange) error
}

type Service struct {
	repo     Repository
	assigner Assigner
	locker   Locker
	notifier StatusNotifier
	logger   *slog.Logger
	lockTTL  time.Duration
	now      func() time.Time
}

func NewService(repo Repository, assigner Assigner, locker Locker, notifier StatusNotifier, logger *slog.Logger, lockTTL time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Service{
		repo:     repo,
		assigner: assigner,
		locker:   locker,
		notifier: notifier,
		logger:   logger,
		lockTTL:  lockTTL,
		now:      time.Now,
	}
}

func (s *Service) Create(ctx context.Context, req CreateOrderRequest, createdBy int64) (*Order, error) {
	if (req.DeliveryLatitude == nil) != (req.DeliveryLongitude == nil) {
		return nil, fmt.Errorf("%w: delivery latitude and longitude must be set together", ErrValidation)
	}

	now := s.now()
	docNumber, err := s.repo.GenerateNumber(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("generate doc number: %w", err)
	}

	order := Order{
		DocNumber:         docNumber,
		CustomerID:        req.CustomerID,
		Status:            OrderStatusPending,
		AssignmentState:   AssignmentUnassigned,
		DeliveryLatitude:  req.DeliveryLatitude,
		DeliveryLongitude: req.DeliveryLongitude,
		Notes:             req.Notes,
		CreatedBy:         createdBy,
	}

	var orderID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		id, err := repo.Create(ctx, order)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		orderID = id

		for i, lineReq := range req.Lines {
			line := OrderLine{
				OrderID:   orderID,
				ProductID: lineReq.ProductID,
				VariantID: lineReq.VariantID,
				Quantity:  lineReq.Quantity,
				LineOrder: lineReq.LineOrder,
			}
			if line.LineOrder == 0 {
				line.LineOrder = i + 1
			}
			if _, err := repo.InsertLine(ctx, line); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return repo.InsertHistory(ctx, StatusHistory{OrderID: orderID, ToStatus: OrderStatusPending, ActorID: createdBy})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, StatusChange{OrderID: orderID, To: OrderStatusPending, ActorID: createdBy, At: now})
	return s.repo.Get(ctx, orderID)
}

// Transition moves an order to the requested status. Confirming assigns a branch and reserves
// stock; cancelling a confirmed order gives its stock back.
func (s *Service) Transition(ctx context.Context, id int64, to OrderStatus, actorID int64, reason *string) (*Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, to)
	}

	lock, err := s.locker.Acquire(ctx, shared.OrderTransitionLockKey(id), s.lockTTL)
	if err != nil {
		if errors.Is(err, shared.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: order %d", ErrTransitionInProgress, id)
		}
		return nil, fmt.Errorf("acquire order lock: %w", err)
	}
	// Assignment may run past the TTL (detached reservation writes and compensation), so the
	// lock is renewed until the transition returns.
	stopRenew := lock.KeepAlive(ctx, s.lockTTL, func(err error) {
		s.logger.Error("order lock lost during transition", slog.Int64("order_id", id), slog.Any("error", err))
	})
	defer func() {
		stopRenew()
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("order lock release failed", slog.Int64("order_id", id), slog.Any("error", err))
		}
	}()

	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !existing.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidStatus, existing.Status, to)
	}

	switch to {
	case OrderStatusConfirmed:
		err = s.confirm(ctx, existing, actorID)
	case OrderStatusCancelled:
		err = s.cancel(ctx, existing, actorID, reason)
	default:
		err = s.commit(ctx, existing, to, actorID, reason, existing.AssignmentState, existing.BranchID, existing.AssignmentNote)
	}
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) confirm(ctx context.Context, order *Order, actorID int64) error {
	logger := s.logger.With(slog.Int64("order_id", order.ID))

	assignment, err := s.assigner.Assign(ctx, order.ID)
	if err != nil && !(errors.Is(err, fulfillment.ErrAlreadyAssigned) && assignment.BranchID != 0) {
		msg := fulfillment.UserMessage(err)
		logger.Warn("order confirmation failed", slog.String("reason", msg), slog.Any("error", err))
		if serr := s.repo.SetAssignment(context.WithoutCancel(ctx), order.ID, AssignmentFailed, nil, &msg); serr != nil {
			logger.Error("record assignment failure", slog.Any("error", serr))
		}
		return fmt.Errorf("confirm order %d: %w", order.ID, err)
	}

	branchID := assignment.BranchID
	if err := s.commit(ctx, order, OrderStatusConfirmed, actorID, nil, AssignmentAssigned, &branchID, nil); err != nil {
		// The link stands; a retried confirm picks it up again without reserving twice.
		logger.Error("assigned order not confirmed", slog.Int64("branch_id", branchID), slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Service) cancel(ctx context.Context, order *Order, actorID int64, reason *string) error {
	if err := s.commit(ctx, order, OrderStatusCancelled, actorID, reason, AssignmentUnassigned, order.BranchID, nil); err != nil {
		return err
	}

	// A pending order may still hold a link whose confirm commit failed, so every cancel releases.
	err := s.assigner.ReleaseOrder(context.WithoutCancel(ctx), order.ID)
	if err == nil || errors.Is(err, fulfillment.ErrNotAssigned) {
		return nil
	}
	msg := "stok belum dikembalikan ke cabang"
	s.logger.Error("cancelled order stock not released",
		slog.Int64("order_id", order.ID), slog.Any("branch_id", order.BranchID), slog.Any("error", err))
	if serr := s.repo.SetAssignment(context.WithoutCancel(ctx), order.ID, AssignmentFailed, order.BranchID, &msg); serr != nil {
		s.logger.Error("record release failure", slog.Int64("order_id", order.ID), slog.Any("error", serr))
	}
	return fmt.Errorf("%w: release order %d: %w", fulfillment.ErrCompensationIncomplete, order.ID, err)
}

// commit writes the status change, the assignment columns and the history row in one transaction.
func (s *Service) commit(ctx context.Context, order *Order, to OrderStatus, actorID int64, reason *string, state AssignmentState, branchID *int64, note *string) error {
	from := order.Status
	err := s.repo.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, repo Repository) error {
		if err := repo.UpdateStatus(ctx, order.ID, from, to); err != nil {
			return err
		}
		if err := repo.SetAssignment(ctx, order.ID, state, branchID, note); err != nil {
			return err
		}
		return repo.InsertHistory(ctx, StatusHistory{
			OrderID:    order.ID,
			FromStatus: &from,
			ToStatus:   to,
			ActorID:    actorID,
			Note:       reason,
		})
	})
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	s.notify(ctx, StatusChange{OrderID: order.ID, From: from, To: to, BranchID: branchID, ActorID: actorID, At: s.now()})
	return nil
}

func (s *Service) notify(ctx context.Context, change StatusChange) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.OrderStatusChanged(ctx, change); err != nil {
		s.logger.Warn("order notification not queued", slog.Int64("order_id", change.OrderID), slog.Any("error", err))
	}
}

func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, req ListOrdersRequest) ([]Order, int, error) {
	return s.repo.List(ctx, req)
}

func (s *Service) History(ctx context.Context, id int64) ([]StatusHistory, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, id)
}
