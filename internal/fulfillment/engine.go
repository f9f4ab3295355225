// Package fulfillment picks the branch that ships an order and reserves its stock there.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
)

// Strategy selects how stock is reserved at a candidate branch.
type Strategy string

const (
	// StrategySequential checks sufficiency, then reserves line by line. A concurrent drop between
	// the check and a reservation is handled by compensation and fallback to the next branch.
	StrategySequential Strategy = "sequential"
	// StrategyLocked reserves every line in one transaction holding the row locks.
	StrategyLocked Strategy = "locked"
)

// Outcome labels for metrics.
const (
	outcomeAssigned       = "assigned"
	outcomeExisting       = "existing"
	outcomeNoBranch       = "no_branch"
	outcomeMissingLoc     = "missing_location"
	outcomeUnavailable    = "unavailable"
	outcomePersistFailed  = "persist_failed"
	outcomeCompensation   = "compensation_failed"
	outcomeInvalid        = "invalid"
	checkInsufficient     = "insufficient"
	checkReserveFailed    = "reserve_failed"
	checkReserved         = "reserved"
	checkError            = "error"
	compensationOK        = "ok"
	compensationFailed    = "failed"
	defaultCompensateWait = 30 * time.Second
)

// Config tunes the engine.
type Config struct {
	Strategy            Strategy
	CallTimeout         time.Duration
	CompensationTimeout time.Duration
}

// Deps groups the collaborators of Engine. Publisher and Metrics are optional.
type Deps struct {
	Orders      OrderSource
	Ranker      Ranker
	Ledger      Ledger
	Assignments AssignmentRepository
	Publisher   EventPublisher
	Metrics     Metrics
	Logger      *slog.Logger
}

// Engine assigns orders to branches.
type Engine struct {
	orders      OrderSource
	ranker      Ranker
	ledger      Ledger
	assignments AssignmentRepository
	publisher   EventPublisher
	metrics     Metrics
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time
}

// NewEngine constructs Engine.
func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySequential
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = defaultCompensateWait
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		orders:      deps.Orders,
		ranker:      deps.Ranker,
		ledger:      deps.Ledger,
		assignments: deps.Assignments,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Assign picks the nearest branch able to reserve every line of the order, reserves the stock
// and records the link. An order that is already linked returns its existing assignment.
func (e *Engine) Assign(ctx context.Context, orderID int64) (Assignment, error) {
	logger := e.logger.With(slog.Int64("order_id", orderID))

	existing, err := e.assignments.Get(ctx, orderID)
	if err == nil {
		e.observeAssignment(outcomeExisting)
		return existing, nil
	}
	if !errors.Is(err, ErrNotAssigned) {
		e.observeAssignment(outcomeUnavailable)
		return Assignment{}, fmt.Errorf("%w: load assignment: %w", inventory.ErrUnavailable, err)
	}

	order, err := e.orders.LoadOrder(ctx, orderID)
	if err != nil {
		if isUnavailable(err) {
			e.observeAssignment(outcomeUnavailable)
			return Assignment{}, fmt.Errorf("%w: load order: %w", inventory.ErrUnavailable, err)
		}
		e.observeAssignment(outcomeInvalid)
		return Assignment{}, err
	}
	if order.Location == nil {
		e.observeAssignment(outcomeMissingLoc)
		return Assignment{}, ErrMissingLocation
	}
	if err := validateItems(order.Items); err != nil {
		e.observeAssignment(outcomeInvalid)
		return Assignment{}, err
	}

	rankCtx, cancel := e.callContext(ctx)
	candidates, err := e.ranker.Rank(rankCtx, *order.Location)
	cancel()
	if err != nil {
		logger.Warn("branch ranking failed", slog.Any("error", err))
		e.observeAssignment(outcomeNoBranch)
		return Assignment{}, fmt.Errorf("%w: %w: %v", ErrNoBranchAvailable, ErrRankingUnavailable, err)
	}
	if len(candidates) == 0 {
		logger.Info("no candidate branch in range")
		e.observeAssignment(outcomeNoBranch)
		return Assignment{}, ErrNoBranchAvailable
	}

	for _, branchID := range candidates {
		if err := ctx.Err(); err != nil {
			e.observeAssignment(outcomeUnavailable)
			return Assignment{}, fmt.Errorf("%w: %w", inventory.ErrUnavailable, err)
		}
		blog := logger.With(slog.Int64("branch_id", branchID))

		reserved, err := e.reserveAt(ctx, blog, branchID, order.Items)
		if err != nil {
			if errors.Is(err, errSkipBranch) {
				continue
			}
			e.observeFailure(err)
			return Assignment{}, err
		}

		assignment, err := e.link(ctx, blog, order, branchID, reserved)
		if err != nil {
			e.observeFailure(err)
			return assignment, err
		}
		return assignment, nil
	}

	logger.Info("no branch can fulfil order", slog.Int("candidates", len(candidates)))
	e.observeAssignment(outcomeNoBranch)
	return Assignment{}, ErrNoBranchAvailable
}

// Lookup returns the stored assignment of an order.
func (e *Engine) Lookup(ctx context.Context, orderID int64) (Assignment, error) {
	return e.assignments.Get(ctx, orderID)
}

// ReleaseOrder returns the reserved stock of an assigned order to its branch. Used when a
// confirmed order is cancelled.
func (e *Engine) ReleaseOrder(ctx context.Context, orderID int64) error {
	assignment, err := e.assignments.Get(ctx, orderID)
	if err != nil {
		return err
	}
	order, err := e.orders.LoadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return e.compensate(ctx, e.logger.With(slog.Int64("order_id", orderID), slog.Int64("branch_id", assignment.BranchID)), assignment.BranchID, order.Items)
}

var errSkipBranch = errors.New("fulfillment: skip branch")

// reserveAt tries to reserve every item at one branch. It returns errSkipBranch when the branch
// cannot serve the order and any partial reservation has been undone.
func (e *Engine) reserveAt(ctx context.Context, logger *slog.Logger, branchID int64, items []inventory.Item) ([]inventory.Item, error) {
	if e.cfg.Strategy == StrategyLocked {
		return e.reserveLocked(ctx, logger, branchID, items)
	}

	checkCtx, cancel := e.callContext(ctx)
	ok, err := e.ledger.SufficiencyCheck(checkCtx, branchID, items)
	cancel()
	if err != nil {
		if isUnavailable(err) {
			e.observeCheck(checkError)
			return nil, fmt.Errorf("%w: sufficiency check at branch %d: %w", inventory.ErrUnavailable, branchID, err)
		}
		logger.Warn("sufficiency check failed, trying next branch", slog.Any("error", err))
		e.observeCheck(checkError)
		return nil, errSkipBranch
	}
	if !ok {
		logger.Debug("branch has insufficient stock")
		e.observeCheck(checkInsufficient)
		return nil, errSkipBranch
	}

	// Reservations are written to completion even if the caller goes away.
	writeCtx := context.WithoutCancel(ctx)
	reserved := make([]inventory.Item, 0, len(items))
	for _, item := range items {
		callCtx, cancel := e.callContext(writeCtx)
		_, err := e.ledger.Reserve(callCtx, item.KeyAt(branchID), item.Qty)
		cancel()
		if err == nil {
			reserved = append(reserved, item)
			continue
		}
		e.observeCheck(checkReserveFailed)
		logger.Info("reservation failed, releasing branch",
			slog.Int64("product_id", item.ProductID),
			slog.Any("error", err))
		if cerr := e.compensate(ctx, logger, branchID, reserved); cerr != nil {
			return nil, errors.Join(cerr, err)
		}
		if isUnavailable(err) {
			return nil, fmt.Errorf("%w: reserve at branch %d: %w", inventory.ErrUnavailable, branchID, err)
		}
		return nil, errSkipBranch
	}
	e.observeCheck(checkReserved)
	return reserved, nil
}

func (e *Engine) reserveLocked(ctx context.Context, logger *slog.Logger, branchID int64, items []inventory.Item) ([]inventory.Item, error) {
	callCtx, cancel := e.callContext(context.WithoutCancel(ctx))
	_, err := e.ledger.ReserveAll(callCtx, branchID, items)
	cancel()
	if err == nil {
		e.observeCheck(checkReserved)
		return items, nil
	}
	if isUnavailable(err) {
		e.observeCheck(checkError)
		return nil, fmt.Errorf("%w: reserve at branch %d: %w", inventory.ErrUnavailable, branchID, err)
	}
	if errors.Is(err, inventory.ErrInsufficientStock) || errors.Is(err, inventory.ErrNotFound) {
		e.observeCheck(checkInsufficient)
	} else {
		e.observeCheck(checkReserveFailed)
	}
	logger.Debug("locked reservation refused", slog.Any("error", err))
	return nil, errSkipBranch
}

func (e *Engine) link(ctx context.Context, logger *slog.Logger, order Order, branchID int64, reserved []inventory.Item) (Assignment, error) {
	callCtx, cancel := e.callContext(context.WithoutCancel(ctx))
	assignment, created, err := e.assignments.Link(callCtx, order.ID, branchID)
	cancel()
	if err != nil {
		logger.Error("assignment link failed, releasing reservations", slog.Any("error", err))
		if cerr := e.compensate(ctx, logger, branchID, reserved); cerr != nil {
			return Assignment{}, errors.Join(fmt.Errorf("%w: %w", ErrAssignmentPersistFailed, err), cerr)
		}
		return Assignment{}, fmt.Errorf("%w: %w", ErrAssignmentPersistFailed, err)
	}
	if !created {
		// Another worker linked the order first; its reservations stand, ours go back.
		if cerr := e.compensate(ctx, logger, branchID, reserved); cerr != nil {
			return Assignment{}, cerr
		}
		e.observeAssignment(outcomeExisting)
		if assignment.BranchID != branchID {
			return assignment, fmt.Errorf("%w: branch %d", ErrAlreadyAssigned, assignment.BranchID)
		}
		return assignment, nil
	}

	e.observeAssignment(outcomeAssigned)
	logger.Info("order assigned", slog.Int("items", len(reserved)))
	e.publishAssigned(ctx, logger, assignment, reserved)
	return assignment, nil
}

// compensate releases reserved items in reverse order on a context detached from the caller so
// that a cancelled request still unwinds its reservations.
func (e *Engine) compensate(ctx context.Context, logger *slog.Logger, branchID int64, reserved []inventory.Item) error {
	if len(reserved) == 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CompensationTimeout)
	defer cancel()

	var errs []error
	for i := len(reserved) - 1; i >= 0; i-- {
		item := reserved[i]
		if _, err := e.ledger.Release(cctx, item.KeyAt(branchID), item.Qty); err != nil {
			errs = append(errs, fmt.Errorf("release product %d variant %s qty %d: %w", item.ProductID, item.Variant, item.Qty, err))
		}
	}
	if len(errs) > 0 {
		e.observeCompensation(compensationFailed)
		err := errors.Join(errs...)
		logger.Error("compensation incomplete", slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrCompensationIncomplete, err)
	}
	e.observeCompensation(compensationOK)
	logger.Warn("reservations released", slog.Int("items", len(reserved)))
	return nil
}

func (e *Engine) publishAssigned(ctx context.Context, logger *slog.Logger, a Assignment, items []inventory.Item) {
	if e.publisher == nil {
		return
	}
	evt := BranchAssignedEvent{OrderID: a.OrderID, BranchID: a.BranchID, At: e.now().UTC()}
	for _, item := range items {
		evt.Items = append(evt.Items, AssignedItem{ProductID: item.ProductID, VariantID: item.Variant.Ptr(), Quantity: item.Qty})
	}
	if err := e.publisher.Publish(ctx, EventBranchAssigned, strconv.FormatInt(a.OrderID, 10), evt); err != nil {
		logger.Warn("branch assigned event not published", slog.Any("error", err))
	}
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

func (e *Engine) observeFailure(err error) {
	switch {
	case errors.Is(err, ErrCompensationIncomplete):
		e.observeAssignment(outcomeCompensation)
	case errors.Is(err, ErrAssignmentPersistFailed):
		e.observeAssignment(outcomePersistFailed)
	case errors.Is(err, ErrAlreadyAssigned):
		// counted in link
	default:
		e.observeAssignment(outcomeUnavailable)
	}
}

func (e *Engine) observeAssignment(outcome string) {
	if e.metrics != nil {
		e.metrics.ObserveAssignment(outcome)
	}
}

func (e *Engine) observeCheck(result string) {
	if e.metrics != nil {
		e.metrics.ObserveCheck(result)
	}
}

func (e *Engine) observeCompensation(result string) {
	if e.metrics != nil {
		e.metrics.ObserveCompensation(result)
	}
}

func validateItems(items []inventory.Item) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: no line items", ErrInvalidOrder)
	}
	for i, item := range items {
		if item.ProductID <= 0 || item.Qty <= 0 {
			return fmt.Errorf("%w: line %d", ErrInvalidOrder, i+1)
		}
	}
	return nil
}
