package orders

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

type memoryRepo struct {
	orders  map[int64]Order
	history []StatusHistory
	nextID  int64
	failTx  error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[int64]Order)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.failTx != nil {
		return r.failTx
	}
	orders := make(map[int64]Order, len(r.orders))
	for k, v := range r.orders {
		orders[k] = v
	}
	history := append([]StatusHistory(nil), r.history...)
	if err := fn(ctx, r); err != nil {
		r.orders, r.history = orders, history
		return err
	}
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (*Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (r *memoryRepo) List(_ context.Context, req ListOrdersRequest) ([]Order, int, error) {
	var out []Order
	for _, o := range r.orders {
		if req.Status != nil && o.Status != *req.Status {
			continue
		}
		out = append(out, o)
	}
	return out, len(out), nil
}

func (r *memoryRepo) Create(_ context.Context, o Order) (int64, error) {
	r.nextID++
	o.ID = r.nextID
	r.orders[o.ID] = o
	return o.ID, nil
}

func (r *memoryRepo) InsertLine(_ context.Context, line OrderLine) (int64, error) {
	o := r.orders[line.OrderID]
	line.ID = int64(len(o.Lines) + 1)
	o.Lines = append(o.Lines, line)
	r.orders[line.OrderID] = o
	return line.ID, nil
}

func (r *memoryRepo) UpdateStatus(_ context.Context, id int64, from, to OrderStatus) error {
	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return ErrStatusChanged
	}
	o.Status = to
	r.orders[id] = o
	return nil
}

func (r *memoryRepo) SetAssignment(_ context.Context, id int64, state AssignmentState, branchID *int64, note *string) error {
	o, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.AssignmentState, o.BranchID, o.AssignmentNote = state, branchID, note
	r.orders[id] = o
	return nil
}

func (r *memoryRepo) InsertHistory(_ context.Context, h StatusHistory) error {
	r.history = append(r.history, h)
	return nil
}

func (r *memoryRepo) ListHistory(_ context.Context, orderID int64) ([]StatusHistory, error) {
	var out []StatusHistory
	for _, h := range r.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memoryRepo) GenerateNumber(_ context.Context, date time.Time) (string, error) {
	return fmt.Sprintf("ORD-%s-%05d", date.Format("0601"), r.nextID+1), nil
}

func (r *memoryRepo) LoadOrder(ctx context.Context, id int64) (fulfillment.Order, error) {
	o, err := r.Get(ctx, id)
	if err != nil {
		return fulfillment.Order{}, err
	}
	return o.fulfillmentOrder(), nil
}

type fakeAssigner struct {
	assignCalls  int
	releaseCalls int
	branchID     int64
	assignErr    error
	releaseErr   error
	onAssign     func(ctx context.Context)
}

func (a *fakeAssigner) Assign(ctx context.Context, orderID int64) (fulfillment.Assignment, error) {
	a.assignCalls++
	if a.onAssign != nil {
		a.onAssign(ctx)
	}
	if a.assignErr != nil {
		return fulfillment.Assignment{}, a.assignErr
	}
	return fulfillment.Assignment{OrderID: orderID, BranchID: a.branchID}, nil
}

func (a *fakeAssigner) ReleaseOrder(context.Context, int64) error {
	a.releaseCalls++
	return a.releaseErr
}

type recordingNotifier struct {
	changes []StatusChange
}

func (n *recordingNotifier) OrderStatusChanged(_ context.Context, change StatusChange) error {
	n.changes = append(n.changes, change)
	return nil
}

type fixture struct {
	svc      *Service
	repo     *memoryRepo
	assigner *fakeAssigner
	notifier *recordingNotifier
	redis    *miniredis.Miniredis
	client   *redis.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		repo:     newMemoryRepo(),
		assigner: &fakeAssigner{branchID: 3},
		notifier: &recordingNotifier{},
		redis:    mr,
		client:   client,
	}
	f.svc = NewService(f.repo, f.assigner, shared.NewLocker(client), f.notifier, nil, time.Minute)
	return f
}

func (f *fixture) createOrder(t *testing.T) *Order {
	t.Helper()
	lat, lon := -6.2, 106.8
	variant := int64(4)
	order, err := f.svc.Create(context.Background(), CreateOrderRequest{
		CustomerID:        1,
		DeliveryLatitude:  &lat,
		DeliveryLongitude: &lon,
		Lines: []CreateOrderLineReq{
			{ProductID: 10, Quantity: 2},
			{ProductID: 11, VariantID: &variant, Quantity: 1},
		},
	}, 9)
	require.NoError(t, err)
	return order
}

func TestCreateOrderStartsPending(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)

	require.Equal(t, OrderStatusPending, order.Status)
	require.Equal(t, AssignmentUnassigned, order.AssignmentState)
	require.Len(t, order.Lines, 2)
	require.Equal(t, 2, order.Lines[1].LineOrder)

	fo := order.fulfillmentOrder()
	require.NotNil(t, fo.Location)
	require.Equal(t, inventory.VariantOf(4), fo.Items[1].Variant)
	require.False(t, fo.Items[0].Variant.Present())

	require.Len(t, f.notifier.changes, 1)
	require.Equal(t, OrderStatusPending, f.notifier.changes[0].To)
}

func TestCreateOrderRejectsHalfLocation(t *testing.T) {
	f := newFixture(t)
	lat := 1.0
	_, err := f.svc.Create(context.Background(), CreateOrderRequest{
		CustomerID:       1,
		DeliveryLatitude: &lat,
		Lines:            []CreateOrderLineReq{{ProductID: 1, Quantity: 1}},
	}, 0)
	require.ErrorIs(t, err, ErrValidation)
}

func TestConfirmAssignsBranch(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)

	confirmed, err := f.svc.Transition(context.Background(), order.ID, OrderStatusConfirmed, 9, nil)
	require.NoError(t, err)
	require.Equal(t, OrderStatusConfirmed, confirmed.Status)
	require.Equal(t, AssignmentAssigned, confirmed.AssignmentState)
	require.Equal(t, int64(3), *confirmed.BranchID)
	require.Equal(t, 1, f.assigner.assignCalls)

	history, err := f.svc.History(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, OrderStatusPending, *history[1].FromStatus)
	require.Equal(t, OrderStatusConfirmed, history[1].ToStatus)

	last := f.notifier.changes[len(f.notifier.changes)-1]
	require.Equal(t, OrderStatusConfirmed, last.To)
	require.Equal(t, int64(3), *last.BranchID)
	require.False(t, f.redis.Exists(shared.OrderTransitionLockKey(order.ID)))

	_, err = f.svc.Transition(context.Background(), order.ID, OrderStatusConfirmed, 9, nil)
	require.ErrorIs(t, err, ErrInvalidStatus)
	require.Equal(t, 1, f.assigner.assignCalls)
}

func TestConfirmFailureKeepsPending(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)
	f.assigner.assignErr = fulfillment.ErrNoBranchAvailable

	_, err := f.svc.Transition(context.Background(), order.ID, OrderStatusConfirmed, 9, nil)
	require.ErrorIs(t, err, fulfillment.ErrNoBranchAvailable)

	stored, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusPending, stored.Status)
	require.Equal(t, AssignmentFailed, stored.AssignmentState)
	require.Equal(t, fulfillment.UserMessage(fulfillment.ErrNoBranchAvailable), *stored.AssignmentNote)
	require.Len(t, f.repo.history, 1)
}

func TestConcurrentTransitionRejected(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)
	require.NoError(t, f.redis.Set(shared.OrderTransitionLockKey(order.ID), "other"))

	_, err := f.svc.Transition(context.Background(), order.ID, OrderStatusConfirmed, 9, nil)
	require.ErrorIs(t, err, ErrTransitionInProgress)
	require.Zero(t, f.assigner.assignCalls)
}

func TestSlowConfirmKeepsLockPastTTL(t *testing.T) {
	f := newFixture(t)
	ttl := 300 * time.Millisecond
	f.svc = NewService(f.repo, f.assigner, shared.NewLocker(f.client), f.notifier, nil, ttl)
	order := f.createOrder(t)
	key := shared.OrderTransitionLockKey(order.ID)

	var cancelErr error
	f.assigner.onAssign = func(ctx context.Context) {
		// Let more than one TTL pass while assignment is still running.
		f.redis.FastForward(250 * time.Millisecond)
		require.Eventually(t, func() bool { return f.redis.TTL(key) > 200*time.Millisecond }, time.Second, 10*time.Millisecond)
		f.redis.FastForward(250 * time.Millisecond)
		require.True(t, f.redis.Exists(key))

		_, cancelErr = f.svc.Transition(ctx, order.ID, OrderStatusCancelled, 9, nil)
	}

	confirmed, err := f.svc.Transition(context.Background(), order.ID, OrderStatusConfirmed, 9, nil)
	require.NoError(t, err)
	require.Equal(t, OrderStatusConfirmed, confirmed.Status)
	require.ErrorIs(t, cancelErr, ErrTransitionInProgress)
	require.Zero(t, f.assigner.releaseCalls)
	require.False(t, f.redis.Exists(key))
}

func TestShipAndDeliver(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)
	ctx := context.Background()

	_, err := f.svc.Transition(ctx, order.ID, OrderStatusShipped, 9, nil)
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.Transition(ctx, order.ID, OrderStatusConfirmed, 9, nil)
	require.NoError(t, err)
	shipped, err := f.svc.Transition(ctx, order.ID, OrderStatusShipped, 9, nil)
	require.NoError(t, err)
	require.Equal(t, AssignmentAssigned, shipped.AssignmentState)

	_, err = f.svc.Transition(ctx, order.ID, OrderStatusCancelled, 9, nil)
	require.ErrorIs(t, err, ErrInvalidStatus)

	delivered, err := f.svc.Transition(ctx, order.ID, OrderStatusDelivered, 9, nil)
	require.NoError(t, err)
	require.Equal(t, OrderStatusDelivered, delivered.Status)
	require.Zero(t, f.assigner.releaseCalls)
}

func TestCancelConfirmedReleasesStock(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)
	ctx := context.Background()
	_, err := f.svc.Transition(ctx, order.ID, OrderStatusConfirmed, 9, nil)
	require.NoError(t, err)

	reason := "customer request"
	cancelled, err := f.svc.Transition(ctx, order.ID, OrderStatusCancelled, 9, &reason)
	require.NoError(t, err)
	require.Equal(t, OrderStatusCancelled, cancelled.Status)
	require.Equal(t, 1, f.assigner.releaseCalls)
	require.Equal(t, reason, *f.repo.history[len(f.repo.history)-1].Note)
}

func TestCancelPendingWithoutLink(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)
	f.assigner.releaseErr = fulfillment.ErrNotAssigned

	cancelled, err := f.svc.Transition(context.Background(), order.ID, OrderStatusCancelled, 9, nil)
	require.NoError(t, err)
	require.Equal(t, OrderStatusCancelled, cancelled.Status)
}

func TestCancelReleaseFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)
	ctx := context.Background()
	_, err := f.svc.Transition(ctx, order.ID, OrderStatusConfirmed, 9, nil)
	require.NoError(t, err)
	f.assigner.releaseErr = errors.New("connection refused")

	_, err = f.svc.Transition(ctx, order.ID, OrderStatusCancelled, 9, nil)
	require.ErrorIs(t, err, fulfillment.ErrCompensationIncomplete)

	stored, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusCancelled, stored.Status)
	require.Equal(t, AssignmentFailed, stored.AssignmentState)
}

func TestConfirmCommitFailureLeavesOrderPending(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)
	f.repo.failTx = errors.New("commit failed")

	_, err := f.svc.Transition(context.Background(), order.ID, OrderStatusConfirmed, 9, nil)
	require.Error(t, err)
	require.Equal(t, OrderStatusPending, f.repo.orders[order.ID].Status)

	f.repo.failTx = nil
	confirmed, err := f.svc.Transition(context.Background(), order.ID, OrderStatusConfirmed, 9, nil)
	require.NoError(t, err)
	require.Equal(t, OrderStatusConfirmed, confirmed.Status)
}

func TestStatusMachine(t *testing.T) {
	require.True(t, OrderStatusPending.CanTransition(OrderStatusConfirmed))
	require.True(t, OrderStatusPending.CanTransition(OrderStatusCancelled))
	require.True(t, OrderStatusConfirmed.CanTransition(OrderStatusCancelled))
	require.False(t, OrderStatusDelivered.CanTransition(OrderStatusCancelled))
	require.False(t, OrderStatusCancelled.CanTransition(OrderStatusPending))
	require.False(t, OrderStatus("LOST").Valid())
}
