package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/geo"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
)

type stock struct {
	qty      int64
	reserved int64
}

// fakeLedger keeps stock per key and lets tests interfere with reservations.
type fakeLedger struct {
	mu            sync.Mutex
	stock         map[inventory.Key]*stock
	beforeReserve func(key inventory.Key)
	reserveErr    map[inventory.Key]error
	releaseErr    error
	checkErr      error
	reserveCalls  int
	releaseCalls  []inventory.Key
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{stock: map[inventory.Key]*stock{}, reserveErr: map[inventory.Key]error{}}
}

func (l *fakeLedger) set(branchID, productID, qty int64) {
	l.stock[inventory.Key{BranchID: branchID, ProductID: productID}] = &stock{qty: qty}
}

func (l *fakeLedger) get(branchID, productID int64) stock {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stock[inventory.Key{BranchID: branchID, ProductID: productID}]
	if !ok {
		return stock{}
	}
	return *s
}

func (l *fakeLedger) SufficiencyCheck(_ context.Context, branchID int64, items []inventory.Item) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.checkErr != nil {
		return false, l.checkErr
	}
	for _, item := range items {
		s, ok := l.stock[item.KeyAt(branchID)]
		if !ok || s.qty < item.Qty {
			return false, nil
		}
	}
	return true, nil
}

func (l *fakeLedger) Reserve(ctx context.Context, key inventory.Key, qty int64) (inventory.Record, error) {
	if l.beforeReserve != nil {
		l.beforeReserve(key)
	}
	if err := ctx.Err(); err != nil {
		return inventory.Record{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserveCalls++
	if err := l.reserveErr[key]; err != nil {
		return inventory.Record{}, err
	}
	s, ok := l.stock[key]
	if !ok {
		return inventory.Record{}, inventory.ErrNotFound
	}
	if s.qty < qty {
		return inventory.Record{}, fmt.Errorf("%w: %s", inventory.ErrInsufficientStock, key)
	}
	s.qty -= qty
	s.reserved += qty
	return inventory.Record{Key: key, Quantity: s.qty, ReservedQuantity: s.reserved}, nil
}

func (l *fakeLedger) Release(ctx context.Context, key inventory.Key, qty int64) (inventory.Record, error) {
	if err := ctx.Err(); err != nil {
		return inventory.Record{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseCalls = append(l.releaseCalls, key)
	if l.releaseErr != nil {
		return inventory.Record{}, l.releaseErr
	}
	s := l.stock[key]
	s.qty += qty
	s.reserved -= qty
	return inventory.Record{Key: key, Quantity: s.qty, ReservedQuantity: s.reserved}, nil
}

func (l *fakeLedger) ReserveAll(_ context.Context, branchID int64, items []inventory.Item) ([]inventory.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, item := range items {
		s, ok := l.stock[item.KeyAt(branchID)]
		if !ok {
			return nil, inventory.ErrNotFound
		}
		if s.qty < item.Qty {
			return nil, inventory.ErrInsufficientStock
		}
	}
	var out []inventory.Record
	for _, item := range items {
		s := l.stock[item.KeyAt(branchID)]
		s.qty -= item.Qty
		s.reserved += item.Qty
		out = append(out, inventory.Record{Key: item.KeyAt(branchID), Quantity: s.qty, ReservedQuantity: s.reserved})
	}
	return out, nil
}

type fakeRanker struct {
	ids   []int64
	err   error
	calls int
}

func (r *fakeRanker) Rank(context.Context, geo.Coordinate) ([]int64, error) {
	r.calls++
	return r.ids, r.err
}

type fakeOrders map[int64]Order

func (o fakeOrders) LoadOrder(_ context.Context, id int64) (Order, error) {
	order, ok := o[id]
	if !ok {
		return Order{}, fmt.Errorf("order %d missing", id)
	}
	return order, nil
}

type fakeAssignments struct {
	links   map[int64]Assignment
	linkErr error
	// preempt simulates another worker linking the order to this branch first.
	preempt int64
}

func newFakeAssignments() *fakeAssignments {
	return &fakeAssignments{links: map[int64]Assignment{}}
}

func (a *fakeAssignments) Link(_ context.Context, orderID, branchID int64) (Assignment, bool, error) {
	if a.linkErr != nil {
		return Assignment{}, false, a.linkErr
	}
	if a.preempt != 0 {
		a.links[orderID] = Assignment{OrderID: orderID, BranchID: a.preempt}
	}
	if existing, ok := a.links[orderID]; ok {
		return existing, false, nil
	}
	link := Assignment{OrderID: orderID, BranchID: branchID, CreatedAt: time.Now()}
	a.links[orderID] = link
	return link, true, nil
}

func (a *fakeAssignments) Get(_ context.Context, orderID int64) (Assignment, error) {
	link, ok := a.links[orderID]
	if !ok {
		return Assignment{}, ErrNotAssigned
	}
	return link, nil
}

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType, key string, _ any) error {
	p.events = append(p.events, eventType+":"+key)
	return nil
}

type countingMetrics struct {
	assignments   map[string]int
	checks        map[string]int
	compensations map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{assignments: map[string]int{}, checks: map[string]int{}, compensations: map[string]int{}}
}

func (m *countingMetrics) ObserveAssignment(outcome string)   { m.assignments[outcome]++ }
func (m *countingMetrics) ObserveCheck(result string)        { m.checks[result]++ }
func (m *countingMetrics) ObserveCompensation(result string) { m.compensations[result]++ }

type harness struct {
	engine      *Engine
	ledger      *fakeLedger
	ranker      *fakeRanker
	assignments *fakeAssignments
	publisher   *recordingPublisher
	metrics     *countingMetrics
}

const orderID = 500

func twoLineOrder() Order {
	return Order{
		ID:       orderID,
		Location: &geo.Coordinate{Latitude: -6.2, Longitude: 106.8},
		Items: []inventory.Item{
			{ProductID: 1, Qty: 2},
			{ProductID: 2, Qty: 1},
		},
	}
}

func newHarness(order Order, cfg Config, branches ...int64) *harness {
	h := &harness{
		ledger:      newFakeLedger(),
		ranker:      &fakeRanker{ids: branches},
		assignments: newFakeAssignments(),
		publisher:   &recordingPublisher{},
		metrics:     newCountingMetrics(),
	}
	h.engine = NewEngine(Deps{
		Orders:      fakeOrders{order.ID: order},
		Ranker:      h.ranker,
		Ledger:      h.ledger,
		Assignments: h.assignments,
		Publisher:   h.publisher,
		Metrics:     h.metrics,
	}, cfg)
	return h
}

func TestAssignSkipsInsufficientBranch(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 10, 20)
	h.ledger.set(10, 1, 5)
	h.ledger.set(10, 2, 0)
	h.ledger.set(20, 1, 2)
	h.ledger.set(20, 2, 1)

	a, err := h.engine.Assign(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, int64(20), a.BranchID)

	require.Equal(t, stock{qty: 5}, h.ledger.get(10, 1))
	require.Equal(t, stock{qty: 0, reserved: 2}, h.ledger.get(20, 1))
	require.Equal(t, stock{qty: 0, reserved: 1}, h.ledger.get(20, 2))
	require.Empty(t, h.ledger.releaseCalls)
	require.Equal(t, []string{"BranchAssigned:500"}, h.publisher.events)
	require.Equal(t, 1, h.metrics.checks[checkInsufficient])
	require.Equal(t, 1, h.metrics.assignments[outcomeAssigned])
}

func TestAssignPrefersNearestSufficientBranch(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 30, 10, 20)
	for _, b := range []int64{10, 20, 30} {
		h.ledger.set(b, 1, 10)
		h.ledger.set(b, 2, 10)
	}

	a, err := h.engine.Assign(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, int64(30), a.BranchID)
	require.Equal(t, stock{qty: 10}, h.ledger.get(10, 1))
	require.Equal(t, stock{qty: 10}, h.ledger.get(20, 1))
}

func TestAssignCompensatesConcurrentDrop(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 10, 20)
	h.ledger.set(10, 1, 4)
	h.ledger.set(10, 2, 1)
	h.ledger.set(20, 1, 4)
	h.ledger.set(20, 2, 1)

	// Another order takes the last unit of product 2 at branch 10 after the check passed.
	dropped := false
	h.ledger.beforeReserve = func(key inventory.Key) {
		if key.BranchID == 10 && key.ProductID == 2 && !dropped {
			dropped = true
			h.ledger.mu.Lock()
			h.ledger.stock[key].qty = 0
			h.ledger.mu.Unlock()
		}
	}

	a, err := h.engine.Assign(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, int64(20), a.BranchID)

	require.Equal(t, stock{qty: 4}, h.ledger.get(10, 1))
	require.Equal(t, []inventory.Key{{BranchID: 10, ProductID: 1}}, h.ledger.releaseCalls)
	require.Equal(t, stock{qty: 2, reserved: 2}, h.ledger.get(20, 1))
	require.Equal(t, 1, h.metrics.compensations[compensationOK])
	require.Equal(t, 1, h.metrics.checks[checkReserveFailed])
}

func TestAssignNoBranchSufficient(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 10, 20)
	h.ledger.set(10, 1, 1)
	h.ledger.set(20, 2, 1)

	_, err := h.engine.Assign(context.Background(), orderID)
	require.ErrorIs(t, err, ErrNoBranchAvailable)
	require.NotErrorIs(t, err, ErrRankingUnavailable)
	require.Empty(t, h.assignments.links)
	require.Zero(t, h.ledger.reserveCalls)
	require.Equal(t, stock{qty: 1}, h.ledger.get(10, 1))
	require.Empty(t, h.publisher.events)
	require.Equal(t, "Stok tidak mencukupi di cabang mana pun, tunggu restock.", UserMessage(err))
}

func TestAssignPersistFailureReleasesAndStops(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 10, 20)
	for _, b := range []int64{10, 20} {
		h.ledger.set(b, 1, 5)
		h.ledger.set(b, 2, 5)
	}
	h.assignments.linkErr = errors.New("connection reset")

	_, err := h.engine.Assign(context.Background(), orderID)
	require.ErrorIs(t, err, ErrAssignmentPersistFailed)
	require.Equal(t, stock{qty: 5}, h.ledger.get(10, 1))
	require.Equal(t, stock{qty: 5}, h.ledger.get(10, 2))
	require.Equal(t, []inventory.Key{{BranchID: 10, ProductID: 2}, {BranchID: 10, ProductID: 1}}, h.ledger.releaseCalls)
	require.Equal(t, 2, h.ledger.reserveCalls)
	require.Equal(t, 1, h.metrics.assignments[outcomePersistFailed])
}

func TestAssignUnavailableDuringReservationAborts(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 10, 20)
	for _, b := range []int64{10, 20} {
		h.ledger.set(b, 1, 5)
		h.ledger.set(b, 2, 5)
	}
	h.ledger.reserveErr[inventory.Key{BranchID: 10, ProductID: 2}] = fmt.Errorf("%w: i/o timeout", inventory.ErrUnavailable)

	_, err := h.engine.Assign(context.Background(), orderID)
	require.ErrorIs(t, err, inventory.ErrUnavailable)
	require.NotErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Equal(t, stock{qty: 5}, h.ledger.get(10, 1))
	require.Equal(t, stock{qty: 5}, h.ledger.get(20, 1))
	require.Empty(t, h.assignments.links)
	require.Equal(t, "Layanan sedang sibuk, silakan coba lagi nanti.", UserMessage(err))
}

func TestAssignUnavailableDuringCheckAborts(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 10, 20)
	h.ledger.checkErr = context.DeadlineExceeded

	_, err := h.engine.Assign(context.Background(), orderID)
	require.ErrorIs(t, err, inventory.ErrUnavailable)
	require.NotErrorIs(t, err, ErrNoBranchAvailable)
}

func TestAssignCompensationFailureSurfaces(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 10, 20)
	h.ledger.set(10, 1, 5)
	h.ledger.set(10, 2, 5)
	h.ledger.reserveErr[inventory.Key{BranchID: 10, ProductID: 2}] = inventory.ErrInsufficientStock
	h.ledger.releaseErr = errors.New("connection refused")

	_, err := h.engine.Assign(context.Background(), orderID)
	require.ErrorIs(t, err, ErrCompensationIncomplete)
	require.Empty(t, h.assignments.links)
	require.Equal(t, 1, h.metrics.compensations[compensationFailed])
	require.Equal(t, 1, h.metrics.assignments[outcomeCompensation])
}

func TestAssignMissingLocation(t *testing.T) {
	order := twoLineOrder()
	order.Location = nil
	h := newHarness(order, Config{}, 10)

	_, err := h.engine.Assign(context.Background(), orderID)
	require.ErrorIs(t, err, ErrMissingLocation)
	require.Zero(t, h.ranker.calls)
}

func TestAssignRankingFailure(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 10)
	h.ranker.err = geo.ErrUnavailable

	_, err := h.engine.Assign(context.Background(), orderID)
	require.ErrorIs(t, err, ErrNoBranchAvailable)
	require.ErrorIs(t, err, ErrRankingUnavailable)

	h.ranker.err = nil
	h.ranker.ids = nil
	_, err = h.engine.Assign(context.Background(), orderID)
	require.ErrorIs(t, err, ErrNoBranchAvailable)
}

func TestAssignRejectsEmptyOrder(t *testing.T) {
	order := twoLineOrder()
	order.Items = nil
	h := newHarness(order, Config{}, 10)
	_, err := h.engine.Assign(context.Background(), orderID)
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestAssignReturnsExistingLink(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 10)
	h.assignments.links[orderID] = Assignment{OrderID: orderID, BranchID: 77}

	a, err := h.engine.Assign(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, int64(77), a.BranchID)
	require.Zero(t, h.ranker.calls)
	require.Zero(t, h.ledger.reserveCalls)
}

func TestAssignLostLinkRaceReleasesOwnReservations(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 10)
	h.ledger.set(10, 1, 5)
	h.ledger.set(10, 2, 5)
	h.assignments.preempt = 99

	a, err := h.engine.Assign(context.Background(), orderID)
	require.ErrorIs(t, err, ErrAlreadyAssigned)
	require.Equal(t, int64(99), a.BranchID)
	require.Equal(t, stock{qty: 5}, h.ledger.get(10, 1))
	require.Equal(t, stock{qty: 5}, h.ledger.get(10, 2))
	require.Empty(t, h.publisher.events)
}

func TestAssignFinishesReservationsAfterCallerCancels(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{CallTimeout: time.Second}, 10)
	h.ledger.set(10, 1, 5)
	h.ledger.set(10, 2, 5)
	ctx, cancel := context.WithCancel(context.Background())
	h.ledger.beforeReserve = func(key inventory.Key) {
		if key.ProductID == 1 {
			cancel()
		}
	}

	a, err := h.engine.Assign(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, int64(10), a.BranchID)
	require.Equal(t, stock{qty: 4, reserved: 1}, h.ledger.get(10, 2))
}

func TestLockedStrategy(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{Strategy: StrategyLocked}, 10, 20)
	h.ledger.set(10, 1, 5)
	h.ledger.set(20, 1, 5)
	h.ledger.set(20, 2, 5)

	a, err := h.engine.Assign(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, int64(20), a.BranchID)
	require.Equal(t, stock{qty: 5}, h.ledger.get(10, 1))
	require.Equal(t, stock{qty: 3, reserved: 2}, h.ledger.get(20, 1))
	require.Empty(t, h.ledger.releaseCalls)
	require.Zero(t, h.ledger.reserveCalls)
}

func TestReleaseOrderReturnsStock(t *testing.T) {
	h := newHarness(twoLineOrder(), Config{}, 10)
	h.ledger.set(10, 1, 5)
	h.ledger.set(10, 2, 5)
	_, err := h.engine.Assign(context.Background(), orderID)
	require.NoError(t, err)

	require.NoError(t, h.engine.ReleaseOrder(context.Background(), orderID))
	require.Equal(t, stock{qty: 5}, h.ledger.get(10, 1))
	require.Equal(t, stock{qty: 5}, h.ledger.get(10, 2))

	require.ErrorIs(t, h.engine.ReleaseOrder(context.Background(), 404), ErrNotAssigned)
}
