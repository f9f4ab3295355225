package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/audit"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Record, error)
	GetByKey(ctx context.Context, key Key) (Record, error)
	ListForKeys(ctx context.Context, branchID int64, keys []Key) ([]Record, error)
}

// CatalogPort answers whether referenced branches and products may hold stock.
type CatalogPort interface {
	BranchActive(ctx context.Context, branchID int64) (bool, error)
	ProductActive(ctx context.Context, productID int64, variant Variant) (bool, error)
}

// LowStockNotifier receives records whose quantity fell below their minimum.
type LowStockNotifier interface {
	LowStock(ctx context.Context, rec Record) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	DefaultMinStock int64
	DefaultMaxStock int64
	ReleaseOverflow ReleaseOverflowPolicy
}

// Service owns every mutation of inventory rows.
type Service struct {
	repo     RepositoryPort
	catalog  CatalogPort
	notifier LowStockNotifier
	logger   *slog.Logger
	cfg      ServiceConfig
}

// NewService builds Service.
func NewService(repo RepositoryPort, catalog CatalogPort, notifier LowStockNotifier, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultMinStock <= 0 {
		cfg.DefaultMinStock = DefaultMinStockLevel
	}
	if cfg.DefaultMaxStock <= 0 {
		cfg.DefaultMaxStock = DefaultMaxStockLevel
	}
	if cfg.ReleaseOverflow == "" {
		cfg.ReleaseOverflow = ReleaseOverflowReject
	}
	return &Service{repo: repo, catalog: catalog, notifier: notifier, logger: logger, cfg: cfg}
}

// loadFunc returns the locked row and whether it exists. When it does not exist the returned
// record is the template to insert.
type loadFunc func(ctx context.Context, tx TxRepository) (Record, bool, error)

type mutation struct {
	op          string
	load        loadFunc
	apply       func(*Record) error
	skipMax     bool
	skipLowWarn bool
}

// Upsert writes absolute values for a record, creating it with defaults when absent.
func (s *Service) Upsert(ctx context.Context, in UpsertInput) (Record, error) {
	if err := validateKey(in.Key); err != nil {
		return Record{}, err
	}
	if in.Quantity < 0 {
		return Record{}, validationf("quantity must be >= 0")
	}
	if in.Reserved != nil && *in.Reserved < 0 {
		return Record{}, validationf("reserved quantity must be >= 0")
	}
	if in.MinStockLevel != nil && *in.MinStockLevel < 0 {
		return Record{}, validationf("min stock level must be >= 0")
	}
	if in.MaxStockLevel != nil && *in.MaxStockLevel <= 0 {
		return Record{}, validationf("max stock level must be > 0")
	}
	if err := s.ensureActive(ctx, in.Key); err != nil {
		return Record{}, err
	}
	return s.mutate(ctx, mutation{
		op:   "upsert",
		load: s.loadOrTemplate(in.Key),
		apply: func(rec *Record) error {
			rec.Quantity = in.Quantity
			if in.Reserved != nil {
				rec.ReservedQuantity = *in.Reserved
			}
			if in.MinStockLevel != nil {
				rec.MinStockLevel = *in.MinStockLevel
			}
			if in.MaxStockLevel != nil {
				rec.MaxStockLevel = *in.MaxStockLevel
			}
			if rec.MinStockLevel > rec.MaxStockLevel {
				return validationf("min stock level %d exceeds max %d", rec.MinStockLevel, rec.MaxStockLevel)
			}
			return nil
		},
	})
}

// Reserve moves qty from available to reserved.
func (s *Service) Reserve(ctx context.Context, key Key, qty int64) (Record, error) {
	if err := validateMovement(key, qty); err != nil {
		return Record{}, err
	}
	return s.mutate(ctx, mutation{
		op:   "reserve",
		load: s.loadExisting(key),
		apply: func(rec *Record) error {
			return reserveInto(rec, qty)
		},
	})
}

// Release moves qty from reserved back to available.
func (s *Service) Release(ctx context.Context, key Key, qty int64) (Record, error) {
	if err := validateMovement(key, qty); err != nil {
		return Record{}, err
	}
	return s.mutate(ctx, mutation{
		op:   "release",
		load: s.loadExisting(key),
		apply: func(rec *Record) error {
			if rec.ReservedQuantity < qty {
				return fmt.Errorf("%w: %s reserved %d, release %d", ErrInsufficientReserved, rec.Key, rec.ReservedQuantity, qty)
			}
			if err := addAvailable(rec, qty, s.cfg.ReleaseOverflow == ReleaseOverflowAllow); err != nil {
				return err
			}
			rec.ReservedQuantity -= qty
			return nil
		},
		skipMax: s.cfg.ReleaseOverflow == ReleaseOverflowAllow,
	})
}

// Restock adds qty to available stock, creating the record when absent.
func (s *Service) Restock(ctx context.Context, key Key, qty int64) (Record, error) {
	if err := validateMovement(key, qty); err != nil {
		return Record{}, err
	}
	template := s.loadOrTemplate(key)
	return s.mutate(ctx, mutation{
		op: "restock",
		load: func(ctx context.Context, tx TxRepository) (Record, bool, error) {
			rec, exists, err := template(ctx, tx)
			if err != nil || exists {
				return rec, exists, err
			}
			if err := s.ensureActive(ctx, key); err != nil {
				return Record{}, false, err
			}
			return rec, false, nil
		},
		apply: func(rec *Record) error {
			return addAvailable(rec, qty, false)
		},
	})
}

// ZeroOut sets the available quantity of a record to zero. Rows are never deleted.
func (s *Service) ZeroOut(ctx context.Context, key Key) (Record, error) {
	if err := validateKey(key); err != nil {
		return Record{}, err
	}
	return s.zeroOut(ctx, s.loadExisting(key))
}

// ZeroOutByID is ZeroOut addressed by record id.
func (s *Service) ZeroOutByID(ctx context.Context, id int64) (Record, error) {
	if id <= 0 {
		return Record{}, validationf("record id required")
	}
	return s.zeroOut(ctx, func(ctx context.Context, tx TxRepository) (Record, bool, error) {
		rec, err := tx.GetByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Record{}, false, fmt.Errorf("%w: id %d", ErrNotFound, id)
			}
			return Record{}, false, err
		}
		return rec, true, nil
	})
}

func (s *Service) zeroOut(ctx context.Context, load loadFunc) (Record, error) {
	return s.mutate(ctx, mutation{
		op:   "zero_out",
		load: load,
		apply: func(rec *Record) error {
			if rec.ReservedQuantity > 0 {
				return fmt.Errorf("%w: %s has %d reserved", ErrReservationOutstanding, rec.Key, rec.ReservedQuantity)
			}
			rec.Quantity = 0
			return nil
		},
		skipLowWarn: true,
	})
}

// SufficiencyCheck reports whether the branch holds enough available stock for every item at
// the moment of the check. Items sharing a key are summed. A missing record is insufficient.
func (s *Service) SufficiencyCheck(ctx context.Context, branchID int64, items []Item) (bool, error) {
	required, keys, err := aggregate(branchID, items)
	if err != nil {
		return false, err
	}
	records, err := s.repo.ListForKeys(ctx, branchID, keys)
	if err != nil {
		return false, classify(err)
	}
	available := make(map[Key]int64, len(records))
	for _, rec := range records {
		available[rec.Key] = rec.Quantity
	}
	for _, key := range keys {
		qty, ok := available[key]
		if !ok || qty < required[key] {
			return false, nil
		}
	}
	return true, nil
}

// ReserveAll reserves every item at the branch in one transaction, locking rows in key order.
// Either all lines are reserved or none are.
func (s *Service) ReserveAll(ctx context.Context, branchID int64, items []Item) ([]Record, error) {
	_, keys, err := aggregate(branchID, items)
	if err != nil {
		return nil, err
	}
	sorted := append([]Key(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].less(sorted[j]) })

	var saved []Record
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		before := make(map[Key]Record, len(sorted))
		for _, key := range sorted {
			rec, err := tx.GetForUpdate(ctx, key)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return fmt.Errorf("%w: %s", ErrNotFound, key)
				}
				return err
			}
			before[key] = rec
		}
		after := make(map[Key]Record, len(before))
		for k, v := range before {
			after[k] = v
		}
		for _, item := range items {
			key := item.KeyAt(branchID)
			rec := after[key]
			if err := reserveInto(&rec, item.Qty); err != nil {
				return err
			}
			after[key] = rec
		}
		saved = saved[:0]
		for _, key := range keys {
			rec, err := tx.Update(ctx, after[key])
			if err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, s.auditEntry(ctx, audit.ActionUpdate, before[key], rec)); err != nil {
				return err
			}
			saved = append(saved, rec)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	for _, rec := range saved {
		s.warnLowStock(ctx, rec)
	}
	return saved, nil
}

// InitializeVariant creates a zero row at every active branch for a newly created product
// variant. Existing rows are left untouched.
func (s *Service) InitializeVariant(ctx context.Context, productID int64, variant Variant) ([]Record, error) {
	if productID <= 0 {
		return nil, validationf("product id required")
	}
	if id, ok := variant.ID(); ok && id <= 0 {
		return nil, validationf("variant id must be positive")
	}
	var created []Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rows, err := tx.InsertZeroRows(ctx, productID, variant, s.cfg.DefaultMinStock, s.cfg.DefaultMaxStock)
		if err != nil {
			return err
		}
		for _, rec := range rows {
			if err := tx.AppendAudit(ctx, s.auditEntry(ctx, audit.ActionInsert, Record{}, rec)); err != nil {
				return err
			}
		}
		created = rows
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	s.logger.Info("inventory initialised for variant",
		slog.Int64("product_id", productID),
		slog.String("variant", variant.String()),
		slog.Int("branches", len(created)))
	return created, nil
}

// Get returns a record by id.
func (s *Service) Get(ctx context.Context, id int64) (Record, error) {
	if id <= 0 {
		return Record{}, validationf("record id required")
	}
	rec, err := s.repo.Get(ctx, id)
	return rec, classify(err)
}

// GetByKey returns a record by its unique key.
func (s *Service) GetByKey(ctx context.Context, key Key) (Record, error) {
	if err := validateKey(key); err != nil {
		return Record{}, err
	}
	rec, err := s.repo.GetByKey(ctx, key)
	return rec, classify(err)
}

func (s *Service) mutate(ctx context.Context, m mutation) (Record, error) {
	var result Record
	run := func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			before, exists, err := m.load(ctx, tx)
			if err != nil {
				return err
			}
			after := before
			if err := m.apply(&after); err != nil {
				return err
			}
			if err := checkBounds(after, m.skipMax); err != nil {
				return err
			}
			action := audit.ActionUpdate
			var saved Record
			if exists {
				saved, err = tx.Update(ctx, after)
			} else {
				action = audit.ActionInsert
				before = Record{}
				saved, err = tx.Insert(ctx, after)
			}
			if err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, s.auditEntry(ctx, action, before, saved)); err != nil {
				return err
			}
			result = saved
			return nil
		})
	}
	err := run()
	if errors.Is(err, errRecordExists) {
		// A concurrent writer created the row first; the retry takes the update path.
		err = run()
	}
	if err != nil {
		err = classify(err)
		s.logger.Debug("inventory mutation rejected", slog.String("op", m.op), slog.Any("error", err))
		return Record{}, err
	}
	if !m.skipLowWarn {
		s.warnLowStock(ctx, result)
	}
	return result, nil
}

func (s *Service) loadExisting(key Key) loadFunc {
	return func(ctx context.Context, tx TxRepository) (Record, bool, error) {
		rec, err := tx.GetForUpdate(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Record{}, false, fmt.Errorf("%w: %s", ErrNotFound, key)
			}
			return Record{}, false, err
		}
		return rec, true, nil
	}
}

func (s *Service) loadOrTemplate(key Key) loadFunc {
	return func(ctx context.Context, tx TxRepository) (Record, bool, error) {
		rec, err := tx.GetForUpdate(ctx, key)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Record{}, false, err
		}
		return Record{
			Key:           key,
			MinStockLevel: s.cfg.DefaultMinStock,
			MaxStockLevel: s.cfg.DefaultMaxStock,
		}, false, nil
	}
}

func (s *Service) ensureActive(ctx context.Context, key Key) error {
	if s.catalog == nil {
		return nil
	}
	ok, err := s.catalog.BranchActive(ctx, key.BranchID)
	if err != nil {
		return classify(err)
	}
	if !ok {
		return fmt.Errorf("%w: branch %d is not active", ErrNotFound, key.BranchID)
	}
	ok, err = s.catalog.ProductActive(ctx, key.ProductID, key.Variant)
	if err != nil {
		return classify(err)
	}
	if !ok {
		return fmt.Errorf("%w: product %d variant %s is not active", ErrNotFound, key.ProductID, key.Variant)
	}
	return nil
}

func (s *Service) auditEntry(ctx context.Context, action audit.Action, before, after Record) audit.Entry {
	entry := audit.Entry{
		TableName: TableName,
		RecordID:  after.ID,
		Action:    action,
		NewValue:  after.snapshot(),
		ActorID:   shared.ActorFromContext(ctx),
	}
	if action != audit.ActionInsert {
		entry.OldValue = before.snapshot()
	}
	return entry
}

func (s *Service) warnLowStock(ctx context.Context, rec Record) {
	if !rec.LowStock() {
		return
	}
	s.logger.Warn("inventory below minimum stock",
		slog.Int64("inventory_id", rec.ID),
		slog.Int64("branch_id", rec.Key.BranchID),
		slog.Int64("product_id", rec.Key.ProductID),
		slog.String("variant", rec.Key.Variant.String()),
		slog.Int64("quantity", rec.Quantity),
		slog.Int64("min_stock_level", rec.MinStockLevel))
	if s.notifier == nil {
		return
	}
	if err := s.notifier.LowStock(ctx, rec); err != nil {
		s.logger.Error("low stock notification failed", slog.Int64("inventory_id", rec.ID), slog.Any("error", err))
	}
}

func reserveInto(rec *Record, qty int64) error {
	if rec.Quantity < qty {
		return fmt.Errorf("%w: %s available %d, requested %d", ErrInsufficientStock, rec.Key, rec.Quantity, qty)
	}
	rec.Quantity -= qty
	rec.ReservedQuantity += qty
	return nil
}

// addAvailable raises available quantity by qty, refusing sums above max (or above the int64
// range when max is not enforced) before they are written.
func addAvailable(rec *Record, qty int64, skipMax bool) error {
	limit := rec.MaxStockLevel
	if skipMax {
		limit = math.MaxInt64
	}
	if qty > limit-rec.Quantity {
		return fmt.Errorf("%w: %s quantity %d plus %d exceeds max %d", ErrCapacityExceeded, rec.Key, rec.Quantity, qty, limit)
	}
	rec.Quantity += qty
	return nil
}

func checkBounds(rec Record, skipMax bool) error {
	if rec.Quantity < 0 || rec.ReservedQuantity < 0 {
		return validationf("negative stock for %s", rec.Key)
	}
	if !skipMax && rec.Quantity > rec.MaxStockLevel {
		return fmt.Errorf("%w: %s quantity %d exceeds max %d", ErrCapacityExceeded, rec.Key, rec.Quantity, rec.MaxStockLevel)
	}
	return nil
}

func validateKey(key Key) error {
	if key.BranchID <= 0 {
		return validationf("branch id required")
	}
	if key.ProductID <= 0 {
		return validationf("product id required")
	}
	if id, ok := key.Variant.ID(); ok && id <= 0 {
		return validationf("variant id must be positive")
	}
	return nil
}

func validateMovement(key Key, qty int64) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if qty <= 0 {
		return validationf("quantity must be > 0")
	}
	return nil
}

// aggregate validates items and returns the summed requirement per key plus the distinct keys
// in first-seen order.
func aggregate(branchID int64, items []Item) (map[Key]int64, []Key, error) {
	if len(items) == 0 {
		return nil, nil, validationf("at least one item required")
	}
	required := make(map[Key]int64, len(items))
	keys := make([]Key, 0, len(items))
	for _, item := range items {
		key := item.KeyAt(branchID)
		if err := validateMovement(key, item.Qty); err != nil {
			return nil, nil, err
		}
		if _, seen := required[key]; !seen {
			keys = append(keys, key)
		}
		if item.Qty > math.MaxInt64-required[key] {
			return nil, nil, validationf("total quantity for %s is out of range", key)
		}
		required[key] += item.Qty
	}
	return required, keys, nil
}
