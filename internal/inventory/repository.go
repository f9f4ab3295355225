package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/audit"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetForUpdate(ctx context.Context, key Key) (Record, error)
	GetByIDForUpdate(ctx context.Context, id int64) (Record, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	Update(ctx context.Context, rec Record) (Record, error)
	InsertZeroRows(ctx context.Context, productID int64, variant Variant, minLevel, maxLevel int64) ([]Record, error)
	AppendAudit(ctx context.Context, entry audit.Entry) error
}

// Repository persists ledger rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

const recordColumns = `id, branch_id, product_id, variant_id, quantity, reserved_quantity, min_stock_level, max_stock_level, updated_at`

// WithTx executes the callback inside a read-committed transaction. Read-modify-write paths lock
// their rows with FOR UPDATE.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	return classify(err)
}

// Get loads a record by id without locking.
func (r *Repository) Get(ctx context.Context, id int64) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory WHERE id = $1`, id)
	rec, err := scanRecord(row)
	return rec, classify(err)
}

// GetByKey loads a record by its unique key without locking.
func (r *Repository) GetByKey(ctx context.Context, key Key) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory
WHERE branch_id = $1 AND product_id = $2 AND variant_id = $3`, key.BranchID, key.ProductID, key.Variant.column())
	rec, err := scanRecord(row)
	return rec, classify(err)
}

// ListForKeys loads the records of a branch matching the given product/variant pairs.
func (r *Repository) ListForKeys(ctx context.Context, branchID int64, keys []Key) ([]Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	products := make([]int64, 0, len(keys))
	variants := make([]int64, 0, len(keys))
	for _, k := range keys {
		products = append(products, k.ProductID)
		variants = append(variants, k.Variant.column())
	}
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM inventory
WHERE branch_id = $1
  AND (product_id, variant_id) IN (SELECT * FROM unnest($2::bigint[], $3::bigint[]))`, branchID, products, variants)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, classify(err)
		}
		records = append(records, rec)
	}
	return records, classify(rows.Err())
}

func (r *txRepo) GetForUpdate(ctx context.Context, key Key) (Record, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory
WHERE branch_id = $1 AND product_id = $2 AND variant_id = $3
FOR UPDATE`, key.BranchID, key.ProductID, key.Variant.column())
	return scanRecord(row)
}

func (r *txRepo) GetByIDForUpdate(ctx context.Context, id int64) (Record, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory WHERE id = $1 FOR UPDATE`, id)
	return scanRecord(row)
}

func (r *txRepo) Insert(ctx context.Context, rec Record) (Record, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO inventory (branch_id, product_id, variant_id, quantity, reserved_quantity, min_stock_level, max_stock_level, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
ON CONFLICT (branch_id, product_id, variant_id) DO NOTHING
RETURNING `+recordColumns,
		rec.Key.BranchID, rec.Key.ProductID, rec.Key.Variant.column(),
		rec.Quantity, rec.ReservedQuantity, rec.MinStockLevel, rec.MaxStockLevel)
	saved, err := scanRecord(row)
	if errors.Is(err, ErrNotFound) {
		return Record{}, errRecordExists
	}
	return saved, err
}

func (r *txRepo) Update(ctx context.Context, rec Record) (Record, error) {
	row := r.tx.QueryRow(ctx, `UPDATE inventory
SET quantity = $2, reserved_quantity = $3, min_stock_level = $4, max_stock_level = $5, updated_at = NOW()
WHERE id = $1
RETURNING `+recordColumns,
		rec.ID, rec.Quantity, rec.ReservedQuantity, rec.MinStockLevel, rec.MaxStockLevel)
	return scanRecord(row)
}

func (r *txRepo) InsertZeroRows(ctx context.Context, productID int64, variant Variant, minLevel, maxLevel int64) ([]Record, error) {
	rows, err := r.tx.Query(ctx, `INSERT INTO inventory (branch_id, product_id, variant_id, quantity, reserved_quantity, min_stock_level, max_stock_level, updated_at)
SELECT b.id, $1, $2, 0, 0, $3, $4, NOW()
FROM branches b
WHERE b.is_active
ON CONFLICT (branch_id, product_id, variant_id) DO NOTHING
RETURNING `+recordColumns, productID, variant.column(), minLevel, maxLevel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var created []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		created = append(created, rec)
	}
	return created, rows.Err()
}

func (r *txRepo) AppendAudit(ctx context.Context, entry audit.Entry) error {
	_, err := audit.Append(ctx, r.tx, entry)
	return err
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec       Record
		variantID int64
	)
	err := row.Scan(&rec.ID, &rec.Key.BranchID, &rec.Key.ProductID, &variantID,
		&rec.Quantity, &rec.ReservedQuantity, &rec.MinStockLevel, &rec.MaxStockLevel, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("inventory: scan record: %w", err)
	}
	rec.Key.Variant = variantFromColumn(variantID)
	return rec, nil
}
