package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
)

var (
	ErrNotFound = errors.New("orders: record not found")
	// ErrStatusChanged is returned when the row no longer has the status a transition started from.
	ErrStatusChanged = errors.New("orders: status changed concurrently")
)

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, req ListOrdersRequest) ([]Order, int, error)
	Create(ctx context.Context, order Order) (int64, error)
	InsertLine(ctx context.Context, line OrderLine) (int64, error)
	UpdateStatus(ctx context.Context, id int64, from, to OrderStatus) error
	SetAssignment(ctx context.Context, id int64, state AssignmentState, branchID *int64, note *string) error
	InsertHistory(ctx context.Context, h StatusHistory) error
	ListHistory(ctx context.Context, orderID int64) ([]StatusHistory, error)
	GenerateNumber(ctx context.Context, date time.Time) (string, error)
	LoadOrder(ctx context.Context, id int64) (fulfillment.Order, error)
}

type repository struct {
	db   db.DBTX
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if _, ok := r.db.(pgx.Tx); ok {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const orderColumns = `id, doc_number, customer_id, status, assignment_state, branch_id, assignment_note,
       delivery_latitude, delivery_longitude, notes, created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                   Order
		branchID            pgtype.Int8
		note, notes         pgtype.Text
		latitude, longitude pgtype.Float8
	)
	err := row.Scan(&o.ID, &o.DocNumber, &o.CustomerID, &o.Status, &o.AssignmentState, &branchID, &note,
		&latitude, &longitude, &notes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if branchID.Valid {
		o.BranchID = &branchID.Int64
	}
	if note.Valid {
		o.AssignmentNote = &note.String
	}
	if latitude.Valid {
		o.DeliveryLatitude = &latitude.Float64
	}
	if longitude.Valid {
		o.DeliveryLongitude = &longitude.Float64
	}
	if notes.Valid {
		o.Notes = &notes.String
	}
	return o, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, `SELECT id, order_id, product_id, variant_id, quantity, line_order
FROM order_lines WHERE order_id = $1 ORDER BY line_order, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line      OrderLine
			variantID pgtype.Int8
		)
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &variantID, &line.Quantity, &line.LineOrder); err != nil {
			return nil, err
		}
		if variantID.Valid {
			line.VariantID = &variantID.Int64
		}
		o.Lines = append(o.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

// LoadOrder serves the assignment engine.
func (r *repository) LoadOrder(ctx context.Context, id int64) (fulfillment.Order, error) {
	o, err := r.Get(ctx, id)
	if err != nil {
		return fulfillment.Order{}, err
	}
	return o.fulfillmentOrder(), nil
}

func (r *repository) List(ctx context.Context, req ListOrdersRequest) ([]Order, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if req.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", argPos))
		args = append(args, *req.CustomerID)
		argPos++
	}
	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *req.Status)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM orders "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM orders %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (r *repository) Create(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO orders (doc_number, customer_id, status, assignment_state,
        delivery_latitude, delivery_longitude, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
RETURNING id`,
		o.DocNumber, o.CustomerID, o.Status, o.AssignmentState,
		o.DeliveryLatitude, o.DeliveryLongitude, o.Notes, o.CreatedBy).Scan(&id)
	return id, err
}

func (r *repository) InsertLine(ctx context.Context, line OrderLine) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO order_lines (order_id, product_id, variant_id, quantity, line_order)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, line.OrderID, line.ProductID, line.VariantID, line.Quantity, line.LineOrder).Scan(&id)
	return id, err
}

// UpdateStatus moves the order from one status to another. The WHERE clause on the old status
// rejects transitions that raced with another writer.
func (r *repository) UpdateStatus(ctx context.Context, id int64, from, to OrderStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE orders SET status = $3, updated_at = NOW()
WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %d is no longer %s", ErrStatusChanged, id, from)
	}
	return nil
}

func (r *repository) SetAssignment(ctx context.Context, id int64, state AssignmentState, branchID *int64, note *string) error {
	tag, err := r.db.Exec(ctx, `UPDATE orders SET assignment_state = $2, branch_id = $3, assignment_note = $4, updated_at = NOW()
WHERE id = $1`, id, state, branchID, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) InsertHistory(ctx context.Context, h StatusHistory) error {
	var actor *int64
	if h.ActorID != 0 {
		actor = &h.ActorID
	}
	_, err := r.db.Exec(ctx, `INSERT INTO order_status_history (order_id, from_status, to_status, actor_id, note, created_at)
VALUES ($1, $2, $3, $4, $5, NOW())`, h.OrderID, h.FromStatus, h.ToStatus, actor, h.Note)
	return err
}

func (r *repository) ListHistory(ctx context.Context, orderID int64) ([]StatusHistory, error) {
	rows, err := r.db.Query(ctx, `SELECT id, order_id, from_status, to_status, actor_id, note, created_at
FROM order_status_history WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusHistory
	for rows.Next() {
		var (
			h     StatusHistory
			from  pgtype.Text
			actor pgtype.Int8
			note  pgtype.Text
		)
		if err := rows.Scan(&h.ID, &h.OrderID, &from, &h.ToStatus, &actor, &note, &h.CreatedAt); err != nil {
			return nil, err
		}
		if from.Valid {
			status := OrderStatus(from.String)
			h.FromStatus = &status
		}
		if actor.Valid {
			h.ActorID = actor.Int64
		}
		if note.Valid {
			h.Note = &note.String
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// GenerateNumber builds ORD-{YY}{MM}-{SEQ} from the order number sequence.
func (r *repository) GenerateNumber(ctx context.Context, date time.Time) (string, error) {
	var seq int64
	if err := r.db.QueryRow(ctx, "SELECT nextval('order_doc_seq')").Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%s-%05d", date.Format("0601"), seq), nil
}
