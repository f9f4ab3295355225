package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores branch-order links in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Link inserts the link unless the order already has one, in which case the stored link is
// returned with created=false.
func (r *Repository) Link(ctx context.Context, orderID, branchID int64) (Assignment, bool, error) {
	var a Assignment
	err := r.pool.QueryRow(ctx, `INSERT INTO branch_orders (order_id, branch_id, created_at)
VALUES ($1, $2, NOW())
ON CONFLICT (order_id) DO NOTHING
RETURNING order_id, branch_id, created_at`, orderID, branchID).Scan(&a.OrderID, &a.BranchID, &a.CreatedAt)
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, false, fmt.Errorf("fulfillment: link order %d: %w", orderID, err)
	}
	existing, err := r.Get(ctx, orderID)
	if err != nil {
		return Assignment{}, false, err
	}
	return existing, false, nil
}

// Get returns the link of an order or ErrNotAssigned.
func (r *Repository) Get(ctx context.Context, orderID int64) (Assignment, error) {
	var a Assignment
	err := r.pool.QueryRow(ctx, `SELECT order_id, branch_id, created_at FROM branch_orders WHERE order_id = $1`, orderID).
		Scan(&a.OrderID, &a.BranchID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, ErrNotAssigned
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("fulfillment: get assignment %d: %w", orderID, err)
	}
	return a, nil
}
