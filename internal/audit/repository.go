package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository reads audit rows from PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the audit reader.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// ListForRecord returns entries for a record, newest first.
func (r *PgRepository) ListForRecord(ctx context.Context, table string, recordID int64, limit, offset int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, table_name, record_id, action, old_value, new_value, COALESCE(actor_id, 0), created_at
FROM audit_trail
WHERE table_name = $1 AND record_id = $2
ORDER BY id DESC
LIMIT $3 OFFSET $4`, table, recordID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: list %s/%d: %w", table, recordID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			action   string
			oldValue []byte
			newValue []byte
		)
		if err := rows.Scan(&e.ID, &e.TableName, &e.RecordID, &action, &oldValue, &newValue, &e.ActorID, &e.At); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		if e.OldValue, err = unmarshalSnapshot(oldValue); err != nil {
			return nil, err
		}
		if e.NewValue, err = unmarshalSnapshot(newValue); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func unmarshalSnapshot(raw []byte) (Snapshot, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("audit: decode snapshot: %w", err)
	}
	return s, nil
}
