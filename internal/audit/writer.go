package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
)

// ErrInvalidEntry is returned when an entry misses its table, record or action.
var ErrInvalidEntry = errors.New("audit: invalid entry")

const insertEntrySQL = `INSERT INTO audit_trail (table_name, record_id, action, old_value, new_value, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
RETURNING id, created_at`

// Append writes one entry through q. Passing the caller's transaction makes the audit row commit
// or roll back together with the mutation it describes.
func Append(ctx context.Context, q db.DBTX, entry Entry) (Entry, error) {
	if err := validateEntry(entry); err != nil {
		return Entry{}, err
	}
	oldJSON, err := marshalSnapshot(entry.OldValue)
	if err != nil {
		return Entry{}, err
	}
	newJSON, err := marshalSnapshot(entry.NewValue)
	if err != nil {
		return Entry{}, err
	}
	var actor *int64
	if entry.ActorID > 0 {
		actor = &entry.ActorID
	}
	row := q.QueryRow(ctx, insertEntrySQL, entry.TableName, entry.RecordID, string(entry.Action), oldJSON, newJSON, actor)
	if err := row.Scan(&entry.ID, &entry.At); err != nil {
		return Entry{}, fmt.Errorf("audit: append %s/%d: %w", entry.TableName, entry.RecordID, err)
	}
	return entry, nil
}

func validateEntry(entry Entry) error {
	if strings.TrimSpace(entry.TableName) == "" || entry.RecordID <= 0 || !entry.Action.Valid() {
		return ErrInvalidEntry
	}
	return nil
}

func marshalSnapshot(s Snapshot) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal snapshot: %w", err)
	}
	return b, nil
}
