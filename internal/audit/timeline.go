package audit

import "time"

// Action adalah jenis mutasi yang dicatat.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Valid reports whether the action is one of the recorded kinds.
func (a Action) Valid() bool {
	switch a {
	case ActionInsert, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Snapshot menyimpan nilai kolom sebelum atau sesudah mutasi.
type Snapshot map[string]any

// Entry mewakili satu baris audit trail. Entries are never updated or deleted.
type Entry struct {
	ID        int64     `json:"id"`
	TableName string    `json:"table_name"`
	RecordID  int64     `json:"record_id"`
	Action    Action    `json:"action"`
	OldValue  Snapshot  `json:"old_value,omitempty"`
	NewValue  Snapshot  `json:"new_value,omitempty"`
	ActorID   int64     `json:"actor_id,omitempty"`
	At        time.Time `json:"at"`
}

// TimelineFilters menampung filter untuk timeline satu record.
type TimelineFilters struct {
	TableName string
	RecordID  int64
	Page      int
	PageSize  int
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
