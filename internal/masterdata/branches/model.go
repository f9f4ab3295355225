package branches

import (
	"time"
)

// Branch represents a fulfilment branch
type Branch struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasLocation reports whether the branch can be ranked by distance.
func (b Branch) HasLocation() bool {
	return b.Latitude != nil && b.Longitude != nil
}
