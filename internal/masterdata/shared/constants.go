package shared

const (
	// Default pagination
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	// Sort directions
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Normalize clamps paging values to the defaults.
func (f *ListFilters) Normalize() {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.SortDir != SortDesc {
		f.SortDir = SortAsc
	}
}
