package shared

const (
	DefaultPage  = 1
	DefaultLimit = 25

	SortAsc  = "asc"
	SortDesc = "desc"
)

// ListFilters represents standard list filters shared by the master data
// packages.
type ListFilters struct {
	Page    int
	Limit   int
	Search  string
	SortBy  string
	SortDir string

	CategoryID *int64
}

// Normalize fills in pagination defaults so repositories never see zero
// values.
func (f *ListFilters) Normalize() {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
}

// Offset returns the row offset for the current page.
func (f ListFilters) Offset() int {
	offset := (f.Page - 1) * f.Limit
	if offset < 0 {
		return 0
	}
	return offset
}
