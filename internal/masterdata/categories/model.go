package categories

// Category groups products for count sheet filtering.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
