package products

// Product represents a catalog item tracked in stock.
type Product struct {
	ID         int64  `json:"id"`
	CategoryID int64  `json:"category_id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	Unit       string `json:"unit"`
}
