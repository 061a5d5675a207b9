package warehouses

// Warehouse represents a storage location counted during reconciliation.
type Warehouse struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Address string `json:"address"`
}
