package stock

// Entry is the warehouse's authoritative quantity for a product id.
type Entry struct {
	ID       int64 `json:"id"`
	Quantity int32 `json:"quantity"`
}
