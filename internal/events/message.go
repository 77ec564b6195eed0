package events

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/andreasstove999/ecommerce-system/product-sync/internal/bus"
)

const (
	TopicStoreControl = "store_control"
	TopicStoreStatus  = "store_status"

	EventProductMessage = "ProductMessage"
)

// ProductMessage is the only payload on both topics.
type ProductMessage struct {
	ID       int64 `json:"id"`
	Quantity int32 `json:"quantity"`
}

// DecodeProductMessage parses a wire payload. Unknown fields are ignored and
// an absent quantity reads as zero. Anything that can never decode into a
// valid message is reported as bus.ErrPoison.
func DecodeProductMessage(body []byte) (ProductMessage, error) {
	var raw struct {
		ID       *int64 `json:"id"`
		Quantity *int64 `json:"quantity"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return ProductMessage{}, fmt.Errorf("%w: unmarshal ProductMessage: %v", bus.ErrPoison, err)
	}
	if raw.ID == nil {
		return ProductMessage{}, fmt.Errorf("%w: ProductMessage without id", bus.ErrPoison)
	}

	m := ProductMessage{ID: *raw.ID}
	if raw.Quantity != nil {
		q := *raw.Quantity
		if q < 0 || q > math.MaxInt32 {
			return ProductMessage{}, fmt.Errorf("%w: quantity %d out of range for product %d", bus.ErrPoison, q, m.ID)
		}
		m.Quantity = int32(q)
	}
	return m, nil
}
