package catalog

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DateLayout is the ISO-8601 calendar date used on the wire and in storage.
const DateLayout = "2006-01-02"

type ProductType string

const (
	Fruits     ProductType = "FRUITS"
	Vegetables ProductType = "VEGETABLES"
	Dairy      ProductType = "DAIRY"
	Meat       ProductType = "MEAT"
	Other      ProductType = "OTHER"
)

var productTypes = []ProductType{Fruits, Vegetables, Dairy, Meat, Other}

func ParseProductType(s string) (ProductType, error) {
	for _, t := range productTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown product type %q", s)
}

type Product struct {
	ID             int64
	Name           string
	Type           ProductType
	ExpirationDate time.Time
	Quantity       int32
}

// Draft is the writable part of a product as submitted by a client.
// Quantity is optional; nil means zero.
type Draft struct {
	Name           string
	ProductType    string
	ExpirationDate string
	Quantity       *int64
}

// ValidationError lists every reason a Draft was rejected.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "invalid product: " + strings.Join(e.Reasons, "; ")
}

// Validate converts the draft into a Product without an id.
func (d Draft) Validate() (Product, error) {
	var (
		p       Product
		reasons []string
	)

	p.Name = d.Name
	if strings.TrimSpace(d.Name) == "" {
		reasons = append(reasons, "name must not be empty")
	}

	t, err := ParseProductType(d.ProductType)
	if err != nil {
		reasons = append(reasons, "productTypeDTO must be one of FRUITS, VEGETABLES, DAIRY, MEAT, OTHER")
	}
	p.Type = t

	date, err := time.Parse(DateLayout, d.ExpirationDate)
	if err != nil {
		reasons = append(reasons, "expirationDate must be an ISO date (YYYY-MM-DD)")
	}
	p.ExpirationDate = date

	if d.Quantity != nil {
		q := *d.Quantity
		if q < 0 || q > math.MaxInt32 {
			reasons = append(reasons, "quantity must be between 0 and 2147483647")
		} else {
			p.Quantity = int32(q)
		}
	}

	if len(reasons) > 0 {
		return Product{}, &ValidationError{Reasons: reasons}
	}
	return p, nil
}
