package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductType string

const (
	ProductTypeStorable   ProductType = "storable_product"
	ProductTypeConsumable ProductType = "consumable"
	ProductTypeService    ProductType = "service"
)

type Product struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	InternalReference string          `json:"internal_reference"`
	Barcode           string          `json:"barcode,omitempty"`
	Category          string          `json:"product_category"`
	Type              ProductType     `json:"product_type"`
	SalesPrice        decimal.Decimal `json:"sales_price"`
	Cost              decimal.Decimal `json:"cost"`
	QuantityOnHand    int64           `json:"quantity_on_hand"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// StockInfo contains stock information for a product
type StockInfo struct {
	ProductID int64
	OnHand    int64 // Physically on hand
	Reserved  int64 // Held by confirmed orders
}

// Available returns the available stock (on hand - reserved)
func (s StockInfo) Available() int64 {
	return s.OnHand - s.Reserved
}

func (t ProductType) IsValid() bool {
	switch t {
	case ProductTypeStorable, ProductTypeConsumable, ProductTypeService:
		return true
	}
	return false
}
