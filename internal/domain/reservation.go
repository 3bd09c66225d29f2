package domain

import "time"

// Reservation is stock of one product held by one confirmed order.
// There is at most one per (order, product).
type Reservation struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	ProductID int64     `json:"product_id"`
	Qty       int64     `json:"qty"`
	CreatedAt time.Time `json:"created_at"`
}
