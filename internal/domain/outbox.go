package domain

import "time"

const (
	EventOrderConfirmed = "order.confirmed"
	EventOrderCancelled = "order.cancelled"
)

type OutboxEvent struct {
	ID          string
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// OrderStatusChanged is the payload of order.confirmed / order.cancelled.
type OrderStatusChanged struct {
	OrderID     int64       `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	CustomerID  int64       `json:"customer_id"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	Items       []EventItem `json:"items"`
	ChangedAt   time.Time   `json:"changed_at"`
}

type EventItem struct {
	ProductID int64 `json:"product_id"`
	Qty       int64 `json:"qty"`
}
