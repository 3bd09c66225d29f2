package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "draft"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// allowedTransitions lists every legal status edge. Anything else, including
// staying in the same status, is an invalid transition.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:     {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusCancelled},
	OrderStatusCancelled: {},
}

func CanTransitionTo(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled
}

func (s OrderStatus) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

type SalesOrder struct {
	ID         int64            `json:"id"`
	Number     string           `json:"number"`
	CustomerID int64            `json:"customer_id"`
	Status     OrderStatus      `json:"status"`
	Notes      string           `json:"notes"`
	Lines      []SalesOrderLine `json:"lines"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// NewOrderNumber returns an opaque order number. It is assigned once when the
// order is created and never regenerated.
func NewOrderNumber() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("SO-%s", strings.ToUpper(hex[:8]))
}

// IsEditable reports whether lines may still be added, changed or removed.
func (o *SalesOrder) IsEditable() bool {
	return o.Status == OrderStatusDraft
}

// HasProduct reports whether the order already has a line for productID,
// ignoring the line with id excludeLineID.
func (o *SalesOrder) HasProduct(productID, excludeLineID int64) bool {
	for _, l := range o.Lines {
		if l.ProductID == productID && l.ID != excludeLineID {
			return true
		}
	}
	return false
}

func (o *SalesOrder) Totals() Totals {
	return ComputeTotals(o.Lines)
}
