package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fjod/go_sales/internal/domain"
	"github.com/fjod/go_sales/internal/store"
)

// OrderLifecycle moves orders between draft, confirmed and cancelled and
// keeps reservations in step with the confirmed state.
type OrderLifecycle struct {
	store  store.Store
	logger *zap.Logger
}

func NewOrderLifecycle(s store.Store, logger *zap.Logger) *OrderLifecycle {
	return &OrderLifecycle{store: s, logger: logger}
}

// Confirm reserves stock for every line and marks the order confirmed.
// Either all reservations are created or none are.
func (l *OrderLifecycle) Confirm(ctx context.Context, orderID int64) (*domain.SalesOrder, error) {
	return l.Transition(ctx, orderID, domain.OrderStatusConfirmed)
}

// Cancel releases the order's reservations, if any, and marks it cancelled.
func (l *OrderLifecycle) Cancel(ctx context.Context, orderID int64) (*domain.SalesOrder, error) {
	return l.Transition(ctx, orderID, domain.OrderStatusCancelled)
}

func (l *OrderLifecycle) Transition(ctx context.Context, orderID int64, to domain.OrderStatus) (*domain.SalesOrder, error) {
	if !to.IsValid() {
		return nil, domain.ValidationErrors{domain.NewValidationError("status", "unknown status "+strconv.Quote(string(to)))}
	}

	var order *domain.SalesOrder
	var from domain.OrderStatus
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Status
		if !domain.CanTransitionTo(from, to) {
			return &domain.InvalidTransitionError{From: from, To: to}
		}

		switch {
		case to == domain.OrderStatusConfirmed:
			if err := reserveStock(ctx, tx, o); err != nil {
				return err
			}
		case from == domain.OrderStatusConfirmed && to == domain.OrderStatusCancelled:
			if _, err := tx.DeleteReservationsByOrder(ctx, o.ID); err != nil {
				return err
			}
		}

		if err := tx.UpdateOrderStatus(ctx, o.ID, to); err != nil {
			return err
		}
		o.Status = to
		o.UpdatedAt = time.Now().UTC()

		if err := appendStatusEvent(ctx, tx, o, from); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		l.logFailure(orderID, to, err)
		return nil, err
	}

	l.logger.Info("order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.Number),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	return order, nil
}

// AvailableQuantity returns on hand minus reserved for the product.
func (l *OrderLifecycle) AvailableQuantity(ctx context.Context, productID int64) (int64, error) {
	var available int64
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		stock, err := store.Stock(ctx, tx, productID)
		if err != nil {
			return err
		}
		available = stock.Available()
		return nil
	})
	return available, err
}

// reserveStock locks every product of the order in ascending id order, checks
// availability for all lines and only then inserts the reservations.
func reserveStock(ctx context.Context, tx store.Tx, o *domain.SalesOrder) error {
	lines := append([]domain.SalesOrderLine(nil), o.Lines...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	// First pass: lock and validate
	for _, line := range lines {
		p, err := tx.LockProduct(ctx, line.ProductID)
		if err != nil {
			return err
		}
		reserved, err := tx.ReservedQuantity(ctx, p.ID)
		if err != nil {
			return err
		}
		stock := domain.StockInfo{ProductID: p.ID, OnHand: p.QuantityOnHand, Reserved: reserved}
		if stock.Available() < line.Qty {
			return &domain.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   line.Qty,
				Available:   stock.Available(),
			}
		}
	}

	// Second pass: reserve
	for _, line := range lines {
		r := &domain.Reservation{OrderID: o.ID, ProductID: line.ProductID, Qty: line.Qty}
		if err := tx.CreateReservation(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func appendStatusEvent(ctx context.Context, tx store.Tx, o *domain.SalesOrder, from domain.OrderStatus) error {
	var eventType string
	switch o.Status {
	case domain.OrderStatusConfirmed:
		eventType = domain.EventOrderConfirmed
	case domain.OrderStatusCancelled:
		eventType = domain.EventOrderCancelled
	default:
		return nil
	}

	items := make([]domain.EventItem, 0, len(o.Lines))
	for _, line := range o.Lines {
		items = append(items, domain.EventItem{ProductID: line.ProductID, Qty: line.Qty})
	}
	payload, err := json.Marshal(domain.OrderStatusChanged{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		CustomerID:  o.CustomerID,
		From:        from,
		To:          o.Status,
		Items:       items,
		ChangedAt:   o.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return tx.AppendEvent(ctx, &domain.OutboxEvent{
		ID:          uuid.New().String(),
		AggregateID: strconv.FormatInt(o.ID, 10),
		EventType:   eventType,
		Payload:     payload,
	})
}

func (l *OrderLifecycle) logFailure(orderID int64, to domain.OrderStatus, err error) {
	fields := []zap.Field{zap.Int64("order_id", orderID), zap.Stringer("to", to), zap.Error(err)}

	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		l.logger.Warn("order not confirmed: insufficient stock",
			append(fields, zap.Int64("product_id", stockErr.ProductID))...)
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, store.ErrOrderNotFound):
		l.logger.Info("order status change rejected", fields...)
	default:
		l.logger.Error("order status change failed", fields...)
	}
}
