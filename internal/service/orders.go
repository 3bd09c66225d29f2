package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_sales/internal/cache"
	"github.com/fjod/go_sales/internal/domain"
	"github.com/fjod/go_sales/internal/store"
)

const orderNumberAttempts = 3

// LineInput describes a new order line. Nil UnitPrice means the product's
// current sales price; nil DiscountPct means no discount.
type LineInput struct {
	ProductID   int64
	Qty         int64
	UnitPrice   *decimal.Decimal
	DiscountPct *decimal.Decimal
}

// LineUpdate changes only the non-nil fields of a line.
type LineUpdate struct {
	ProductID   *int64
	Qty         *int64
	UnitPrice   *decimal.Decimal
	DiscountPct *decimal.Decimal
}

type CreateOrderInput struct {
	CustomerID int64
	Notes      string
	Lines      []LineInput
}

type Dashboard struct {
	TotalOrders     int             `json:"total_orders"`
	DraftOrders     int             `json:"draft_orders"`
	ConfirmedOrders int             `json:"confirmed_orders"`
	CancelledOrders int             `json:"cancelled_orders"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	PendingRevenue  decimal.Decimal `json:"pending_revenue"`
}

// Orders manages draft orders and their lines and serves totals.
type Orders struct {
	store  store.Store
	cache  cache.TotalsCache
	sfg    singleflight.Group
	logger *zap.Logger
}

func NewOrders(s store.Store, c cache.TotalsCache, logger *zap.Logger) *Orders {
	if c == nil {
		c = cache.NopCache{}
	}
	return &Orders{store: s, cache: c, logger: logger}
}

func (s *Orders) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.SalesOrder, error) {
	if err := validateNewLines(in.Lines); err != nil {
		return nil, err
	}

	var order *domain.SalesOrder
	var err error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order, err = s.createOrder(ctx, in)
		if !errors.Is(err, store.ErrDuplicateNumber) {
			break
		}
		s.logger.Warn("order number collision, retrying", zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.Number),
		zap.Int("lines", len(order.Lines)),
	)
	return order, nil
}

func (s *Orders) createOrder(ctx context.Context, in CreateOrderInput) (*domain.SalesOrder, error) {
	order := &domain.SalesOrder{
		Number:     domain.NewOrderNumber(),
		CustomerID: in.CustomerID,
		Status:     domain.OrderStatusDraft,
		Notes:      in.Notes,
		Lines:      make([]domain.SalesOrderLine, 0, len(in.Lines)),
	}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCustomer(ctx, in.CustomerID); err != nil {
			if errors.Is(err, store.ErrCustomerNotFound) {
				return domain.ValidationErrors{domain.NewValidationError("customer", "customer does not exist")}
			}
			return err
		}

		for i, li := range in.Lines {
			line, err := buildLine(ctx, tx, li)
			if err != nil {
				return prefixValidation(err, "lines["+strconv.Itoa(i)+"].")
			}
			order.Lines = append(order.Lines, *line)
		}
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Orders) GetOrder(ctx context.Context, orderID int64) (*domain.SalesOrder, error) {
	var order *domain.SalesOrder
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		return err
	})
	return order, err
}

func (s *Orders) ListOrders(ctx context.Context, filter store.OrderFilter) ([]*domain.SalesOrder, error) {
	var orders []*domain.SalesOrder
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		orders, err = tx.ListOrders(ctx, filter)
		return err
	})
	return orders, err
}

func (s *Orders) AddLine(ctx context.Context, orderID int64, in LineInput) (*domain.SalesOrderLine, error) {
	if err := domain.Validate(lineInputRules(in)...); err != nil {
		return nil, err
	}

	var line *domain.SalesOrderLine
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		order, err := editableOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.HasProduct(in.ProductID, 0) {
			return duplicateProductError()
		}

		line, err = buildLine(ctx, tx, in)
		if err != nil {
			return err
		}
		line.OrderID = order.ID
		return tx.CreateLine(ctx, line)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateTotals(ctx, orderID)
	return line, nil
}

func (s *Orders) UpdateLine(ctx context.Context, orderID, lineID int64, upd LineUpdate) (*domain.SalesOrderLine, error) {
	var line *domain.SalesOrderLine
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		order, err := editableOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		line, err = tx.GetLine(ctx, orderID, lineID)
		if err != nil {
			return err
		}

		if upd.ProductID != nil && *upd.ProductID != line.ProductID {
			if _, err := tx.GetProduct(ctx, *upd.ProductID); err != nil {
				return productValidation(err)
			}
			if order.HasProduct(*upd.ProductID, line.ID) {
				return duplicateProductError()
			}
			line.ProductID = *upd.ProductID
		}
		if upd.Qty != nil {
			line.Qty = *upd.Qty
		}
		if upd.UnitPrice != nil {
			line.UnitPrice = *upd.UnitPrice
		}
		if upd.DiscountPct != nil {
			line.DiscountPct = *upd.DiscountPct
		}

		if err := domain.Validate(domain.LineRules(line)...); err != nil {
			return err
		}
		return tx.UpdateLine(ctx, line)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateTotals(ctx, orderID)
	return line, nil
}

func (s *Orders) RemoveLine(ctx context.Context, orderID, lineID int64) error {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := editableOrder(ctx, tx, orderID); err != nil {
			return err
		}
		return tx.DeleteLine(ctx, orderID, lineID)
	})
	if err != nil {
		return err
	}

	s.invalidateTotals(ctx, orderID)
	return nil
}

// Totals returns total_amount and grand_total. Only confirmed and cancelled
// orders are cached: their lines can no longer change. Concurrent calls for
// one order share a single store read.
func (s *Orders) Totals(ctx context.Context, orderID int64) (domain.Totals, error) {
	v, err, _ := s.sfg.Do(strconv.FormatInt(orderID, 10), func() (interface{}, error) {
		ctx := context.WithoutCancel(ctx)

		cached, err := s.cache.Get(ctx, orderID)
		if err == nil {
			return *cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("totals cache get failed", zap.Int64("order_id", orderID), zap.Error(err))
		}

		order, err := s.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		totals := order.Totals()
		if order.IsEditable() {
			return totals, nil
		}

		if err := s.cache.Set(ctx, orderID, &totals); err != nil {
			s.logger.Warn("totals cache set failed", zap.Int64("order_id", orderID), zap.Error(err))
		}
		return totals, nil
	})
	if err != nil {
		return domain.Totals{}, err
	}
	return v.(domain.Totals), nil
}

// Dashboard summarises order counts per status. Revenue figures are totals
// before surcharge: confirmed orders count as revenue, drafts as pending.
func (s *Orders) Dashboard(ctx context.Context) (Dashboard, error) {
	orders, err := s.ListOrders(ctx, store.OrderFilter{})
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{TotalOrders: len(orders), TotalRevenue: decimal.Zero, PendingRevenue: decimal.Zero}
	for _, o := range orders {
		switch o.Status {
		case domain.OrderStatusDraft:
			d.DraftOrders++
			d.PendingRevenue = d.PendingRevenue.Add(o.Totals().TotalAmount)
		case domain.OrderStatusConfirmed:
			d.ConfirmedOrders++
			d.TotalRevenue = d.TotalRevenue.Add(o.Totals().TotalAmount)
		case domain.OrderStatusCancelled:
			d.CancelledOrders++
		}
	}
	return d, nil
}

func (s *Orders) invalidateTotals(ctx context.Context, orderID int64) {
	if err := s.cache.Delete(ctx, orderID); err != nil {
		s.logger.Warn("totals cache invalidation failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

// editableOrder locks the order and fails unless it is still a draft.
func editableOrder(ctx context.Context, tx store.Tx, orderID int64) (*domain.SalesOrder, error) {
	order, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsEditable() {
		return nil, fmt.Errorf("%w: cannot modify lines of %s order", domain.ErrPermissionDenied, order.Status)
	}
	return order, nil
}

func buildLine(ctx context.Context, tx store.Tx, in LineInput) (*domain.SalesOrderLine, error) {
	product, err := tx.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, productValidation(err)
	}

	line := &domain.SalesOrderLine{
		ProductID:   in.ProductID,
		Qty:         in.Qty,
		UnitPrice:   product.SalesPrice,
		DiscountPct: decimal.Zero,
	}
	if in.UnitPrice != nil {
		line.UnitPrice = *in.UnitPrice
	}
	if in.DiscountPct != nil {
		line.DiscountPct = *in.DiscountPct
	}
	return line, nil
}

func lineInputRules(in LineInput) []domain.Rule {
	line := domain.SalesOrderLine{ProductID: in.ProductID, Qty: in.Qty, UnitPrice: decimal.Zero, DiscountPct: decimal.Zero}
	if in.UnitPrice != nil {
		line.UnitPrice = *in.UnitPrice
	}
	if in.DiscountPct != nil {
		line.DiscountPct = *in.DiscountPct
	}
	return domain.LineRules(&line)
}

// validateNewLines checks field ranges and that no product appears twice.
func validateNewLines(lines []LineInput) error {
	var errs domain.ValidationErrors
	seen := make(map[int64]bool, len(lines))
	for i, in := range lines {
		rules := append(lineInputRules(in),
			domain.Check("product", !seen[in.ProductID], "product already exists in this order"))
		seen[in.ProductID] = true

		if err := domain.Validate(rules...); err != nil {
			errs = append(errs, prefixValidation(err, "lines["+strconv.Itoa(i)+"].").(domain.ValidationErrors)...)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func duplicateProductError() error {
	return domain.ValidationErrors{domain.NewValidationError("product", "product already exists in this order")}
}

func productValidation(err error) error {
	if errors.Is(err, store.ErrProductNotFound) {
		return domain.ValidationErrors{domain.NewValidationError("product", "product does not exist")}
	}
	return err
}

// prefixValidation qualifies field names of validation errors; other errors
// pass through unchanged.
func prefixValidation(err error, prefix string) error {
	var verrs domain.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(domain.ValidationErrors, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, domain.NewValidationError(prefix+e.Field, e.Reason))
	}
	return out
}
