package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fjod/go_sales/internal/domain"
	"github.com/fjod/go_sales/internal/store"
)

const (
	DefaultLowStockThreshold = 10
	DefaultProductCategory   = "All / Saleable / Office Furniture"
)

// Availability is the stock picture of a single product.
type Availability struct {
	ProductID         int64  `json:"product_id"`
	ProductName       string `json:"product_name"`
	InternalReference string `json:"internal_reference"`
	QuantityOnHand    int64  `json:"quantity_on_hand"`
	ReservedQuantity  int64  `json:"total_reserved"`
	AvailableQuantity int64  `json:"available_quantity"`
	ReservationsCount int    `json:"reservations_count"`
}

// ProductUpdate changes only the non-nil fields of a product.
type ProductUpdate struct {
	Name              *string
	InternalReference *string
	Barcode           *string
	Category          *string
	Type              *domain.ProductType
	SalesPrice        *decimal.Decimal
	Cost              *decimal.Decimal
	QuantityOnHand    *int64
}

// CustomerUpdate changes only the non-nil fields of a customer.
type CustomerUpdate struct {
	Name            *string
	Email           *string
	Phone           *string
	BillingAddress  *string
	ShippingAddress *string
	IsCompany       *bool
	RelatedCompany  *string
	Street          *string
	City            *string
	State           *string
	ZipCode         *string
	Country         *string
}

type CustomerStats struct {
	CustomerID      int64           `json:"customer_id"`
	CustomerName    string          `json:"customer_name"`
	TotalOrders     int             `json:"total_orders"`
	DraftOrders     int             `json:"draft_orders"`
	ConfirmedOrders int             `json:"confirmed_orders"`
	CancelledOrders int             `json:"cancelled_orders"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
}

// Catalog manages customers, products and their stock levels.
type Catalog struct {
	store  store.Store
	logger *zap.Logger
}

func NewCatalog(s store.Store, logger *zap.Logger) *Catalog {
	return &Catalog{store: s, logger: logger}
}

func (c *Catalog) CreateProduct(ctx context.Context, p *domain.Product) error {
	if p.Type == "" {
		p.Type = domain.ProductTypeStorable
	}
	if p.Category == "" {
		p.Category = DefaultProductCategory
	}
	if err := domain.Validate(domain.ProductRules(p)...); err != nil {
		return err
	}

	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		exists, err := tx.InternalReferenceExists(ctx, p.InternalReference, 0)
		if err != nil {
			return err
		}
		if exists {
			return duplicateReferenceError()
		}
		return tx.CreateProduct(ctx, p)
	})
	if errors.Is(err, store.ErrDuplicateReference) {
		return duplicateReferenceError()
	}
	if err != nil {
		return err
	}

	c.logger.Info("product created", zap.Int64("product_id", p.ID), zap.String("internal_reference", p.InternalReference))
	return nil
}

func (c *Catalog) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p *domain.Product
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.GetProduct(ctx, id)
		return err
	})
	return p, err
}

func (c *Catalog) ListProducts(ctx context.Context, filter store.ProductFilter) ([]*domain.Product, error) {
	var products []*domain.Product
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		products, err = tx.ListProducts(ctx, filter)
		return err
	})
	return products, err
}

// UpdateProduct applies upd to the product. Existing order lines keep the
// unit price they were created with.
func (c *Catalog) UpdateProduct(ctx context.Context, id int64, upd ProductUpdate) (*domain.Product, error) {
	var p *domain.Product
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		applyProductUpdate(p, upd)

		reserved, err := tx.ReservedQuantity(ctx, id)
		if err != nil {
			return err
		}
		rules := append(domain.ProductRules(p),
			domain.Check("quantity_on_hand", p.QuantityOnHand >= reserved,
				fmt.Sprintf("cannot drop below reserved quantity %d", reserved)))
		if err := domain.Validate(rules...); err != nil {
			return err
		}

		exists, err := tx.InternalReferenceExists(ctx, p.InternalReference, id)
		if err != nil {
			return err
		}
		if exists {
			return duplicateReferenceError()
		}
		return tx.UpdateProduct(ctx, p)
	})
	if errors.Is(err, store.ErrDuplicateReference) {
		return nil, duplicateReferenceError()
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("product updated", zap.Int64("product_id", id))
	return p, nil
}

func applyProductUpdate(p *domain.Product, upd ProductUpdate) {
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.InternalReference != nil {
		p.InternalReference = *upd.InternalReference
	}
	if upd.Barcode != nil {
		p.Barcode = *upd.Barcode
	}
	if upd.Category != nil {
		p.Category = *upd.Category
	}
	if upd.Type != nil {
		p.Type = *upd.Type
	}
	if upd.SalesPrice != nil {
		p.SalesPrice = *upd.SalesPrice
	}
	if upd.Cost != nil {
		p.Cost = *upd.Cost
	}
	if upd.QuantityOnHand != nil {
		p.QuantityOnHand = *upd.QuantityOnHand
	}
}

// AdjustStock changes quantity on hand by delta, e.g. when goods are
// received. On hand may not drop below zero or below what is reserved.
func (c *Catalog) AdjustStock(ctx context.Context, productID, delta int64) (*domain.Product, error) {
	var p *domain.Product
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		reserved, err := tx.ReservedQuantity(ctx, productID)
		if err != nil {
			return err
		}

		onHand := p.QuantityOnHand + delta
		if err := domain.Validate(
			domain.MinInt("quantity_on_hand", onHand, 0),
			domain.Check("quantity_on_hand", onHand >= reserved,
				fmt.Sprintf("cannot drop below reserved quantity %d", reserved)),
		); err != nil {
			return err
		}

		p.QuantityOnHand = onHand
		return tx.UpdateProduct(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("stock adjusted",
		zap.Int64("product_id", productID),
		zap.Int64("delta", delta),
		zap.Int64("quantity_on_hand", p.QuantityOnHand),
	)
	return p, nil
}

func (c *Catalog) Availability(ctx context.Context, productID int64) (Availability, error) {
	var a Availability
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		a, err = availabilityOf(ctx, tx, p)
		return err
	})
	return a, err
}

// InventoryStatus reports every product, lowest availability first.
func (c *Catalog) InventoryStatus(ctx context.Context) ([]Availability, error) {
	return c.inventory(ctx, func(Availability) bool { return true })
}

// LowStock reports products whose available quantity is below threshold.
func (c *Catalog) LowStock(ctx context.Context, threshold int64) ([]Availability, error) {
	return c.inventory(ctx, func(a Availability) bool { return a.AvailableQuantity < threshold })
}

func (c *Catalog) inventory(ctx context.Context, keep func(Availability) bool) ([]Availability, error) {
	result := make([]Availability, 0)
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		products, err := tx.ListProducts(ctx, store.ProductFilter{})
		if err != nil {
			return err
		}
		for _, p := range products {
			a, err := availabilityOf(ctx, tx, p)
			if err != nil {
				return err
			}
			if keep(a) {
				result = append(result, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(i, j int) bool { return result[i].AvailableQuantity < result[j].AvailableQuantity })
	return result, nil
}

func availabilityOf(ctx context.Context, tx store.Tx, p *domain.Product) (Availability, error) {
	reservations, err := tx.ListReservations(ctx, store.ReservationFilter{ProductID: p.ID})
	if err != nil {
		return Availability{}, err
	}
	var reserved int64
	for _, r := range reservations {
		reserved += r.Qty
	}
	stock := domain.StockInfo{ProductID: p.ID, OnHand: p.QuantityOnHand, Reserved: reserved}
	return Availability{
		ProductID:         p.ID,
		ProductName:       p.Name,
		InternalReference: p.InternalReference,
		QuantityOnHand:    stock.OnHand,
		ReservedQuantity:  stock.Reserved,
		AvailableQuantity: stock.Available(),
		ReservationsCount: len(reservations),
	}, nil
}

func (c *Catalog) ListReservations(ctx context.Context, filter store.ReservationFilter) ([]*domain.Reservation, error) {
	var reservations []*domain.Reservation
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		reservations, err = tx.ListReservations(ctx, filter)
		return err
	})
	return reservations, err
}

func (c *Catalog) CreateCustomer(ctx context.Context, cust *domain.Customer) error {
	if cust.Country == "" {
		cust.Country = domain.DefaultCountry
	}
	if err := domain.Validate(domain.CustomerRules(cust)...); err != nil {
		return err
	}

	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		if err := ensureUniqueEmail(ctx, tx, cust.Email, 0); err != nil {
			return err
		}
		return tx.CreateCustomer(ctx, cust)
	})
	if errors.Is(err, store.ErrDuplicateEmail) {
		return duplicateEmailError()
	}
	if err != nil {
		return err
	}

	c.logger.Info("customer created", zap.Int64("customer_id", cust.ID))
	return nil
}

func (c *Catalog) UpdateCustomer(ctx context.Context, id int64, upd CustomerUpdate) (*domain.Customer, error) {
	var cust *domain.Customer
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		cust, err = tx.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		applyCustomerUpdate(cust, upd)

		if err := domain.Validate(domain.CustomerRules(cust)...); err != nil {
			return err
		}
		if err := ensureUniqueEmail(ctx, tx, cust.Email, id); err != nil {
			return err
		}
		return tx.UpdateCustomer(ctx, cust)
	})
	if errors.Is(err, store.ErrDuplicateEmail) {
		return nil, duplicateEmailError()
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("customer updated", zap.Int64("customer_id", id))
	return cust, nil
}

func applyCustomerUpdate(c *domain.Customer, upd CustomerUpdate) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&c.Name, upd.Name)
	set(&c.Email, upd.Email)
	set(&c.Phone, upd.Phone)
	set(&c.BillingAddress, upd.BillingAddress)
	set(&c.ShippingAddress, upd.ShippingAddress)
	set(&c.RelatedCompany, upd.RelatedCompany)
	set(&c.Street, upd.Street)
	set(&c.City, upd.City)
	set(&c.State, upd.State)
	set(&c.ZipCode, upd.ZipCode)
	set(&c.Country, upd.Country)
	if upd.IsCompany != nil {
		c.IsCompany = *upd.IsCompany
	}
}

func ensureUniqueEmail(ctx context.Context, tx store.Tx, email string, excludeID int64) error {
	exists, err := tx.EmailExists(ctx, email, excludeID)
	if err != nil {
		return err
	}
	if exists {
		return duplicateEmailError()
	}
	return nil
}

func (c *Catalog) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var cust *domain.Customer
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		cust, err = tx.GetCustomer(ctx, id)
		return err
	})
	return cust, err
}

func (c *Catalog) ListCustomers(ctx context.Context, filter store.CustomerFilter) ([]*domain.Customer, error) {
	var customers []*domain.Customer
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		customers, err = tx.ListCustomers(ctx, filter)
		return err
	})
	return customers, err
}

// CustomerOrders lists the customer's orders, newest first.
func (c *Catalog) CustomerOrders(ctx context.Context, id int64) ([]*domain.SalesOrder, error) {
	var orders []*domain.SalesOrder
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCustomer(ctx, id); err != nil {
			return err
		}
		var err error
		orders, err = tx.ListOrders(ctx, store.OrderFilter{CustomerID: id})
		return err
	})
	return orders, err
}

// CustomerStats counts the customer's orders per status. TotalAmount sums
// total_amount over every order regardless of status.
func (c *Catalog) CustomerStats(ctx context.Context, id int64) (CustomerStats, error) {
	var stats CustomerStats
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		cust, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		orders, err := tx.ListOrders(ctx, store.OrderFilter{CustomerID: id})
		if err != nil {
			return err
		}

		stats = CustomerStats{CustomerID: cust.ID, CustomerName: cust.Name, TotalOrders: len(orders), TotalAmount: decimal.Zero}
		for _, o := range orders {
			switch o.Status {
			case domain.OrderStatusDraft:
				stats.DraftOrders++
			case domain.OrderStatusConfirmed:
				stats.ConfirmedOrders++
			case domain.OrderStatusCancelled:
				stats.CancelledOrders++
			}
			stats.TotalAmount = stats.TotalAmount.Add(o.Totals().TotalAmount)
		}
		return nil
	})
	return stats, err
}

func duplicateEmailError() error {
	return domain.ValidationErrors{domain.NewValidationError("email", "customer with this email already exists")}
}

func duplicateReferenceError() error {
	return domain.ValidationErrors{domain.NewValidationError("internal_reference", "product with this internal reference already exists")}
}
