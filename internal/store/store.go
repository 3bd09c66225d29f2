package store

import (
	"context"
	"errors"

	"github.com/fjod/go_sales/internal/domain"
)

// Common errors returned by the store
var (
	ErrProductNotFound      = errors.New("product not found")
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrLineNotFound         = errors.New("order line not found")
	ErrDuplicateLine        = errors.New("product already exists in this order")
	ErrDuplicateReservation = errors.New("reservation for this order and product already exists")
	ErrDuplicateReference   = errors.New("product with this internal reference already exists")
	ErrDuplicateNumber      = errors.New("order number already exists")
	ErrDuplicateEmail       = errors.New("customer with this email already exists")

	// ErrTransientConflict marks a deadlock or lock timeout. The whole
	// operation may be retried from scratch.
	ErrTransientConflict = errors.New("transient lock conflict")
)

// Store is the transactional persistence boundary for the sales domain.
type Store interface {
	// WithTx runs fn atomically. If fn returns an error or panics, every
	// write made through tx is discarded.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Outbox

	Close() error
}

// Tx is the set of operations available inside one transaction.
type Tx interface {
	ProductLedger
	ReservationStore
	OrderStore
	CustomerStore

	AppendEvent(ctx context.Context, event *domain.OutboxEvent) error
}

type ProductLedger interface {
	CreateProduct(ctx context.Context, p *domain.Product) error
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	// LockProduct returns the product and holds it exclusively until the
	// transaction ends.
	LockProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]*domain.Product, error)
	UpdateProduct(ctx context.Context, p *domain.Product) error
	InternalReferenceExists(ctx context.Context, ref string, excludeID int64) (bool, error)

	// ReservedQuantity sums qty over all reservations for the product.
	ReservedQuantity(ctx context.Context, productID int64) (int64, error)
}

type ReservationStore interface {
	CreateReservation(ctx context.Context, r *domain.Reservation) error
	// DeleteReservationsByOrder returns the number of deleted reservations.
	DeleteReservationsByOrder(ctx context.Context, orderID int64) (int64, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]*domain.Reservation, error)
}

type OrderStore interface {
	// CreateOrder inserts the order together with its lines.
	CreateOrder(ctx context.Context, o *domain.SalesOrder) error
	GetOrder(ctx context.Context, id int64) (*domain.SalesOrder, error)
	LockOrder(ctx context.Context, id int64) (*domain.SalesOrder, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]*domain.SalesOrder, error)
	UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error

	CreateLine(ctx context.Context, l *domain.SalesOrderLine) error
	GetLine(ctx context.Context, orderID, lineID int64) (*domain.SalesOrderLine, error)
	UpdateLine(ctx context.Context, l *domain.SalesOrderLine) error
	DeleteLine(ctx context.Context, orderID, lineID int64) error
}

type CustomerStore interface {
	CreateCustomer(ctx context.Context, c *domain.Customer) error
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	ListCustomers(ctx context.Context, filter CustomerFilter) ([]*domain.Customer, error)
	UpdateCustomer(ctx context.Context, c *domain.Customer) error
	EmailExists(ctx context.Context, email string, excludeID int64) (bool, error)
}

// Outbox is read by the publisher outside of any transaction.
type Outbox interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id string) error
}

// Zero-valued fields are not filtered on.
type ProductFilter struct {
	Category string
	Type     domain.ProductType
}

type ReservationFilter struct {
	OrderID   int64
	ProductID int64
}

type OrderFilter struct {
	Status     domain.OrderStatus
	CustomerID int64
}

type CustomerFilter struct {
	IsCompany *bool
	Country   string
}

// Stock reads on hand and reserved quantity for the product within tx.
func Stock(ctx context.Context, tx Tx, productID int64) (domain.StockInfo, error) {
	p, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return domain.StockInfo{}, err
	}
	reserved, err := tx.ReservedQuantity(ctx, productID)
	if err != nil {
		return domain.StockInfo{}, err
	}
	return domain.StockInfo{ProductID: p.ID, OnHand: p.QuantityOnHand, Reserved: reserved}, nil
}
