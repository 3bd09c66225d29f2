package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/fjod/go_sales/internal/domain"
	"github.com/fjod/go_sales/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Products

const productColumns = `id, name, internal_reference, barcode, product_category, product_type,
	sales_price, cost, quantity_on_hand, created_at, updated_at`

func scanProduct(s rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := s.Scan(
		&p.ID,
		&p.Name,
		&p.InternalReference,
		&p.Barcode,
		&p.Category,
		&p.Type,
		&p.SalesPrice,
		&p.Cost,
		&p.QuantityOnHand,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) CreateProduct(ctx context.Context, p *domain.Product) error {
	query := `INSERT INTO products (name, internal_reference, barcode, product_category, product_type,
	              sales_price, cost, quantity_on_hand, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	          RETURNING id, created_at, updated_at`

	err := t.tx.QueryRowContext(ctx, query,
		p.Name,
		p.InternalReference,
		p.Barcode,
		p.Category,
		p.Type,
		p.SalesPrice,
		p.Cost,
		p.QuantityOnHand,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", mapConstraintError(err))
	}
	return nil
}

func (t *pgTx) getProduct(ctx context.Context, id int64, lock bool) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	p, err := scanProduct(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product by id: %w", err)
	}
	return p, nil
}

func (t *pgTx) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return t.getProduct(ctx, id, false)
}

func (t *pgTx) LockProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return t.getProduct(ctx, id, true)
}

func (t *pgTx) ListProducts(ctx context.Context, filter store.ProductFilter) ([]*domain.Product, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("product_category = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, fmt.Sprintf("product_type = $%d", len(args)))
	}
	query := `SELECT ` + productColumns + ` FROM products` + where(conds) + ` ORDER BY name, id`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]*domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return products, nil
}

func (t *pgTx) UpdateProduct(ctx context.Context, p *domain.Product) error {
	query := `UPDATE products
	          SET name = $2, internal_reference = $3, barcode = $4, product_category = $5, product_type = $6,
	              sales_price = $7, cost = $8, quantity_on_hand = $9, updated_at = NOW()
	          WHERE id = $1
	          RETURNING created_at, updated_at`

	err := t.tx.QueryRowContext(ctx, query,
		p.ID,
		p.Name,
		p.InternalReference,
		p.Barcode,
		p.Category,
		p.Type,
		p.SalesPrice,
		p.Cost,
		p.QuantityOnHand,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("update product: %w", mapConstraintError(err))
	}
	return nil
}

func (t *pgTx) InternalReferenceExists(ctx context.Context, ref string, excludeID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM products WHERE internal_reference = $1 AND id <> $2)`
	if err := t.tx.QueryRowContext(ctx, query, ref, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check internal reference: %w", err)
	}
	return exists, nil
}

func (t *pgTx) ReservedQuantity(ctx context.Context, productID int64) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(qty), 0) FROM reservations WHERE product_id = $1`
	if err := t.tx.QueryRowContext(ctx, query, productID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum reservations: %w", err)
	}
	return total, nil
}

// Reservations

func (t *pgTx) CreateReservation(ctx context.Context, r *domain.Reservation) error {
	query := `INSERT INTO reservations (order_id, product_id, qty, created_at)
	          VALUES ($1, $2, $3, NOW())
	          RETURNING id, created_at`

	err := t.tx.QueryRowContext(ctx, query, r.OrderID, r.ProductID, r.Qty).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", mapConstraintError(err))
	}
	return nil
}

func (t *pgTx) DeleteReservationsByOrder(ctx context.Context, orderID int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM reservations WHERE order_id = $1`, orderID)
	if err != nil {
		return 0, fmt.Errorf("delete reservations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (t *pgTx) ListReservations(ctx context.Context, filter store.ReservationFilter) ([]*domain.Reservation, error) {
	var (
		conds []string
		args  []any
	)
	if filter.OrderID != 0 {
		args = append(args, filter.OrderID)
		conds = append(conds, fmt.Sprintf("order_id = $%d", len(args)))
	}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		conds = append(conds, fmt.Sprintf("product_id = $%d", len(args)))
	}
	query := `SELECT id, order_id, product_id, qty, created_at FROM reservations` +
		where(conds) + ` ORDER BY created_at DESC, id DESC`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	reservations := make([]*domain.Reservation, 0)
	for rows.Next() {
		var r domain.Reservation
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ProductID, &r.Qty, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation row: %w", err)
		}
		reservations = append(reservations, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return reservations, nil
}

// Orders

const orderColumns = `id, number, customer_id, status, notes, created_at, updated_at`

func scanOrder(s rowScanner) (*domain.SalesOrder, error) {
	var o domain.SalesOrder
	err := s.Scan(&o.ID, &o.Number, &o.CustomerID, &o.Status, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *domain.SalesOrder) error {
	query := `INSERT INTO sales_orders (number, customer_id, status, notes, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, NOW(), NOW())
	          RETURNING id, created_at, updated_at`

	err := t.tx.QueryRowContext(ctx, query, o.Number, o.CustomerID, o.Status, o.Notes).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", mapConstraintError(err))
	}

	for i := range o.Lines {
		o.Lines[i].OrderID = o.ID
		if err := t.CreateLine(ctx, &o.Lines[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) getOrder(ctx context.Context, id int64, lock bool) (*domain.SalesOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM sales_orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}

	lines, err := t.listLines(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Lines = lines[o.ID]
	return o, nil
}

func (t *pgTx) GetOrder(ctx context.Context, id int64) (*domain.SalesOrder, error) {
	return t.getOrder(ctx, id, false)
}

func (t *pgTx) LockOrder(ctx context.Context, id int64) (*domain.SalesOrder, error) {
	return t.getOrder(ctx, id, true)
}

func (t *pgTx) ListOrders(ctx context.Context, filter store.OrderFilter) ([]*domain.SalesOrder, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CustomerID != 0 {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM sales_orders` + where(conds) + ` ORDER BY created_at DESC, id DESC`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.SalesOrder, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	lines, err := t.listLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.Lines = lines[o.ID]
	}
	return orders, nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE sales_orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrOrderNotFound
	}
	return nil
}

// Lines

const lineColumns = `id, order_id, product_id, qty, unit_price, discount_pct, created_at, updated_at`

func scanLine(s rowScanner) (*domain.SalesOrderLine, error) {
	var l domain.SalesOrderLine
	err := s.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Qty, &l.UnitPrice, &l.DiscountPct, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *pgTx) listLines(ctx context.Context, orderIDs []int64) (map[int64][]domain.SalesOrderLine, error) {
	result := make(map[int64][]domain.SalesOrderLine, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}
	for _, id := range orderIDs {
		result[id] = []domain.SalesOrderLine{}
	}

	query := `SELECT ` + lineColumns + ` FROM sales_order_lines WHERE order_id = ANY($1) ORDER BY id`
	rows, err := t.tx.QueryContext(ctx, query, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order line row: %w", err)
		}
		result[l.OrderID] = append(result[l.OrderID], *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return result, nil
}

func (t *pgTx) CreateLine(ctx context.Context, l *domain.SalesOrderLine) error {
	query := `INSERT INTO sales_order_lines (order_id, product_id, qty, unit_price, discount_pct, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	          RETURNING id, created_at, updated_at`

	err := t.tx.QueryRowContext(ctx, query, l.OrderID, l.ProductID, l.Qty, l.UnitPrice, l.DiscountPct).
		Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order line: %w", mapConstraintError(err))
	}
	return nil
}

func (t *pgTx) GetLine(ctx context.Context, orderID, lineID int64) (*domain.SalesOrderLine, error) {
	query := `SELECT ` + lineColumns + ` FROM sales_order_lines WHERE id = $1 AND order_id = $2`
	l, err := scanLine(t.tx.QueryRowContext(ctx, query, lineID, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrLineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order line: %w", err)
	}
	return l, nil
}

func (t *pgTx) UpdateLine(ctx context.Context, l *domain.SalesOrderLine) error {
	query := `UPDATE sales_order_lines
	          SET product_id = $3, qty = $4, unit_price = $5, discount_pct = $6, updated_at = NOW()
	          WHERE id = $1 AND order_id = $2
	          RETURNING created_at, updated_at`

	err := t.tx.QueryRowContext(ctx, query, l.ID, l.OrderID, l.ProductID, l.Qty, l.UnitPrice, l.DiscountPct).
		Scan(&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrLineNotFound
	}
	if err != nil {
		return fmt.Errorf("update order line: %w", mapConstraintError(err))
	}
	return nil
}

func (t *pgTx) DeleteLine(ctx context.Context, orderID, lineID int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM sales_order_lines WHERE id = $1 AND order_id = $2`, lineID, orderID)
	if err != nil {
		return fmt.Errorf("delete order line: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrLineNotFound
	}
	return nil
}

// Customers

const customerColumns = `id, name, email, phone, billing_address, shipping_address, is_company, related_company,
	street, city, state, zip_code, country, created_at, updated_at`

func scanCustomer(s rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	err := s.Scan(
		&c.ID,
		&c.Name,
		&c.Email,
		&c.Phone,
		&c.BillingAddress,
		&c.ShippingAddress,
		&c.IsCompany,
		&c.RelatedCompany,
		&c.Street,
		&c.City,
		&c.State,
		&c.ZipCode,
		&c.Country,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	query := `INSERT INTO customers (name, email, phone, billing_address, shipping_address, is_company,
	              related_company, street, city, state, zip_code, country, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
	          RETURNING id, created_at, updated_at`

	err := t.tx.QueryRowContext(ctx, query,
		c.Name,
		c.Email,
		c.Phone,
		c.BillingAddress,
		c.ShippingAddress,
		c.IsCompany,
		c.RelatedCompany,
		c.Street,
		c.City,
		c.State,
		c.ZipCode,
		c.Country,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert customer: %w", mapConstraintError(err))
	}
	return nil
}

func (t *pgTx) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	c, err := scanCustomer(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query customer by id: %w", err)
	}
	return c, nil
}

func (t *pgTx) ListCustomers(ctx context.Context, filter store.CustomerFilter) ([]*domain.Customer, error) {
	var (
		conds []string
		args  []any
	)
	if filter.IsCompany != nil {
		args = append(args, *filter.IsCompany)
		conds = append(conds, fmt.Sprintf("is_company = $%d", len(args)))
	}
	if filter.Country != "" {
		args = append(args, filter.Country)
		conds = append(conds, fmt.Sprintf("country = $%d", len(args)))
	}
	query := `SELECT ` + customerColumns + ` FROM customers` + where(conds) + ` ORDER BY name, id`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	customers := make([]*domain.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer row: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return customers, nil
}

func (t *pgTx) UpdateCustomer(ctx context.Context, c *domain.Customer) error {
	query := `UPDATE customers
	          SET name = $2, email = $3, phone = $4, billing_address = $5, shipping_address = $6, is_company = $7,
	              related_company = $8, street = $9, city = $10, state = $11, zip_code = $12, country = $13,
	              updated_at = NOW()
	          WHERE id = $1
	          RETURNING created_at, updated_at`

	err := t.tx.QueryRowContext(ctx, query,
		c.ID,
		c.Name,
		c.Email,
		c.Phone,
		c.BillingAddress,
		c.ShippingAddress,
		c.IsCompany,
		c.RelatedCompany,
		c.Street,
		c.City,
		c.State,
		c.ZipCode,
		c.Country,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrCustomerNotFound
	}
	if err != nil {
		return fmt.Errorf("update customer: %w", mapConstraintError(err))
	}
	return nil
}

func (t *pgTx) EmailExists(ctx context.Context, email string, excludeID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM customers WHERE email = $1 AND id <> $2)`
	if err := t.tx.QueryRowContext(ctx, query, email, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check customer email: %w", err)
	}
	return exists, nil
}

// Outbox

func (t *pgTx) AppendEvent(ctx context.Context, event *domain.OutboxEvent) error {
	query := `INSERT INTO outbox_events (id, aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4, NOW())
	          RETURNING created_at`

	err := t.tx.QueryRowContext(ctx, query, event.ID, event.AggregateID, event.EventType, string(event.Payload)).
		Scan(&event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
