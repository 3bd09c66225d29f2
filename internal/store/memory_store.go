package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_sales/internal/domain"
)

// state is one consistent snapshot of everything the memory store holds.
type state struct {
	products     map[int64]domain.Product
	customers    map[int64]domain.Customer
	orders       map[int64]domain.SalesOrder // without lines
	lines        map[int64]domain.SalesOrderLine
	reservations map[int64]domain.Reservation
	events       []domain.OutboxEvent
	nextID       int64
}

func newState() *state {
	return &state{
		products:     make(map[int64]domain.Product),
		customers:    make(map[int64]domain.Customer),
		orders:       make(map[int64]domain.SalesOrder),
		lines:        make(map[int64]domain.SalesOrderLine),
		reservations: make(map[int64]domain.Reservation),
	}
}

func (s *state) clone() *state {
	return &state{
		products:     maps.Clone(s.products),
		customers:    maps.Clone(s.customers),
		orders:       maps.Clone(s.orders),
		lines:        maps.Clone(s.lines),
		reservations: maps.Clone(s.reservations),
		events:       append([]domain.OutboxEvent(nil), s.events...),
		nextID:       s.nextID,
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// MemoryStore implements Store with in-memory storage.
// Transactions are serialised and run against a private copy of the state,
// which replaces the shared state only when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newState(), now: time.Now}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{state: s.state.clone(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.OutboxEvent, 0)
	for _, e := range s.state.events {
		if e.ProcessedAt != nil {
			continue
		}
		ev := e
		result = append(result, &ev)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkEventAsProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := append([]domain.OutboxEvent(nil), s.state.events...)
	for i := range events {
		if events[i].ID == id {
			now := s.now()
			events[i].ProcessedAt = &now
		}
	}
	s.state.events = events
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// memoryTx operates on a private state copy; it is only used while the
// owning MemoryStore's mutex is held.
type memoryTx struct {
	state *state
	now   func() time.Time
}

// Products

func (t *memoryTx) CreateProduct(_ context.Context, p *domain.Product) error {
	for _, existing := range t.state.products {
		if existing.InternalReference == p.InternalReference {
			return ErrDuplicateReference
		}
	}
	now := t.now()
	p.ID = t.state.id()
	p.CreatedAt, p.UpdatedAt = now, now
	t.state.products[p.ID] = *p
	return nil
}

func (t *memoryTx) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := t.state.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

// LockProduct is GetProduct: the whole transaction already runs exclusively.
func (t *memoryTx) LockProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return t.GetProduct(ctx, id)
}

func (t *memoryTx) ListProducts(_ context.Context, filter ProductFilter) ([]*domain.Product, error) {
	result := make([]*domain.Product, 0, len(t.state.products))
	for _, p := range t.state.products {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.Type != "" && p.Type != filter.Type {
			continue
		}
		p := p
		result = append(result, &p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (t *memoryTx) UpdateProduct(_ context.Context, p *domain.Product) error {
	existing, ok := t.state.products[p.ID]
	if !ok {
		return ErrProductNotFound
	}
	for id, other := range t.state.products {
		if id != p.ID && other.InternalReference == p.InternalReference {
			return ErrDuplicateReference
		}
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = t.now()
	t.state.products[p.ID] = *p
	return nil
}

func (t *memoryTx) InternalReferenceExists(_ context.Context, ref string, excludeID int64) (bool, error) {
	for id, p := range t.state.products {
		if id != excludeID && p.InternalReference == ref {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) ReservedQuantity(_ context.Context, productID int64) (int64, error) {
	var total int64
	for _, r := range t.state.reservations {
		if r.ProductID == productID {
			total += r.Qty
		}
	}
	return total, nil
}

// Reservations

func (t *memoryTx) CreateReservation(_ context.Context, r *domain.Reservation) error {
	if _, ok := t.state.orders[r.OrderID]; !ok {
		return ErrOrderNotFound
	}
	if _, ok := t.state.products[r.ProductID]; !ok {
		return ErrProductNotFound
	}
	for _, existing := range t.state.reservations {
		if existing.OrderID == r.OrderID && existing.ProductID == r.ProductID {
			return ErrDuplicateReservation
		}
	}
	r.ID = t.state.id()
	r.CreatedAt = t.now()
	t.state.reservations[r.ID] = *r
	return nil
}

func (t *memoryTx) DeleteReservationsByOrder(_ context.Context, orderID int64) (int64, error) {
	var n int64
	for id, r := range t.state.reservations {
		if r.OrderID == orderID {
			delete(t.state.reservations, id)
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) ListReservations(_ context.Context, filter ReservationFilter) ([]*domain.Reservation, error) {
	result := make([]*domain.Reservation, 0)
	for _, r := range t.state.reservations {
		if filter.OrderID != 0 && r.OrderID != filter.OrderID {
			continue
		}
		if filter.ProductID != 0 && r.ProductID != filter.ProductID {
			continue
		}
		r := r
		result = append(result, &r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

// Orders

func (t *memoryTx) CreateOrder(ctx context.Context, o *domain.SalesOrder) error {
	if _, ok := t.state.customers[o.CustomerID]; !ok {
		return ErrCustomerNotFound
	}
	for _, existing := range t.state.orders {
		if existing.Number == o.Number {
			return ErrDuplicateNumber
		}
	}
	now := t.now()
	o.ID = t.state.id()
	o.CreatedAt, o.UpdatedAt = now, now

	header := *o
	header.Lines = nil
	t.state.orders[o.ID] = header

	for i := range o.Lines {
		o.Lines[i].OrderID = o.ID
		if err := t.CreateLine(ctx, &o.Lines[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryTx) GetOrder(_ context.Context, id int64) (*domain.SalesOrder, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o.Lines = t.linesOf(id)
	return &o, nil
}

func (t *memoryTx) LockOrder(ctx context.Context, id int64) (*domain.SalesOrder, error) {
	return t.GetOrder(ctx, id)
}

func (t *memoryTx) linesOf(orderID int64) []domain.SalesOrderLine {
	lines := make([]domain.SalesOrderLine, 0)
	for _, l := range t.state.lines {
		if l.OrderID == orderID {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines
}

func (t *memoryTx) ListOrders(_ context.Context, filter OrderFilter) ([]*domain.SalesOrder, error) {
	result := make([]*domain.SalesOrder, 0, len(t.state.orders))
	for _, o := range t.state.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.CustomerID != 0 && o.CustomerID != filter.CustomerID {
			continue
		}
		o := o
		o.Lines = t.linesOf(o.ID)
		result = append(result, &o)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (t *memoryTx) UpdateOrderStatus(_ context.Context, id int64, status domain.OrderStatus) error {
	o, ok := t.state.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = t.now()
	t.state.orders[id] = o
	return nil
}

func (t *memoryTx) CreateLine(_ context.Context, l *domain.SalesOrderLine) error {
	if _, ok := t.state.orders[l.OrderID]; !ok {
		return ErrOrderNotFound
	}
	if _, ok := t.state.products[l.ProductID]; !ok {
		return ErrProductNotFound
	}
	for _, existing := range t.state.lines {
		if existing.OrderID == l.OrderID && existing.ProductID == l.ProductID {
			return ErrDuplicateLine
		}
	}
	now := t.now()
	l.ID = t.state.id()
	l.CreatedAt, l.UpdatedAt = now, now
	t.state.lines[l.ID] = *l
	return nil
}

func (t *memoryTx) GetLine(_ context.Context, orderID, lineID int64) (*domain.SalesOrderLine, error) {
	l, ok := t.state.lines[lineID]
	if !ok || l.OrderID != orderID {
		return nil, ErrLineNotFound
	}
	return &l, nil
}

func (t *memoryTx) UpdateLine(_ context.Context, l *domain.SalesOrderLine) error {
	existing, ok := t.state.lines[l.ID]
	if !ok || existing.OrderID != l.OrderID {
		return ErrLineNotFound
	}
	if _, ok := t.state.products[l.ProductID]; !ok {
		return ErrProductNotFound
	}
	for id, other := range t.state.lines {
		if id != l.ID && other.OrderID == l.OrderID && other.ProductID == l.ProductID {
			return ErrDuplicateLine
		}
	}
	l.CreatedAt = existing.CreatedAt
	l.UpdatedAt = t.now()
	t.state.lines[l.ID] = *l
	return nil
}

func (t *memoryTx) DeleteLine(_ context.Context, orderID, lineID int64) error {
	l, ok := t.state.lines[lineID]
	if !ok || l.OrderID != orderID {
		return ErrLineNotFound
	}
	delete(t.state.lines, lineID)
	return nil
}

// Customers

func (t *memoryTx) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	if exists, _ := t.EmailExists(ctx, c.Email, 0); exists {
		return ErrDuplicateEmail
	}
	now := t.now()
	c.ID = t.state.id()
	c.CreatedAt, c.UpdatedAt = now, now
	t.state.customers[c.ID] = *c
	return nil
}

func (t *memoryTx) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	c, ok := t.state.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return &c, nil
}

func (t *memoryTx) ListCustomers(_ context.Context, filter CustomerFilter) ([]*domain.Customer, error) {
	result := make([]*domain.Customer, 0, len(t.state.customers))
	for _, c := range t.state.customers {
		if filter.IsCompany != nil && c.IsCompany != *filter.IsCompany {
			continue
		}
		if filter.Country != "" && c.Country != filter.Country {
			continue
		}
		c := c
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (t *memoryTx) UpdateCustomer(ctx context.Context, c *domain.Customer) error {
	existing, ok := t.state.customers[c.ID]
	if !ok {
		return ErrCustomerNotFound
	}
	if exists, _ := t.EmailExists(ctx, c.Email, c.ID); exists {
		return ErrDuplicateEmail
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = t.now()
	t.state.customers[c.ID] = *c
	return nil
}

func (t *memoryTx) EmailExists(_ context.Context, email string, excludeID int64) (bool, error) {
	for id, c := range t.state.customers {
		if id != excludeID && c.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// Outbox

func (t *memoryTx) AppendEvent(_ context.Context, event *domain.OutboxEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = t.now()
	}
	t.state.events = append(t.state.events, *event)
	return nil
}
