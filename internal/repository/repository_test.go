package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/fjod/go_sales/internal/domain"
	"github.com/fjod/go_sales/internal/service"
	"github.com/fjod/go_sales/internal/store"
)

func setupTestDB(t *testing.T) (*Repository, func()) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewRepository(creds, zap.NewNop())
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func seedCustomer(t *testing.T, repo *Repository) *domain.Customer {
	t.Helper()
	c := &domain.Customer{Name: "Acme Corp", Email: "orders@acme.test", Phone: "+1 555 010 0100", IsCompany: true, Country: domain.DefaultCountry}
	err := repo.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateCustomer(context.Background(), c)
	})
	require.NoError(t, err)
	return c
}

func seedProduct(t *testing.T, repo *Repository, ref string, onHand int64) *domain.Product {
	t.Helper()
	p := &domain.Product{
		Name:              "Product " + ref,
		InternalReference: ref,
		Category:          "All / Saleable",
		Type:              domain.ProductTypeStorable,
		SalesPrice:        decimal.RequireFromString("12.50"),
		Cost:              decimal.RequireFromString("7.25"),
		QuantityOnHand:    onHand,
	}
	err := repo.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateProduct(context.Background(), p)
	})
	require.NoError(t, err)
	return p
}

func TestProducts_CRUDAndConstraints(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	desk := seedProduct(t, repo, "DESK", 10)
	assert.NotZero(t, desk.ID)
	assert.False(t, desk.CreatedAt.IsZero())

	err := repo.WithTx(ctx, func(tx store.Tx) error {
		got, err := tx.GetProduct(ctx, desk.ID)
		require.NoError(t, err)
		assert.True(t, got.SalesPrice.Equal(decimal.RequireFromString("12.50")))
		assert.Equal(t, domain.ProductTypeStorable, got.Type)

		got.QuantityOnHand = 25
		require.NoError(t, tx.UpdateProduct(ctx, got))

		exists, err := tx.InternalReferenceExists(ctx, "DESK", 0)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = tx.InternalReferenceExists(ctx, "DESK", desk.ID)
		require.NoError(t, err)
		assert.False(t, exists)
		return nil
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateProduct(ctx, &domain.Product{Name: "Copy", InternalReference: "DESK", Type: domain.ProductTypeStorable})
	})
	assert.ErrorIs(t, err, store.ErrDuplicateReference)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.GetProduct(ctx, 424242)
		return err
	})
	assert.ErrorIs(t, err, store.ErrProductNotFound)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		products, err := tx.ListProducts(ctx, store.ProductFilter{Type: domain.ProductTypeStorable})
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.Equal(t, int64(25), products[0].QuantityOnHand)
		return nil
	})
	require.NoError(t, err)
}

func TestOrders_LinesAndReservations(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c := seedCustomer(t, repo)
	desk := seedProduct(t, repo, "DESK", 10)
	chair := seedProduct(t, repo, "CHAIR", 10)

	order := &domain.SalesOrder{
		Number:     domain.NewOrderNumber(),
		CustomerID: c.ID,
		Status:     domain.OrderStatusDraft,
		Lines: []domain.SalesOrderLine{
			{ProductID: desk.ID, Qty: 2, UnitPrice: decimal.NewFromInt(10), DiscountPct: decimal.Zero},
			{ProductID: chair.ID, Qty: 1, UnitPrice: decimal.NewFromInt(5), DiscountPct: decimal.NewFromInt(50)},
		},
	}
	err := repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateOrder(ctx, order)
	})
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
	assert.Equal(t, order.ID, order.Lines[0].OrderID)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		got, err := tx.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		require.Len(t, got.Lines, 2)
		totals := got.Totals()
		assert.True(t, totals.TotalAmount.Equal(decimal.RequireFromString("22.50")))
		assert.True(t, totals.GrandTotal.Equal(decimal.RequireFromString("27.00")))
		return nil
	})
	require.NoError(t, err)

	// one line per product
	err = repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateLine(ctx, &domain.SalesOrderLine{OrderID: order.ID, ProductID: desk.ID, Qty: 1, UnitPrice: decimal.NewFromInt(1)})
	})
	assert.ErrorIs(t, err, store.ErrDuplicateLine)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		line, err := tx.GetLine(ctx, order.ID, order.Lines[0].ID)
		require.NoError(t, err)
		line.Qty = 7
		require.NoError(t, tx.UpdateLine(ctx, line))

		require.NoError(t, tx.DeleteLine(ctx, order.ID, order.Lines[1].ID))
		assert.ErrorIs(t, tx.DeleteLine(ctx, order.ID, order.Lines[1].ID), store.ErrLineNotFound)

		require.NoError(t, tx.CreateReservation(ctx, &domain.Reservation{OrderID: order.ID, ProductID: desk.ID, Qty: 7}))
		return tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusConfirmed)
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		stock, err := store.Stock(ctx, tx, desk.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stock.Available())
		return nil
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateReservation(ctx, &domain.Reservation{OrderID: order.ID, ProductID: desk.ID, Qty: 1})
	})
	assert.ErrorIs(t, err, store.ErrDuplicateReservation)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		orders, err := tx.ListOrders(ctx, store.OrderFilter{Status: domain.OrderStatusConfirmed})
		require.NoError(t, err)
		require.Len(t, orders, 1)
		require.Len(t, orders[0].Lines, 1)
		assert.Equal(t, int64(7), orders[0].Lines[0].Qty)

		n, err := tx.DeleteReservationsByOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		reserved, err := tx.ReservedQuantity(ctx, desk.ID)
		require.NoError(t, err)
		assert.Zero(t, reserved)
		return nil
	})
	require.NoError(t, err)
}

func TestOrders_ForeignKeysMapToNotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	err := repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateOrder(ctx, &domain.SalesOrder{Number: domain.NewOrderNumber(), CustomerID: 999, Status: domain.OrderStatusDraft})
	})
	assert.ErrorIs(t, err, store.ErrCustomerNotFound)

	c := seedCustomer(t, repo)
	err = repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateOrder(ctx, &domain.SalesOrder{
			Number:     domain.NewOrderNumber(),
			CustomerID: c.ID,
			Status:     domain.OrderStatusDraft,
			Lines:      []domain.SalesOrderLine{{ProductID: 999, Qty: 1, UnitPrice: decimal.NewFromInt(1)}},
		})
	})
	assert.ErrorIs(t, err, store.ErrProductNotFound)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		orders, err := tx.ListOrders(ctx, store.OrderFilter{})
		require.NoError(t, err)
		assert.Empty(t, orders)
		return nil
	})
	require.NoError(t, err)
}

func TestCustomers_EmailUniqueAndUpdate(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	acme := seedCustomer(t, repo)

	err := repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateCustomer(ctx, &domain.Customer{Name: "Copy", Email: acme.Email, Phone: "5550100200", Country: domain.DefaultCountry})
	})
	assert.ErrorIs(t, err, store.ErrDuplicateEmail)

	other := &domain.Customer{Name: "Jane Doe", Email: "jane@example.com", Phone: "5550100200", Country: domain.DefaultCountry}
	err = repo.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateCustomer(ctx, other); err != nil {
			return err
		}
		exists, err := tx.EmailExists(ctx, acme.Email, other.ID)
		require.NoError(t, err)
		assert.True(t, exists)

		other.City = "Springfield"
		return tx.UpdateCustomer(ctx, other)
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		other.Email = acme.Email
		return tx.UpdateCustomer(ctx, other)
	})
	assert.ErrorIs(t, err, store.ErrDuplicateEmail)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpdateCustomer(ctx, &domain.Customer{ID: 9999, Name: "Ghost", Email: "ghost@example.com"})
	})
	assert.ErrorIs(t, err, store.ErrCustomerNotFound)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		got, err := tx.GetCustomer(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, "Springfield", got.City)
		assert.Equal(t, "jane@example.com", got.Email)
		return nil
	})
	require.NoError(t, err)
}

func TestMarkTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"deadlock", &pq.Error{Code: "40P01"}, true},
		{"lock not available", &pq.Error{Code: "55P03"}, true},
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"wrapped deadlock", fmt.Errorf("lock product: %w", &pq.Error{Code: "40P01"}), true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := markTransient(tt.err)
			assert.Equal(t, tt.transient, errors.Is(err, store.ErrTransientConflict))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.CreateProduct(ctx, &domain.Product{Name: "Ghost", InternalReference: "GHOST", Type: domain.ProductTypeStorable}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = repo.WithTx(ctx, func(tx store.Tx) error {
			require.NoError(t, tx.CreateProduct(ctx, &domain.Product{Name: "Ghost", InternalReference: "GHOST-2", Type: domain.ProductTypeStorable}))
			panic("boom")
		})
	})

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		products, err := tx.ListProducts(ctx, store.ProductFilter{})
		require.NoError(t, err)
		assert.Empty(t, products)
		return nil
	})
	require.NoError(t, err)
}

func TestOutbox_AppendFetchAndMark(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	id := uuid.New().String()
	err := repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.AppendEvent(ctx, &domain.OutboxEvent{
			ID:          id,
			AggregateID: "42",
			EventType:   domain.EventOrderConfirmed,
			Payload:     []byte(`{"order_id": 42, "to": "confirmed"}`),
		})
	})
	require.NoError(t, err)

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, "42", events[0].AggregateID)
	assert.JSONEq(t, `{"order_id": 42, "to": "confirmed"}`, string(events[0].Payload))

	require.NoError(t, repo.MarkEventAsProcessed(ctx, id))

	events, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestConfirm_ConcurrentOrdersNeverOversell(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	logger := zap.NewNop()
	orders := service.NewOrders(repo, nil, logger)
	lifecycle := service.NewOrderLifecycle(repo, logger)

	c := seedCustomer(t, repo)
	desk := seedProduct(t, repo, "DESK", 10)
	chair := seedProduct(t, repo, "CHAIR", 10)

	const workers = 6
	ids := make([]int64, workers)
	for i := range ids {
		// alternate line order so concurrent confirmations lock products
		// in different input orders
		lines := []service.LineInput{{ProductID: desk.ID, Qty: 4}, {ProductID: chair.ID, Qty: 4}}
		if i%2 == 1 {
			lines[0], lines[1] = lines[1], lines[0]
		}
		o, err := orders.CreateOrder(ctx, service.CreateOrderInput{CustomerID: c.ID, Lines: lines})
		require.NoError(t, err)
		ids[i] = o.ID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		shortages int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := lifecycle.Confirm(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientStock):
				shortages++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, workers-2, shortages)

	deskAvailable, err := lifecycle.AvailableQuantity(ctx, desk.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deskAvailable)

	chairAvailable, err := lifecycle.AvailableQuantity(ctx, chair.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), chairAvailable)

	events, err := repo.GetUnprocessedEvents(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
