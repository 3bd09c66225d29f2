package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fjod/go_sales/internal/cache"
	"github.com/fjod/go_sales/internal/domain"
	"github.com/fjod/go_sales/internal/store"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCreateOrder_DefaultsUnitPriceFromProduct(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	desk := env.product(t, "DESK", 10, "120.50")

	o := env.order(t, LineInput{ProductID: desk.ID, Qty: 2})
	require.Len(t, o.Lines, 1)
	assert.True(t, o.Lines[0].UnitPrice.Equal(decimal.RequireFromString("120.50")))
	assert.True(t, o.Lines[0].DiscountPct.IsZero())
	assert.Equal(t, domain.OrderStatusDraft, o.Status)
	assert.Regexp(t, `^SO-[0-9A-F]{8}$`, o.Number)

	// later price changes do not touch existing lines
	err := env.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, desk.ID)
		if err != nil {
			return err
		}
		p.SalesPrice = decimal.NewFromInt(999)
		return tx.UpdateProduct(ctx, p)
	})
	require.NoError(t, err)

	got, err := env.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.Lines[0].UnitPrice.Equal(decimal.RequireFromString("120.50")))
	assert.Equal(t, o.Number, got.Number)
}

func TestCreateOrder_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	desk := env.product(t, "DESK", 10, "10.00")

	_, err := env.orders.CreateOrder(ctx, CreateOrderInput{
		CustomerID: env.customer,
		Lines: []LineInput{
			{ProductID: desk.ID, Qty: 0},
			{ProductID: desk.ID, Qty: 1, DiscountPct: dec("150")},
		},
	})
	require.Error(t, err)

	var verrs domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := []string{}
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"lines[0].qty", "lines[1].discount_pct", "lines[1].product"}, fields)
}

func TestCreateOrder_RejectsPricesBeyondColumnPrecision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	desk := env.product(t, "DESK", 10, "10.00")

	_, err := env.orders.CreateOrder(ctx, CreateOrderInput{
		CustomerID: env.customer,
		Lines:      []LineInput{{ProductID: desk.ID, Qty: 1, UnitPrice: dec("10.005"), DiscountPct: dec("12.345")}},
	})
	var verrs domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := []string{}
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"lines[0].unit_price", "lines[0].discount_pct"}, fields)

	_, err = env.orders.CreateOrder(ctx, CreateOrderInput{
		CustomerID: env.customer,
		Lines:      []LineInput{{ProductID: desk.ID, Qty: 1, UnitPrice: dec("123456789.00")}},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	orders, err := env.orders.ListOrders(ctx, store.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrder_UnknownCustomerOrProduct(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.orders.CreateOrder(ctx, CreateOrderInput{CustomerID: 4242})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.orders.CreateOrder(ctx, CreateOrderInput{
		CustomerID: env.customer,
		Lines:      []LineInput{{ProductID: 4242, Qty: 1}},
	})
	var verrs domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "lines[0].product", verrs[0].Field)

	orders, err := env.orders.ListOrders(ctx, store.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestLines_EditableOnlyInDraft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	desk := env.product(t, "DESK", 10, "10.00")
	chair := env.product(t, "CHAIR", 10, "5.00")
	o := env.order(t, LineInput{ProductID: desk.ID, Qty: 1})

	line, err := env.orders.AddLine(ctx, o.ID, LineInput{ProductID: chair.ID, Qty: 2})
	require.NoError(t, err)
	assert.True(t, line.UnitPrice.Equal(decimal.NewFromInt(5)))

	_, err = env.orders.AddLine(ctx, o.ID, LineInput{ProductID: chair.ID, Qty: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	qty := int64(4)
	updated, err := env.orders.UpdateLine(ctx, o.ID, line.ID, LineUpdate{Qty: &qty})
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated.Qty)

	_, err = env.lifecycle.Confirm(ctx, o.ID)
	require.NoError(t, err)

	other := env.product(t, "LAMP", 10, "1.00")
	_, err = env.orders.AddLine(ctx, o.ID, LineInput{ProductID: other.ID, Qty: 1})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = env.orders.UpdateLine(ctx, o.ID, line.ID, LineUpdate{Qty: &qty})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	err = env.orders.RemoveLine(ctx, o.ID, line.ID)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestUpdateLine_DuplicateProduct(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	desk := env.product(t, "DESK", 10, "10.00")
	chair := env.product(t, "CHAIR", 10, "5.00")
	o := env.order(t, LineInput{ProductID: desk.ID, Qty: 1}, LineInput{ProductID: chair.ID, Qty: 1})

	_, err := env.orders.UpdateLine(ctx, o.ID, o.Lines[1].ID, LineUpdate{ProductID: &desk.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)

	negative := decimal.NewFromInt(-1)
	_, err = env.orders.UpdateLine(ctx, o.ID, o.Lines[1].ID, LineUpdate{UnitPrice: &negative})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRemoveLine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	desk := env.product(t, "DESK", 10, "10.00")
	o := env.order(t, LineInput{ProductID: desk.ID, Qty: 1})

	require.NoError(t, env.orders.RemoveLine(ctx, o.ID, o.Lines[0].ID))
	assert.ErrorIs(t, env.orders.RemoveLine(ctx, o.ID, o.Lines[0].ID), store.ErrLineNotFound)

	got, err := env.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Lines)
}

func TestTotals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.product(t, "A", 10, "10.00")
	b := env.product(t, "B", 10, "5.00")

	o := env.order(t,
		LineInput{ProductID: a.ID, Qty: 2},
		LineInput{ProductID: b.ID, Qty: 1, DiscountPct: dec("50")},
	)

	totals, err := env.orders.Totals(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, totals.TotalAmount.Equal(decimal.RequireFromString("22.50")), totals.TotalAmount.String())
	assert.True(t, totals.GrandTotal.Equal(decimal.RequireFromString("27.00")), totals.GrandTotal.String())
}

// countingCache wraps a cache and counts misses.
type countingCache struct {
	cache.TotalsCache
	misses atomic.Int32
}

func (c *countingCache) Get(ctx context.Context, orderID int64) (*domain.Totals, error) {
	t, err := c.TotalsCache.Get(ctx, orderID)
	if errors.Is(err, cache.ErrCacheMiss) {
		c.misses.Add(1)
	}
	return t, err
}

func TestTotals_CachedOnlyOnceConfirmed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	env := newTestEnv(t)
	cc := &countingCache{TotalsCache: cache.NewRedisCache(client, 0)}
	env.orders = NewOrders(env.store, cc, zap.NewNop())
	ctx := context.Background()

	a := env.product(t, "A", 10, "10.00")
	o := env.order(t, LineInput{ProductID: a.ID, Qty: 1})

	for i := 0; i < 2; i++ {
		_, err := env.orders.Totals(ctx, o.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), cc.misses.Load())
	assert.False(t, mr.Exists("order_totals:"+strconv.FormatInt(o.ID, 10)))

	qty := int64(3)
	_, err := env.orders.UpdateLine(ctx, o.ID, o.Lines[0].ID, LineUpdate{Qty: &qty})
	require.NoError(t, err)
	_, err = env.lifecycle.Confirm(ctx, o.ID)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		totals, err := env.orders.Totals(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, totals.TotalAmount.Equal(decimal.NewFromInt(30)), totals.TotalAmount.String())
	}
	assert.Equal(t, int32(3), cc.misses.Load())
	assert.True(t, mr.Exists("order_totals:"+strconv.FormatInt(o.ID, 10)))
}

// gateCache parks the first Set until release is closed.
type gateCache struct {
	cache.TotalsCache
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gateCache) Set(ctx context.Context, orderID int64, totals *domain.Totals) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.TotalsCache.Set(ctx, orderID, totals)
}

func TestTotals_LineChangeDuringReadIsNotServedStale(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	env := newTestEnv(t)
	gc := &gateCache{
		TotalsCache: cache.NewRedisCache(client, 0),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	env.orders = NewOrders(env.store, gc, zap.NewNop())
	ctx := context.Background()

	desk := env.product(t, "DESK", 10, "10.00")
	chair := env.product(t, "CHAIR", 10, "5.00")
	o := env.order(t, LineInput{ProductID: desk.ID, Qty: 2})

	done := make(chan error, 1)
	go func() {
		_, err := env.orders.Totals(ctx, o.ID)
		done <- err
	}()

	select {
	case <-gc.entered:
		_, err := env.orders.AddLine(ctx, o.ID, LineInput{ProductID: chair.ID, Qty: 1})
		require.NoError(t, err)
		close(gc.release)
		require.NoError(t, <-done)
	case err := <-done:
		require.NoError(t, err)
		_, err = env.orders.AddLine(ctx, o.ID, LineInput{ProductID: chair.ID, Qty: 1})
		require.NoError(t, err)
	}

	totals, err := env.orders.Totals(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, totals.TotalAmount.Equal(decimal.NewFromInt(25)), "total_amount %s", totals.TotalAmount)
}

func TestTotals_CancelledCallerDoesNotFailJoinedCallers(t *testing.T) {
	env := newTestEnv(t)
	a := env.product(t, "A", 10, "10.00")
	o := env.order(t, LineInput{ProductID: a.ID, Qty: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	totals, err := env.orders.Totals(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, totals.TotalAmount.Equal(decimal.NewFromInt(20)))
}

func TestTotals_ConcurrentCallsSucceed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.product(t, "A", 10, "10.00")
	o := env.order(t, LineInput{ProductID: a.ID, Qty: 2})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			totals, err := env.orders.Totals(ctx, o.ID)
			assert.NoError(t, err)
			assert.True(t, totals.GrandTotal.Equal(decimal.NewFromInt(24)))
		}()
	}
	wg.Wait()
}

func TestTotals_UnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orders.Totals(context.Background(), 31337)
	assert.ErrorIs(t, err, store.ErrOrderNotFound)
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.product(t, "A", 100, "10.00")

	draft := env.order(t, LineInput{ProductID: a.ID, Qty: 1})
	confirmed := env.order(t, LineInput{ProductID: a.ID, Qty: 2})
	cancelled := env.order(t, LineInput{ProductID: a.ID, Qty: 3})
	_, err := env.lifecycle.Confirm(ctx, confirmed.ID)
	require.NoError(t, err)
	_, err = env.lifecycle.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)

	d, err := env.orders.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, d.TotalOrders)
	assert.Equal(t, 1, d.DraftOrders)
	assert.Equal(t, 1, d.ConfirmedOrders)
	assert.Equal(t, 1, d.CancelledOrders)
	assert.True(t, d.TotalRevenue.Equal(decimal.NewFromInt(20)))
	assert.True(t, d.PendingRevenue.Equal(decimal.NewFromInt(10)))
	assert.NotZero(t, draft.ID)
}

func TestListOrders_Filter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.order(t)
	second := env.order(t)
	_, err := env.lifecycle.Confirm(ctx, second.ID)
	require.NoError(t, err)

	drafts, err := env.orders.ListOrders(ctx, store.OrderFilter{Status: domain.OrderStatusDraft})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, first.ID, drafts[0].ID)

	all, err := env.orders.ListOrders(ctx, store.OrderFilter{CustomerID: env.customer})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
}
