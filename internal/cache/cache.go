package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_sales/internal/domain"
)

// TotalsCache holds computed order totals keyed by order id.
type TotalsCache interface {
	Get(ctx context.Context, orderID int64) (*domain.Totals, error)
	Set(ctx context.Context, orderID int64, totals *domain.Totals) error
	Delete(ctx context.Context, orderID int64) error
}

var ErrCacheMiss = errors.New("cache miss")

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, int64) (*domain.Totals, error) { return nil, ErrCacheMiss }
func (NopCache) Set(context.Context, int64, *domain.Totals) error { return nil }
func (NopCache) Delete(context.Context, int64) error { return nil }
