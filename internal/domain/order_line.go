package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	// SurchargeRate is the flat multiplier applied to the order total.
	SurchargeRate = decimal.RequireFromString("1.20")
)

type SalesOrderLine struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	Qty         int64           `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LineTotal = qty * unit_price * (1 - discount_pct/100), without rounding.
func (l SalesOrderLine) LineTotal() decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(l.DiscountPct.Div(hundred))
	return decimal.NewFromInt(l.Qty).Mul(l.UnitPrice).Mul(factor)
}

type Totals struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
}

func ComputeTotals(lines []SalesOrderLine) Totals {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal())
	}
	return Totals{
		TotalAmount: total,
		GrandTotal:  total.Mul(SurchargeRate),
	}
}
