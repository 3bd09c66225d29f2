package http

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_sales/internal/domain"
	"github.com/fjod/go_sales/internal/service"
)

// Request DTOs

type CreateCustomerRequestDTO struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	BillingAddress  string `json:"billing_address"`
	ShippingAddress string `json:"shipping_address"`
	IsCompany       bool   `json:"is_company"`
	RelatedCompany  string `json:"related_company"`
	Street          string `json:"street"`
	City            string `json:"city"`
	State           string `json:"state"`
	ZipCode         string `json:"zip_code"`
	Country         string `json:"country"`
}

func (d CreateCustomerRequestDTO) toDomain() *domain.Customer {
	return &domain.Customer{
		Name:            d.Name,
		Email:           d.Email,
		Phone:           d.Phone,
		BillingAddress:  d.BillingAddress,
		ShippingAddress: d.ShippingAddress,
		IsCompany:       d.IsCompany,
		RelatedCompany:  d.RelatedCompany,
		Street:          d.Street,
		City:            d.City,
		State:           d.State,
		ZipCode:         d.ZipCode,
		Country:         d.Country,
	}
}

type UpdateCustomerRequestDTO struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	Phone           *string `json:"phone"`
	BillingAddress  *string `json:"billing_address"`
	ShippingAddress *string `json:"shipping_address"`
	IsCompany       *bool   `json:"is_company"`
	RelatedCompany  *string `json:"related_company"`
	Street          *string `json:"street"`
	City            *string `json:"city"`
	State           *string `json:"state"`
	ZipCode         *string `json:"zip_code"`
	Country         *string `json:"country"`
}

func (d UpdateCustomerRequestDTO) toUpdate() service.CustomerUpdate {
	return service.CustomerUpdate{
		Name:            d.Name,
		Email:           d.Email,
		Phone:           d.Phone,
		BillingAddress:  d.BillingAddress,
		ShippingAddress: d.ShippingAddress,
		IsCompany:       d.IsCompany,
		RelatedCompany:  d.RelatedCompany,
		Street:          d.Street,
		City:            d.City,
		State:           d.State,
		ZipCode:         d.ZipCode,
		Country:         d.Country,
	}
}

type CreateProductRequestDTO struct {
	Name              string             `json:"name"`
	InternalReference string             `json:"internal_reference"`
	Barcode           string             `json:"barcode"`
	Category          string             `json:"product_category"`
	Type              domain.ProductType `json:"product_type"`
	SalesPrice        decimal.Decimal    `json:"sales_price"`
	Cost              decimal.Decimal    `json:"cost"`
	QuantityOnHand    int64              `json:"quantity_on_hand"`
}

func (d CreateProductRequestDTO) toDomain() *domain.Product {
	return &domain.Product{
		Name:              d.Name,
		InternalReference: d.InternalReference,
		Barcode:           d.Barcode,
		Category:          d.Category,
		Type:              d.Type,
		SalesPrice:        d.SalesPrice,
		Cost:              d.Cost,
		QuantityOnHand:    d.QuantityOnHand,
	}
}

type UpdateProductRequestDTO struct {
	Name              *string             `json:"name"`
	InternalReference *string             `json:"internal_reference"`
	Barcode           *string             `json:"barcode"`
	Category          *string             `json:"product_category"`
	Type              *domain.ProductType `json:"product_type"`
	SalesPrice        *decimal.Decimal    `json:"sales_price"`
	Cost              *decimal.Decimal    `json:"cost"`
	QuantityOnHand    *int64              `json:"quantity_on_hand"`
}

func (d UpdateProductRequestDTO) toUpdate() service.ProductUpdate {
	return service.ProductUpdate{
		Name:              d.Name,
		InternalReference: d.InternalReference,
		Barcode:           d.Barcode,
		Category:          d.Category,
		Type:              d.Type,
		SalesPrice:        d.SalesPrice,
		Cost:              d.Cost,
		QuantityOnHand:    d.QuantityOnHand,
	}
}

type AdjustStockRequestDTO struct {
	Delta int64 `json:"delta"`
}

type LineRequestDTO struct {
	ProductID   int64            `json:"product_id"`
	Qty         int64            `json:"qty"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	DiscountPct *decimal.Decimal `json:"discount_pct"`
}

func (d LineRequestDTO) toInput() service.LineInput {
	return service.LineInput{
		ProductID:   d.ProductID,
		Qty:         d.Qty,
		UnitPrice:   d.UnitPrice,
		DiscountPct: d.DiscountPct,
	}
}

type UpdateLineRequestDTO struct {
	ProductID   *int64           `json:"product_id"`
	Qty         *int64           `json:"qty"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	DiscountPct *decimal.Decimal `json:"discount_pct"`
}

type CreateOrderRequestDTO struct {
	CustomerID int64            `json:"customer_id"`
	Notes      string           `json:"notes"`
	Lines      []LineRequestDTO `json:"lines"`
}

func (d CreateOrderRequestDTO) toInput() service.CreateOrderInput {
	in := service.CreateOrderInput{
		CustomerID: d.CustomerID,
		Notes:      d.Notes,
		Lines:      make([]service.LineInput, 0, len(d.Lines)),
	}
	for _, l := range d.Lines {
		in.Lines = append(in.Lines, l.toInput())
	}
	return in
}

type StatusRequestDTO struct {
	Status domain.OrderStatus `json:"status"`
}

// Response DTOs

type CustomerDTO struct {
	*domain.Customer
	FullAddress string `json:"full_address"`
}

func presentCustomer(c *domain.Customer) CustomerDTO {
	return CustomerDTO{Customer: c, FullAddress: c.FullAddress()}
}

type LineDTO struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	Qty         int64           `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

func presentLine(l domain.SalesOrderLine) LineDTO {
	return LineDTO{
		ID:          l.ID,
		ProductID:   l.ProductID,
		Qty:         l.Qty,
		UnitPrice:   l.UnitPrice,
		DiscountPct: l.DiscountPct,
		LineTotal:   l.LineTotal(),
	}
}

func presentLines(lines []domain.SalesOrderLine) []LineDTO {
	out := make([]LineDTO, 0, len(lines))
	for _, l := range lines {
		out = append(out, presentLine(l))
	}
	return out
}

// OrderSummaryDTO is the list view of an order.
type OrderSummaryDTO struct {
	ID          int64              `json:"id"`
	Number      string             `json:"number"`
	CustomerID  int64              `json:"customer_id"`
	Status      domain.OrderStatus `json:"status"`
	LineCount   int                `json:"line_count"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	GrandTotal  decimal.Decimal    `json:"grand_total"`
	CreatedAt   time.Time          `json:"created_at"`
}

func presentOrderSummaries(orders []*domain.SalesOrder) []OrderSummaryDTO {
	out := make([]OrderSummaryDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, presentOrderSummary(o))
	}
	return out
}

func presentOrderSummary(o *domain.SalesOrder) OrderSummaryDTO {
	totals := o.Totals()
	return OrderSummaryDTO{
		ID:          o.ID,
		Number:      o.Number,
		CustomerID:  o.CustomerID,
		Status:      o.Status,
		LineCount:   len(o.Lines),
		TotalAmount: totals.TotalAmount,
		GrandTotal:  totals.GrandTotal,
		CreatedAt:   o.CreatedAt,
	}
}

// OrderDetailDTO is the single-resource view of an order.
type OrderDetailDTO struct {
	ID          int64              `json:"id"`
	Number      string             `json:"number"`
	CustomerID  int64              `json:"customer_id"`
	Status      domain.OrderStatus `json:"status"`
	Notes       string             `json:"notes"`
	Lines       []LineDTO          `json:"lines"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	GrandTotal  decimal.Decimal    `json:"grand_total"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func presentOrderDetail(o *domain.SalesOrder) OrderDetailDTO {
	totals := o.Totals()
	return OrderDetailDTO{
		ID:          o.ID,
		Number:      o.Number,
		CustomerID:  o.CustomerID,
		Status:      o.Status,
		Notes:       o.Notes,
		Lines:       presentLines(o.Lines),
		TotalAmount: totals.TotalAmount,
		GrandTotal:  totals.GrandTotal,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}
