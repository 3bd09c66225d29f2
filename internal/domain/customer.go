package domain

import (
	"fmt"
	"strings"
	"time"
)

type Customer struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone"`
	BillingAddress  string    `json:"billing_address,omitempty"`
	ShippingAddress string    `json:"shipping_address,omitempty"`
	IsCompany       bool      `json:"is_company"`
	RelatedCompany  string    `json:"related_company,omitempty"`
	Street          string    `json:"street,omitempty"`
	City            string    `json:"city,omitempty"`
	State           string    `json:"state,omitempty"`
	ZipCode         string    `json:"zip_code,omitempty"`
	Country         string    `json:"country"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

const DefaultCountry = "United States"

func (c *Customer) FullAddress() string {
	parts := make([]string, 0, 3)
	if c.Street != "" {
		parts = append(parts, c.Street)
	}
	if c.City != "" && c.State != "" {
		parts = append(parts, strings.TrimSpace(fmt.Sprintf("%s, %s %s", c.City, c.State, c.ZipCode)))
	}
	if c.Country != "" {
		parts = append(parts, c.Country)
	}
	return strings.Join(parts, ", ")
}
