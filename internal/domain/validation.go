package domain

import (
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Rule checks a single field and returns nil when it is valid.
type Rule func() *ValidationError

// Validate runs every rule and returns all failures, or nil.
func Validate(rules ...Rule) error {
	var errs ValidationErrors
	for _, rule := range rules {
		if err := rule(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func Required(field, value string) Rule {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return NewValidationError(field, "is required")
		}
		return nil
	}
}

func MinInt(field string, value, min int64) Rule {
	return func() *ValidationError {
		if value < min {
			return NewValidationError(field, "must be at least "+strconv.FormatInt(min, 10))
		}
		return nil
	}
}

func NonNegative(field string, value decimal.Decimal) Rule {
	return func() *ValidationError {
		if value.IsNegative() {
			return NewValidationError(field, "cannot be negative")
		}
		return nil
	}
}

func Percentage(field string, value decimal.Decimal) Rule {
	return func() *ValidationError {
		if value.IsNegative() || value.GreaterThan(hundred) {
			return NewValidationError(field, "must be between 0 and 100")
		}
		return nil
	}
}

func Email(field, value string) Rule {
	return func() *ValidationError {
		addr, err := mail.ParseAddress(value)
		if err != nil || addr.Address != value {
			return NewValidationError(field, "invalid email format")
		}
		return nil
	}
}

var phonePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)

var phoneStripper = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// Phone ignores spaces, dashes and parentheses.
func Phone(field, value string) Rule {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return NewValidationError(field, "is required")
		}
		if !phonePattern.MatchString(phoneStripper.Replace(value)) {
			return NewValidationError(field, "invalid phone number format")
		}
		return nil
	}
}

// Decimal bounds a value to maxDigits significant digits, places of them
// after the decimal point.
func Decimal(field string, value decimal.Decimal, maxDigits, places int32) Rule {
	return func() *ValidationError {
		if !value.Equal(value.Truncate(places)) {
			return NewValidationError(field, fmt.Sprintf("ensure that there are no more than %d decimal places", places))
		}
		if value.Abs().GreaterThanOrEqual(decimal.New(1, maxDigits-places)) {
			return NewValidationError(field, fmt.Sprintf("ensure that there are no more than %d digits before the decimal point", maxDigits-places))
		}
		return nil
	}
}

func Check(field string, ok bool, reason string) Rule {
	return func() *ValidationError {
		if !ok {
			return NewValidationError(field, reason)
		}
		return nil
	}
}

func LineRules(l *SalesOrderLine) []Rule {
	return []Rule{
		MinInt("qty", l.Qty, 1),
		NonNegative("unit_price", l.UnitPrice),
		Decimal("unit_price", l.UnitPrice, 10, 2),
		Percentage("discount_pct", l.DiscountPct),
		Decimal("discount_pct", l.DiscountPct, 5, 2),
	}
}

func ProductRules(p *Product) []Rule {
	return []Rule{
		Required("name", p.Name),
		Required("internal_reference", p.InternalReference),
		NonNegative("sales_price", p.SalesPrice),
		Decimal("sales_price", p.SalesPrice, 10, 2),
		NonNegative("cost", p.Cost),
		Decimal("cost", p.Cost, 10, 2),
		MinInt("quantity_on_hand", p.QuantityOnHand, 0),
		Check("product_type", p.Type.IsValid(), "unknown product type"),
	}
}

func CustomerRules(c *Customer) []Rule {
	return []Rule{
		Required("name", c.Name),
		Email("email", c.Email),
		Phone("phone", c.Phone),
	}
}
