package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyTRY Currency = "TRY"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"

	DefaultCurrency = CurrencyTRY
)

// ParseCurrency accepts a case-insensitive ISO code. Empty means DefaultCurrency.
func ParseCurrency(code string) (Currency, error) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(code))); c {
	case "":
		return DefaultCurrency, nil
	case CurrencyTRY, CurrencyUSD, CurrencyEUR:
		return c, nil
	default:
		return "", invalidArgument("unsupported currency %q", code)
	}
}

// Money is a non-negative amount rounded to two decimal places.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

func NewMoney(amount decimal.Decimal, currency Currency) (Money, error) {
	if amount.IsNegative() {
		return Money{}, invalidArgument("money amount cannot be negative")
	}
	c, err := ParseCurrency(string(currency))
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: amount.Round(2), Currency: c}, nil
}

// NewUnitPrice validates a line price: strictly positive, at most two decimals.
func NewUnitPrice(amount decimal.Decimal, currency Currency) (Money, error) {
	if !amount.IsPositive() {
		return Money{}, invalidArgument("unit price must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return Money{}, invalidArgument("unit price cannot have more than 2 decimal places")
	}
	return NewMoney(amount, currency)
}

func ZeroMoney(currency Currency) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, invalidArgument("cannot add %s to %s", other.Currency, m.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount).Round(2), Currency: m.Currency}, nil
}

func (m Money) Times(n int) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(int64(n))).Round(2), Currency: m.Currency}
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}
