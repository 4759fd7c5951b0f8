package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

type Service struct {
	SatsPerUnit decimal.Decimal
	Currency    string
}

type Quote struct {
	Sats        int64           `json:"sats"`
	SatsPerUnit decimal.Decimal `json:"sats_per_unit"`
	Source      string          `json:"source"`
}

// QuoteSats converts a fiat amount into whole satoshis, rounding up so an
// invoice never undercharges. An empty currency is taken to be the rate's
// own.
func (s Service) QuoteSats(amount decimal.Decimal, currency string) (Quote, error) {
	if currency != "" && s.Currency != "" && !strings.EqualFold(currency, s.Currency) {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	if !amount.IsPositive() {
		return Quote{}, ErrInvalidAmount
	}
	if !s.SatsPerUnit.IsPositive() {
		return Quote{}, errors.New("sats per unit is not configured")
	}
	sats := amount.Mul(s.SatsPerUnit).Ceil()
	return Quote{
		Sats:        sats.IntPart(),
		SatsPerUnit: s.SatsPerUnit,
		Source:      "fixed",
	}, nil
}
