package domain

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Holding is a position in one symbol. Values are never mutated in place;
// order application replaces a holding with a new one.
type Holding struct {
	Symbol   string
	Quantity decimal.Decimal
	// AvgCost is the quantity-weighted purchase price.
	AvgCost decimal.Decimal
	// LastPrice is the price of the most recent order on the symbol.
	LastPrice decimal.Decimal
}

// ParseHolding parses a "<symbol>/<quantity>/<avg_cost>/<last_price>" tuple.
func ParseHolding(s string) (Holding, error) {
	parts := strings.Split(s, FieldDelimiter)
	if len(parts) != 4 {
		return Holding{}, errors.Wrapf(ErrProtocolParse, "holding %q: want 4 fields, got %d", s, len(parts))
	}
	if parts[0] == "" || !isToken(parts[0]) {
		return Holding{}, errors.Wrapf(ErrProtocolParse, "holding %q: invalid symbol", s)
	}

	var values [3]decimal.Decimal
	for i, raw := range parts[1:] {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return Holding{}, errors.Wrapf(ErrProtocolParse, "holding %q: field %d: %v", s, i+2, err)
		}
		values[i] = v
	}
	if !values[0].IsPositive() {
		return Holding{}, errors.Wrapf(ErrProtocolParse, "holding %q: quantity must be positive", s)
	}

	return Holding{Symbol: parts[0], Quantity: values[0], AvgCost: values[1], LastPrice: values[2]}, nil
}

// String encodes the holding with FieldDelimiter.
func (h Holding) String() string {
	return strings.Join([]string{h.Symbol, h.Quantity.String(), h.AvgCost.String(), h.LastPrice.String()}, FieldDelimiter)
}

// MarketValue values the holding at its last traded price.
func (h Holding) MarketValue() decimal.Decimal {
	return h.Quantity.Mul(h.LastPrice)
}

// Equal compares holdings numerically.
func (h Holding) Equal(other Holding) bool {
	return h.Symbol == other.Symbol &&
		h.Quantity.Equal(other.Quantity) &&
		h.AvgCost.Equal(other.AvgCost) &&
		h.LastPrice.Equal(other.LastPrice)
}
