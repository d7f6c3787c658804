package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

const (
	sideStringBuy  = "buy"
	sideStringSell = "sell"
)

// String returns the wire representation of the side.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return sideStringBuy
	case SideSell:
		return sideStringSell
	default:
		return "unknown"
	}
}

// ParseSide accepts "buy" or "sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case sideStringBuy:
		return SideBuy, nil
	case sideStringSell:
		return SideSell, nil
	}
	return 0, errors.Wrapf(ErrProtocolParse, "unknown side %q", s)
}

// Order is a parsed trade instruction.
type Order struct {
	Side     Side
	Symbol   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// ParseOrder parses a "<side>/<symbol>/<quantity>/<price>" line.
func ParseOrder(line string) (Order, error) {
	parts := strings.Split(strings.TrimSpace(line), FieldDelimiter)
	if len(parts) != 4 {
		return Order{}, errors.Wrapf(ErrProtocolParse, "order %q: want 4 fields, got %d", line, len(parts))
	}

	side, err := ParseSide(parts[0])
	if err != nil {
		return Order{}, err
	}
	quantity, err := decimal.NewFromString(parts[2])
	if err != nil {
		return Order{}, errors.Wrapf(ErrProtocolParse, "order %q: quantity: %v", line, err)
	}
	price, err := decimal.NewFromString(parts[3])
	if err != nil {
		return Order{}, errors.Wrapf(ErrProtocolParse, "order %q: price: %v", line, err)
	}

	o := Order{Side: side, Symbol: parts[1], Quantity: quantity, Price: price}
	if err := o.Validate(); err != nil {
		return Order{}, err
	}

	return o, nil
}

// Validate checks the symbol and the numeric bounds of the order.
func (o Order) Validate() error {
	if o.Symbol == "" || !isToken(o.Symbol) {
		return errors.Wrapf(ErrProtocolParse, "invalid symbol %q", o.Symbol)
	}
	if !o.Quantity.IsPositive() {
		return errors.Wrapf(ErrProtocolParse, "quantity must be positive, got %s", o.Quantity)
	}
	if o.Price.IsNegative() {
		return errors.Wrapf(ErrProtocolParse, "price must not be negative, got %s", o.Price)
	}
	return nil
}

// String returns the wire form of the order.
func (o Order) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", o.Side, o.Symbol, o.Quantity.String(), o.Price.String())
}
