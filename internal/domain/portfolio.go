package domain

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// RecordDelimiter separates holdings in a serialized portfolio.
const RecordDelimiter = ":"

// Portfolio is the ordered set of a user's holdings. It is safe for concurrent use;
// orders on one portfolio are applied one at a time.
type Portfolio struct {
	mu       sync.RWMutex
	holdings []Holding
}

// NewPortfolio creates a portfolio from holdings, rejecting duplicate symbols.
func NewPortfolio(holdings []Holding) (*Portfolio, error) {
	seen := make(map[string]struct{}, len(holdings))
	for _, h := range holdings {
		if _, ok := seen[h.Symbol]; ok {
			return nil, errors.Wrapf(ErrProtocolParse, "duplicate holding for %s", h.Symbol)
		}
		seen[h.Symbol] = struct{}{}
	}

	cp := make([]Holding, len(holdings))
	copy(cp, holdings)

	return &Portfolio{holdings: cp}, nil
}

// NewEmptyPortfolio creates a portfolio without holdings.
func NewEmptyPortfolio() *Portfolio {
	return &Portfolio{}
}

// ParsePortfolio decodes the output of Serialize. An empty string is an empty portfolio.
func ParsePortfolio(s string) (*Portfolio, error) {
	if s == "" {
		return NewEmptyPortfolio(), nil
	}

	records := strings.Split(s, RecordDelimiter)
	holdings := make([]Holding, 0, len(records))
	for _, record := range records {
		h, err := ParseHolding(record)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}

	return NewPortfolio(holdings)
}

// Apply applies the order and returns the resulting serialized state.
func (p *Portfolio) Apply(o Order) (string, error) {
	return p.ApplyWith(o, nil)
}

// ApplyWith applies the order while holding the portfolio lock. record, when set, is
// called with the order before the new state becomes visible; a record error leaves the
// portfolio unchanged. On any error the returned string is the unchanged state.
func (p *Portfolio) ApplyWith(o Order, record func(Order) error) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next, err := applyOrder(p.holdings, o)
	if err != nil {
		return serialize(p.holdings), err
	}
	if record != nil {
		if err := record(o); err != nil {
			return serialize(p.holdings), errors.Wrap(err, "record order")
		}
	}
	p.holdings = next

	return serialize(p.holdings), nil
}

// Serialize returns the holdings joined with RecordDelimiter, in insertion order.
func (p *Portfolio) Serialize() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return serialize(p.holdings)
}

// Holdings returns a copy of the current holdings.
func (p *Portfolio) Holdings() []Holding {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cp := make([]Holding, len(p.holdings))
	copy(cp, p.holdings)
	return cp
}

// Holding returns the holding for symbol, if any.
func (p *Portfolio) Holding(symbol string) (Holding, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if i := indexOf(p.holdings, symbol); i >= 0 {
		return p.holdings[i], true
	}
	return Holding{}, false
}

func serialize(holdings []Holding) string {
	records := make([]string, len(holdings))
	for i, h := range holdings {
		records[i] = h.String()
	}
	return strings.Join(records, RecordDelimiter)
}

func indexOf(holdings []Holding, symbol string) int {
	for i, h := range holdings {
		if h.Symbol == symbol {
			return i
		}
	}
	return -1
}

// applyOrder returns a new holdings slice with the order applied; the input is not modified.
func applyOrder(holdings []Holding, o Order) ([]Holding, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	i := indexOf(holdings, o.Symbol)
	next := make([]Holding, len(holdings), len(holdings)+1)
	copy(next, holdings)

	switch o.Side {
	case SideBuy:
		if i < 0 {
			return append(next, Holding{
				Symbol:    o.Symbol,
				Quantity:  o.Quantity,
				AvgCost:   o.Price,
				LastPrice: o.Price,
			}), nil
		}
		cur := holdings[i]
		total := cur.Quantity.Add(o.Quantity)
		cost := cur.AvgCost.Mul(cur.Quantity).Add(o.Price.Mul(o.Quantity))
		next[i] = Holding{
			Symbol:    o.Symbol,
			Quantity:  total,
			AvgCost:   cost.Div(total),
			LastPrice: o.Price,
		}
		return next, nil

	case SideSell:
		if i < 0 {
			return nil, errors.Wrapf(ErrInsufficientHoldings, "sell %s %s: no holding", o.Quantity, o.Symbol)
		}
		cur := holdings[i]
		if o.Quantity.GreaterThan(cur.Quantity) {
			return nil, errors.Wrapf(ErrInsufficientHoldings, "sell %s %s: have %s", o.Quantity, o.Symbol, cur.Quantity)
		}
		left := cur.Quantity.Sub(o.Quantity)
		if left.IsZero() {
			return append(next[:i], next[i+1:]...), nil
		}
		next[i] = Holding{
			Symbol:    o.Symbol,
			Quantity:  left,
			AvgCost:   cur.AvgCost,
			LastPrice: o.Price,
		}
		return next, nil
	}

	return nil, errors.Wrapf(ErrProtocolParse, "unknown side %d", o.Side)
}
