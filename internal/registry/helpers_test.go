package registry

import "github.com/shopspring/decimal"

func decimalInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
