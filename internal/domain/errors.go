package domain

import "github.com/pkg/errors"

var (
	// ErrProtocolParse marks a malformed login, order or holding line.
	ErrProtocolParse = errors.New("protocol parse error")
	// ErrInsufficientHoldings is returned when a sell exceeds the held quantity.
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)
