package server

import (
	"fmt"
	"strings"
)

// AuthenticatedReply is sent once the login line has been accepted.
const AuthenticatedReply = "Authenticated!"

// maxLineSize bounds a single protocol line.
const maxLineSize = 64 * 1024

// Code classifies an ERROR line.
type Code string

const (
	CodeParse                Code = "PARSE"
	CodeInsufficientHoldings Code = "INSUFFICIENT_HOLDINGS"
	CodeAuth                 Code = "AUTH"
	CodeRateLimit            Code = "RATE_LIMIT"
	CodeInternal             Code = "INTERNAL"
)

const errorPrefix = "ERROR "

// ErrorLine formats an error reply, e.g. "ERROR INSUFFICIENT_HOLDINGS sell 20 AAPL: have 10".
func ErrorLine(code Code, msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	return fmt.Sprintf("%s%s %s", errorPrefix, code, msg)
}

// ParseErrorLine reports whether line is an error reply and splits it.
func ParseErrorLine(line string) (code Code, msg string, ok bool) {
	if !strings.HasPrefix(line, errorPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(line, errorPrefix)
	c, m, _ := strings.Cut(rest, " ")
	return Code(c), m, true
}

// Recoverable reports whether the session continues after an error with this code.
func (c Code) Recoverable() bool {
	return c == CodeInsufficientHoldings || c == CodeRateLimit
}
