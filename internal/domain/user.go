// Package domain defines the accounts, holdings and orders shared by the trading server.
package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// FieldDelimiter separates fields of a login line, an order line and a holding.
const FieldDelimiter = "/"

// User is a credential pair.
type User struct {
	Username string
	Password string
}

// ParseLogin parses a "<username>/<password>" line.
func ParseLogin(line string) (User, error) {
	parts := strings.Split(strings.TrimSpace(line), FieldDelimiter)
	if len(parts) != 2 {
		return User{}, errors.Wrapf(ErrProtocolParse, "login %q: want 2 fields, got %d", line, len(parts))
	}
	u := User{Username: parts[0], Password: parts[1]}
	if err := u.Validate(); err != nil {
		return User{}, err
	}

	return u, nil
}

// Validate rejects credentials that cannot round-trip through the login line or the user database.
func (u User) Validate() error {
	if u.Username == "" || u.Password == "" {
		return errors.Wrap(ErrProtocolParse, "username and password must not be empty")
	}
	if !isToken(u.Username) || !isToken(u.Password) {
		return errors.Wrapf(ErrProtocolParse, "login %q contains reserved characters", u.LoginKey())
	}

	return nil
}

// Equal reports whether both username and password match exactly.
func (u User) Equal(other User) bool {
	return u.Username == other.Username && u.Password == other.Password
}

// LoginKey returns the composite "username/password" string.
func (u User) LoginKey() string {
	return u.Username + FieldDelimiter + u.Password
}

// isToken reports whether s is free of delimiters and whitespace.
func isToken(s string) bool {
	return !strings.ContainsAny(s, FieldDelimiter+RecordDelimiter+" \t\r\n")
}
