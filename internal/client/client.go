// Package client speaks the line protocol of the trading server.
package client

import (
	"bufio"
	"context"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/tradeserver/internal/domain"
	"github.com/vadiminshakov/tradeserver/internal/server"
	"github.com/vadiminshakov/tradeserver/pkg/retrier"
)

// ServerError is an ERROR line received from the server.
type ServerError struct {
	Code    server.Code
	Message string
}

func (e *ServerError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Client is a single connection to the server. It is not safe for concurrent use.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial connects to addr. timeout bounds each request; 0 means no limit.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn), timeout: timeout}, nil
}

// DialRetry is Dial that keeps retrying while the server refuses connections,
// e.g. when the client starts before the server.
func DialRetry(ctx context.Context, addr string, timeout time.Duration, r *retrier.Retrier) (*Client, error) {
	return retrier.DoWithData(ctx, r, func(ctx context.Context) (*Client, error) {
		return Dial(ctx, addr, timeout)
	})
}

// Refused reports whether err is a connection that the remote side actively refused.
func Refused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Login sends credentials and returns the portfolio the server reports.
func (c *Client) Login(user domain.User) (*domain.Portfolio, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := c.send(user.LoginKey()); err != nil {
		return nil, err
	}

	line, err := c.recv()
	if err != nil {
		return nil, err
	}
	if line != server.AuthenticatedReply {
		return nil, unexpected(line)
	}

	return c.readPortfolio()
}

// Submit sends an order and returns the portfolio state that follows. A rejected order
// returns both the unchanged portfolio and a *ServerError.
func (c *Client) Submit(order domain.Order) (*domain.Portfolio, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if err := c.send(order.String()); err != nil {
		return nil, err
	}

	line, err := c.recv()
	if err != nil {
		return nil, err
	}
	if code, msg, ok := server.ParseErrorLine(line); ok {
		serr := &ServerError{Code: code, Message: msg}
		if !code.Recoverable() {
			return nil, serr
		}
		p, err := c.readPortfolio()
		if err != nil {
			return nil, err
		}
		return p, serr
	}

	return parsePortfolio(line)
}

// Close closes the connection; the server treats it as a normal disconnect.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readPortfolio() (*domain.Portfolio, error) {
	line, err := c.recv()
	if err != nil {
		return nil, err
	}
	if _, _, ok := server.ParseErrorLine(line); ok {
		return nil, unexpected(line)
	}
	return parsePortfolio(line)
}

func (c *Client) send(line string) error {
	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return errors.Wrap(err, "set write deadline")
		}
	}
	_, err := c.conn.Write([]byte(line + "\n"))
	return errors.Wrap(err, "send")
}

func (c *Client) recv() (string, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return "", errors.Wrap(err, "set read deadline")
		}
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", errors.Wrap(err, "receive")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parsePortfolio(line string) (*domain.Portfolio, error) {
	p, err := domain.ParsePortfolio(line)
	return p, errors.Wrap(err, "decode portfolio")
}

func unexpected(line string) error {
	if code, msg, ok := server.ParseErrorLine(line); ok {
		return &ServerError{Code: code, Message: msg}
	}
	return errors.Errorf("unexpected reply %q", line)
}
