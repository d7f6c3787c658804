package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/tradeserver/internal/registry"
)

const ioTimeout = 5 * time.Second

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	t.Helper()
	c := &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func dial(t *testing.T, addr net.Addr) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), ioTimeout)
	require.NoError(t, err)
	return newTestClient(t, conn)
}

func (c *testClient) send(line string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(ioTimeout)))
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *testClient) recv() string {
	c.t.Helper()
	line, err := c.read()
	require.NoError(c.t, err)
	return line
}

func (c *testClient) read() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(ioTimeout)); err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// login sends credentials and returns the portfolio line that follows "Authenticated!".
func (c *testClient) login(credentials string) string {
	c.t.Helper()
	c.send(credentials)
	require.Equal(c.t, AuthenticatedReply, c.recv())
	return c.recv()
}

// startServer runs a dispatcher on a loopback port until the test ends.
func startServer(t *testing.T, reg *registry.Registry, cfg SessionConfig) (*Server, context.CancelFunc) {
	t.Helper()
	srv := NewServer("127.0.0.1:0", reg, cfg, nil)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(ioTimeout):
			t.Error("server did not stop")
		}
	})
	return srv, cancel
}
