package server

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/tradeserver/internal/domain"
	"github.com/vadiminshakov/tradeserver/internal/registry"
)

func runPipeSession(t *testing.T, reg *registry.Registry, cfg SessionConfig) (*testClient, *Session, <-chan error) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	sess := NewSession(serverConn, reg, cfg, nil)
	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	return newTestClient(t, clientConn), sess, done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(ioTimeout):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestSession_LoginOnEmptyRegistry(t *testing.T) {
	reg := registry.New()
	c, sess, done := runPipeSession(t, reg, SessionConfig{})

	assert.Equal(t, "", c.login("alice/pw1"))
	assert.Equal(t, 1, reg.Len())
	assert.True(t, reg.Authenticate(domain.User{Username: "alice", Password: "pw1"}))

	require.NoError(t, c.conn.Close())
	assert.NoError(t, waitRun(t, done))
	assert.Equal(t, StateClosed, sess.State())
}

func TestSession_TradeAndOversell(t *testing.T) {
	reg := registry.New()
	c, _, done := runPipeSession(t, reg, SessionConfig{})
	c.login("alice/pw1")

	c.send("buy/AAPL/10/150")
	assert.Equal(t, "AAPL/10/150/150", c.recv())

	c.send("sell/AAPL/20/150")
	code, _, ok := ParseErrorLine(c.recv())
	require.True(t, ok)
	assert.Equal(t, CodeInsufficientHoldings, code)
	assert.Equal(t, "AAPL/10/150/150", c.recv())

	// session is still usable
	c.send("sell/AAPL/4/160")
	assert.Equal(t, "AAPL/6/150/160", c.recv())

	require.NoError(t, c.conn.Close())
	assert.NoError(t, waitRun(t, done))
}

func TestSession_MalformedOrderClosesSession(t *testing.T) {
	reg := registry.New()
	c, _, done := runPipeSession(t, reg, SessionConfig{})
	c.login("alice/pw1")

	c.send("buy/AAPL/10")
	code, _, ok := ParseErrorLine(c.recv())
	require.True(t, ok)
	assert.Equal(t, CodeParse, code)

	err := waitRun(t, done)
	assert.ErrorIs(t, err, domain.ErrProtocolParse)
	_, err = c.read()
	assert.Error(t, err)
}

func TestSession_OversizedLineIsRejected(t *testing.T) {
	tests := []struct {
		name     string
		loggedIn bool
	}{
		{name: "login line", loggedIn: false},
		{name: "order line", loggedIn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registry.New()
			c, _, done := runPipeSession(t, reg, SessionConfig{})
			if tt.loggedIn {
				c.login("alice/pw1")
			}

			// the session stops reading mid-line, so the write only returns once the pipe closes
			go func() {
				_, _ = c.conn.Write([]byte(strings.Repeat("x", maxLineSize+1) + "\n"))
			}()

			code, msg, ok := ParseErrorLine(c.recv())
			require.True(t, ok)
			assert.Equal(t, CodeParse, code)
			assert.Contains(t, msg, "exceeds")
			assert.ErrorIs(t, waitRun(t, done), domain.ErrProtocolParse)
		})
	}
}

func TestSession_MalformedLogin(t *testing.T) {
	reg := registry.New()
	c, _, done := runPipeSession(t, reg, SessionConfig{})

	c.send("alice")
	code, _, ok := ParseErrorLine(c.recv())
	require.True(t, ok)
	assert.Equal(t, CodeParse, code)
	assert.ErrorIs(t, waitRun(t, done), domain.ErrProtocolParse)
	assert.Equal(t, 0, reg.Len())
}

func TestSession_WrongPassword(t *testing.T) {
	reg := registry.New()
	_, err := reg.Login(domain.User{Username: "alice", Password: "pw1"})
	require.NoError(t, err)

	c, _, done := runPipeSession(t, reg, SessionConfig{})
	c.send("alice/typo")
	code, _, ok := ParseErrorLine(c.recv())
	require.True(t, ok)
	assert.Equal(t, CodeAuth, code)
	assert.ErrorIs(t, waitRun(t, done), registry.ErrInvalidCredentials)
	assert.Equal(t, 1, reg.Len())
}

func TestSession_AutoRegisterDisabled(t *testing.T) {
	reg := registry.New(registry.WithAutoRegister(false))
	c, _, done := runPipeSession(t, reg, SessionConfig{})

	c.send("bob/pw")
	code, _, ok := ParseErrorLine(c.recv())
	require.True(t, ok)
	assert.Equal(t, CodeAuth, code)
	assert.ErrorIs(t, waitRun(t, done), registry.ErrUnknownUser)
}

func TestSession_PeerClosesBeforeLogin(t *testing.T) {
	c, sess, done := runPipeSession(t, registry.New(), SessionConfig{})
	require.NoError(t, c.conn.Close())
	assert.NoError(t, waitRun(t, done))
	assert.Equal(t, StateClosed, sess.State())
}

func TestSession_ReadTimeout(t *testing.T) {
	c, _, done := runPipeSession(t, registry.New(), SessionConfig{ReadTimeout: 50 * time.Millisecond})
	c.login("alice/pw1")

	err := waitRun(t, done)
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())

	_, err = c.read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSession_RateLimit(t *testing.T) {
	c, _, done := runPipeSession(t, registry.New(), SessionConfig{OrdersPerSecond: 0.001, OrdersBurst: 1})
	c.login("alice/pw1")

	c.send("buy/AAPL/1/10")
	assert.Equal(t, "AAPL/1/10/10", c.recv())

	c.send("buy/AAPL/1/10")
	code, _, ok := ParseErrorLine(c.recv())
	require.True(t, ok)
	assert.Equal(t, CodeRateLimit, code)
	assert.True(t, code.Recoverable())
	assert.Equal(t, "AAPL/1/10/10", c.recv())

	require.NoError(t, c.conn.Close())
	assert.NoError(t, waitRun(t, done))
}

func TestSession_SplitCRLFLine(t *testing.T) {
	c, _, done := runPipeSession(t, registry.New(), SessionConfig{})
	c.login("alice/pw1")

	_, err := c.conn.Write([]byte("buy/AAPL/2/5"))
	require.NoError(t, err)
	_, err = c.conn.Write([]byte("\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "AAPL/2/5/5", c.recv())

	require.NoError(t, c.conn.Close())
	assert.NoError(t, waitRun(t, done))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_login", StateAwaitingLogin.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "trading_loop", StateTradingLoop.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestErrorLine(t *testing.T) {
	line := ErrorLine(CodeParse, "order \"x\":\n want 4 fields")
	assert.Equal(t, "ERROR PARSE order \"x\": want 4 fields", line)

	code, msg, ok := ParseErrorLine(line)
	require.True(t, ok)
	assert.Equal(t, CodeParse, code)
	assert.Equal(t, "order \"x\": want 4 fields", msg)
	assert.False(t, code.Recoverable())

	_, _, ok = ParseErrorLine("AAPL/1/1/1")
	assert.False(t, ok)
}
