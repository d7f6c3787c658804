package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/tradeserver/internal/domain"
	"github.com/vadiminshakov/tradeserver/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// State is a session lifecycle state.
type State int

const (
	StateAwaitingLogin State = iota
	StateAuthenticated
	StateTradingLoop
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingLogin:
		return "awaiting_login"
	case StateAuthenticated:
		return "authenticated"
	case StateTradingLoop:
		return "trading_loop"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// errPeerClosed signals a clean end of stream from the client.
var errPeerClosed = errors.New("peer closed connection")

// Session drives one connection through login and the trading loop.
// It owns conn exclusively.
type Session struct {
	id          string
	conn        net.Conn
	scanner     *bufio.Scanner
	writer      *bufio.Writer
	registry    *registry.Registry
	readTimeout time.Duration
	limiter     *rate.Limiter
	logger      *zap.Logger

	state     State
	login     string
	user      domain.User
	portfolio *domain.Portfolio
}

// SessionConfig holds per-session limits.
type SessionConfig struct {
	// ReadTimeout closes the session when no line arrives in time; 0 disables it.
	ReadTimeout time.Duration
	// OrdersPerSecond limits order submission; 0 disables it.
	OrdersPerSecond float64
	OrdersBurst     int
}

// NewSession wraps conn. A nil logger disables logging.
func NewSession(conn net.Conn, reg *registry.Registry, cfg SessionConfig, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)

	s := &Session{
		id:          id,
		conn:        conn,
		scanner:     sc,
		writer:      bufio.NewWriter(conn),
		registry:    reg,
		readTimeout: cfg.ReadTimeout,
		logger:      logger.With(zap.String("session", id), zap.String("remote", remoteAddr(conn))),
		state:       StateAwaitingLogin,
	}
	if cfg.OrdersPerSecond > 0 {
		burst := cfg.OrdersBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.OrdersPerSecond), burst)
	}
	return s
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state. It is only meaningful from the goroutine running Run
// or after Run returned.
func (s *Session) State() State {
	return s.state
}

// Run executes the session until the peer disconnects, an unrecoverable error occurs
// or ctx is cancelled. A peer disconnect returns nil. The connection is always closed.
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() {
		s.state = StateClosed
		if cerr := s.conn.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
			err = errors.Wrap(cerr, "close connection")
		}
		s.logger.Info("disconnected", zap.String("user", s.user.Username))
	}()

	for s.state != StateClosed {
		if ctx.Err() != nil {
			return nil
		}

		switch s.state {
		case StateAwaitingLogin:
			err = s.awaitLogin()
		case StateAuthenticated:
			err = s.enterTrading()
		case StateTradingLoop:
			err = s.trade()
		}

		if errors.Is(err, errPeerClosed) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	return nil
}

// awaitLogin reads the credentials line and authenticates, registering unknown users.
func (s *Session) awaitLogin() error {
	line, err := s.readLine()
	if err != nil {
		return err
	}

	user, err := domain.ParseLogin(line)
	if err != nil {
		s.reject(CodeParse, err)
		return err
	}

	created, err := s.registry.Login(user)
	switch {
	case errors.Is(err, registry.ErrInvalidCredentials), errors.Is(err, registry.ErrUnknownUser):
		s.reject(CodeAuth, err)
		return err
	case err != nil:
		s.reject(CodeInternal, errors.New("login failed"))
		return errors.Wrap(err, "login")
	}

	s.login = user.LoginKey()
	s.user = user
	s.logger.Info("authenticated", zap.String("user", user.Username), zap.Bool("registered", created))
	if err := s.writeLine(AuthenticatedReply); err != nil {
		return err
	}

	s.state = StateAuthenticated
	return nil
}

// enterTrading resolves the portfolio and sends its current state.
func (s *Session) enterTrading() error {
	p, err := s.registry.PortfolioFor(s.login)
	if err != nil {
		s.reject(CodeInternal, errors.New("portfolio unavailable"))
		return errors.Wrap(err, "resolve portfolio")
	}
	s.portfolio = p

	if err := s.writeLine(p.Serialize()); err != nil {
		return err
	}

	s.state = StateTradingLoop
	return nil
}

// trade handles a single order line.
func (s *Session) trade() error {
	line, err := s.readLine()
	if err != nil {
		return err
	}

	order, err := domain.ParseOrder(line)
	if err != nil {
		s.reject(CodeParse, err)
		return err
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Debug("order rate limited", zap.String("order", order.String()))
		return s.writeLines(ErrorLine(CodeRateLimit, "too many orders"), s.portfolio.Serialize())
	}

	state, err := s.portfolio.ApplyWith(order, s.registry.Recorder(s.user.Username))
	switch {
	case errors.Is(err, domain.ErrInsufficientHoldings):
		s.logger.Info("order rejected", zap.String("order", order.String()), zap.Error(err))
		return s.writeLines(ErrorLine(CodeInsufficientHoldings, err.Error()), state)
	case err != nil:
		s.reject(CodeInternal, errors.New("order could not be recorded"))
		return errors.Wrap(err, "apply order")
	}

	s.logger.Debug("order applied", zap.String("order", order.String()))
	return s.writeLine(state)
}

// readLine blocks for the next line. A clean end of stream yields errPeerClosed,
// an oversized line is rejected as a parse error.
func (s *Session) readLine() (string, error) {
	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return "", errors.Wrap(err, "set read deadline")
		}
	}

	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				s.reject(CodeParse, errors.Errorf("line exceeds %d bytes", maxLineSize))
				return "", errors.Wrapf(domain.ErrProtocolParse, "read in state %s: %v", s.state, err)
			}
			return "", errors.Wrapf(err, "read in state %s", s.state)
		}
		return "", errPeerClosed
	}

	return strings.TrimRight(s.scanner.Text(), "\r"), nil
}

func (s *Session) writeLine(line string) error {
	return s.writeLines(line)
}

func (s *Session) writeLines(lines ...string) error {
	if s.readTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return errors.Wrap(err, "set write deadline")
		}
	}
	for _, line := range lines {
		if _, err := s.writer.WriteString(line + "\n"); err != nil {
			return errors.Wrap(err, "write")
		}
	}
	return errors.Wrap(s.writer.Flush(), "flush")
}

// reject sends a best-effort error line before the session closes.
func (s *Session) reject(code Code, cause error) {
	if err := s.writeLine(ErrorLine(code, cause.Error())); err != nil {
		s.logger.Debug("failed to send error line", zap.Error(err))
	}
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
