// Package registry holds the shared in-memory store of accounts and their portfolios.
package registry

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/tradeserver/internal/domain"
	"go.uber.org/zap"
)

var (
	// ErrInvalidCredentials is returned when a known username is presented with the wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnknownUser is returned by Login for unknown usernames when auto-registration is off.
	ErrUnknownUser = errors.New("unknown user")
	// ErrDuplicateUser is returned when registering a username that already exists.
	ErrDuplicateUser = errors.New("user already exists")
)

// Journal durably records registry mutations before they become visible.
type Journal interface {
	RecordRegistration(user domain.User) error
	RecordOrder(username string, order domain.Order) error
}

type account struct {
	user      domain.User
	portfolio *domain.Portfolio
}

// Registry maps usernames to accounts. Membership changes are serialized by mu;
// portfolio mutations are guarded by each portfolio and never take mu.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*account
	// names keeps registration order for snapshots.
	names []string

	autoRegister bool
	journal      Journal
	logger       *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithAutoRegister controls whether Login enrolls unknown usernames.
func WithAutoRegister(enabled bool) Option {
	return func(r *Registry) {
		r.autoRegister = enabled
	}
}

// WithJournal sets the journal that records registrations and orders.
func WithJournal(j Journal) Option {
	return func(r *Registry) {
		r.journal = j
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty registry. Auto-registration is on by default.
func New(opts ...Option) *Registry {
	r := &Registry{
		accounts:     make(map[string]*account),
		autoRegister: true,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load seeds the registry with positionally aligned users and portfolios.
// Nothing is journaled. On error the registry is left unchanged.
func (r *Registry) Load(users []domain.User, portfolios []*domain.Portfolio) error {
	if len(users) != len(portfolios) {
		return errors.Errorf("registry load: %d users but %d portfolios", len(users), len(portfolios))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(users))
	for _, u := range users {
		_, exists := r.accounts[u.Username]
		if _, dup := seen[u.Username]; exists || dup {
			return errors.Wrapf(ErrDuplicateUser, "registry load: %s", u.Username)
		}
		seen[u.Username] = struct{}{}
	}

	for i, u := range users {
		p := portfolios[i]
		if p == nil {
			p = domain.NewEmptyPortfolio()
		}
		r.insert(u, p)
	}

	return nil
}

// Authenticate reports whether an account with identical username and password exists.
func (r *Registry) Authenticate(candidate domain.User) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[candidate.Username]
	return ok && acc.user.Equal(candidate)
}

// Register creates an account with an empty portfolio.
func (r *Registry) Register(user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[user.Username]; ok {
		return errors.Wrap(ErrDuplicateUser, user.Username)
	}
	return r.register(user)
}

// Login authenticates user, registering it first when the username is unknown and
// auto-registration is enabled. The check and the registration form one critical section,
// so concurrent logins with the same username create at most one account.
func (r *Registry) Login(user domain.User) (created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acc, ok := r.accounts[user.Username]; ok {
		if !acc.user.Equal(user) {
			return false, errors.Wrap(ErrInvalidCredentials, user.Username)
		}
		return false, nil
	}
	if !r.autoRegister {
		return false, errors.Wrap(ErrUnknownUser, user.Username)
	}
	if err := r.register(user); err != nil {
		return false, err
	}

	return true, nil
}

// FindUser resolves a "username/password" login key to its account user.
func (r *Registry) FindUser(loginKey string) (domain.User, bool) {
	candidate, err := domain.ParseLogin(loginKey)
	if err != nil {
		return domain.User{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[candidate.Username]
	if !ok || !acc.user.Equal(candidate) {
		return domain.User{}, false
	}
	return acc.user, true
}

// PortfolioFor returns the portfolio of the account identified by loginKey.
func (r *Registry) PortfolioFor(loginKey string) (*domain.Portfolio, error) {
	user, ok := r.FindUser(loginKey)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidCredentials, "no account for login %q", loginKey)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.accounts[user.Username].portfolio, nil
}

// Recorder returns the hook passed to Portfolio.ApplyWith for orders of username.
// It returns nil when no journal is configured.
func (r *Registry) Recorder(username string) func(domain.Order) error {
	if r.journal == nil {
		return nil
	}
	return func(o domain.Order) error {
		return r.journal.RecordOrder(username, o)
	}
}

// Len returns the number of accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.accounts)
}

// Snapshot returns users and their portfolios in registration order,
// positionally aligned as the flat-file databases expect.
func (r *Registry) Snapshot() ([]domain.User, []*domain.Portfolio) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]domain.User, 0, len(r.names))
	portfolios := make([]*domain.Portfolio, 0, len(r.names))
	for _, name := range r.names {
		acc := r.accounts[name]
		users = append(users, acc.user)
		portfolios = append(portfolios, acc.portfolio)
	}
	return users, portfolios
}

// register journals and inserts user. Callers hold mu.
func (r *Registry) register(user domain.User) error {
	if r.journal != nil {
		if err := r.journal.RecordRegistration(user); err != nil {
			return errors.Wrap(err, "record registration")
		}
	}
	r.insert(user, domain.NewEmptyPortfolio())
	r.logger.Info("registered user", zap.String("user", user.Username), zap.Int("accounts", len(r.accounts)))
	return nil
}

func (r *Registry) insert(user domain.User, p *domain.Portfolio) {
	r.accounts[user.Username] = &account{user: user, portfolio: p}
	r.names = append(r.names, user.Username)
}
