package registry

import (
	"github.com/pkg/errors"
	"github.com/vadiminshakov/tradeserver/internal/domain"
	"go.uber.org/zap"
)

// ReplayRegistration re-creates an account from the journal without journaling it again.
// An existing account with the same credentials is left untouched.
func (r *Registry) ReplayRegistration(user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acc, ok := r.accounts[user.Username]; ok {
		if !acc.user.Equal(user) {
			return errors.Wrapf(ErrDuplicateUser, "replay registration %s", user.Username)
		}
		return nil
	}
	r.insert(user, domain.NewEmptyPortfolio())
	return nil
}

// ReplayOrder re-applies a journaled order. Orders the portfolio rejects are logged and skipped,
// they were rejected when first submitted as well.
func (r *Registry) ReplayOrder(username string, order domain.Order) error {
	r.mu.RLock()
	acc, ok := r.accounts[username]
	r.mu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrUnknownUser, "replay order %s", order)
	}

	if _, err := acc.portfolio.Apply(order); err != nil {
		if errors.Is(err, domain.ErrInsufficientHoldings) {
			r.logger.Warn("skipping journaled order", zap.String("user", username), zap.Error(err))
			return nil
		}
		return errors.Wrapf(err, "replay order %s for %s", order, username)
	}
	return nil
}
