package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/tradeserver/internal/domain"
)

type recordingJournal struct {
	mu            sync.Mutex
	registrations []domain.User
	orders        []string
	fail          error
}

func (j *recordingJournal) RecordRegistration(u domain.User) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.registrations = append(j.registrations, u)
	return nil
}

func (j *recordingJournal) RecordOrder(username string, o domain.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.orders = append(j.orders, username+" "+o.String())
	return nil
}

func TestRegistry_LoginRegistersOnce(t *testing.T) {
	j := &recordingJournal{}
	r := New(WithJournal(j))
	alice := domain.User{Username: "alice", Password: "pw1"}

	created, err := r.Login(alice)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.Login(alice)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Authenticate(alice))
	assert.Len(t, j.registrations, 1)

	p, err := r.PortfolioFor("alice/pw1")
	require.NoError(t, err)
	assert.Equal(t, "", p.Serialize())
}

func TestRegistry_SamePortfolioForSecondLogin(t *testing.T) {
	r := New()
	alice := domain.User{Username: "alice", Password: "pw1"}
	_, err := r.Login(alice)
	require.NoError(t, err)

	first, err := r.PortfolioFor(alice.LoginKey())
	require.NoError(t, err)
	_, err = first.Apply(domain.Order{Side: domain.SideBuy, Symbol: "AAPL", Quantity: decimalInt(10), Price: decimalInt(150)})
	require.NoError(t, err)

	_, err = r.Login(alice)
	require.NoError(t, err)
	second, err := r.PortfolioFor(alice.LoginKey())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "AAPL/10/150/150", second.Serialize())
}

func TestRegistry_WrongPassword(t *testing.T) {
	r := New()
	_, err := r.Login(domain.User{Username: "alice", Password: "pw1"})
	require.NoError(t, err)

	_, err = r.Login(domain.User{Username: "alice", Password: "typo"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, r.Len())
	assert.False(t, r.Authenticate(domain.User{Username: "alice", Password: "typo"}))

	_, err = r.PortfolioFor("alice/typo")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegistry_AutoRegisterDisabled(t *testing.T) {
	r := New(WithAutoRegister(false))
	_, err := r.Login(domain.User{Username: "bob", Password: "pw"})
	assert.ErrorIs(t, err, ErrUnknownUser)
	assert.Equal(t, 0, r.Len())

	require.NoError(t, r.Register(domain.User{Username: "bob", Password: "pw"}))
	created, err := r.Login(domain.User{Username: "bob", Password: "pw"})
	require.NoError(t, err)
	assert.False(t, created)

	assert.ErrorIs(t, r.Register(domain.User{Username: "bob", Password: "other"}), ErrDuplicateUser)
}

func TestRegistry_JournalFailureLeavesRegistryUnchanged(t *testing.T) {
	r := New(WithJournal(&recordingJournal{fail: errors.New("disk full")}))
	_, err := r.Login(domain.User{Username: "alice", Password: "pw1"})
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ConcurrentDistinctRegistrations(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := r.Login(domain.User{Username: fmt.Sprintf("user%d", i), Password: "pw"})
			assert.NoError(t, err)
			assert.True(t, created)
		}(i)
	}
	wg.Wait()

	users, portfolios := r.Snapshot()
	assert.Equal(t, 50, r.Len())
	assert.Len(t, users, 50)
	assert.Len(t, portfolios, 50)

	seen := make(map[string]bool)
	for _, u := range users {
		assert.False(t, seen[u.Username], "duplicate %s", u.Username)
		seen[u.Username] = true
	}
}

func TestRegistry_ConcurrentSameUsername(t *testing.T) {
	j := &recordingJournal{}
	r := New(WithJournal(j))
	alice := domain.User{Username: "alice", Password: "pw1"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.Login(alice)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, r.Len())
	assert.Len(t, j.registrations, 1)
}

func TestRegistry_Load(t *testing.T) {
	r := New()
	p, err := domain.ParsePortfolio("AAPL/1/2/3")
	require.NoError(t, err)

	err = r.Load([]domain.User{{Username: "a", Password: "1"}}, nil)
	assert.Error(t, err)

	require.NoError(t, r.Load(
		[]domain.User{{Username: "a", Password: "1"}, {Username: "b", Password: "2"}},
		[]*domain.Portfolio{p, nil},
	))
	users, portfolios := r.Snapshot()
	assert.Equal(t, "a", users[0].Username)
	assert.Equal(t, "b", users[1].Username)
	assert.Equal(t, "AAPL/1/2/3", portfolios[0].Serialize())
	assert.Equal(t, "", portfolios[1].Serialize())

	err = r.Load([]domain.User{{Username: "a", Password: "x"}}, []*domain.Portfolio{nil})
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestRegistry_LoadFailureLeavesRegistryUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		users []domain.User
	}{
		{
			name:  "duplicate inside the input",
			users: []domain.User{{Username: "b", Password: "2"}, {Username: "c", Password: "3"}, {Username: "b", Password: "4"}},
		},
		{
			name:  "duplicate of an existing account",
			users: []domain.User{{Username: "c", Password: "3"}, {Username: "a", Password: "9"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			require.NoError(t, r.Load([]domain.User{{Username: "a", Password: "1"}}, []*domain.Portfolio{nil}))

			err := r.Load(tt.users, make([]*domain.Portfolio, len(tt.users)))
			assert.ErrorIs(t, err, ErrDuplicateUser)

			assert.Equal(t, 1, r.Len())
			users, _ := r.Snapshot()
			assert.Equal(t, []domain.User{{Username: "a", Password: "1"}}, users)
			_, ok := r.FindUser("c/3")
			assert.False(t, ok)
		})
	}
}

func TestRegistry_Recorder(t *testing.T) {
	assert.Nil(t, New().Recorder("alice"))

	j := &recordingJournal{}
	r := New(WithJournal(j))
	_, err := r.Login(domain.User{Username: "alice", Password: "pw1"})
	require.NoError(t, err)
	p, err := r.PortfolioFor("alice/pw1")
	require.NoError(t, err)

	_, err = p.ApplyWith(domain.Order{Side: domain.SideBuy, Symbol: "AAPL", Quantity: decimalInt(1), Price: decimalInt(1)}, r.Recorder("alice"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice buy/AAPL/1/1"}, j.orders)
}

func TestRegistry_Replay(t *testing.T) {
	r := New()
	alice := domain.User{Username: "alice", Password: "pw1"}
	require.NoError(t, r.ReplayRegistration(alice))
	require.NoError(t, r.ReplayRegistration(alice))
	assert.ErrorIs(t, r.ReplayRegistration(domain.User{Username: "alice", Password: "x"}), ErrDuplicateUser)

	require.NoError(t, r.ReplayOrder("alice", domain.Order{Side: domain.SideBuy, Symbol: "AAPL", Quantity: decimalInt(3), Price: decimalInt(10)}))
	require.NoError(t, r.ReplayOrder("alice", domain.Order{Side: domain.SideSell, Symbol: "AAPL", Quantity: decimalInt(30), Price: decimalInt(10)}))
	assert.ErrorIs(t, r.ReplayOrder("bob", domain.Order{Side: domain.SideBuy, Symbol: "AAPL", Quantity: decimalInt(1), Price: decimalInt(1)}), ErrUnknownUser)

	p, err := r.PortfolioFor("alice/pw1")
	require.NoError(t, err)
	assert.Equal(t, "AAPL/3/10/10", p.Serialize())
}
