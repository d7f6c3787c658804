// Package journal records registry mutations in a write-ahead log so that
// accounts and orders survive a crash between flat-file saves.
package journal

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/tradeserver/internal/domain"
)

const (
	DefaultDir   = "./Server Database/journal"
	segmentLimit = 1000
	maxSegments  = 100

	registerKeyPrefix = "register_"
	orderKeyPrefix    = "order_"
)

// Kind distinguishes journal events.
type Kind string

const (
	KindRegister Kind = "register"
	KindOrder    Kind = "order"
)

// Event is one journaled registry mutation.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Kind      Kind      `json:"kind"`
	Username  string    `json:"username"`
	Password  string    `json:"password,omitempty"`
	// Order is the wire form of the order, e.g. "buy/AAPL/10/150".
	Order string `json:"order,omitempty"`
}

// EventRecord bundles an event with its log index.
type EventRecord struct {
	Index uint64 `json:"index"`
	Event Event  `json:"event"`
}

// Replayer receives journaled events in log order.
type Replayer interface {
	ReplayRegistration(user domain.User) error
	ReplayOrder(username string, order domain.Order) error
}

// eventLog is the part of *gowal.Wal the store uses.
type eventLog interface {
	Write(index uint64, key string, value []byte) error
	Get(index uint64) (string, []byte, error)
	CurrentIndex() uint64
	Close() error
}

// WALStore persists registry events in a WAL.
type WALStore struct {
	wal eventLog
	mu  sync.RWMutex
	now func() time.Time
}

// NewWALStore initializes a WAL-backed journal under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "journal_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init journal WAL")
	}

	return &WALStore{wal: wal, now: time.Now}, nil
}

// RecordRegistration journals a new account.
func (s *WALStore) RecordRegistration(user domain.User) error {
	return s.write(registerKeyPrefix+user.Username, Event{
		Kind:     KindRegister,
		Username: user.Username,
		Password: user.Password,
	})
}

// RecordOrder journals an order accepted for username.
func (s *WALStore) RecordOrder(username string, order domain.Order) error {
	return s.write(orderKeyPrefix+username, Event{
		Kind:     KindOrder,
		Username: username,
		Order:    order.String(),
	})
}

func (s *WALStore) write(key string, event Event) error {
	if s == nil || s.wal == nil {
		return errors.New("journal is not initialized")
	}
	event.Timestamp = s.now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal journal event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Write(s.wal.CurrentIndex()+1, key, payload)
}

// EventsAfter returns all events written after the provided WAL index.
func (s *WALStore) EventsAfter(index uint64) ([]EventRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]EventRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "read journal index %d", idx)
		}
		// an empty key is an index gowal no longer holds, e.g. a rotated segment
		if key == "" || !(strings.HasPrefix(key, registerKeyPrefix) || strings.HasPrefix(key, orderKeyPrefix)) {
			continue
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, errors.Wrapf(err, "decode journal event %d", idx)
		}
		records = append(records, EventRecord{Index: idx, Event: event})
	}

	return records, nil
}

// Replay feeds every event after index to r and returns the last index seen.
func (s *WALStore) Replay(index uint64, r Replayer) (uint64, error) {
	records, err := s.EventsAfter(index)
	if err != nil {
		return index, err
	}

	last := index
	for _, rec := range records {
		switch rec.Event.Kind {
		case KindRegister:
			err = r.ReplayRegistration(domain.User{Username: rec.Event.Username, Password: rec.Event.Password})
		case KindOrder:
			var order domain.Order
			order, err = domain.ParseOrder(rec.Event.Order)
			if err == nil {
				err = r.ReplayOrder(rec.Event.Username, order)
			}
		default:
			err = errors.Errorf("unknown event kind %q", rec.Event.Kind)
		}
		if err != nil {
			return last, errors.Wrapf(err, "replay journal index %d", rec.Index)
		}
		last = rec.Index
	}

	return last, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
