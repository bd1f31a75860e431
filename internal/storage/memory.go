package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"livewatch/internal/stream"
)

// state is the in-memory model shared by the memory and file drivers.
// Callers hold the owning store's lock.
type state struct {
	accounts map[string]stream.Account
	order    []string

	events      []LiveEvent // oldest first
	nextEventID int64

	dedup map[string]int64 // unix milli
}

func newState() *state {
	return &state{
		accounts: map[string]stream.Account{},
		dedup:    map[string]int64{},
	}
}

func (st *state) list() []stream.Account {
	out := make([]stream.Account, 0, len(st.order))
	for _, id := range st.order {
		out = append(out, st.accounts[id].Clone())
	}
	return out
}

func (st *state) get(id string) (stream.Account, error) {
	a, ok := st.accounts[id]
	if !ok {
		return stream.Account{}, ErrNotFound
	}
	return a.Clone(), nil
}

func (st *state) checkCreate(a stream.Account) error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("account id is required")
	}
	if _, ok := st.accounts[a.ID]; ok {
		return ErrDuplicate
	}
	for _, other := range st.accounts {
		if other.Platform == a.Platform && strings.EqualFold(other.Username, a.Username) {
			return ErrDuplicate
		}
	}
	return nil
}

// put inserts or replaces an account, keeping creation order.
func (st *state) put(a stream.Account) {
	if _, ok := st.accounts[a.ID]; !ok {
		st.order = append(st.order, a.ID)
	}
	st.accounts[a.ID] = a.Clone()
}

func (st *state) update(id string, p stream.Patch) (stream.Account, error) {
	a, ok := st.accounts[id]
	if !ok {
		return stream.Account{}, ErrNotFound
	}
	p.Apply(&a)
	st.accounts[id] = a
	return a.Clone(), nil
}

func (st *state) remove(id string) bool {
	if _, ok := st.accounts[id]; !ok {
		return false
	}
	delete(st.accounts, id)
	for i, v := range st.order {
		if v == id {
			st.order = append(st.order[:i], st.order[i+1:]...)
			break
		}
	}
	return true
}

func (st *state) appendEvent(e LiveEvent) LiveEvent {
	if e.ID <= 0 {
		st.nextEventID++
		e.ID = st.nextEventID
	} else if e.ID > st.nextEventID {
		st.nextEventID = e.ID
	}
	st.events = append(st.events, e)
	return e
}

func (st *state) recent(limit int) []LiveEvent {
	n := len(st.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]LiveEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, st.events[i])
	}
	return out
}

func (st *state) prune(before time.Time) int {
	kept := st.events[:0]
	for _, e := range st.events {
		if !e.At.Before(before) {
			kept = append(kept, e)
		}
	}
	removed := len(st.events) - len(kept)
	st.events = kept
	return removed
}

func (st *state) pruneDedup(now time.Time) {
	ms := now.UnixMilli()
	for k, v := range st.dedup {
		if v < ms {
			delete(st.dedup, k)
		}
	}
}

// memoryStore keeps everything in process memory.
type memoryStore struct {
	mu     sync.Mutex
	st     *state
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{st: newState()}
}

func (s *memoryStore) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (s *memoryStore) ListAccounts(ctx context.Context) ([]stream.Account, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.st.list(), nil
}

func (s *memoryStore) GetAccount(ctx context.Context, id string) (stream.Account, error) {
	if err := s.lock(); err != nil {
		return stream.Account{}, err
	}
	defer s.mu.Unlock()
	return s.st.get(id)
}

func (s *memoryStore) CreateAccount(ctx context.Context, a stream.Account) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if err := s.st.checkCreate(a); err != nil {
		return err
	}
	s.st.put(a)
	return nil
}

func (s *memoryStore) UpdateAccount(ctx context.Context, id string, p stream.Patch) (stream.Account, error) {
	if err := s.lock(); err != nil {
		return stream.Account{}, err
	}
	defer s.mu.Unlock()
	return s.st.update(id, p)
}

func (s *memoryStore) RemoveAccount(ctx context.Context, id string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if !s.st.remove(id) {
		return ErrNotFound
	}
	return nil
}

func (s *memoryStore) AppendEvent(ctx context.Context, e LiveEvent) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.st.appendEvent(e)
	return nil
}

func (s *memoryStore) RecentEvents(ctx context.Context, limit int) ([]LiveEvent, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.st.recent(limit), nil
}

func (s *memoryStore) PruneEvents(ctx context.Context, before time.Time) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return s.st.prune(before), nil
}

func (s *memoryStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.st.dedup[key] = until.UnixMilli()
	return nil
}

func (s *memoryStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if err := s.lock(); err != nil {
		return time.Time{}, false, err
	}
	defer s.mu.Unlock()
	ms, ok := s.st.dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *memoryStore) Compact(ctx context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.st.pruneDedup(time.Now())
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
