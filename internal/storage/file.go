package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"livewatch/internal/stream"
	"livewatch/pkg/logx"
)

const fileCompactEvery = 500

// fileStore keeps the state in memory and persists it as plain files. One
// process owns the files at a time (see lockFile).
//
// Files:
//   - <prefix>.snapshot.json (accounts + dedup, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only account/dedup journal)
//   - <prefix>.events.jsonl  (append-only live-event history)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	st *state

	snapshotPath string
	eventsPath   string
	journal      *os.File
	events       *os.File

	writes int
}

type snapshot struct {
	Accounts []stream.Account `json:"accounts"`
	Dedup    map[string]int64 `json:"dedup,omitempty"`
}

type journalRecord struct {
	Op      string          `json:"op"`
	Account *stream.Account `json:"account,omitempty"`
	ID      string          `json:"id,omitempty"`
	Key     string          `json:"key,omitempty"`
	Until   int64           `json:"until,omitempty"`
}

const (
	opPut    = "put"
	opRemove = "remove"
	opDedup  = "dedup"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		st:           newState(),
		snapshotPath: prefix + ".snapshot.json",
		eventsPath:   prefix + ".events.jsonl",
	}
	journalPath := prefix + ".journal.jsonl"

	// The state lives in memory and compaction rewrites it from there, so a
	// second writer on the same files would lose updates. The lock is held
	// on the journal descriptor until Close.
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(jf); err != nil {
		_ = jf.Close()
		return nil, fmt.Errorf("file store %s: %w", prefix, err)
	}
	fail := func(err error) (Store, error) {
		_ = jf.Close()
		return nil, err
	}

	if err := loadSnapshot(s.snapshotPath, s.st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fail(err)
	}
	if err := replayJournal(journalPath, s.st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fail(err)
	}
	if err := loadEvents(s.eventsPath, s.st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fail(err)
	}
	s.st.pruneDedup(time.Now())

	ef, err := os.OpenFile(s.eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fail(err)
	}
	s.journal = jf
	s.events = ef
	log.Debug("file store opened", logx.String("path", prefix), logx.Int("accounts", len(s.st.order)))
	return s, nil
}

func (s *fileStore) lock() error {
	s.mu.Lock()
	if s.journal == nil {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err1 := s.compactLocked()
	err2 := s.journal.Close()
	err3 := s.events.Close()
	s.journal, s.events = nil, nil
	return errors.Join(err1, err2, err3)
}

func (s *fileStore) ListAccounts(ctx context.Context) ([]stream.Account, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.st.list(), nil
}

func (s *fileStore) GetAccount(ctx context.Context, id string) (stream.Account, error) {
	if err := s.lock(); err != nil {
		return stream.Account{}, err
	}
	defer s.mu.Unlock()
	return s.st.get(id)
}

func (s *fileStore) CreateAccount(ctx context.Context, a stream.Account) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if err := s.st.checkCreate(a); err != nil {
		return err
	}
	if err := s.appendLocked(journalRecord{Op: opPut, Account: &a}); err != nil {
		return err
	}
	s.st.put(a)
	return nil
}

func (s *fileStore) UpdateAccount(ctx context.Context, id string, p stream.Patch) (stream.Account, error) {
	if err := s.lock(); err != nil {
		return stream.Account{}, err
	}
	defer s.mu.Unlock()
	a, err := s.st.get(id)
	if err != nil {
		return stream.Account{}, err
	}
	p.Apply(&a)
	if err := s.appendLocked(journalRecord{Op: opPut, Account: &a}); err != nil {
		return stream.Account{}, err
	}
	s.st.put(a)
	return a.Clone(), nil
}

func (s *fileStore) RemoveAccount(ctx context.Context, id string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.st.accounts[id]; !ok {
		return ErrNotFound
	}
	if err := s.appendLocked(journalRecord{Op: opRemove, ID: id}); err != nil {
		return err
	}
	s.st.remove(id)
	return nil
}

func (s *fileStore) AppendEvent(ctx context.Context, e LiveEvent) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	e = s.st.appendEvent(e)
	return json.NewEncoder(s.events).Encode(e)
}

func (s *fileStore) RecentEvents(ctx context.Context, limit int) ([]LiveEvent, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.st.recent(limit), nil
}

// PruneEvents drops old history and rewrites the events file.
func (s *fileStore) PruneEvents(ctx context.Context, before time.Time) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	n := s.st.prune(before)
	if n == 0 {
		return 0, nil
	}
	tmp := s.eventsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return n, err
	}
	enc := json.NewEncoder(f)
	for _, e := range s.st.events {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return n, err
		}
	}
	if err := f.Close(); err != nil {
		return n, err
	}
	_ = s.events.Close()
	if err := os.Rename(tmp, s.eventsPath); err != nil {
		return n, err
	}
	ef, err := os.OpenFile(s.eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return n, err
	}
	s.events = ef
	return n, nil
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opDedup, Key: key, Until: ms}); err != nil {
		return err
	}
	s.st.dedup[key] = ms
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	if err := s.lock(); err != nil {
		return time.Time{}, false, err
	}
	defer s.mu.Unlock()
	ms, ok := s.st.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) Compact(ctx context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.compactLocked()
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	s.st.pruneDedup(time.Now())

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	snap := snapshot{Accounts: s.st.list(), Dedup: s.st.dedup}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, a := range snap.Accounts {
		st.put(a)
	}
	for k, v := range snap.Dedup {
		st.dedup[k] = v
	}
	return nil
}

// replayJournal applies records in order; a torn trailing line is skipped.
func replayJournal(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case opPut:
			if r.Account != nil && r.Account.ID != "" {
				st.put(*r.Account)
			}
		case opRemove:
			st.remove(r.ID)
		case opDedup:
			if r.Key != "" {
				st.dedup[r.Key] = r.Until
			}
		}
	}
	return sc.Err()
}

func loadEvents(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e LiveEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		st.appendEvent(e)
	}
	return sc.Err()
}
