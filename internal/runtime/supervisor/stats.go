package supervisor

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Stats is a best-effort view of the goroutines sharing one name.
type Stats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Started     uint64    `json:"started"`
	Panics      uint64    `json:"panics"`
	Restarts    uint64    `json:"restarts"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
	LastErrAt   time.Time `json:"last_err_at,omitempty"`
}

type Snapshot struct {
	FirstError string  `json:"first_error,omitempty"`
	Goroutines []Stats `json:"goroutines"`
}

type statsTable struct {
	mu     sync.Mutex
	byName map[string]*Stats
}

func (t *statsTable) entry(name string) *Stats {
	if t.byName == nil {
		t.byName = make(map[string]*Stats)
	}
	st, ok := t.byName[name]
	if !ok {
		st = &Stats{Name: name}
		t.byName[name] = st
	}
	return st
}

func (t *statsTable) started(name string, restart bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(name)
	st.Started++
	st.Active++
	if restart {
		st.Restarts++
	}
	st.LastStartAt = time.Now()
}

func (t *statsTable) stopped(name string, err error, panicked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(name)
	st.Active = max(st.Active-1, 0)
	if panicked {
		st.Panics++
	}
	if err != nil {
		st.LastErr, st.LastErrAt = err.Error(), time.Now()
	}
}

func (t *statsTable) list() []Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stats, 0, len(t.byName))
	for _, st := range t.byName {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b Stats) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Snapshot is safe on a nil supervisor.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Goroutines: s.stats.list()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	return snap
}
