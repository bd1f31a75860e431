package storage

import (
	"context"
	"errors"
	"time"

	"livewatch/internal/stream"
)

var (
	ErrNotFound  = errors.New("account not found")
	ErrDuplicate = errors.New("account already exists")
	ErrClosed    = errors.New("storage closed")
	// ErrLocked means another process (or another Open in this one) holds
	// the file store.
	ErrLocked = errors.New("storage in use by another process")
)

// Config configures storage.
//
// Driver values: "memory" (default when empty), "file", "sqlite".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// LiveEvent records one offline→live transition.
type LiveEvent struct {
	ID          int64           `json:"id"`
	AccountID   string          `json:"account_id"`
	Platform    stream.Platform `json:"platform"`
	Username    string          `json:"username"`
	DisplayName string          `json:"display_name,omitempty"`
	Title       string          `json:"title,omitempty"`
	At          time.Time       `json:"at"`
}

// EventFromAccount builds a history entry for an account that just went live.
func EventFromAccount(a stream.Account, title string, at time.Time) LiveEvent {
	return LiveEvent{
		AccountID:   a.ID,
		Platform:    a.Platform,
		Username:    a.Username,
		DisplayName: a.DisplayName,
		Title:       title,
		At:          at,
	}
}

// AccountStore is the account list. Updates are keyed by id and applied
// atomically per account.
type AccountStore interface {
	ListAccounts(ctx context.Context) ([]stream.Account, error)
	GetAccount(ctx context.Context, id string) (stream.Account, error)
	CreateAccount(ctx context.Context, a stream.Account) error
	UpdateAccount(ctx context.Context, id string, p stream.Patch) (stream.Account, error)
	RemoveAccount(ctx context.Context, id string) error
}

// EventLog keeps live-event history, newest first on read.
type EventLog interface {
	AppendEvent(ctx context.Context, e LiveEvent) error
	RecentEvents(ctx context.Context, limit int) ([]LiveEvent, error)
	PruneEvents(ctx context.Context, before time.Time) (int, error)
}

// DedupStore persists notifier dedup windows across restarts.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// Store is the full persistence API.
type Store interface {
	AccountStore
	EventLog
	DedupStore
	// Compact folds journals and drops expired dedup keys.
	Compact(ctx context.Context) error
	Close() error
}
