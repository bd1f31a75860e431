package stream

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Platform identifies an external streaming service. It is an open enum:
// any non-empty lowercase token is a valid platform as long as a strategy
// is registered for it.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformKick    Platform = "kick"
	PlatformYouTube Platform = "youtube"
)

// BuiltinPlatforms lists the platforms with built-in strategies.
func BuiltinPlatforms() []Platform {
	return []Platform{PlatformTwitch, PlatformKick, PlatformYouTube}
}

func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return "", fmt.Errorf("platform is required")
	}
	if strings.ContainsAny(string(p), " \t/") {
		return "", fmt.Errorf("invalid platform %q", s)
	}
	return p, nil
}

type Status string

const (
	StatusUnknown Status = "unknown"
	StatusLive    Status = "live"
	StatusOffline Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUnknown, StatusLive, StatusOffline:
		return true
	}
	return false
}

// StatusOf maps a check result to a status.
func StatusOf(isLive bool) Status {
	if isLive {
		return StatusLive
	}
	return StatusOffline
}

// Mode selects the check strategy for a platform.
type Mode string

const (
	ModeAPI    Mode = "api"
	ModeScrape Mode = "scrape"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAPI, ModeScrape:
		return m, nil
	case "":
		return ModeAPI, nil
	default:
		return "", fmt.Errorf("invalid mode %q (want api or scrape)", s)
	}
}

// Account is one monitored identity on one platform.
//
// NextCheckAt == nil means "due immediately" (modulo the scheduler grace delay).
// CurrentInterval is kept for display only; the next interval is always
// recomputed from ConsecutiveOfflineChecks.
type Account struct {
	ID          string   `json:"id"`
	Platform    Platform `json:"platform"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name,omitempty"`
	Enabled     bool     `json:"enabled"`

	LastStatus    Status     `json:"last_status"`
	LastTitle     string     `json:"last_title,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`

	NextCheckAt              *time.Time    `json:"next_check_at,omitempty"`
	CurrentInterval          time.Duration `json:"current_interval,omitempty"`
	ConsecutiveOfflineChecks int           `json:"consecutive_offline_checks"`

	CreatedAt time.Time `json:"created_at"`
}

// NewAccountID returns a fresh opaque account id.
func NewAccountID() string { return uuid.NewString() }

// NewAccount builds a freshly created account: enabled, offline, unscheduled.
func NewAccount(platform Platform, username, displayName string, now time.Time) (Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Account{}, fmt.Errorf("username is required")
	}
	if platform == "" {
		return Account{}, fmt.Errorf("platform is required")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = username
	}
	return Account{
		ID:          NewAccountID(),
		Platform:    platform,
		Username:    username,
		DisplayName: displayName,
		Enabled:     true,
		LastStatus:  StatusOffline,
		CreatedAt:   now,
	}, nil
}

// Name returns the display name, falling back to the username.
func (a Account) Name() string {
	if strings.TrimSpace(a.DisplayName) != "" {
		return a.DisplayName
	}
	return a.Username
}

// Scheduled reports whether the account has a next check time.
func (a Account) Scheduled() bool { return a.NextCheckAt != nil }

// Clone returns a deep copy (pointer fields included).
func (a Account) Clone() Account {
	cp := a
	cp.LastCheckedAt = cloneTime(a.LastCheckedAt)
	cp.NextCheckAt = cloneTime(a.NextCheckAt)
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr is a small helper for optional timestamps.
func TimePtr(t time.Time) *time.Time { return &t }
