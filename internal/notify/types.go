package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"livewatch/internal/strategy"
	"livewatch/internal/stream"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

func (c Config) withDefaults() Config {
	positive := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	positiveDur := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	positive(&c.Workers, 2)
	positive(&c.QueueSize, 128)
	positive(&c.RatePerSec, 3)
	positive(&c.DedupMaxEntries, 2000)
	positiveDur(&c.RetryBase, 500*time.Millisecond)
	positiveDur(&c.RetryMaxDelay, 10*time.Second)
	positiveDur(&c.SendTimeout, 10*time.Second)
	c.RetryMax = max(c.RetryMax, 0)
	c.DedupWindow = max(c.DedupWindow, 0)
	return c
}

// Notification is one "went live" message.
type Notification struct {
	AccountID   string          `json:"account_id"`
	Platform    stream.Platform `json:"platform"`
	Username    string          `json:"username"`
	DisplayName string          `json:"display_name"`
	Title       string          `json:"title,omitempty"`
	URL         string          `json:"url,omitempty"`
	At          time.Time       `json:"at"`
}

func NewNotification(a stream.Account, title string, at time.Time) Notification {
	n := Notification{
		AccountID:   a.ID,
		Platform:    a.Platform,
		Username:    a.Username,
		DisplayName: a.Name(),
		Title:       strings.TrimSpace(title),
		At:          at,
	}
	if page, ok := strategy.PageURLs[a.Platform]; ok {
		n.URL = page(a.Username)
	}
	return n
}

// Key is the dedup key: one notification per account per window.
func (n Notification) Key() string { return "live:" + n.AccountID }

// Text renders a plain-text message.
func (n Notification) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is live on %s", n.DisplayName, n.Platform)
	if n.Title != "" {
		b.WriteString(": ")
		b.WriteString(n.Title)
	}
	if n.URL != "" {
		b.WriteString("\n")
		b.WriteString(n.URL)
	}
	return b.String()
}

// HTML renders the message for Telegram's HTML parse mode.
func (n Notification) HTML() string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔴 <b>%s</b> is live on %s", html.EscapeString(n.DisplayName), html.EscapeString(string(n.Platform)))
	if n.Title != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(n.Title))
	}
	if n.URL != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Watch</a>", html.EscapeString(n.URL))
	}
	return b.String()
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
}

// NotificationEvent is the payload of the notifier.* bus events.
type NotificationEvent struct {
	Sender    string    `json:"sender,omitempty"`
	AccountID string    `json:"account_id"`
	Key       string    `json:"key"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
