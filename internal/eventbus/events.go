package eventbus

import "time"

// Event types published by the check loop and the notifier.
const (
	TypeAccountLive    = "account.live"
	TypeAnyLive        = "status.any_live"
	TypeCycleCompleted = "cycle.completed"
	TypeConfigReloaded = "config.reloaded"
	TypeMaintenanceRan = "maintenance.ran"

	TypeNotifyQueued  = "notifier.queued"
	TypeNotifySent    = "notifier.sent"
	TypeNotifyDeduped = "notifier.deduped"
	TypeNotifyDropped = "notifier.dropped"
	TypeNotifyFailed  = "notifier.failed"
)

// AccountLive is the payload of TypeAccountLive.
type AccountLive struct {
	AccountID   string `json:"account_id"`
	Platform    string `json:"platform"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Title       string `json:"title,omitempty"`
}

// AnyLive is the payload of TypeAnyLive.
type AnyLive struct {
	Live bool `json:"live"`
}

// CycleCompleted is the payload of TypeCycleCompleted.
type CycleCompleted struct {
	Trigger  string        `json:"trigger"`
	Checked  int           `json:"checked"`
	Live     int           `json:"live"`
	Failed   int           `json:"failed"`
	Took     time.Duration `json:"took"`
	NextWake time.Time     `json:"next_wake,omitempty"`
}

// MaintenanceRan is the payload of TypeMaintenanceRan.
type MaintenanceRan struct {
	Job    string        `json:"job"`
	Result string        `json:"result"`
	Took   time.Duration `json:"took"`
}
