package app

import (
	"context"
	"runtime"
	"time"

	"livewatch/internal/maintenance"
	"livewatch/internal/runtime/supervisor"
	"livewatch/internal/scheduler"
	"livewatch/internal/stream"
)

// StatusDoc is served on /status.
type StatusDoc struct {
	Now        time.Time                      `json:"now"`
	Uptime     string                         `json:"uptime"`
	Goroutines int                            `json:"goroutines"`
	Accounts   AccountCounts                  `json:"accounts"`
	Scheduler  scheduler.Snapshot             `json:"scheduler"`
	Jobs       []maintenance.JobInfo          `json:"maintenance,omitempty"`
	Sent       int                            `json:"notifications_sent"`
	Dropped    uint64                         `json:"bus_dropped"`
	Tasks      map[string]supervisor.Snapshot `json:"tasks"`
	StoreError string                         `json:"store_error,omitempty"`
}

type AccountCounts struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
	Live    int `json:"live"`
	Due     int `json:"due"`
}

func (a *App) Status(ctx context.Context) any {
	now := time.Now()
	doc := StatusDoc{
		Now:        now,
		Goroutines: runtime.NumGoroutine(),
		Scheduler:  a.sched.Snapshot(),
		Jobs:       a.maint.Snapshot(),
		Sent:       len(a.notif.History()),
		Dropped:    a.bus.Dropped(),
		Tasks:      map[string]supervisor.Snapshot{},
	}
	if !a.started.IsZero() {
		doc.Uptime = now.Sub(a.started).Truncate(time.Second).String()
	}
	if a.sup != nil {
		doc.Tasks["app"] = a.sup.Snapshot()
	}
	if s := a.notif.Supervisor(); s != nil {
		doc.Tasks["notifier"] = s.Snapshot()
	}

	accounts, err := a.store.ListAccounts(ctx)
	if err != nil {
		doc.StoreError = err.Error()
		return doc
	}
	for _, acc := range accounts {
		doc.Accounts.Total++
		if acc.Enabled {
			doc.Accounts.Enabled++
		}
		if acc.LastStatus == stream.StatusLive {
			doc.Accounts.Live++
		}
		if acc.Enabled && (acc.NextCheckAt == nil || !acc.NextCheckAt.After(now)) {
			doc.Accounts.Due++
		}
	}
	return doc
}
