package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"livewatch/internal/storage"
	"livewatch/internal/stream"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func renderAccounts(w io.Writer, accounts []stream.Account, now time.Time) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Platform", "Username", "Name", "Enabled", "Status", "Next check", "Offline streak"})
	live := 0
	for _, a := range accounts {
		if a.LastStatus == stream.StatusLive {
			live++
		}
		t.AppendRow(table.Row{
			a.ID,
			string(a.Platform),
			a.Username,
			a.Name(),
			yesNo(a.Enabled),
			statusLabel(a.LastStatus, a.LastTitle),
			nextCheckLabel(a, now),
			a.ConsecutiveOfflineChecks,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", fmt.Sprintf("%d/%d live", live, len(accounts)), "", ""})
	t.Render()
}

func renderOutcomes(w io.Writer, outcomes []stream.Outcome) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Platform", "Username", "Status", "Title", "Notes"})
	for _, o := range outcomes {
		status := "offline"
		switch {
		case o.Err != nil:
			status = "error"
		case o.JustWentLive:
			status = "went live"
		case o.IsLive:
			status = "live"
		}
		notes := ""
		if o.Err != nil {
			notes = fmt.Sprintf("%s: %v", o.Kind, o.Err)
		}
		t.AppendRow(table.Row{string(o.Account.Platform), o.Account.Username, status, o.Title, notes})
	}
	t.Render()
}

func renderEvents(w io.Writer, events []storage.LiveEvent) {
	t := newTable(w)
	t.AppendHeader(table.Row{"At", "Platform", "Account", "Title"})
	for _, e := range events {
		name := e.DisplayName
		if name == "" {
			name = e.Username
		}
		t.AppendRow(table.Row{e.At.Local().Format(time.DateTime), string(e.Platform), name, e.Title})
	}
	t.Render()
}

func statusLabel(s stream.Status, title string) string {
	if s == stream.StatusLive && title != "" {
		return "live: " + title
	}
	return string(s)
}

func nextCheckLabel(a stream.Account, now time.Time) string {
	switch {
	case !a.Enabled:
		return "-"
	case a.NextCheckAt == nil && a.LastStatus == stream.StatusLive:
		return "parked"
	case a.NextCheckAt == nil || !a.NextCheckAt.After(now):
		return "due"
	default:
		return "in " + a.NextCheckAt.Sub(now).Round(time.Second).String()
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
