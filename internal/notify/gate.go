package notify

import (
	"context"
	"sync"

	"livewatch/internal/stream"
	"livewatch/pkg/logx"
)

// NotificationSink shows a live notification. Fire-and-forget.
type NotificationSink interface {
	ShowLive(ctx context.Context, account stream.Account, title string)
}

// AggregateStatusSink receives the "any account live" flag.
type AggregateStatusSink interface {
	SetAnyLive(live bool)
}

// Gate is stateless apart from the aggregate flag.
type Gate struct {
	sink NotificationSink
	aggs []AggregateStatusSink
	log  logx.Logger

	mu      sync.Mutex
	anyLive bool
}

func NewGate(sink NotificationSink, log logx.Logger, aggs ...AggregateStatusSink) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{sink: sink, aggs: aggs, log: log.With(logx.String("comp", "gate"))}
}

// Observe notifies once per live transition and returns how many fired.
// Still-live observations and transitions to offline never notify.
func (g *Gate) Observe(ctx context.Context, outcomes []stream.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if !o.JustWentLive {
			continue
		}
		n++
		g.log.Info("account went live",
			logx.String("account", o.Account.ID),
			logx.String("platform", string(o.Account.Platform)),
			logx.String("name", o.Account.Name()),
			logx.String("title", o.Title),
		)
		if g.sink != nil {
			g.sink.ShowLive(ctx, o.Account, o.Title)
		}
	}
	return n
}

// SetAnyLive updates the aggregate flag and reports whether it changed.
// Sinks are only called on a change.
func (g *Gate) SetAnyLive(live bool) bool {
	g.mu.Lock()
	if g.anyLive == live {
		g.mu.Unlock()
		return false
	}
	g.anyLive = live
	g.mu.Unlock()

	g.log.Debug("aggregate live flag changed", logx.Bool("any_live", live))
	for _, a := range g.aggs {
		if a != nil {
			a.SetAnyLive(live)
		}
	}
	return true
}

func (g *Gate) AnyLive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.anyLive
}
