package notify

import (
	"time"

	"livewatch/internal/eventbus"
)

// BusAggregate publishes the aggregate flag on the event bus.
type BusAggregate struct {
	Bus eventbus.Bus
}

func (b BusAggregate) SetAnyLive(live bool) {
	if b.Bus == nil {
		return
	}
	b.Bus.Publish(eventbus.Event{Type: eventbus.TypeAnyLive, Time: time.Now(), Data: eventbus.AnyLive{Live: live}})
}

// AggregateFunc adapts a function to AggregateStatusSink.
type AggregateFunc func(live bool)

func (f AggregateFunc) SetAnyLive(live bool) { f(live) }
