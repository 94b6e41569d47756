package picking

import (
	"time"

	"github.com/xelth-com/eckpick/internal/picking/cache"
)

// EventType names what a session tells its UI
type EventType string

const (
	EventStateChanged        EventType = "state.changed"
	EventLocationHighlighted EventType = "location.highlighted"
	EventOperationCompleted  EventType = "operation.completed"
	EventLocationCompleted   EventType = "location.completed"
	EventCelebrationStarted  EventType = "celebration.started"
	EventCelebrationEnded    EventType = "celebration.ended"
	EventZoneCompleted       EventType = "zone.completed"
	EventWriteFailed         EventType = "quantity.write_failed"
	EventScanNoMatch         EventType = "scan.no_match"
	EventLocationsRefreshed  EventType = "locations.refreshed"
)

// Event is pushed to the UI of one session
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	Data      any       `json:"data,omitempty"`
}

// EventSink delivers events; it must not block for long
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Publish(Event) {}

// Metrics is what the picking engine reports; metrics.Collector implements it
type Metrics interface {
	cache.Observer
	GatewayCall(op string, err error)
	BackgroundFetch(kind string, err error)
	QuantityWrite(err error)
	SessionOpened()
	SessionClosed()
}

type nopMetrics struct{}

func (nopMetrics) CacheHit()                      {}
func (nopMetrics) CacheMiss()                     {}
func (nopMetrics) WriteDropped(string)            {}
func (nopMetrics) GatewayCall(string, error)      {}
func (nopMetrics) BackgroundFetch(string, error)  {}
func (nopMetrics) QuantityWrite(error)            {}
func (nopMetrics) SessionOpened()                 {}
func (nopMetrics) SessionClosed()                 {}

func orNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
