package downloader

import "github.com/burncloud/fetchd/internal/data"

// Event represents a download state change, either relayed from the
// engine's notification stream or emitted by the facade's own add, pause
// and cancel operations. The reconciler uses events to settle host-side
// records; they never feed back into the facade's binding map.
type Event struct {
	TaskID data.TaskID
	GID    string
	Type   EventType
	Name   *string
}

// EventType defines the set of events the facade may emit.
type EventType string

const (
	EventStart     EventType = "Start"
	EventPaused    EventType = "Paused"
	EventCancelled EventType = "Cancelled"
	EventComplete  EventType = "Complete"
	EventFailed    EventType = "Failed"
	EventMeta      EventType = "Meta"
)

// Reporter publishes downloader events.
type Reporter interface {
	Report(Event)
}

// ChanReporter writes events to a channel.
type ChanReporter struct {
	ch chan<- Event
}

func NewChanReporter(ch chan<- Event) *ChanReporter { return &ChanReporter{ch: ch} }

func (r *ChanReporter) Report(e Event) {
	if r == nil {
		return
	}
	r.ch <- e
}
