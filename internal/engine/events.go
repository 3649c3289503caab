package engine

import "time"

// EventKind tags an Event's variant (Design Notes §9: "dynamic event bus
// → typed sum type").
type EventKind string

const (
	EventPhase     EventKind = "phase"
	EventPhaseDone EventKind = "phase:done"
	EventResponse  EventKind = "response"
	EventWarn      EventKind = "warn"
	EventTool      EventKind = "tool"
	EventEvidence  EventKind = "evidence"
	EventAdaptive  EventKind = "adaptive"
	EventVotes     EventKind = "votes"
	EventComplete  EventKind = "complete"
)

// Event is the single payload shape broadcast to subscribers; only the
// fields relevant to Kind are populated.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	SessionID string
	Phase     string
	Provider  string
	Message   string
	Duration  time.Duration
}

// Subscriber receives Events as the Engine emits them.
type Subscriber interface {
	OnEvent(Event)
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(Event)

func (f SubscriberFunc) OnEvent(e Event) { f(e) }

// Bus fans out Events to every registered Subscriber, synchronously and
// in registration order.
type Bus struct {
	subscribers []Subscriber
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers sub to receive every future Emit.
func (b *Bus) Subscribe(sub Subscriber) {
	b.subscribers = append(b.subscribers, sub)
}

// Emit broadcasts e to every subscriber. A nil Bus is a valid no-op
// broadcaster so the Engine never needs to nil-check before emitting.
func (b *Bus) Emit(e Event) {
	if b == nil {
		return
	}
	for _, sub := range b.subscribers {
		sub.OnEvent(e)
	}
}
