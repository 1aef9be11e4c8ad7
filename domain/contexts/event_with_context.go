package contexts

import "github.com/R3E-Network/integration_layer/domain/event"

// EventWithContext is the queue payload: the event plus its root progress
// record, so a single queue entry is self-describing across restarts.
type EventWithContext struct {
	Event   event.Event `json:"event"`
	Context RootContext `json:"context"`
}

// NewEventWithContext wraps a freshly ingested event for enqueueing.
func NewEventWithContext(evt event.Event) EventWithContext {
	return EventWithContext{Event: evt, Context: NewRootContext(evt.ID)}
}
