package order

import "time"

// EventKind classifies the outcome of one firing.
type EventKind string

const (
	EventSuccess       EventKind = "SUCCESS"
	EventNoHandler     EventKind = "NO_HANDLER"
	EventMissingOrder  EventKind = "MISSING_ORDER"
	EventInvalidID     EventKind = "INVALID_ID"
	EventHandlerFailed EventKind = "HANDLER_FAILED"
	// EventLookupFailed records a fire whose order could not be read from
	// storage. The order stays armed and the handler does not run.
	EventLookupFailed EventKind = "LOOKUP_FAILED"
)

// Event is an immutable record of one firing outcome.
type Event struct {
	WorkID        ID
	ScheduledTime time.Time
	DeliveredTime time.Time
	Day           *time.Weekday
	Kind          EventKind
	Detail        string
}
