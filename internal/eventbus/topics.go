package eventbus

import "time"

// Event types published by the scheduler, the facade and the task engine.
const (
	OrderArmed       = "order.armed"
	OrderDead        = "order.dead"
	OrderUnscheduled = "order.unscheduled"
	OrderFired       = "order.fired"
	OrderEvent       = "order.event"

	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskDropped  = "task.dropped"
)

// OrderSignal is the Data of the order.* events.
type OrderSignal struct {
	OrderID int64     `json:"order_id"`
	Key     string    `json:"key,omitempty"`
	Tag     string    `json:"tag,omitempty"`
	At      time.Time `json:"at,omitempty"`
	Kind    string    `json:"kind,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}
