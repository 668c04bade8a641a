package storage

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"almanac/internal/order"
)

// orderRecord is the persisted layout of a work order, shared by the file
// journal and the SQL tables.
type orderRecord struct {
	ID         int64           `json:"id"`
	Tag        string          `json:"tag"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	StartTime  string          `json:"start_time"`
	EndTime    string          `json:"end_time,omitempty"`
	Days       string          `json:"days_of_week,omitempty"`
	IntervalNS int64           `json:"interval_ns,omitempty"`
}

type eventRecord struct {
	WorkID        int64  `json:"work_id"`
	ScheduledTime string `json:"scheduled_time"`
	DeliveredTime string `json:"delivered_time"`
	Day           *int   `json:"day_of_week,omitempty"` // ISO weekday
	Kind          string `json:"kind"`
	Detail        string `json:"detail,omitempty"`
}

func toRecord(o order.WorkOrder) (orderRecord, error) {
	payload, err := json.Marshal(o.Payload)
	if err != nil {
		return orderRecord{}, errors.Wrapf(err, "encode payload of order %d", o.ID)
	}
	r := orderRecord{
		ID:         int64(o.ID),
		Tag:        o.Tag,
		Payload:    payload,
		StartTime:  formatTime(o.StartTime),
		Days:       o.Days.String(),
		IntervalNS: int64(o.Interval),
	}
	if o.HasEnd() {
		r.EndTime = formatTime(o.EndTime)
	}
	return r, nil
}

func fromRecord(r orderRecord) (order.WorkOrder, error) {
	o := order.WorkOrder{
		ID:       order.ID(r.ID),
		Tag:      r.Tag,
		Interval: time.Duration(r.IntervalNS),
	}
	var err error
	if o.StartTime, err = parseTime(r.StartTime); err != nil {
		return order.WorkOrder{}, errors.Wrapf(err, "order %d start_time", r.ID)
	}
	if r.EndTime != "" {
		if o.EndTime, err = parseTime(r.EndTime); err != nil {
			return order.WorkOrder{}, errors.Wrapf(err, "order %d end_time", r.ID)
		}
	}
	if o.Days, err = order.ParseDaySet(r.Days); err != nil {
		return order.WorkOrder{}, errors.Wrapf(err, "order %d days_of_week", r.ID)
	}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &o.Payload); err != nil {
			return order.WorkOrder{}, errors.Wrapf(err, "order %d payload", r.ID)
		}
	}
	return o, nil
}

func toEventRecord(e order.Event) eventRecord {
	r := eventRecord{
		WorkID:        int64(e.WorkID),
		ScheduledTime: formatTime(e.ScheduledTime),
		DeliveredTime: formatTime(e.DeliveredTime),
		Kind:          string(e.Kind),
		Detail:        e.Detail,
	}
	if e.Day != nil {
		d := order.ISOWeekday(*e.Day)
		r.Day = &d
	}
	return r
}

func fromEventRecord(r eventRecord) (order.Event, error) {
	e := order.Event{
		WorkID: order.ID(r.WorkID),
		Kind:   order.EventKind(r.Kind),
		Detail: r.Detail,
	}
	var err error
	if e.ScheduledTime, err = parseTime(r.ScheduledTime); err != nil {
		return order.Event{}, errors.Wrap(err, "scheduled_time")
	}
	if e.DeliveredTime, err = parseTime(r.DeliveredTime); err != nil {
		return order.Event{}, errors.Wrap(err, "delivered_time")
	}
	if r.Day != nil {
		d := order.WeekdayFromISO(*r.Day)
		e.Day = &d
	}
	return e, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return order.InFixedZone(t), nil
}
