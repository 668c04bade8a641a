package main

import (
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"almanac/internal/order"
	"almanac/internal/recurrence"
)

const timeLayout = "2006-01-02 15:04:05 -07:00"

type previewer interface {
	Preview(o order.WorkOrder, n int) []recurrence.Occurrence
}

func renderOrders(orders []order.WorkOrder, rec previewer) error {
	data := pterm.TableData{{"ID", "TAG", "START", "END", "DAYS", "EVERY", "NEXT", "PAYLOAD"}}
	for _, o := range orders {
		next := pterm.Red("dead")
		if occ := rec.Preview(o, 1); len(occ) > 0 {
			next = occ[0].At.Format(timeLayout)
		}
		data = append(data, []string{
			strconv.FormatInt(int64(o.ID), 10),
			o.Tag,
			o.StartTime.Format(timeLayout),
			formatOptional(o.EndTime),
			dash(o.Days.String()),
			formatEvery(o.Interval),
			next,
			payloadSummary(o.Payload),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func renderEvents(evs []order.Event) error {
	data := pterm.TableData{{"SCHEDULED", "DELIVERED", "LAG", "DAY", "KIND", "DETAIL"}}
	for _, e := range evs {
		day := "-"
		if e.Day != nil {
			day = e.Day.String()
		}
		kind := string(e.Kind)
		if e.Kind == order.EventSuccess {
			kind = pterm.Green(kind)
		} else {
			kind = pterm.Yellow(kind)
		}
		data = append(data, []string{
			e.ScheduledTime.Format(timeLayout),
			e.DeliveredTime.Format(timeLayout),
			e.DeliveredTime.Sub(e.ScheduledTime).Round(time.Millisecond).String(),
			day,
			kind,
			dash(e.Detail),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func renderOccurrences(occ []recurrence.Occurrence) error {
	data := pterm.TableData{{"#", "AT", "WEEKDAY", "IN"}}
	now := time.Now()
	for i, o := range occ {
		data = append(data, []string{
			strconv.Itoa(i + 1),
			o.At.Format(timeLayout),
			o.At.Weekday().String(),
			o.At.Sub(now).Round(time.Second).String(),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}

func formatEvery(d time.Duration) string {
	switch {
	case d == 0:
		return "once"
	case d%order.Week == 0:
		return strconv.FormatInt(int64(d/order.Week), 10) + "w"
	}
	return d.String()
}

func payloadSummary(p order.Payload) string {
	if len(p) == 0 {
		return "-"
	}
	b, err := p.MarshalJSON()
	if err != nil {
		return "?"
	}
	if len(b) > 60 {
		return string(b[:57]) + "..."
	}
	return string(b)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
