package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"almanac/internal/order"
)

func addOrderFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("tag", "log", "handler tag")
	f.Int64("id", 0, "order id (0 assigns one)")
	f.String("start", "", "start time, RFC 3339 (default now)")
	f.String("end", "", "end time, RFC 3339 (default none)")
	f.Duration("every", 0, "interval; weekly orders need a multiple of 168h")
	f.String("days", "", "weekdays, e.g. mon,fri or 1,5 (ISO numbers)")
	f.StringArrayP("payload", "p", nil, "payload entry key=value (repeatable); ints, floats and true/false keep their type")
}

// orderFromFlags builds and validates the order described by the flags.
func orderFromFlags(cmd *cobra.Command, now time.Time) (order.WorkOrder, error) {
	f := cmd.Flags()
	tag, _ := f.GetString("tag")
	id, _ := f.GetInt64("id")
	startRaw, _ := f.GetString("start")
	endRaw, _ := f.GetString("end")
	every, _ := f.GetDuration("every")
	daysRaw, _ := f.GetString("days")
	entries, _ := f.GetStringArray("payload")

	b := order.New(tag).Every(every)
	if id > 0 {
		b.ID(order.ID(id))
	}

	start := now
	if strings.TrimSpace(startRaw) != "" {
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(startRaw))
		if err != nil {
			return order.WorkOrder{}, errors.Wrap(err, "--start")
		}
		start = t
	}
	b.StartAt(start)

	if strings.TrimSpace(endRaw) != "" {
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(endRaw))
		if err != nil {
			return order.WorkOrder{}, errors.Wrap(err, "--end")
		}
		b.EndAt(t)
	}

	days, err := order.ParseDaySet(daysRaw)
	if err != nil {
		return order.WorkOrder{}, errors.Wrap(err, "--days")
	}
	b.On(days.Weekdays()...)

	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return order.WorkOrder{}, errors.Newf("--payload %q: want key=value", e)
		}
		b.Put(strings.TrimSpace(k), payloadValue(v))
	}
	return b.Build()
}

func payloadValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	return s
}
