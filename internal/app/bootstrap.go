package app

import (
	"context"

	"almanac/internal/dispatch"
	"almanac/internal/order"
	logx "almanac/pkg/logx"
)

// LogTag is the built-in handler tag: it logs the order and its payload.
const LogTag = "log"

// LogHandler returns the built-in "log" handler.
func LogHandler(log logx.Logger) dispatch.Handler {
	log = log.With(logx.String("comp", "handler.log"))
	return dispatch.HandlerFunc(func(ctx context.Context, w dispatch.Work) error {
		fields := []logx.Field{
			logx.Int64("id", int64(w.Order.ID)),
			logx.Time("scheduled", w.Fire.Scheduled),
			logx.Duration("lag", w.Fire.Delivered.Sub(w.Fire.Scheduled)),
		}
		if w.Fire.Day != nil {
			fields = append(fields, logx.String("day", w.Fire.Day.String()))
		}
		for _, k := range w.Order.Payload.Keys() {
			fields = append(fields, logx.Any("payload."+k, w.Order.Payload[k]))
		}
		log.Info(payloadMessage(w.Order), fields...)
		return nil
	})
}

func payloadMessage(o order.WorkOrder) string {
	if msg, ok := o.Payload.Str("message"); ok && msg != "" {
		return msg
	}
	return "order fired"
}
