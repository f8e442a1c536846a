package telemetry

import (
	"context"
	"log/slog"
	"strings"

	otellog "go.opentelemetry.io/otel/log"
)

// LogHandler is a slog.Handler that forwards every record it handles to next
// and also emits it as an OTel log record.
type LogHandler struct {
	next   slog.Handler
	logger otellog.Logger
	attrs  []otellog.KeyValue
	group  string
}

// NewLogHandler wraps next so its records are also emitted through lp under
// the instrumentation scope name. Level filtering follows next.
func NewLogHandler(next slog.Handler, lp otellog.LoggerProvider, scope string) *LogHandler {
	return &LogHandler{next: next, logger: lp.Logger(scope)}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	var rec otellog.Record
	rec.SetTimestamp(r.Time)
	rec.SetBody(otellog.StringValue(r.Message))
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.AddAttributes(h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttributes(convertAttr(h.group, a)...)
		return true
	})
	h.logger.Emit(ctx, rec)
	return h.next.Handle(ctx, r)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append([]otellog.KeyValue(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, convertAttr(h.group, a)...)
	}
	return &c
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	c.group = joinKey(h.group, name)
	return &c
}

func severity(l slog.Level) otellog.Severity {
	switch {
	case l >= slog.LevelError:
		return otellog.SeverityError
	case l >= slog.LevelWarn:
		return otellog.SeverityWarn
	case l >= slog.LevelInfo:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}

// convertAttr flattens a into dotted OTel attributes under prefix.
func convertAttr(prefix string, a slog.Attr) []otellog.KeyValue {
	v := a.Value.Resolve()
	key := joinKey(prefix, a.Key)
	switch v.Kind() {
	case slog.KindGroup:
		var out []otellog.KeyValue
		for _, ga := range v.Group() {
			out = append(out, convertAttr(key, ga)...)
		}
		return out
	case slog.KindInt64:
		return []otellog.KeyValue{otellog.Int64(key, v.Int64())}
	case slog.KindUint64:
		return []otellog.KeyValue{otellog.Int64(key, int64(v.Uint64()))}
	case slog.KindFloat64:
		return []otellog.KeyValue{otellog.Float64(key, v.Float64())}
	case slog.KindBool:
		return []otellog.KeyValue{otellog.Bool(key, v.Bool())}
	default:
		return []otellog.KeyValue{otellog.String(key, v.String())}
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.Join([]string{prefix, key}, ".")
}
