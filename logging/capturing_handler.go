package logging

import (
	"context"
	"log/slog"
	"slices"
)

// CapturingHandler records every log record of one task in a LogCollector
// and passes it on to the wrapped handler.
type CapturingHandler struct {
	next      slog.Handler
	collector *LogCollector
	task      string
	attrs     []slog.Attr
	groups    []string
}

// NewCapturingHandler wraps next so that records are also stored under
// taskName in collector.
func NewCapturingHandler(next slog.Handler, collector *LogCollector, taskName string) *CapturingHandler {
	return &CapturingHandler{
		next:      next,
		collector: collector,
		task:      taskName,
	}
}

// Enabled reports true for every level. Capture is independent of the
// output level; the wrapped handler still filters what it writes.
func (h *CapturingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle stores r and forwards it when the wrapped handler accepts its level.
func (h *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:       r.Time,
		Level:      r.Level.String(),
		Message:    r.Message,
		Attributes: make(map[string]any, r.NumAttrs()+len(h.attrs)),
	}
	for _, a := range h.attrs {
		entry.Attributes[a.Key] = resolveValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attributes[h.key(a.Key)] = resolveValue(a.Value)
		return true
	})
	h.collector.Add(h.task, entry)

	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs keeps capturing for loggers derived with With.
func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	captured := slices.Clone(h.attrs)
	for _, a := range attrs {
		captured = append(captured, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &CapturingHandler{
		next:      h.next.WithAttrs(attrs),
		collector: h.collector,
		task:      h.task,
		attrs:     captured,
		groups:    h.groups,
	}
}

// WithGroup keeps capturing for loggers derived with WithGroup. Captured
// attribute keys are prefixed with the group path.
func (h *CapturingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &CapturingHandler{
		next:      h.next.WithGroup(name),
		collector: h.collector,
		task:      h.task,
		attrs:     h.attrs,
		groups:    append(slices.Clone(h.groups), name),
	}
}

func (h *CapturingHandler) key(k string) string {
	for i := len(h.groups) - 1; i >= 0; i-- {
		k = h.groups[i] + "." + k
	}
	return k
}

// resolveValue converts v into something encoding/json can marshal.
func resolveValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	case slog.KindGroup:
		group := make(map[string]any, len(v.Group()))
		for _, a := range v.Group() {
			group[a.Key] = resolveValue(a.Value)
		}
		return group
	default:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	}
}
