package broadcast

import (
	"context"
	"log/slog"
	"strings"
)

// LogHandler is a slog.Handler that forwards records as logs.new events.
type LogHandler struct {
	hub    *Hub
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewLogHandler forwards records at level and above to hub's peers.
func NewLogHandler(hub *Hub, level slog.Leveler) *LogHandler {
	return &LogHandler{hub: hub, level: level}
}

func (h *LogHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	if h.hub.ClientCount() == 0 {
		return nil
	}

	meta := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(meta, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(meta, h.prefix, a)
		return true
	})

	h.hub.BroadcastLog(strings.ToLower(r.Level.String()), r.Message, meta)
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &next
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func addAttr(meta map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			addAttr(meta, prefix+a.Key+".", ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	val := v.Any()
	if err, ok := val.(error); ok {
		val = err.Error()
	}
	meta[prefix+a.Key] = val
}
