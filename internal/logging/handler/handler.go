// Package handler adapts log/slog to a logging.EventSink so an application can
// route its own logs through the forwarder.
package handler

import (
	"context"
	"log/slog"
	"maps"

	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
)

type Options struct {
	// Level is the minimum record level passed to the sink. Defaults to slog.LevelInfo.
	Level slog.Leveler
}

type Handler struct {
	sink   logging.EventSink
	opts   Options
	attrs  map[string]any
	prefix string
}

func New(sink logging.EventSink, opts Options) *Handler {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	return &Handler{sink: sink, opts: opts}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// Handle turns the record into a LogEvent. The slog message doubles as the
// message template, so "{name}" placeholders are filled from attributes.
// The sink's Enqueue error is returned unchanged.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	props := make(map[string]any, len(h.attrs)+r.NumAttrs())
	maps.Copy(props, h.attrs)

	var exception error
	r.Attrs(func(a slog.Attr) bool {
		if err, ok := a.Value.Resolve().Any().(error); ok && h.prefix == "" && (a.Key == "error" || a.Key == "err") {
			exception = err
			return true
		}
		flatten(props, h.prefix, a)
		return true
	})

	event := logging.LogEvent{
		Timestamp:       r.Time,
		Level:           MapLevel(r.Level),
		MessageTemplate: r.Message,
		RenderedMessage: logging.RenderTemplate(r.Message, props),
		Exception:       exception,
	}
	if len(props) > 0 {
		event.Properties = props
	}
	return h.sink.Enqueue(event)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = make(map[string]any, len(h.attrs)+len(attrs))
	maps.Copy(h2.attrs, h.attrs)
	for _, a := range attrs {
		flatten(h2.attrs, h.prefix, a)
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

// MapLevel folds slog's open-ended levels onto the six forwarder levels.
func MapLevel(l slog.Level) logging.Level {
	switch {
	case l < slog.LevelDebug:
		return logging.LevelVerbose
	case l < slog.LevelInfo:
		return logging.LevelDebug
	case l < slog.LevelWarn:
		return logging.LevelInformation
	case l < slog.LevelError:
		return logging.LevelWarning
	case l < slog.LevelError+4:
		return logging.LevelError
	default:
		return logging.LevelFatal
	}
}

func flatten(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		group := v.Group()
		if len(group) == 0 {
			return
		}
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range group {
			flatten(dst, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}

	var val any
	switch v.Kind() {
	case slog.KindTime:
		val = v.Time()
	case slog.KindDuration:
		val = v.Duration().String()
	default:
		val = v.Any()
	}
	if err, ok := val.(error); ok {
		val = logging.FormatValue(err)
	}
	dst[prefix+a.Key] = val
}
