// Package jsonevent decodes JSON log lines into logging.LogEvent values.
//
// Both the compact form ({"@t":..,"@l":..,"@mt":..,"@m":..,"@x":.., props...})
// and the long form ({"Timestamp":..,"Level":..,"MessageTemplate":..,
// "RenderedMessage":..,"Properties":{..}}) are understood, as are the common
// time/level/msg/message keys written by most structured loggers.
package jsonevent

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/valyala/fastjson"

	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
)

var parserPool fastjson.ParserPool

var ErrNotObject = errors.New("json value is not an object")

var (
	timestampKeys = []string{"@t", "Timestamp", "timestamp", "time", "ts"}
	levelKeys     = []string{"@l", "Level", "level"}
	templateKeys  = []string{"@mt", "MessageTemplate"}
	messageKeys   = []string{"@m", "RenderedMessage", "message", "msg"}
	exceptionKeys = []string{"@x", "Exception"}
)

var reserved = map[string]struct{}{
	"@t": {}, "Timestamp": {}, "timestamp": {}, "time": {}, "ts": {},
	"@l": {}, "Level": {}, "level": {},
	"@mt": {}, "MessageTemplate": {},
	"@m": {}, "RenderedMessage": {}, "message": {}, "msg": {},
	"@x": {}, "Exception": {},
	"@i": {}, "@r": {},
	"Properties": {},
}

// Parse decodes a single JSON object. Missing timestamps become now.
func Parse(data []byte, now time.Time) (logging.LogEvent, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return logging.LogEvent{}, err
	}
	return fromValue(v, now)
}

// ParseLine never fails: lines that are not JSON objects become plain
// Information events carrying the raw text.
func ParseLine(line []byte, now time.Time) logging.LogEvent {
	line = bytes.TrimSpace(line)
	if len(line) > 0 && line[0] == '{' {
		if event, err := Parse(line, now); err == nil {
			return event
		}
	}

	text := string(line)
	return logging.LogEvent{
		Timestamp:       now,
		Level:           logging.LevelInformation,
		MessageTemplate: text,
		RenderedMessage: text,
	}
}

// ParseBatch accepts a JSON array of objects, a single object, or
// newline-delimited objects.
func ParseBatch(data []byte, now time.Time) ([]logging.LogEvent, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	p := parserPool.Get()
	defer parserPool.Put(p)

	if v, err := p.ParseBytes(data); err == nil {
		if v.Type() != fastjson.TypeArray {
			event, err := fromValue(v, now)
			if err != nil {
				return nil, err
			}
			return []logging.LogEvent{event}, nil
		}

		items, _ := v.Array()
		events := make([]logging.LogEvent, 0, len(items))
		for i, item := range items {
			event, err := fromValue(item, now)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			events = append(events, event)
		}
		return events, nil
	} else if data[0] != '{' {
		return nil, err
	}

	var events []logging.LogEvent
	for i, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		event, err := Parse(line, now)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func fromValue(v *fastjson.Value, now time.Time) (logging.LogEvent, error) {
	obj, err := v.Object()
	if err != nil {
		return logging.LogEvent{}, ErrNotObject
	}

	event := logging.LogEvent{
		Timestamp: now,
		Level:     logging.LevelInformation,
	}

	if tv := first(v, timestampKeys); tv != nil {
		if ts, ok := parseTimestamp(tv); ok {
			event.Timestamp = ts
		}
	}
	if lv := first(v, levelKeys); lv != nil {
		if level, err := logging.ParseLevel(string(lv.GetStringBytes())); err == nil {
			event.Level = level
		}
	}
	if mv := first(v, templateKeys); mv != nil {
		event.MessageTemplate = string(mv.GetStringBytes())
	}
	if mv := first(v, messageKeys); mv != nil {
		event.RenderedMessage = string(mv.GetStringBytes())
	}
	if event.MessageTemplate == "" {
		event.MessageTemplate = event.RenderedMessage
	}
	if xv := first(v, exceptionKeys); xv != nil {
		if msg := string(xv.GetStringBytes()); msg != "" {
			event.Exception = errors.New(msg)
		}
	}

	props := make(map[string]any)
	if pv := v.Get("Properties"); pv != nil && pv.Type() == fastjson.TypeObject {
		nested, _ := pv.Object()
		nested.Visit(func(key []byte, val *fastjson.Value) {
			props[string(key)] = toAny(val)
		})
	}
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if _, skip := reserved[string(key)]; skip {
			return
		}
		props[string(key)] = toAny(val)
	})
	if len(props) > 0 {
		event.Properties = props
	}

	return event, nil
}

func first(v *fastjson.Value, keys []string) *fastjson.Value {
	for _, k := range keys {
		if found := v.Get(k); found != nil && found.Type() != fastjson.TypeNull {
			return found
		}
	}
	return nil
}

func parseTimestamp(v *fastjson.Value) (time.Time, bool) {
	switch v.Type() {
	case fastjson.TypeString:
		s := string(v.GetStringBytes())
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02T15:04:05.999999999"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
	case fastjson.TypeNumber:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return time.Time{}, false
			}
			sec, frac := math.Modf(f)
			return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
		}
		switch {
		case n < 1e11:
			return time.Unix(n, 0).UTC(), true
		case n < 1e14:
			return time.UnixMilli(n).UTC(), true
		case n < 1e17:
			return time.UnixMicro(n).UTC(), true
		default:
			return time.Unix(0, n).UTC(), true
		}
	}
	return time.Time{}, false
}

func toAny(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		if n, err := v.Int64(); err == nil {
			return n
		}
		return v.GetFloat64()
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeNull:
		return nil
	case fastjson.TypeArray:
		items, _ := v.Array()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = toAny(item)
		}
		return out
	case fastjson.TypeObject:
		obj, _ := v.Object()
		out := make(map[string]any, obj.Len())
		obj.Visit(func(key []byte, val *fastjson.Value) {
			out[string(key)] = toAny(val)
		})
		return out
	}
	return v.String()
}
