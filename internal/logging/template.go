package logging

import (
	"fmt"
	"strings"
)

// RenderTemplate substitutes named placeholders in a message template with
// property values. Supported forms are {Name}, {@Name}, {$Name} and
// {Name:format}; the format part is ignored. Placeholders without a matching
// property are kept verbatim, and {{ / }} produce literal braces.
func RenderTemplate(template string, props map[string]any) string {
	if !strings.ContainsAny(template, "{}") {
		return template
	}

	var sb strings.Builder
	sb.Grow(len(template))

	for i := 0; i < len(template); i++ {
		c := template[i]
		switch {
		case c == '{' && i+1 < len(template) && template[i+1] == '{':
			sb.WriteByte('{')
			i++
		case c == '}' && i+1 < len(template) && template[i+1] == '}':
			sb.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(template[i:], '}')
			if end < 0 {
				sb.WriteString(template[i:])
				return sb.String()
			}
			token := template[i : i+end+1]
			if value, ok := lookupPlaceholder(token[1:len(token)-1], props); ok {
				sb.WriteString(value)
			} else {
				sb.WriteString(token)
			}
			i += end
		default:
			sb.WriteByte(c)
		}
	}

	return sb.String()
}

func lookupPlaceholder(body string, props map[string]any) (string, bool) {
	body = strings.TrimLeft(body, "@$")
	if idx := strings.IndexAny(body, ":,"); idx >= 0 {
		body = body[:idx]
	}
	if body == "" {
		return "", false
	}

	v, ok := props[body]
	if !ok {
		return "", false
	}

	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val), true
	case nil:
		return "null", true
	default:
		return FormatValue(val), true
	}
}

// FormatValue renders v with fmt, which also covers String and Error methods
// that panic, typed-nil receivers included. It never panics.
func FormatValue(v any) string {
	return fmt.Sprint(v)
}
