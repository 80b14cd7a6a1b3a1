// Package document maps log events to the documents persisted by a Store.
package document

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
)

// Mapper holds no mutable state and is safe for concurrent use.
type Mapper struct {
	newID func() string
}

func NewMapper() *Mapper {
	return &Mapper{newID: uuid.NewString}
}

// Map never fails. Every call draws a fresh id, so identical events never
// collide in the store.
func (m *Mapper) Map(event logging.LogEvent) logging.Document {
	rendered := event.RenderedMessage
	if rendered == "" {
		rendered = logging.RenderTemplate(event.MessageTemplate, event.Properties)
	}

	return logging.Document{
		ID:              m.newID(),
		Timestamp:       event.Timestamp.UTC(),
		Level:           event.Level.String(),
		MessageTemplate: event.MessageTemplate,
		RenderedMessage: rendered,
		Properties:      formatProperties(event, rendered),
	}
}

type propertiesBlob struct {
	Timestamp       string                     `json:"Timestamp"`
	Level           string                     `json:"Level"`
	MessageTemplate string                     `json:"MessageTemplate"`
	RenderedMessage string                     `json:"RenderedMessage"`
	Exception       string                     `json:"Exception,omitempty"`
	Properties      map[string]json.RawMessage `json:"Properties"`
}

// FormatProperties renders the full structured form of an event as JSON.
func FormatProperties(event logging.LogEvent) string {
	rendered := event.RenderedMessage
	if rendered == "" {
		rendered = logging.RenderTemplate(event.MessageTemplate, event.Properties)
	}
	return formatProperties(event, rendered)
}

func formatProperties(event logging.LogEvent, rendered string) string {
	blob := propertiesBlob{
		Timestamp:       event.Timestamp.UTC().Format(time.RFC3339Nano),
		Level:           event.Level.String(),
		MessageTemplate: event.MessageTemplate,
		RenderedMessage: rendered,
		Properties:      make(map[string]json.RawMessage, len(event.Properties)),
	}
	if event.Exception != nil {
		blob.Exception = logging.FormatValue(event.Exception)
	}

	for k, v := range event.Properties {
		blob.Properties[k] = encodeValue(v)
	}

	data, err := json.Marshal(blob)
	if err != nil {
		// Only reachable if a RawMessage above is malformed, which encodeValue prevents.
		return fmt.Sprintf("%+v", blob)
	}
	return string(data)
}

// encodeValue falls back to the value's fmt rendering when it has no JSON
// form or its MarshalJSON panics.
func encodeValue(v any) (raw json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			raw = fallbackValue(v)
		}
	}()

	data, err := json.Marshal(v)
	if err != nil {
		return fallbackValue(v)
	}
	return data
}

func fallbackValue(v any) json.RawMessage {
	data, _ := json.Marshal(fmt.Sprintf("%+v", v))
	return data
}
