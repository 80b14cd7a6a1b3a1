package document

import (
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
)

func TestMapper_Map(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	ts := time.Date(2024, 5, 1, 15, 4, 5, 0, loc)

	event := logging.LogEvent{
		Timestamp:       ts,
		Level:           logging.LevelWarning,
		MessageTemplate: "Disk {Disk} at {Usage}%",
		RenderedMessage: `Disk "sda" at 91%`,
		Properties:      map[string]any{"Disk": "sda", "Usage": 91},
	}

	doc := NewMapper().Map(event)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, ts.UTC(), doc.Timestamp)
	assert.Equal(t, time.UTC, doc.Timestamp.Location())
	assert.Equal(t, "Warning", doc.Level)
	assert.Equal(t, event.MessageTemplate, doc.MessageTemplate)
	assert.Equal(t, event.RenderedMessage, doc.RenderedMessage)

	var blob map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc.Properties), &blob))
	assert.Equal(t, "2024-05-01T12:04:05Z", blob["Timestamp"])
	assert.Equal(t, "Warning", blob["Level"])
	assert.Equal(t, event.MessageTemplate, blob["MessageTemplate"])
	assert.Equal(t, event.RenderedMessage, blob["RenderedMessage"])
	assert.NotContains(t, blob, "Exception")

	props, ok := blob["Properties"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sda", props["Disk"])
	assert.Equal(t, float64(91), props["Usage"])
}

func TestMapper_IdenticalEventsGetDistinctIDs(t *testing.T) {
	m := NewMapper()
	event := logging.LogEvent{Timestamp: time.Now(), MessageTemplate: "same"}

	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		doc := m.Map(event)
		_, dup := seen[doc.ID]
		require.False(t, dup, "duplicate id %s", doc.ID)
		seen[doc.ID] = struct{}{}
	}
}

func TestMapper_RendersMissingMessage(t *testing.T) {
	doc := NewMapper().Map(logging.LogEvent{
		MessageTemplate: "User {Name} logged in",
		Properties:      map[string]any{"Name": "bob"},
	})
	assert.Equal(t, `User "bob" logged in`, doc.RenderedMessage)
}

func TestFormatProperties_BestEffort(t *testing.T) {
	event := logging.LogEvent{
		Timestamp:       time.Unix(0, 0),
		Level:           logging.LevelError,
		MessageTemplate: "odd values",
		Exception:       errors.New("boom"),
		Properties: map[string]any{
			"NaN":     math.NaN(),
			"Channel": make(chan int),
			"Nested":  map[string]any{"a": []int{1, 2}},
		},
	}

	out := FormatProperties(event)

	var blob map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &blob))
	assert.Equal(t, "boom", blob["Exception"])

	props := blob["Properties"].(map[string]any)
	assert.Equal(t, "NaN", props["NaN"])
	assert.IsType(t, "", props["Channel"])
	assert.Equal(t, map[string]any{"a": []any{float64(1), float64(2)}}, props["Nested"])
}

func TestMapper_ConcurrentUse(t *testing.T) {
	m := NewMapper()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{})
	)

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				doc := m.Map(logging.LogEvent{MessageTemplate: "x"})
				mu.Lock()
				ids[doc.ID] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1600)
}

type explodingJSON struct{}

func (explodingJSON) MarshalJSON() ([]byte, error) { panic("encoder blew up") }

type lookupError struct{ host string }

func (e *lookupError) Error() string { return "lookup " + e.host }

func TestMapper_ValuesThatPanic(t *testing.T) {
	var cause *lookupError
	event := logging.LogEvent{
		Timestamp:       time.Now(),
		Level:           logging.LevelError,
		MessageTemplate: "visiting {target}",
		Properties: map[string]any{
			"target":  (*url.URL)(nil),
			"payload": explodingJSON{},
		},
		Exception: cause,
	}

	var doc logging.Document
	require.NotPanics(t, func() { doc = NewMapper().Map(event) })
	assert.Equal(t, "visiting <nil>", doc.RenderedMessage)

	var blob map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc.Properties), &blob))
	assert.Equal(t, "<nil>", blob["Exception"])

	props, ok := blob["Properties"].(map[string]any)
	require.True(t, ok)
	assert.Nil(t, props["target"])
	assert.Equal(t, "{}", props["payload"])
}
