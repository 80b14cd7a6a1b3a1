package jsonevent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParse_CompactForm(t *testing.T) {
	line := `{"@t":"2024-01-02T03:04:05.5Z","@l":"Warning","@mt":"Disk {Disk} at {Pct}%","@x":"io: short write","Disk":"sda","Pct":91.5,"@i":"a1b2"}`

	event, err := Parse([]byte(line), now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 500_000_000, time.UTC), event.Timestamp)
	assert.Equal(t, logging.LevelWarning, event.Level)
	assert.Equal(t, "Disk {Disk} at {Pct}%", event.MessageTemplate)
	assert.Empty(t, event.RenderedMessage)
	require.Error(t, event.Exception)
	assert.Equal(t, "io: short write", event.Exception.Error())
	assert.Equal(t, map[string]any{"Disk": "sda", "Pct": 91.5}, event.Properties)
}

func TestParse_LongForm(t *testing.T) {
	line := `{"Timestamp":"2024-01-02T03:04:05Z","Level":"Error","MessageTemplate":"User {Id} failed","RenderedMessage":"User 7 failed","Properties":{"Id":7,"Tags":["a","b"],"Ctx":{"ok":false}}}`

	event, err := Parse([]byte(line), now)
	require.NoError(t, err)

	assert.Equal(t, logging.LevelError, event.Level)
	assert.Equal(t, "User {Id} failed", event.MessageTemplate)
	assert.Equal(t, "User 7 failed", event.RenderedMessage)
	assert.Equal(t, int64(7), event.Properties["Id"])
	assert.Equal(t, []any{"a", "b"}, event.Properties["Tags"])
	assert.Equal(t, map[string]any{"ok": false}, event.Properties["Ctx"])
	assert.Nil(t, event.Exception)
}

func TestParse_CommonLoggerKeys(t *testing.T) {
	line := `{"time":1704164645000,"level":"debug","msg":"cache miss","key":"user:1"}`

	event, err := Parse([]byte(line), now)
	require.NoError(t, err)

	assert.Equal(t, time.UnixMilli(1704164645000).UTC(), event.Timestamp)
	assert.Equal(t, logging.LevelDebug, event.Level)
	assert.Equal(t, "cache miss", event.MessageTemplate)
	assert.Equal(t, "cache miss", event.RenderedMessage)
	assert.Equal(t, map[string]any{"key": "user:1"}, event.Properties)
}

func TestParse_Defaults(t *testing.T) {
	event, err := Parse([]byte(`{"@mt":"hello"}`), now)
	require.NoError(t, err)

	assert.Equal(t, now, event.Timestamp)
	assert.Equal(t, logging.LevelInformation, event.Level)
	assert.Nil(t, event.Properties)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`{"broken"`), now)
	assert.Error(t, err)

	_, err = Parse([]byte(`[1,2]`), now)
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestParseTimestamp_Units(t *testing.T) {
	want := time.Unix(1704164645, 0).UTC()
	for _, line := range []string{
		`{"@t":1704164645}`,
		`{"@t":1704164645000}`,
		`{"@t":1704164645000000}`,
		`{"@t":1704164645000000000}`,
	} {
		event, err := Parse([]byte(line), now)
		require.NoError(t, err)
		assert.Equal(t, want, event.Timestamp, line)
	}
}

func TestParseLine_PlainText(t *testing.T) {
	event := ParseLine([]byte("  GET /healthz 200 {not json}\n"), now)

	assert.Equal(t, now, event.Timestamp)
	assert.Equal(t, logging.LevelInformation, event.Level)
	assert.Equal(t, "GET /healthz 200 {not json}", event.MessageTemplate)
	assert.Equal(t, "GET /healthz 200 {not json}", event.RenderedMessage)
}

func TestParseLine_JSON(t *testing.T) {
	event := ParseLine([]byte(`{"@l":"Fatal","@m":"boom"}`), now)
	assert.Equal(t, logging.LevelFatal, event.Level)
	assert.Equal(t, "boom", event.RenderedMessage)
}

func TestParseBatch(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []string
		wantErr bool
	}{
		{name: "array", body: `[{"@m":"a"},{"@m":"b"}]`, want: []string{"a", "b"}},
		{name: "single object", body: `{"@m":"only"}`, want: []string{"only"}},
		{name: "ndjson", body: "{\"@m\":\"x\"}\n\n{\"@m\":\"y\"}\n", want: []string{"x", "y"}},
		{name: "empty array", body: `[]`, want: []string{}},
		{name: "empty body", body: "   ", wantErr: true},
		{name: "scalar", body: `42`, wantErr: true},
		{name: "array of scalars", body: `[1]`, wantErr: true},
		{name: "bad ndjson line", body: "{\"@m\":\"x\"}\n{oops", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := ParseBatch([]byte(tt.body), now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			got := make([]string, len(events))
			for i, e := range events {
				got[i] = e.RenderedMessage
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
