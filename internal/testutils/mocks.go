package testutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
)

// MockStore records every batch written through its sessions.
type MockStore struct {
	Name        string
	SentBatches [][]logging.Document
	mu          sync.Mutex
	ShouldFail  bool
	OpenFail    bool
	ShouldPanic bool
	Delay       time.Duration
	Opened      int
	Closed      int
}

func (m *MockStore) Destination() string {
	if m.Name == "" {
		return "mock-table"
	}
	return m.Name
}

func (m *MockStore) Open(ctx context.Context) (logging.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.OpenFail {
		return nil, fmt.Errorf("mock open failed")
	}
	m.Opened++
	return &mockSession{store: m}, nil
}

func (m *MockStore) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFail = fail
}

func (m *MockStore) GetSentBatches() [][]logging.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]logging.Document, len(m.SentBatches))
	copy(out, m.SentBatches)
	return out
}

func (m *MockStore) TotalDocuments() int {
	total := 0
	for _, b := range m.GetSentBatches() {
		total += len(b)
	}
	return total
}

func (m *MockStore) Sessions() (opened, closed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Opened, m.Closed
}

type mockSession struct {
	store *MockStore
}

func (s *mockSession) PutBatch(ctx context.Context, docs []logging.Document) error {
	s.store.mu.Lock()
	delay, fail, panics := s.store.Delay, s.store.ShouldFail, s.store.ShouldPanic
	s.store.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if panics {
		panic("mock put panicked")
	}
	if fail {
		return fmt.Errorf("mock put failed")
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.SentBatches = append(s.store.SentBatches, docs)
	return nil
}

func (s *mockSession) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.Closed++
	return nil
}

// MockEventSink records enqueued events.
type MockEventSink struct {
	Events       []logging.LogEvent
	mu           sync.Mutex
	EnqueueDelay time.Duration
	EnqueueErr   error
	EnqueueCalls int
	StartCalls   int
	StopCalls    int
}

func (m *MockEventSink) Enqueue(event logging.LogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.EnqueueDelay > 0 {
		time.Sleep(m.EnqueueDelay)
	}

	m.EnqueueCalls++
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockEventSink) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
}

func (m *MockEventSink) Stop(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	return nil
}

func (m *MockEventSink) GetEvents() []logging.LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]logging.LogEvent, len(m.Events))
	copy(out, m.Events)
	return out
}

func (m *MockEventSink) GetStats() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events), m.EnqueueCalls
}

// RecordingDiagnostics keeps every diagnostic message with its level.
type RecordingDiagnostics struct {
	mu      sync.Mutex
	Entries []DiagnosticEntry
}

type DiagnosticEntry struct {
	Level   string
	Msg     string
	KeyVals []any
}

func (r *RecordingDiagnostics) Info(msg string, keyvals ...any) {
	r.record("info", msg, keyvals)
}

func (r *RecordingDiagnostics) Warn(msg string, keyvals ...any) {
	r.record("warn", msg, keyvals)
}

func (r *RecordingDiagnostics) Error(msg string, keyvals ...any) {
	r.record("error", msg, keyvals)
}

func (r *RecordingDiagnostics) record(level, msg string, keyvals []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entries = append(r.Entries, DiagnosticEntry{Level: level, Msg: msg, KeyVals: keyvals})
}

// Find returns entries with the given message.
func (r *RecordingDiagnostics) Find(msg string) []DiagnosticEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []DiagnosticEntry
	for _, e := range r.Entries {
		if e.Msg == msg {
			out = append(out, e)
		}
	}
	return out
}

// Value returns the value paired with key in a keyvals list.
func (e DiagnosticEntry) Value(key string) (any, bool) {
	for i := 0; i+1 < len(e.KeyVals); i += 2 {
		if k, ok := e.KeyVals[i].(string); ok && k == key {
			return e.KeyVals[i+1], true
		}
	}
	return nil, false
}

// CreateTempLogStructure lays out a few log files in the kubelet pod-log shape.
func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"default_pod-1_uid123/container-1/app.log":          "{\"@mt\":\"started\"}\n",
		"default_pod-1_uid123/container-2/app.log":          "plain line\n",
		"kube-system_pod-2_uid456/container/app.log":        "{\"@mt\":\"ready\",\"@l\":\"Debug\"}\n",
		"default_pod-3_uid789/container/app.log":            "line 4\n",
		"monitoring_pod-4_uid101/grafana/grafana.log":       "grafana starting\n",
		"monitoring_pod-4_uid101/prometheus/prometheus.log": "prometheus ready\n",
		"monitoring_pod-4_uid101/prometheus/ignored.txt":    "not a log\n",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}

		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}
