package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
	"github.com/Chichichkin/DynamoLogForwarder/internal/testutils"
)

const defaultScanInterval = 10 * time.Millisecond

func makeTestConfig(root string) Config {
	return Config{
		LogRootPath:   root,
		ScanInterval:  defaultScanInterval,
		Workers:       2,
		FileQueueSize: 10,
		NodeName:      "node-1",
	}
}

func waitForEvents(t *testing.T, sink *testutils.MockEventSink, n int) []logging.LogEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if events := sink.GetEvents(); len(events) >= n {
			return events
		}
		time.Sleep(50 * time.Millisecond)
	}
	events := sink.GetEvents()
	require.GreaterOrEqual(t, len(events), n, "timed out waiting for events")
	return events
}

func TestDaemonService_ContextCancellation(t *testing.T) {
	sink := &testutils.MockEventSink{}
	ctx, cancel := context.WithCancel(context.Background())
	s := NewLogDaemonService(ctx, makeTestConfig(t.TempDir()), sink, &testutils.RecordingDiagnostics{})
	s.Start()

	cancel()
	time.Sleep(20 * time.Millisecond)

	select {
	case <-s.ctx.Done():
	default:
		t.Fatalf("service context not cancelled")
	}

	s.Stop()
	// second stop is a no-op
	s.Stop()
}

func TestDaemonService_GracefulShutdown(t *testing.T) {
	diag := &testutils.RecordingDiagnostics{}
	s := NewLogDaemonService(context.Background(), makeTestConfig(t.TempDir()), &testutils.MockEventSink{}, diag)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.GracefulShutdown(ctx))
	assert.NotEmpty(t, diag.Find("Log daemon service stopped"))
	assert.Equal(t, 0, s.Metrics().WorkersActive)
}

func TestExtractLabels(t *testing.T) {
	config := makeTestConfig("/var/log/pods")
	s := NewLogDaemonService(context.Background(), config, &testutils.MockEventSink{}, &testutils.RecordingDiagnostics{})

	labels := s.extractLabels("/var/log/pods/default_pod-1_uid123/container-1/app.log")
	assert.Equal(t, "node-1", labels["node"])
	assert.Equal(t, "app.log", labels["SourceFile"])
	assert.Equal(t, "default", labels["namespace"])
	assert.Equal(t, "pod-1", labels["pod"])
	assert.Equal(t, "uid123", labels["pod_uid"])
	assert.Equal(t, "container-1", labels["container"])

	labels = s.extractLabels("/var/log/pods/a.log")
	assert.Equal(t, "node-1", labels["node"])
	assert.Equal(t, "a.log", labels["SourceFile"])
	_, hasNs := labels["namespace"]
	_, hasPod := labels["pod"]
	_, hasUID := labels["pod_uid"]
	_, hasContainer := labels["container"]
	assert.False(t, hasNs || hasPod || hasUID || hasContainer)
}

func TestWithLabels_KeepsLineProperties(t *testing.T) {
	props := withLabels(map[string]any{"pod": "from-line", "k": 1}, map[string]string{"pod": "from-path", "node": "n"})
	assert.Equal(t, map[string]any{"pod": "from-line", "k": 1, "node": "n"}, props)
}

func TestDiscoverLogFiles_UsesTempStructure(t *testing.T) {
	root := testutils.CreateTempLogStructure(t)
	s := NewLogDaemonService(context.TODO(), makeTestConfig(root), &testutils.MockEventSink{}, &testutils.RecordingDiagnostics{})

	files, err := s.discoverLogFiles()
	assert.NoError(t, err)
	assert.Len(t, files, 6)

	config := makeTestConfig(root)
	config.Pattern = "*.txt"
	s = NewLogDaemonService(context.TODO(), config, &testutils.MockEventSink{}, &testutils.RecordingDiagnostics{})
	files, err = s.discoverLogFiles()
	assert.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestScanner_DiscoveredFiles(t *testing.T) {
	tempDir := t.TempDir()

	_ = os.WriteFile(filepath.Join(tempDir, "a.log"), []byte("one\n"), 0644)
	_ = os.WriteFile(filepath.Join(tempDir, "b.log"), []byte("two\n"), 0644)
	_ = os.WriteFile(filepath.Join(tempDir, "c.txt"), []byte("ignore\n"), 0644)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s := NewLogDaemonService(ctx, makeTestConfig(tempDir), &testutils.MockEventSink{}, &testutils.RecordingDiagnostics{})

	// run scans without workers
	s.scanFiles()
	s.scanFiles()

	metrics := s.metrics.GetMetricsStamp()
	assert.Equal(t, 2, metrics.QueuedFiles, "already queued files are not queued twice")
	assert.Equal(t, 2, metrics.FilesDiscovered)
}

func TestScanner_QueueFull(t *testing.T) {
	tempDir := t.TempDir()
	for _, name := range []string{"a.log", "b.log", "c.log"} {
		_ = os.WriteFile(filepath.Join(tempDir, name), []byte("x\n"), 0644)
	}

	config := makeTestConfig(tempDir)
	config.FileQueueSize = 1
	diag := &testutils.RecordingDiagnostics{}
	s := NewLogDaemonService(context.Background(), config, &testutils.MockEventSink{}, diag)

	s.scanFiles()
	assert.Equal(t, 1, s.metrics.GetMetricsStamp().QueuedFiles)
	assert.Len(t, diag.Find("File queue full, skipping file"), 2)

	// skipped files can be claimed again on the next scan
	assert.True(t, s.claim(filepath.Join(tempDir, "c.log")))
}

func TestProcessFile_ReadsFromStart(t *testing.T) {
	root := testutils.CreateTempLogStructure(t)
	sink := &testutils.MockEventSink{}

	config := makeTestConfig(root)
	config.Workers = 6
	config.FromStart = true
	s := NewLogDaemonService(context.Background(), config, sink, &testutils.RecordingDiagnostics{})
	s.Start()
	defer s.Stop()

	events := waitForEvents(t, sink, 6)

	var ready *logging.LogEvent
	for i := range events {
		if events[i].MessageTemplate == "ready" {
			ready = &events[i]
		}
	}
	require.NotNil(t, ready)
	assert.Equal(t, logging.LevelDebug, ready.Level)
	assert.Equal(t, "kube-system", ready.Properties["namespace"])
	assert.Equal(t, "pod-2", ready.Properties["pod"])
	assert.Equal(t, "container", ready.Properties["container"])
	assert.Equal(t, "node-1", ready.Properties["node"])
}

func TestProcessFile_TailsAppendedLines(t *testing.T) {
	sink := &testutils.MockEventSink{}
	tempDir := t.TempDir()
	file := filepath.Join(tempDir, "tailme.log")
	require.NoError(t, os.WriteFile(file, []byte("start\n"), 0644))

	config := makeTestConfig(tempDir)
	config.ScanInterval = 100 * time.Millisecond
	config.Workers = 1
	s := NewLogDaemonService(context.Background(), config, sink, &testutils.RecordingDiagnostics{})
	s.Start()
	defer s.Stop()

	time.Sleep(500 * time.Millisecond)

	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, _ = f.WriteString("{\"@l\":\"Error\",\"@mt\":\"failed {Op}\",\"Op\":\"sync\"}\n")
	_, _ = f.WriteString("plain l2\n")
	_ = f.Close()

	events := waitForEvents(t, sink, 2)
	assert.Len(t, events, 2, "existing content is skipped when following from the end")
	assert.Equal(t, logging.LevelError, events[0].Level)
	assert.Equal(t, "sync", events[0].Properties["Op"])
	assert.Equal(t, "tailme.log", events[0].Properties["SourceFile"])
	assert.Equal(t, "plain l2", events[1].RenderedMessage)
	assert.Equal(t, 2, s.Metrics().LinesRead)
}

func TestProcessFile_CountsEnqueueErrors(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "a.log"), []byte("one\ntwo\n"), 0644))

	sink := &testutils.MockEventSink{EnqueueErr: logging.ErrBufferFull}
	config := makeTestConfig(tempDir)
	config.FromStart = true
	s := NewLogDaemonService(context.Background(), config, sink, &testutils.RecordingDiagnostics{})
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && s.Metrics().EnqueueErrors < 2 {
		time.Sleep(50 * time.Millisecond)
	}
	assert.Equal(t, 2, s.Metrics().EnqueueErrors)
	assert.Empty(t, sink.GetEvents())
}
