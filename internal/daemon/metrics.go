package daemon

import (
	"sync"
)

// DaemonStats is a point-in-time copy of the tail source counters.
type DaemonStats struct {
	FilesDiscovered int `json:"files_discovered"`
	FilesProcessed  int `json:"files_processed"`
	FilesFailed     int `json:"files_failed"`
	QueuedFiles     int `json:"queued_files"`
	WorkersActive   int `json:"workers_active"`
	WorkersBusy     int `json:"workers_busy"`
	LinesRead       int `json:"lines_read"`
	EnqueueErrors   int `json:"enqueue_errors"`
}

type LogDaemonMetrics struct {
	mu    sync.RWMutex
	stats DaemonStats
}

func (m *LogDaemonMetrics) update(fn func(s *DaemonStats)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.stats)
}

func (m *LogDaemonMetrics) IncFilesDiscovered() {
	m.update(func(s *DaemonStats) { s.FilesDiscovered++ })
}

func (m *LogDaemonMetrics) IncFilesProcessed() {
	m.update(func(s *DaemonStats) { s.FilesProcessed++ })
}

func (m *LogDaemonMetrics) IncFilesFailed() {
	m.update(func(s *DaemonStats) { s.FilesFailed++ })
}

func (m *LogDaemonMetrics) IncQueuedFiles() {
	m.update(func(s *DaemonStats) { s.QueuedFiles++ })
}

func (m *LogDaemonMetrics) DecQueuedFiles() {
	m.update(func(s *DaemonStats) { s.QueuedFiles-- })
}

func (m *LogDaemonMetrics) IncWorkersActive() {
	m.update(func(s *DaemonStats) { s.WorkersActive++ })
}

func (m *LogDaemonMetrics) DecWorkersActive() {
	m.update(func(s *DaemonStats) { s.WorkersActive-- })
}

func (m *LogDaemonMetrics) IncWorkersBusy() {
	m.update(func(s *DaemonStats) { s.WorkersBusy++ })
}

func (m *LogDaemonMetrics) DecWorkersBusy() {
	m.update(func(s *DaemonStats) { s.WorkersBusy-- })
}

func (m *LogDaemonMetrics) IncLinesRead() {
	m.update(func(s *DaemonStats) { s.LinesRead++ })
}

func (m *LogDaemonMetrics) IncEnqueueErrors() {
	m.update(func(s *DaemonStats) { s.EnqueueErrors++ })
}

func (m *LogDaemonMetrics) GetMetricsStamp() DaemonStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// GetQueueUsage is the share of a file queue of the given capacity in use.
func (m *LogDaemonMetrics) GetQueueUsage(capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return float64(m.stats.QueuedFiles) / float64(capacity)
}
