package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"

	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
	"github.com/Chichichkin/DynamoLogForwarder/internal/logging/jsonevent"
)

// LogDaemonService tails log files under a root directory and hands every
// line to an EventSink.
type LogDaemonService struct {
	config        Config
	sink          logging.EventSink
	diag          logging.Diagnostics
	fileQueue     chan string
	workersWg     sync.WaitGroup
	subServicesWg sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	metrics       *LogDaemonMetrics
	stopOnce      sync.Once

	filesMu   sync.Mutex
	seenFiles map[string]struct{}
	// queued or being tailed right now
	activeFiles map[string]struct{}
	// discovered but never tailed yet; only these honour FromStart
	freshFiles map[string]struct{}
}

type Config struct {
	LogRootPath   string
	Pattern       string
	ScanInterval  time.Duration
	Workers       int
	FileQueueSize int
	NodeName      string
	// If > 0, stop tailing a file after this period without new lines
	FileIdleTimeout time.Duration
	// Read newly discovered files from the beginning. Files picked up again
	// after an idle timeout always resume from the end.
	FromStart       bool
	MetricsInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Pattern == "" {
		c.Pattern = "*.log"
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = 10 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.FileQueueSize <= 0 {
		c.FileQueueSize = 100
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 30 * time.Second
	}
	return c
}

// NewLogDaemonService creates 2 + config.Workers goroutines on Start().
func NewLogDaemonService(ctx context.Context, config Config, sink logging.EventSink, diag logging.Diagnostics) *LogDaemonService {
	config = config.withDefaults()
	nCtx, cancel := context.WithCancel(ctx)

	return &LogDaemonService{
		config:      config,
		sink:        sink,
		diag:        diag,
		fileQueue:   make(chan string, config.FileQueueSize),
		ctx:         nCtx,
		cancel:      cancel,
		metrics:     &LogDaemonMetrics{},
		seenFiles:   make(map[string]struct{}),
		activeFiles: make(map[string]struct{}),
		freshFiles:  make(map[string]struct{}),
	}
}

func (s *LogDaemonService) Start() {
	s.diag.Info("Starting log daemon service",
		"root", s.config.LogRootPath,
		"pattern", s.config.Pattern,
		"workers", s.config.Workers,
		"queue_size", s.config.FileQueueSize)

	for i := 0; i < s.config.Workers; i++ {
		s.workersWg.Add(1)
		go s.worker(i)
		s.metrics.IncWorkersActive()
	}

	s.subServicesWg.Add(1)
	go s.scanner()

	s.subServicesWg.Add(1)
	go s.metricsReporter()
}

func (s *LogDaemonService) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.subServicesWg.Wait()

		close(s.fileQueue)
		s.workersWg.Wait()

		m := s.metrics.GetMetricsStamp()
		s.diag.Info("Log daemon service stopped",
			"files_processed", m.FilesProcessed,
			"lines", m.LinesRead,
			"enqueue_errors", m.EnqueueErrors)
	})
}

func (s *LogDaemonService) GracefulShutdownName() string {
	return "log-daemon"
}

// GracefulShutdown stops the service, giving up when ctx expires.
func (s *LogDaemonService) GracefulShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *LogDaemonService) Metrics() DaemonStats {
	return s.metrics.GetMetricsStamp()
}

func (s *LogDaemonService) worker(id int) {
	defer s.workersWg.Done()
	defer s.metrics.DecWorkersActive()
	defer func() {
		if r := recover(); r != nil {
			s.diag.Error("Worker panicked", "worker", id, "panic", r)
		}
	}()

	for {
		select {
		case filePath, ok := <-s.fileQueue:
			if !ok {
				return
			}
			s.metrics.DecQueuedFiles()
			s.metrics.IncWorkersBusy()
			s.processFile(s.ctx, filePath)
			s.metrics.DecWorkersBusy()
			s.release(filePath)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) processFile(ctx context.Context, filePath string) {
	defer s.metrics.IncFilesProcessed()
	defer func() {
		if r := recover(); r != nil {
			s.diag.Error("File processing panicked", "file", filePath, "panic", r)
			s.metrics.IncFilesFailed()
		}
	}()

	whence := io.SeekEnd
	if s.config.FromStart && s.takeFresh(filePath) {
		whence = io.SeekStart
	}

	t, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		s.diag.Error("Failed to tail file", "file", filePath, "error", err)
		s.metrics.IncFilesFailed()
		return
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	labels := s.extractLabels(filePath)

	checkTicker := time.NewTicker(1 * time.Second)
	defer checkTicker.Stop()

	lastActivity := time.Now()

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line == nil {
				continue
			}
			if line.Err != nil {
				s.diag.Warn("Error reading file", "file", filePath, "error", line.Err)
				continue
			}
			lastActivity = time.Now()
			if strings.TrimSpace(line.Text) == "" {
				continue
			}

			s.metrics.IncLinesRead()
			event := jsonevent.ParseLine([]byte(line.Text), line.Time)
			event.Properties = withLabels(event.Properties, labels)

			if err := s.sink.Enqueue(event); err != nil {
				s.metrics.IncEnqueueErrors()
			}

		case <-checkTicker.C:
			// waking up from blocking line reading to check context status and idle timeout
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) scanner() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	s.scanFiles()
	for {
		select {
		case <-ticker.C:
			s.scanFiles()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		s.diag.Warn("Error discovering log files", "root", s.config.LogRootPath, "error", err)
		return
	}

	for _, file := range files {
		if !s.claim(file) {
			continue
		}
		select {
		case s.fileQueue <- file:
			s.metrics.IncQueuedFiles()
		case <-s.ctx.Done():
			s.release(file)
			return
		default:
			s.release(file)
			s.diag.Warn("File queue full, skipping file",
				"queued", len(s.fileQueue), "capacity", cap(s.fileQueue), "file", file)
		}
	}
}

// claim marks file as active; false means it is already queued or tailed.
func (s *LogDaemonService) claim(file string) bool {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()

	if _, ok := s.seenFiles[file]; !ok {
		s.metrics.IncFilesDiscovered()
		s.seenFiles[file] = struct{}{}
		s.freshFiles[file] = struct{}{}
	}
	if _, ok := s.activeFiles[file]; ok {
		return false
	}
	s.activeFiles[file] = struct{}{}
	return true
}

func (s *LogDaemonService) takeFresh(file string) bool {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	_, ok := s.freshFiles[file]
	delete(s.freshFiles, file)
	return ok
}

func (s *LogDaemonService) release(file string) {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	delete(s.activeFiles, file)
}

func (s *LogDaemonService) metricsReporter() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics := s.metrics.GetMetricsStamp()
			s.diag.Info("Log daemon metrics",
				"workers_active", metrics.WorkersActive,
				"workers_busy", metrics.WorkersBusy,
				"queued_files", metrics.QueuedFiles,
				"queue_usage_pct", int(s.metrics.GetQueueUsage(cap(s.fileQueue))*100),
				"files_processed", metrics.FilesProcessed,
				"files_discovered", metrics.FilesDiscovered,
				"files_failed", metrics.FilesFailed,
				"lines", metrics.LinesRead,
				"enqueue_errors", metrics.EnqueueErrors)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) discoverLogFiles() ([]string, error) {
	var logFiles []string

	err := filepath.Walk(s.config.LogRootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.diag.Warn("Error accessing path", "path", path, "error", err)
			return nil
		}

		if info.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(s.config.Pattern, info.Name()); ok {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}

// extractLabels reads the kubelet layout <root>/<namespace>_<pod>_<uid>/<container>/<file>.
func (s *LogDaemonService) extractLabels(filePath string) map[string]string {
	labels := map[string]string{
		"SourceFile": filepath.Base(filePath),
	}
	if s.config.NodeName != "" {
		labels["node"] = s.config.NodeName
	}

	rel, err := filepath.Rel(s.config.LogRootPath, filePath)
	if err != nil {
		return labels
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) >= 2 {
		podParts := strings.Split(parts[0], "_")
		if len(podParts) >= 3 {
			labels["namespace"] = podParts[0]
			labels["pod"] = podParts[1]
			labels["pod_uid"] = podParts[2]
		}

		if len(parts) >= 3 {
			labels["container"] = parts[1]
		}
	}

	return labels
}

// withLabels adds file labels without overriding properties the line carried.
func withLabels(props map[string]any, labels map[string]string) map[string]any {
	out := make(map[string]any, len(props)+len(labels))
	for k, v := range labels {
		out[k] = v
	}
	for k, v := range props {
		out[k] = v
	}
	return out
}
