package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	gracefully "github.com/lif0/go-gracefully"
	"github.com/lif0/pkg/utils/errx"
	"github.com/lixenwraith/log"

	"github.com/Chichichkin/DynamoLogForwarder/internal/config"
	"github.com/Chichichkin/DynamoLogForwarder/internal/daemon"
	"github.com/Chichichkin/DynamoLogForwarder/internal/diag"
	"github.com/Chichichkin/DynamoLogForwarder/internal/ingest"
	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
	"github.com/Chichichkin/DynamoLogForwarder/internal/logging/batch"
	"github.com/Chichichkin/DynamoLogForwarder/internal/logging/dynamostore"
	"github.com/Chichichkin/DynamoLogForwarder/internal/logging/handler"
	"github.com/Chichichkin/DynamoLogForwarder/internal/logging/httpstore"
)

var configFile = flag.String("config", "", "Config file path (default $FORWARDER_CONFIG_FILE or ./forwarder.toml)")

func main() {
	flag.Parse()

	path := *configFile
	if path == "" {
		path = config.GetConfigPath()
	}

	cfg, err := config.Load(path, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := initializeLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := logger.Shutdown(2 * time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "Logger shutdown error: %v\n", err)
		}
	}()

	diagnostics := diag.New(logger, diag.Options{
		Every: time.Second / time.Duration(max(cfg.Logging.DiagPerSecond, 1)),
		Burst: int(cfg.Logging.DiagBurst),
	})

	if err := run(cfg, diagnostics); err != nil {
		logger.Error("msg", "Forwarder failed", "error", err)
		_ = logger.Shutdown(2 * time.Second)
		os.Exit(1)
	}
}

func run(cfg *config.Config, diagnostics *diag.Channel) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	processor, err := batch.NewBatchProcessor(ctx, store, cfg.ProcessorConfig(), diagnostics)
	if err != nil {
		return err
	}
	processor.Start()

	// Route the process's own slog output through the forwarder as well.
	slog.SetDefault(slog.New(handler.New(processor, handler.Options{Level: slog.LevelInfo})))

	chain := &shutdownChain{last: processor}

	if cfg.Sources.Tail.Enabled {
		tailer := daemon.NewLogDaemonService(ctx, cfg.DaemonConfig(), processor, diagnostics)
		tailer.Start()
		chain.sources = append(chain.sources, tailer)
	}

	if cfg.Sources.HTTP.Enabled {
		srv := ingest.NewServer(ingest.Options{
			Listen:       cfg.Sources.HTTP.Listen,
			MaxBodyBytes: cfg.Sources.HTTP.MaxBodyBytes,
		}, processor, processor, diagnostics)
		if err := srv.Start(); err != nil {
			_ = processor.Stop(cfg.ShutdownTimeout())
			return fmt.Errorf("failed to start ingest server: %w", err)
		}
		chain.sources = append(chain.sources, srv)
	}

	gracefully.SetShutdownTrigger(ctx,
		gracefully.WithSysSignal(),
		gracefully.WithTimeout(cfg.ShutdownTimeout()),
	)
	gracefully.MustRegister(chain)

	slog.Info("Forwarder started",
		"destination", store.Destination(),
		"kind", cfg.Destination.Kind,
		"batch_size", cfg.Batch.Size,
		"period_ms", cfg.Batch.PeriodMs)

	gracefully.WaitShutdown()

	stats := processor.Stats()
	diagnostics.Info("Forwarder stopped",
		"delivered", stats.Delivered,
		"lost", stats.Lost,
		"evicted", stats.Evicted,
		"rejected", stats.Rejected)

	if !gracefully.GlobalError().IsEmpty() {
		return gracefully.GlobalError().MaybeUnwrap()
	}
	return nil
}

func newStore(cfg *config.Config) (logging.Store, error) {
	switch cfg.Destination.Kind {
	case "http":
		return httpstore.NewHTTPStore(cfg.HTTPStoreOptions())
	default:
		return dynamostore.NewStore(cfg.DynamoOptions())
	}
}

type shutdownTarget interface {
	GracefulShutdownName() string
	GracefulShutdown(ctx context.Context) error
}

// shutdownChain stops every source before the processor so that the final
// flush sees their last events.
type shutdownChain struct {
	sources []shutdownTarget
	last    shutdownTarget
}

func (c *shutdownChain) GracefulShutdownName() string {
	return "forwarder"
}

func (c *shutdownChain) GracefulShutdown(ctx context.Context) error {
	errs := errx.MultiError{}
	for _, s := range c.sources {
		if err := s.GracefulShutdown(ctx); err != nil {
			errs.Append(fmt.Errorf("%s: %w", s.GracefulShutdownName(), err))
		}
	}
	if err := c.last.GracefulShutdown(ctx); err != nil {
		errs.Append(fmt.Errorf("%s: %w", c.last.GracefulShutdownName(), err))
	}
	if errs.IsEmpty() {
		return nil
	}
	return errs.MaybeUnwrap()
}

func initializeLogger(cfg *config.Config) (*log.Logger, error) {
	logger := log.NewLogger()

	levelValue, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	configArgs := []string{fmt.Sprintf("level=%d", levelValue), "disable_file=true"}

	switch cfg.Logging.Output {
	case "none":
		configArgs = append(configArgs, "enable_stdout=false")
	case "stdout":
		configArgs = append(configArgs, "enable_stdout=true", "stdout_target=stdout")
	default:
		configArgs = append(configArgs, "enable_stdout=true", "stdout_target=stderr")
	}

	return logger, logger.InitWithDefaults(configArgs...)
}

func parseLogLevel(level string) (int, error) {
	switch level {
	case "debug":
		return int(log.LevelDebug), nil
	case "info":
		return int(log.LevelInfo), nil
	case "warn":
		return int(log.LevelWarn), nil
	case "error":
		return int(log.LevelError), nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", level)
	}
}
