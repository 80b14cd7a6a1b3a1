package config

import (
	"fmt"
	"net"
	"time"

	"github.com/lif0/pkg/utils/errx"
	lconfig "github.com/lixenwraith/config"

	"github.com/Chichichkin/DynamoLogForwarder/internal/daemon"
	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
	"github.com/Chichichkin/DynamoLogForwarder/internal/logging/dynamostore"
	"github.com/Chichichkin/DynamoLogForwarder/internal/logging/httpstore"
)

// Validate reports every problem at once, wrapped in logging.ErrInvalidConfig.
func (c *Config) Validate() error {
	errs := errx.MultiError{}

	switch c.Destination.Kind {
	case "dynamodb":
		if err := lconfig.NonEmpty(c.Destination.Table); err != nil {
			errs.Append(fmt.Errorf("destination.table: %w", err))
		}
		if (c.Destination.AccessKey == "") != (c.Destination.SecretKey == "") {
			errs.Append(fmt.Errorf("destination: access_key and secret_key must be set together"))
		}
	case "http":
		if err := lconfig.NonEmpty(c.Destination.URL); err != nil {
			errs.Append(fmt.Errorf("destination.url: %w", err))
		}
		if err := lconfig.NonEmpty(c.Destination.Collection); err != nil {
			errs.Append(fmt.Errorf("destination.collection: %w", err))
		}
	default:
		errs.Append(fmt.Errorf("destination.kind: unknown kind %q", c.Destination.Kind))
	}

	if c.Batch.Size <= 0 {
		errs.Append(fmt.Errorf("batch.size must be positive, got %d", c.Batch.Size))
	}
	if c.Batch.PeriodMs <= 0 {
		errs.Append(fmt.Errorf("batch.period_ms must be positive, got %d", c.Batch.PeriodMs))
	}
	if c.Batch.QueueCapacity < 0 {
		errs.Append(fmt.Errorf("batch.queue_capacity must not be negative, got %d", c.Batch.QueueCapacity))
	} else if c.Batch.QueueCapacity > 0 && c.Batch.QueueCapacity < c.Batch.Size {
		errs.Append(fmt.Errorf("batch.queue_capacity %d is smaller than batch.size %d", c.Batch.QueueCapacity, c.Batch.Size))
	}
	if _, err := logging.ParseOverflowPolicy(c.Batch.Overflow); err != nil {
		errs.Append(fmt.Errorf("batch.overflow: %w", err))
	}

	if c.Sources.Tail.Enabled {
		if err := lconfig.NonEmpty(c.Sources.Tail.Root); err != nil {
			errs.Append(fmt.Errorf("sources.tail.root: %w", err))
		}
		if c.Sources.Tail.Workers <= 0 {
			errs.Append(fmt.Errorf("sources.tail.workers must be positive, got %d", c.Sources.Tail.Workers))
		}
	}
	if c.Sources.HTTP.Enabled {
		if _, _, err := net.SplitHostPort(c.Sources.HTTP.Listen); err != nil {
			errs.Append(fmt.Errorf("sources.http.listen: %w", err))
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs.Append(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Output {
	case "stdout", "stderr", "none":
	default:
		errs.Append(fmt.Errorf("logging.output: unknown output %q", c.Logging.Output))
	}

	if errs.IsEmpty() {
		return nil
	}
	return fmt.Errorf("%w: %w", logging.ErrInvalidConfig, errs.MaybeUnwrap())
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (c *Config) ProcessorConfig() logging.Config {
	// validated already
	overflow, _ := logging.ParseOverflowPolicy(c.Batch.Overflow)
	return logging.Config{
		BatchSize:     int(c.Batch.Size),
		Period:        ms(c.Batch.PeriodMs),
		QueueCapacity: int(c.Batch.QueueCapacity),
		Overflow:      overflow,
		BlockTimeout:  ms(c.Batch.BlockTimeoutMs),
		WriteTimeout:  ms(c.Batch.WriteTimeoutMs),
	}.WithDefaults()
}

func (c *Config) DynamoOptions() dynamostore.Options {
	d := c.Destination
	return dynamostore.Options{
		TableName:   d.Table,
		Region:      d.Region,
		AccessKey:   d.AccessKey,
		SecretKey:   d.SecretKey,
		Endpoint:    d.Endpoint,
		ReuseClient: d.ReuseClient,
	}
}

func (c *Config) HTTPStoreOptions() httpstore.Options {
	d := c.Destination
	return httpstore.Options{
		URL:        d.URL,
		Collection: d.Collection,
		Compress:   d.Compress,
		Timeout:    ms(d.TimeoutMs),
	}
}

func (c *Config) DaemonConfig() daemon.Config {
	t := c.Sources.Tail
	return daemon.Config{
		LogRootPath:     t.Root,
		Pattern:         t.Pattern,
		ScanInterval:    ms(t.ScanIntervalMs),
		Workers:         int(t.Workers),
		FileQueueSize:   int(t.QueueSize),
		NodeName:        t.NodeName,
		FileIdleTimeout: ms(t.IdleTimeoutMs),
		FromStart:       t.FromStart,
	}
}

func (c *Config) ShutdownTimeout() time.Duration {
	return ms(c.Shutdown.TimeoutMs)
}
