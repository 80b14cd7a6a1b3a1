package logging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrBufferFull    = errors.New("event buffer is full")
	ErrStopped       = errors.New("forwarder is stopped")
	ErrStopTimeout   = errors.New("timed out waiting for final flush")
	ErrInvalidConfig = errors.New("invalid forwarder config")
)

type Level int

const (
	LevelVerbose Level = iota
	LevelDebug
	LevelInformation
	LevelWarning
	LevelError
	LevelFatal
)

var levelNames = [...]string{"Verbose", "Debug", "Information", "Warning", "Error", "Fatal"}

func (l Level) String() string {
	if l < LevelVerbose || l > LevelFatal {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel accepts full level names and the usual short forms, case-insensitive.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "verbose", "vrb", "trace":
		return LevelVerbose, nil
	case "debug", "dbg":
		return LevelDebug, nil
	case "information", "info", "inf", "":
		return LevelInformation, nil
	case "warning", "warn", "wrn":
		return LevelWarning, nil
	case "error", "err":
		return LevelError, nil
	case "fatal", "ftl", "critical":
		return LevelFatal, nil
	}
	return LevelInformation, fmt.Errorf("unknown level %q", s)
}

// LogEvent is handed over by a producer and never mutated afterwards.
type LogEvent struct {
	Timestamp       time.Time
	Level           Level
	MessageTemplate string
	RenderedMessage string
	Properties      map[string]any
	Exception       error
}

// Document is the persisted shape of one LogEvent. Attribute names are the
// storage contract with the remote table.
type Document struct {
	ID              string    `dynamodbav:"Id" json:"Id"`
	Timestamp       time.Time `dynamodbav:"Timestamp" json:"Timestamp"`
	Level           string    `dynamodbav:"Level" json:"Level"`
	MessageTemplate string    `dynamodbav:"MessageTemplate" json:"MessageTemplate"`
	RenderedMessage string    `dynamodbav:"RenderedMessage" json:"RenderedMessage"`
	Properties      string    `dynamodbav:"Properties" json:"Properties"`
}

// EventSink is the whole surface a hosting application depends on.
type EventSink interface {
	Enqueue(event LogEvent) error
	Start()
	// Stop waits up to timeout for the final flush. Delivery of pending events
	// is best effort: on timeout Stop returns ErrStopTimeout while the drain
	// continues in the background.
	Stop(timeout time.Duration) error
}

// Store is the remote document store. A Session is acquired for each flush
// and closed on every exit path.
type Store interface {
	Destination() string
	Open(ctx context.Context) (Session, error)
}

type Session interface {
	PutBatch(ctx context.Context, docs []Document) error
	Close() error
}

// Diagnostics is the write-only side channel for the forwarder's own failures.
type Diagnostics interface {
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

type OverflowPolicy int

const (
	// OverflowDropOldest evicts the oldest pending event to make room.
	OverflowDropOldest OverflowPolicy = iota
	// OverflowRejectNewest returns ErrBufferFull to the producer.
	OverflowRejectNewest
	// OverflowBlock waits up to Config.BlockTimeout for space, then rejects.
	OverflowBlock
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowDropOldest:
		return "drop_oldest"
	case OverflowRejectNewest:
		return "reject_newest"
	case OverflowBlock:
		return "block"
	}
	return fmt.Sprintf("OverflowPolicy(%d)", int(p))
}

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop_oldest", "drop-oldest", "":
		return OverflowDropOldest, nil
	case "reject_newest", "reject-newest", "reject":
		return OverflowRejectNewest, nil
	case "block":
		return OverflowBlock, nil
	}
	return OverflowDropOldest, fmt.Errorf("unknown overflow policy %q", s)
}

const (
	DefaultBatchSize    = 1000
	DefaultPeriod       = 5 * time.Second
	DefaultBlockTimeout = 50 * time.Millisecond
	DefaultWriteTimeout = 30 * time.Second
)

type Config struct {
	BatchSize     int
	Period        time.Duration
	QueueCapacity int
	Overflow      OverflowPolicy
	BlockTimeout  time.Duration
	WriteTimeout  time.Duration
}

// WithDefaults fills zero values. QueueCapacity defaults to ten batches.
func (c Config) WithDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 10 * c.BatchSize
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = DefaultBlockTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.Period <= 0 {
		return fmt.Errorf("%w: period must be positive, got %s", ErrInvalidConfig, c.Period)
	}
	if c.QueueCapacity < c.BatchSize {
		return fmt.Errorf("%w: queue capacity %d is smaller than batch size %d",
			ErrInvalidConfig, c.QueueCapacity, c.BatchSize)
	}
	if c.Overflow < OverflowDropOldest || c.Overflow > OverflowBlock {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.Overflow)
	}
	return nil
}
