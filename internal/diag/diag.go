// Package diag is the forwarder's self-diagnostics channel. It never
// panics into the caller and never recurses into the event pipeline.
package diag

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/lixenwraith/log"
)

// Backend is the subset of *log.Logger the channel writes to.
type Backend interface {
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)
}

var _ Backend = (*log.Logger)(nil)

type Options struct {
	// Every and Burst bound how often messages reach the backend.
	// Zero Every disables limiting.
	Every time.Duration
	Burst int
}

// Channel implements logging.Diagnostics.
type Channel struct {
	backend    Backend
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

func New(backend Backend, opts Options) *Channel {
	c := &Channel{backend: backend}
	if opts.Every > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Every(opts.Every), burst)
	}
	return c
}

// Discard drops everything.
var Discard = &Channel{}

func (c *Channel) Info(msg string, keyvals ...any)  { c.emit(levelInfo, msg, keyvals) }
func (c *Channel) Warn(msg string, keyvals ...any)  { c.emit(levelWarn, msg, keyvals) }
func (c *Channel) Error(msg string, keyvals ...any) { c.emit(levelError, msg, keyvals) }

// Suppressed reports messages dropped by the limiter since the last one that
// got through. That count is attached to the next delivered message.
func (c *Channel) Suppressed() uint64 {
	return c.suppressed.Load()
}

type level int

const (
	levelInfo level = iota
	levelWarn
	levelError
)

func (c *Channel) emit(lvl level, msg string, keyvals []any) {
	if c == nil || c.backend == nil {
		return
	}
	defer func() { _ = recover() }()

	if c.limiter != nil && !c.limiter.Allow() {
		c.suppressed.Add(1)
		return
	}

	args := make([]any, 0, len(keyvals)+4)
	args = append(args, "msg", msg)
	args = append(args, keyvals...)
	if n := c.suppressed.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}

	switch lvl {
	case levelWarn:
		c.backend.Warn(args...)
	case levelError:
		c.backend.Error(args...)
	default:
		c.backend.Info(args...)
	}
}
