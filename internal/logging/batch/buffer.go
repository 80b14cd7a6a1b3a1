package batch

import (
	"sync"
	"time"

	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
)

// Buffer is a bounded FIFO of pending events shared by producers and the
// flush goroutine. When it is full the configured OverflowPolicy applies.
type Buffer struct {
	mu     sync.Mutex
	items  []logging.LogEvent
	head   int
	size   int
	closed bool

	threshold    int
	policy       logging.OverflowPolicy
	blockTimeout time.Duration

	// ready is raised when size reaches threshold; capacity 1 coalesces signals.
	ready chan struct{}
	// space is closed and replaced on every drain to wake blocked producers.
	space chan struct{}
}

// NewBuffer clamps capacity and threshold to at least one event.
func NewBuffer(capacity, threshold int, policy logging.OverflowPolicy, blockTimeout time.Duration) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	if threshold < 1 {
		threshold = 1
	}
	if threshold > capacity {
		threshold = capacity
	}
	return &Buffer{
		items:        make([]logging.LogEvent, capacity),
		threshold:    threshold,
		policy:       policy,
		blockTimeout: blockTimeout,
		ready:        make(chan struct{}, 1),
		space:        make(chan struct{}),
	}
}

// Enqueue appends event to the tail. evicted reports that the oldest pending
// event was dropped to make room (OverflowDropOldest).
func (b *Buffer) Enqueue(event logging.LogEvent) (evicted bool, err error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return false, logging.ErrStopped
		}

		if b.size < len(b.items) {
			b.push(event)
			b.notifyLocked()
			b.mu.Unlock()
			return evicted, nil
		}

		switch b.policy {
		case logging.OverflowDropOldest:
			b.items[b.head] = logging.LogEvent{}
			b.head = (b.head + 1) % len(b.items)
			b.size--
			b.push(event)
			b.notifyLocked()
			b.mu.Unlock()
			return true, nil

		case logging.OverflowBlock:
			space := b.space
			b.mu.Unlock()
			if timer == nil {
				timer = time.NewTimer(b.blockTimeout)
			}
			select {
			case <-space:
				continue
			case <-timer.C:
				return false, logging.ErrBufferFull
			}

		default:
			b.mu.Unlock()
			return false, logging.ErrBufferFull
		}
	}
}

// Drain removes and returns up to max of the oldest events in insertion order.
func (b *Buffer) Drain(max int) []logging.LogEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.size
	if max < n {
		n = max
	}
	if n <= 0 {
		return nil
	}

	out := make([]logging.LogEvent, n)
	for i := 0; i < n; i++ {
		idx := (b.head + i) % len(b.items)
		out[i] = b.items[idx]
		b.items[idx] = logging.LogEvent{}
	}
	b.head = (b.head + n) % len(b.items)
	b.size -= n

	close(b.space)
	b.space = make(chan struct{})

	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) Cap() int {
	return len(b.items)
}

// Ready fires when the pending count has reached the flush threshold.
func (b *Buffer) Ready() <-chan struct{} {
	return b.ready
}

// Rearm raises the ready signal again if the threshold is still met.
func (b *Buffer) Rearm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifyLocked()
}

// Close rejects further events and wakes blocked producers. Pending events
// stay drainable.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.space)
	b.space = make(chan struct{})
}

func (b *Buffer) push(event logging.LogEvent) {
	b.items[(b.head+b.size)%len(b.items)] = event
	b.size++
}

func (b *Buffer) notifyLocked() {
	if b.size < b.threshold {
		return
	}
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
