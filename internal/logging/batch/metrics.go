package batch

import (
	"sync"
)

type Stats struct {
	Enqueued      int `json:"enqueued"`
	Evicted       int `json:"evicted"`
	Rejected      int `json:"rejected"`
	Flushes       int `json:"flushes"`
	Batches       int `json:"batches"`
	FailedBatches int `json:"failed_batches"`
	Delivered     int `json:"delivered"`
	Lost          int `json:"lost"`
	Pending       int `json:"pending"`
}

type ProcessorMetrics struct {
	enqueued      int
	evicted       int
	rejected      int
	flushes       int
	batches       int
	failedBatches int
	delivered     int
	lost          int
	mu            sync.RWMutex
}

func (m *ProcessorMetrics) IncEnqueued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued++
}

func (m *ProcessorMetrics) IncEvicted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted++
}

func (m *ProcessorMetrics) IncRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected++
}

func (m *ProcessorMetrics) IncFlushes() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
}

func (m *ProcessorMetrics) AddDelivered(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	m.delivered += n
}

func (m *ProcessorMetrics) AddLost(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedBatches++
	m.lost += n
}

func (m *ProcessorMetrics) GetMetricsStamp() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Enqueued:      m.enqueued,
		Evicted:       m.evicted,
		Rejected:      m.rejected,
		Flushes:       m.flushes,
		Batches:       m.batches,
		FailedBatches: m.failedBatches,
		Delivered:     m.delivered,
		Lost:          m.lost,
	}
}
