package metrics

import (
	"sync"
)

// Metrics tracks request counters for the web server
type Metrics struct {
	mu sync.RWMutex

	totalRequests int64
	filesServed   int64
	entryServed   int64
	notFound      int64
	errors        int64
	bytesServed   int64
	droppedLogs   int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncrementTotalRequests increments the total requests counter
func (m *Metrics) IncrementTotalRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
}

// IncrementFilesServed increments the static files counter
func (m *Metrics) IncrementFilesServed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filesServed++
}

// IncrementEntryServed increments the entry page counter
func (m *Metrics) IncrementEntryServed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entryServed++
}

// IncrementNotFound increments the not found counter
func (m *Metrics) IncrementNotFound() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notFound++
}

// IncrementErrors increments the server error counter
func (m *Metrics) IncrementErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

// IncrementDroppedLogs counts access records dropped because the buffer was full
func (m *Metrics) IncrementDroppedLogs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedLogs++
}

// AddBytesServed adds n to the bytes served counter
func (m *Metrics) AddBytesServed(n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesServed += n
}

// GetSnapshot returns a snapshot of all metrics
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"total_requests": m.totalRequests,
		"files_served":   m.filesServed,
		"entry_served":   m.entryServed,
		"not_found":      m.notFound,
		"errors":         m.errors,
		"bytes_served":   m.bytesServed,
		"dropped_logs":   m.droppedLogs,
	}
}
