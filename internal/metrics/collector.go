// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Item metrics (only for batch operations such as index builds)
	TotalItems int64
	MinItems   int64
	MaxItems   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Item stats (nil if not applicable)
	TotalItems *int64   `json:"total_items,omitempty"`
	AvgItems   *float64 `json:"avg_items,omitempty"`
	MinItems   *int64   `json:"min_items,omitempty"`
	MaxItems   *int64   `json:"max_items,omitempty"`
}

// Snapshot represents the session statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	IndexBuild    *OperationSnapshot `json:"index_build,omitempty"`
	Match         *OperationSnapshot `json:"match,omitempty"`
	Recommend     *OperationSnapshot `json:"recommend,omitempty"`
	Rate          *OperationSnapshot `json:"rate,omitempty"`
	StoreCommit   *OperationSnapshot `json:"store_commit,omitempty"`
	Enrich        *OperationSnapshot `json:"enrich,omitempty"`
}

// Operation names for the collector.
const (
	OpIndexBuild  = "index_build"
	OpMatch       = "match"
	OpRecommend   = "recommend"
	OpRate        = "rate"
	OpStoreCommit = "store_commit"
	OpEnrich      = "enrich"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:  time.Duration(math.MaxInt64),
			MinItems: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

func (m *OperationMetrics) observe(d time.Duration) {
	m.Count++
	m.TotalTime += d
	if d < m.MinTime {
		m.MinTime = d
	}
	if d > m.MaxTime {
		m.MaxTime = d
	}
}

// RecordTiming records timing for an operation. A nil collector is a no-op.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(op).observe(duration)
}

// RecordBatch records timing and the number of items a batch operation
// handled.
func (c *Collector) RecordBatch(op string, duration time.Duration, items int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.observe(duration)
	m.TotalItems += items
	if items < m.MinItems {
		m.MinItems = items
	}
	if items > m.MaxItems {
		m.MaxItems = items
	}
}

// Time returns a func that records the elapsed time for op when called.
//
//	defer collector.Time(metrics.OpRecommend)()
func (c *Collector) Time(op string) func() {
	start := time.Now()
	return func() { c.RecordTiming(op, time.Since(start)) }
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}
	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
	if m.TotalItems > 0 {
		total := m.TotalItems
		avg := float64(m.TotalItems) / float64(m.Count)
		minItems, maxItems := m.MinItems, m.MaxItems
		snap.TotalItems = &total
		snap.AvgItems = &avg
		snap.MinItems = &minItems
		snap.MaxItems = &maxItems
	}
	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		IndexBuild:    snapshotOp(c.ops[OpIndexBuild]),
		Match:         snapshotOp(c.ops[OpMatch]),
		Recommend:     snapshotOp(c.ops[OpRecommend]),
		Rate:          snapshotOp(c.ops[OpRate]),
		StoreCommit:   snapshotOp(c.ops[OpStoreCommit]),
		Enrich:        snapshotOp(c.ops[OpEnrich]),
	}
}
