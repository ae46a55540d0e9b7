package hookwire

import (
	"sync"
	"time"
)

// Metrics is a point-in-time snapshot of dispatch counters.
type Metrics struct {
	TotalDispatches       int64            `json:"total_dispatches"`
	Successes             int64            `json:"successes"`
	Failures              int64            `json:"failures"`
	TotalProcessingTime   time.Duration    `json:"total_processing_time"`
	SuccessRate           float64          `json:"success_rate"`
	AverageProcessingTime time.Duration    `json:"average_processing_time"`
	PerActivity           map[string]int64 `json:"per_activity_counts"`
}

// Collector accumulates process-wide dispatch counters. One Collector is
// created with the bus and shared by every dispatch; updates are serialized
// so that Successes+Failures always equals TotalDispatches, under any
// interleaving of Record and Reset.
type Collector struct {
	mu          sync.Mutex
	total       int64
	successes   int64
	failures    int64
	elapsed     time.Duration
	perActivity map[string]int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{perActivity: make(map[string]int64)}
}

// Record folds one dispatch outcome into the counters.
func (c *Collector) Record(result *DispatchResult) {
	if result == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if result.Success {
		c.successes++
	} else {
		c.failures++
	}
	c.elapsed += result.Elapsed
	if result.Activity != "" {
		c.perActivity[result.Activity]++
	}
}

// Snapshot returns the current counters with derived rates. Both rates are
// defined as 0 when no dispatches have been recorded.
func (c *Collector) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := Metrics{
		TotalDispatches:     c.total,
		Successes:           c.successes,
		Failures:            c.failures,
		TotalProcessingTime: c.elapsed,
		PerActivity:         make(map[string]int64, len(c.perActivity)),
	}
	for k, v := range c.perActivity {
		m.PerActivity[k] = v
	}
	if c.total > 0 {
		m.SuccessRate = float64(c.successes) / float64(c.total)
		m.AverageProcessingTime = c.elapsed / time.Duration(c.total)
	}
	return m
}

// Reset zeroes all counters.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total = 0
	c.successes = 0
	c.failures = 0
	c.elapsed = 0
	c.perActivity = make(map[string]int64)
}
