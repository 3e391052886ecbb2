package metrics

import "time"

// RunnerStats is the minimal snapshot the Collector needs from the Runner
// each tick, kept decoupled from pkg/runner to avoid an import cycle
// (pkg/runner already imports pkg/metrics for the health registry, the
// HTTP handlers and this Collector).
type RunnerStats struct {
	// ModulesRunning maps a running module's name to its processor count.
	ModulesRunning map[string]int
}

// StatsFunc is called on every collection tick to obtain the latest snapshot.
type StatsFunc func() RunnerStats

// Collector periodically samples Runner-level gauges that have no natural
// call site of their own (unlike per-slot or per-cycle counters, which are
// observed directly at the call site). Ticker+stopCh shape adapted from
// pkg/reconciler/reconciler.go's Reconciler.run driving loop.
type Collector struct {
	statsFn  StatsFunc
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector polling statsFn every interval.
func NewCollector(statsFn StatsFunc, interval time.Duration) *Collector {
	return &Collector{statsFn: statsFn, interval: interval, stopCh: make(chan struct{})}
}

// Start begins collecting metrics in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	stats := c.statsFn()
	for module, processors := range stats.ModulesRunning {
		ProcessorsRunning.WithLabelValues(module, "count").Set(float64(processors))
	}
}
