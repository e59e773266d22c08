package telemetry

import (
	"sync"
	"time"
)

// SizeProvider reports the live actor population. Sizes are the values each
// instance recorded after its last turn, so reading them never touches an
// actor's database from outside its worker.
type SizeProvider interface {
	ActiveCount() int
	TotalDatabaseSize() int64
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	provider SizeProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider SizeProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	ActorsActive.Set(float64(mc.provider.ActiveCount()))
	DatabaseSizeBytes.Set(float64(mc.provider.TotalDatabaseSize()))
}
