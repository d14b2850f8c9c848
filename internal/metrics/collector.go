package metrics

import (
	"context"
	"time"

	"smart-gallery/internal/logging"
)

// StatsProvider supplies catalog statistics to the collector.
type StatsProvider interface {
	CollectStats(ctx context.Context) (Stats, error)
}

// Stats holds the catalog counts exported as gauges.
type Stats struct {
	ByType       map[string]int
	Favorites    int
	WithWorkflow int
}

// Collector periodically samples catalog statistics into gauges.
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := c.statsProvider.CollectStats(ctx)
	if err != nil {
		logging.Warn("Metrics collection failed: %v", err)
		return
	}

	// Types with no entries left must not keep their last count.
	CatalogEntries.Reset()
	total := 0
	for t, n := range stats.ByType {
		CatalogEntries.WithLabelValues(t).Set(float64(n))
		total += n
	}
	CatalogFavorites.Set(float64(stats.Favorites))
	CatalogWithWorkflow.Set(float64(stats.WithWorkflow))

	logging.Debug("Metrics collected: entries=%d, favorites=%d, with_workflow=%d",
		total, stats.Favorites, stats.WithWorkflow)
}
