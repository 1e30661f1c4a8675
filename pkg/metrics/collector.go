package metrics

import (
	"time"
)

// Snapshot is a point-in-time view of hub occupancy
type Snapshot struct {
	Connections   int
	Authenticated int
	Tenants       int
	Users         int
}

// Source reports hub occupancy
type Source interface {
	MetricsSnapshot() (Snapshot, error)
}

// Collector periodically copies a Source's occupancy into the gauges
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap, err := c.source.MetricsSnapshot()
	if err != nil {
		return
	}

	ConnectionsActive.Set(float64(snap.Connections))
	ConnectionsAuthenticated.Set(float64(snap.Authenticated))
	TenantsActive.Set(float64(snap.Tenants))
	UsersOnline.Set(float64(snap.Users))
}
