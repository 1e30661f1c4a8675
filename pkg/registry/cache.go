package registry

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/cuemby/tenantcast/pkg/log"
	"github.com/cuemby/tenantcast/pkg/metrics"
	"github.com/rs/zerolog"
)

// Cache holds the last agent snapshot fetched from a Source
type Cache struct {
	source Source
	logger zerolog.Logger

	mu        sync.RWMutex
	agents    []Agent
	fetchedAt time.Time
	lastErr   error
}

// NewCache creates an empty cache over source. A nil source yields an
// always-empty registry.
func NewCache(source Source) *Cache {
	return &Cache{
		source: source,
		logger: log.WithComponent("registry"),
		agents: []Agent{},
	}
}

// Refresh fetches a new snapshot. On failure the snapshot becomes an empty
// list and the error is returned for logging.
func (c *Cache) Refresh(ctx context.Context) ([]Agent, error) {
	var (
		agents []Agent
		err    error
	)
	if c.source != nil {
		agents, err = c.source.Fetch(ctx)
	}
	if err != nil || agents == nil {
		agents = []Agent{}
	}

	c.mu.Lock()
	c.agents = agents
	c.fetchedAt = time.Now()
	c.lastErr = err
	c.mu.Unlock()

	metrics.RegistryAgents.Set(float64(len(agents)))
	if err != nil {
		c.logger.Warn().Err(err).Msg("Registry fetch failed, publishing empty list")
		metrics.UpdateComponent(metrics.ComponentRegistry, false, err.Error())
	} else {
		metrics.UpdateComponent(metrics.ComponentRegistry, true, "")
	}
	return c.Agents(), err
}

// Agents returns a copy of the current snapshot
func (c *Cache) Agents() []Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Agent, len(c.agents))
	copy(out, c.agents)
	return out
}

// FetchedAt returns when the snapshot was last refreshed
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// LastError returns the error of the last refresh, if any
func (c *Cache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// SyncEnvelope wraps the current snapshot as an agent_registry_sync event
func (c *Cache) SyncEnvelope() *events.Envelope {
	return SyncEnvelope(c.Agents())
}

// SyncEnvelope builds the agent_registry_sync event for agents
func SyncEnvelope(agents []Agent) *events.Envelope {
	if agents == nil {
		agents = []Agent{}
	}
	return events.New(events.TypeAgentRegistrySync, map[string]any{
		"agents": agents,
		"count":  len(agents),
	})
}
