package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/cuemby/tenantcast/pkg/log"
	"github.com/cuemby/tenantcast/pkg/metrics"
	"github.com/rs/zerolog"
)

// DefaultInterval is the time between registry sync ticks
const DefaultInterval = 5 * time.Minute

// Publisher delivers the registry snapshot to every connection
type Publisher interface {
	BroadcastGlobal(ctx context.Context, env *events.Envelope) (int, error)
}

// Scheduler periodically refreshes the registry cache and publishes the
// result. Runs never overlap: a tick that finds a run in progress is skipped,
// and the next tick is always scheduled.
type Scheduler struct {
	cache     *Cache
	publisher Publisher
	interval  time.Duration
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex // guards timer, started, stopped and scheduled
	timer   *time.Timer
	stopped bool
	started bool
	// scheduled counts ticks armed so far
	scheduled int

	inProgress atomic.Bool
	runMu      sync.Mutex
	wg         sync.WaitGroup
}

// NewScheduler creates a scheduler; call Start to begin ticking
func NewScheduler(cache *Cache, publisher Publisher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cache:     cache,
		publisher: publisher,
		interval:  interval,
		logger:    log.WithComponent("registry-sync"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs a sync immediately and arms the first tick
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.interval).Msg("Registry sync started")
	s.tryRun()
	s.scheduleNext()
}

// Stop cancels the pending tick and waits for an in-flight run to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Registry sync stopped")
}

// TriggerNow starts a run immediately. It reports false when a run is
// already in progress or the scheduler is stopped.
func (s *Scheduler) TriggerNow() bool {
	return s.tryRun()
}

// Running reports whether a sync run is in flight
func (s *Scheduler) Running() bool {
	return s.inProgress.Load()
}

// Scheduled returns the number of ticks armed since Start
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

func (s *Scheduler) tick() {
	s.tryRun()
	s.scheduleNext()
}

func (s *Scheduler) scheduleNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.timer = time.AfterFunc(s.interval, s.tick)
	s.scheduled++
}

func (s *Scheduler) tryRun() bool {
	if s.inProgress.Load() {
		s.skip()
		return false
	}
	if !s.runMu.TryLock() {
		s.skip()
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.runMu.Unlock()
		return false
	}
	s.inProgress.Store(true)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.runMu.Unlock()
		defer s.inProgress.Store(false)
		s.sync()
	}()
	return true
}

func (s *Scheduler) skip() {
	metrics.RegistryTicksSkipped.Inc()
	s.logger.Debug().Msg("Registry sync already in progress, skipping")
}

func (s *Scheduler) sync() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RegistrySyncDuration)

	agents, err := s.cache.Refresh(s.ctx)
	if s.ctx.Err() != nil {
		return
	}

	delivered, pubErr := s.publisher.BroadcastGlobal(s.ctx, SyncEnvelope(agents))
	switch {
	case pubErr != nil:
		metrics.RegistrySyncsTotal.WithLabelValues("publish_error").Inc()
		s.logger.Error().Err(pubErr).Msg("Failed to publish registry snapshot")
		return
	case err != nil:
		metrics.RegistrySyncsTotal.WithLabelValues("fetch_error").Inc()
	default:
		metrics.RegistrySyncsTotal.WithLabelValues("success").Inc()
	}

	s.logger.Debug().
		Int("agents", len(agents)).
		Int("delivered", delivered).
		Dur("duration", timer.Duration()).
		Msg("Registry snapshot published")
}
