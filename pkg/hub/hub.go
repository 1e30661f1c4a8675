package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/tenantcast/pkg/auth"
	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/cuemby/tenantcast/pkg/log"
	"github.com/cuemby/tenantcast/pkg/metrics"
	"github.com/cuemby/tenantcast/pkg/session"
	"github.com/cuemby/tenantcast/pkg/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrStopped is returned for operations submitted after Stop
	ErrStopped = errors.New("hub stopped")
	// ErrTooManyConnections is returned when a connection limit is reached
	ErrTooManyConnections = errors.New("connection limit reached")
	// ErrDuplicateConnection is returned when a connection id is already registered
	ErrDuplicateConnection = errors.New("connection already registered")
	// ErrReplayUndelivered is returned by Connect when the connection could not take its
	// connect-time frames and was dropped
	ErrReplayUndelivered = errors.New("connect-time replay not delivered")
)

const (
	// MaxReplayedInvitations caps the pending invitations sent at connect, newest kept
	MaxReplayedInvitations = 32
	// connectStatusFrames covers registry snapshot, auth_status, session_started,
	// session_invalid and session_users
	connectStatusFrames = 5
)

// ReplayFrames is the most frames Connect queues on a new connection for the given
// history size: global and tenant history, status frames and replayed invitations.
// A connection's send queue must hold at least this many.
func ReplayFrames(historySize int) int {
	if historySize <= 0 {
		historySize = events.DefaultHistorySize
	}
	return 2*historySize + connectStatusFrames + MaxReplayedInvitations
}

// RegistryView supplies the agent registry snapshot replayed to new connections
type RegistryView interface {
	SyncEnvelope() *events.Envelope
}

// Config holds hub limits
type Config struct {
	HistorySize int
	// MaxConnections caps live connections; 0 means unlimited
	MaxConnections int
	// MaxConnectionsPerUser caps live connections per authenticated user; 0 means unlimited
	MaxConnectionsPerUser int
	// QueueSize is the number of operations buffered for the hub loop
	QueueSize int
}

// DefaultConfig returns the default hub limits
func DefaultConfig() Config {
	return Config{
		HistorySize:           events.DefaultHistorySize,
		MaxConnections:        10000,
		MaxConnectionsPerUser: 16,
		QueueSize:             1024,
	}
}

// Deps are the collaborators the hub consumes
type Deps struct {
	Authenticator auth.Authenticator
	Directory     auth.Directory
	Sessions      session.Store
	Registry      RegistryView
}

type client struct {
	conn        transport.Conn
	identity    *auth.Identity
	tenant      string
	connectedAt time.Time
}

func (c *client) userID() string {
	if c.identity == nil {
		return ""
	}
	return c.identity.UserID
}

// Hub owns the connection registry, replay history and fan-out.
// All registry state is confined to the loop goroutine; callers submit closures.
type Hub struct {
	cfg        Config
	deps       Deps
	generation string
	logger     zerolog.Logger

	opCh   chan func()
	stopCh chan struct{}
	doneCh chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// loop-owned
	clients       map[string]*client
	tenantConns   map[string]map[string]*client
	connTenant    map[string]string
	userConns     map[string]map[string]*client
	global        *events.History
	tenantHistory map[string]*events.History
}

// New creates a hub. Call Start before submitting work.
func New(cfg Config, deps Deps) *Hub {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = events.DefaultHistorySize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Hub{
		cfg:           cfg,
		deps:          deps,
		generation:    uuid.NewString(),
		logger:        log.WithComponent("hub"),
		opCh:          make(chan func(), cfg.QueueSize),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		clients:       make(map[string]*client),
		tenantConns:   make(map[string]map[string]*client),
		connTenant:    make(map[string]string),
		userConns:     make(map[string]map[string]*client),
		global:        events.NewHistory(cfg.HistorySize),
		tenantHistory: make(map[string]*events.History),
	}
}

// Generation identifies this process run; it changes on every restart
func (h *Hub) Generation() string {
	return h.generation
}

// Start begins the hub loop
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		go h.run()
		metrics.RegisterComponent(metrics.ComponentHub, true, "running")
	})
}

// Stop terminates the loop and closes every connection without draining
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		<-h.doneCh
		metrics.UpdateComponent(metrics.ComponentHub, false, "stopped")
	})
}

func (h *Hub) run() {
	defer close(h.doneCh)
	for {
		select {
		case op := <-h.opCh:
			op()
		case <-h.stopCh:
			for id, c := range h.clients {
				h.removeLocked(id)
				go c.conn.Close(ErrStopped)
			}
			return
		}
	}
}

// submit runs fn on the loop and waits for it to finish
func (h *Hub) submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}

	select {
	case h.opCh <- op:
	case <-h.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-h.doneCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats is an occupancy summary safe to expose on admin endpoints
type Stats struct {
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
	Anonymous     int `json:"anonymous"`
	Tenants       int `json:"tenants"`
	Users         int `json:"users"`
	GlobalHistory int `json:"globalHistory"`
}

// Stats returns aggregate counts only
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.submit(ctx, func() {
		s.Connections = len(h.clients)
		for _, c := range h.clients {
			if c.identity != nil {
				s.Authenticated++
			}
		}
		s.Anonymous = s.Connections - s.Authenticated
		s.Tenants = len(h.tenantConns)
		s.Users = len(h.userConns)
		s.GlobalHistory = h.global.Len()
	})
	return s, err
}

// MetricsSnapshot implements metrics.Source
func (h *Hub) MetricsSnapshot() (metrics.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := h.Stats(ctx)
	if err != nil {
		return metrics.Snapshot{}, err
	}
	return metrics.Snapshot{
		Connections:   s.Connections,
		Authenticated: s.Authenticated,
		Tenants:       s.Tenants,
		Users:         s.Users,
	}, nil
}

var _ metrics.Source = (*Hub)(nil)
