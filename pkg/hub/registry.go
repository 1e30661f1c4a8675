package hub

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/cuemby/tenantcast/pkg/auth"
	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/cuemby/tenantcast/pkg/metrics"
	"github.com/cuemby/tenantcast/pkg/session"
	"github.com/cuemby/tenantcast/pkg/transport"
)

// Binding describes how a connection was registered
type Binding struct {
	ConnID   string
	Tenant   string
	Identity *auth.Identity
	// Stale is set when the requested tenant was rejected and the user's own id was used instead
	Stale bool
	// Collaborative is set when the tenant is a session the user was admitted to
	Collaborative bool
}

// Connect authenticates conn, binds it to a tenant and replays connect-time state.
// A bad token is not an error; the connection proceeds anonymously.
func (h *Hub) Connect(ctx context.Context, conn transport.Conn, token, requestedTenant string) (*Binding, error) {
	var identity *auth.Identity
	if token != "" && h.deps.Authenticator != nil {
		id, err := h.deps.Authenticator.Verify(ctx, token)
		if err != nil {
			h.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("Token rejected, continuing anonymously")
		} else {
			identity = id
		}
	}

	binding := &Binding{ConnID: conn.ID(), Identity: identity}
	var sess *session.Session
	switch {
	case identity == nil:
		binding.Tenant = requestedTenant
	case requestedTenant == "" || requestedTenant == identity.UserID:
		binding.Tenant = identity.UserID
	default:
		if s, ok := h.memberSession(ctx, requestedTenant, identity.UserID); ok {
			binding.Tenant = requestedTenant
			binding.Collaborative = true
			sess = s
		} else {
			binding.Tenant = identity.UserID
			binding.Stale = true
		}
	}
	if sess == nil && binding.Tenant != "" && identity != nil {
		sess = h.lookupSession(ctx, binding.Tenant)
	}

	var pending []*session.Invitation
	if identity != nil && h.deps.Sessions != nil {
		invs, err := h.deps.Sessions.PendingInvitations(ctx, identity.UserID)
		if err != nil {
			h.logger.Warn().Err(err).Str("user_id", identity.UserID).Msg("Failed to load pending invitations")
		}
		pending = newestInvitations(invs, MaxReplayedInvitations)
	}

	var regErr error
	err := h.submit(ctx, func() {
		if regErr = h.admitLocked(conn.ID(), identity); regErr != nil {
			return
		}
		c := &client{conn: conn, identity: identity, tenant: binding.Tenant, connectedAt: time.Now()}
		h.addLocked(c)

		frames := h.connectFramesLocked(ctx, c, binding, sess, pending)
		if h.deliverLocked("connect", []*client{c}, frames...) == 0 {
			regErr = ErrReplayUndelivered
		}
	})
	if err != nil {
		return nil, err
	}
	switch {
	case errors.Is(regErr, ErrReplayUndelivered):
		metrics.ConnectionsTotal.WithLabelValues("dropped").Inc()
		return nil, regErr
	case regErr != nil:
		metrics.ConnectionsTotal.WithLabelValues("rejected").Inc()
		return nil, regErr
	}

	metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
	logger := h.logger.With().Str("conn_id", binding.ConnID).Str("tenant", binding.Tenant).Logger()
	if identity != nil {
		logger = logger.With().Str("user_id", identity.UserID).Logger()
	}
	logger.Info().Bool("stale", binding.Stale).Bool("collaborative", binding.Collaborative).Msg("Connection registered")
	return binding, nil
}

// Disconnect removes a connection. It is silent to other tenants and safe to repeat.
func (h *Hub) Disconnect(ctx context.Context, connID string) error {
	return h.submit(ctx, func() {
		if _, ok := h.clients[connID]; ok {
			h.removeLocked(connID)
			h.logger.Debug().Str("conn_id", connID).Msg("Connection removed")
		}
	})
}

// Lookup returns the identity bound to a connection, nil when anonymous or unknown
func (h *Hub) Lookup(ctx context.Context, connID string) (*auth.Identity, error) {
	var identity *auth.Identity
	err := h.submit(ctx, func() {
		if c, ok := h.clients[connID]; ok && c.identity != nil {
			id := *c.identity
			identity = &id
		}
	})
	return identity, err
}

// TenantOf returns the tenant a connection is bound to
func (h *Hub) TenantOf(ctx context.Context, connID string) (string, bool, error) {
	var (
		tenant string
		ok     bool
	)
	err := h.submit(ctx, func() {
		tenant, ok = h.connTenant[connID]
	})
	return tenant, ok, err
}

func (h *Hub) memberSession(ctx context.Context, sessionID, userID string) (*session.Session, bool) {
	s := h.lookupSession(ctx, sessionID)
	if s == nil || !s.HasMember(userID) {
		return nil, false
	}
	return s, true
}

func (h *Hub) lookupSession(ctx context.Context, sessionID string) *session.Session {
	if h.deps.Sessions == nil || sessionID == "" {
		return nil
	}
	s, err := h.deps.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Session lookup failed")
		}
		return nil
	}
	return s
}

func (h *Hub) admitLocked(connID string, identity *auth.Identity) error {
	if _, exists := h.clients[connID]; exists {
		return ErrDuplicateConnection
	}
	if h.cfg.MaxConnections > 0 && len(h.clients) >= h.cfg.MaxConnections {
		return ErrTooManyConnections
	}
	if identity != nil && h.cfg.MaxConnectionsPerUser > 0 && len(h.userConns[identity.UserID]) >= h.cfg.MaxConnectionsPerUser {
		return ErrTooManyConnections
	}
	return nil
}

func (h *Hub) addLocked(c *client) {
	id := c.conn.ID()
	h.clients[id] = c
	if c.tenant != "" {
		h.bindLocked(c, c.tenant)
	}
	if uid := c.userID(); uid != "" {
		if h.userConns[uid] == nil {
			h.userConns[uid] = make(map[string]*client)
		}
		h.userConns[uid][id] = c
	}
}

func (h *Hub) bindLocked(c *client, tenant string) {
	id := c.conn.ID()
	if h.tenantConns[tenant] == nil {
		h.tenantConns[tenant] = make(map[string]*client)
	}
	h.tenantConns[tenant][id] = c
	h.connTenant[id] = tenant
	c.tenant = tenant
}

// unbindLocked drops the connection from its tenant, deleting the scope and its history when emptied
func (h *Hub) unbindLocked(c *client) {
	id := c.conn.ID()
	tenant, ok := h.connTenant[id]
	if !ok {
		return
	}
	delete(h.connTenant, id)
	if set := h.tenantConns[tenant]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(h.tenantConns, tenant)
			delete(h.tenantHistory, tenant)
		}
	}
	c.tenant = ""
}

// rebindLocked moves a connection to another tenant
func (h *Hub) rebindLocked(c *client, tenant string) {
	h.unbindLocked(c)
	if tenant != "" {
		h.bindLocked(c, tenant)
	}
}

func (h *Hub) removeLocked(connID string) {
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	delete(h.clients, connID)
	h.unbindLocked(c)
	if uid := c.userID(); uid != "" {
		if set := h.userConns[uid]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(h.userConns, uid)
			}
		}
	}
}

// connectFramesLocked builds the frames replayed to a new connection, in send order
func (h *Hub) connectFramesLocked(ctx context.Context, c *client, b *Binding, sess *session.Session, pending []*session.Invitation) [][]byte {
	var envs []*events.Envelope

	replay := h.global.Replay()
	if th := h.tenantHistory[c.tenant]; th != nil {
		replay = append(replay, th.Replay()...)
		slices.SortStableFunc(replay, func(a, b *events.Envelope) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
	}
	envs = append(envs, replay...)

	if h.deps.Registry != nil {
		if env := h.deps.Registry.SyncEnvelope(); env != nil {
			envs = append(envs, env)
		}
	}

	authData := map[string]any{"authenticated": c.identity != nil}
	if c.identity != nil {
		authData["user"] = c.identity
	}
	if c.tenant != "" {
		authData["tenantId"] = c.tenant
	}
	envs = append(envs, events.New(events.TypeAuthStatus, authData))
	envs = append(envs, events.New(events.TypeSessionStarted, map[string]any{"sessionId": h.generation}))

	if b.Stale {
		envs = append(envs, events.New(events.TypeSessionInvalid, map[string]any{
			"tenantId": c.tenant,
			"message":  "Requested session is no longer available",
		}))
	}
	if sess != nil {
		envs = append(envs, h.sessionUsersLocked(ctx, sess, c))
	}
	for _, inv := range pending {
		envs = append(envs, h.inviteEnvelopeLocked(inv))
	}

	return h.encodeAll(envs)
}

// newestInvitations keeps at most limit invitations, the most recent ones, oldest first
func newestInvitations(invs []*session.Invitation, limit int) []*session.Invitation {
	slices.SortStableFunc(invs, func(a, b *session.Invitation) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(invs) > limit {
		invs = invs[len(invs)-limit:]
	}
	return invs
}

func (h *Hub) encodeAll(envs []*events.Envelope) [][]byte {
	frames := make([][]byte, 0, len(envs))
	for _, env := range envs {
		frame, err := env.Encode()
		if err != nil {
			h.logger.Error().Err(err).Str("event_type", env.EventType).Msg("Failed to encode envelope")
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}

// deliverLocked sends frames in order to every target and removes the connections
// that fail, after iterating. It returns the number of targets that accepted every frame.
func (h *Hub) deliverLocked(scope string, targets []*client, frames ...[]byte) int {
	var failed []transport.SendResult
	delivered := 0
	for _, c := range targets {
		ok := true
		for _, frame := range frames {
			res := transport.Attempt(c.conn, frame)
			if !res.Delivered() {
				failed = append(failed, res)
				ok = false
				break
			}
		}
		if ok {
			delivered++
		}
	}

	metrics.DeliveriesTotal.WithLabelValues("delivered").Add(float64(delivered))
	if len(failed) > 0 {
		metrics.DeliveriesTotal.WithLabelValues("failed").Add(float64(len(failed)))
	}

	for _, res := range failed {
		c, ok := h.clients[res.ConnID]
		if !ok {
			continue
		}
		h.removeLocked(res.ConnID)
		h.logger.Warn().Err(res.Err).Str("conn_id", res.ConnID).Str("scope", scope).Msg("Delivery failed, connection dropped")
		go c.conn.Close(res.Err)
	}
	return delivered
}
