package hub

import (
	"context"

	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/cuemby/tenantcast/pkg/metrics"
)

const (
	scopeGlobal = "global"
	scopeTenant = "tenant"
	scopeSmart  = "smart"
)

// BroadcastGlobal records env in the global history and sends it to every connection
func (h *Hub) BroadcastGlobal(ctx context.Context, env *events.Envelope) (int, error) {
	env.Stamp()
	frame, err := env.Encode()
	if err != nil {
		return 0, err
	}

	var n int
	err = h.submit(ctx, func() {
		timer := metrics.NewTimer()
		defer timer.ObserveDurationVec(metrics.BroadcastDuration, scopeGlobal)

		h.global.Append(env)
		targets := make([]*client, 0, len(h.clients))
		for _, c := range h.clients {
			targets = append(targets, c)
		}
		n = h.deliverLocked(scopeGlobal, targets, frame)
	})
	recordBroadcast(scopeGlobal, n, err)
	return n, err
}

// BroadcastToTenant sends env to the tenant's connections and to the connections of any
// collaborative session members. A tenant without connections receives nothing and nothing
// is delivered elsewhere.
func (h *Hub) BroadcastToTenant(ctx context.Context, env *events.Envelope, tenant string) (int, error) {
	env.Stamp()
	frame, err := env.Encode()
	if err != nil {
		return 0, err
	}

	var n int
	err = h.submit(ctx, func() {
		timer := metrics.NewTimer()
		defer timer.ObserveDurationVec(metrics.BroadcastDuration, scopeTenant)

		n = h.tenantLocked(ctx, env, frame, tenant)
	})
	recordBroadcast(scopeTenant, n, err)
	return n, err
}

// SmartBroadcast derives the tenant from the envelope's context id. The raw candidate is
// tried first, then its "tenant::" prefix. Envelopes with no live tenant are dropped.
func (h *Hub) SmartBroadcast(ctx context.Context, env *events.Envelope) (int, error) {
	env.Stamp()
	candidate, ok := events.ContextCandidate(env)
	if !ok {
		h.logger.Debug().Str("event_type", env.EventType).Msg("No context id, event dropped")
		recordBroadcast(scopeSmart, 0, nil)
		return 0, nil
	}
	frame, err := env.Encode()
	if err != nil {
		return 0, err
	}

	var n int
	err = h.submit(ctx, func() {
		timer := metrics.NewTimer()
		defer timer.ObserveDurationVec(metrics.BroadcastDuration, scopeSmart)

		tenant, found := h.resolveTenantLocked(candidate)
		if !found {
			h.logger.Debug().Str("context_id", candidate).Str("event_type", env.EventType).Msg("No live tenant for context, event dropped")
			return
		}
		n = h.tenantLocked(ctx, env, frame, tenant)
	})
	recordBroadcast(scopeSmart, n, err)
	return n, err
}

func (h *Hub) resolveTenantLocked(candidate string) (string, bool) {
	if len(h.tenantConns[candidate]) > 0 {
		return candidate, true
	}
	if tenant, ok := events.TenantFromContext(candidate); ok && len(h.tenantConns[tenant]) > 0 {
		return tenant, true
	}
	return "", false
}

func (h *Hub) tenantLocked(ctx context.Context, env *events.Envelope, frame []byte, tenant string) int {
	conns := h.tenantConns[tenant]
	if len(conns) == 0 {
		return 0
	}

	history, ok := h.tenantHistory[tenant]
	if !ok {
		history = events.NewHistory(h.cfg.HistorySize)
		h.tenantHistory[tenant] = history
	}
	history.Append(env)

	seen := make(map[string]struct{}, len(conns))
	targets := make([]*client, 0, len(conns))
	for id, c := range conns {
		seen[id] = struct{}{}
		targets = append(targets, c)
	}
	for _, member := range h.collaboratorsLocked(ctx, tenant) {
		for id, c := range h.userConns[member] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, c)
		}
	}

	return h.deliverLocked(scopeTenant, targets, frame)
}

// collaboratorsLocked lists the session members of tenant other than the tenant itself
func (h *Hub) collaboratorsLocked(ctx context.Context, tenant string) []string {
	sess := h.lookupSession(ctx, tenant)
	if sess == nil {
		return nil
	}
	members := make([]string, 0, sess.Size())
	for _, id := range sess.AllMemberIDs() {
		if id != tenant {
			members = append(members, id)
		}
	}
	return members
}

func recordBroadcast(scope string, delivered int, err error) {
	result := "delivered"
	switch {
	case err != nil:
		result = "error"
	case delivered == 0:
		result = "dropped"
	}
	metrics.BroadcastsTotal.WithLabelValues(scope, result).Inc()
}
