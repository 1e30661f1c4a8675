package hub

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/cuemby/tenantcast/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastGlobalReachesEveryConnection(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	u1, _ := env.connect(t, "u1", "u1", "")
	u2, _ := env.connect(t, "u2", "u2", "")
	anon, _ := env.connect(t, "anon", "", "")

	n, err := env.hub.BroadcastGlobal(context.Background(), events.New(events.TypeAgentRegistrySync, nil))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, c := range []*fakeConn{u1, u2, anon} {
		assert.Equal(t, []string{events.TypeAgentRegistrySync}, c.types(t))
	}
}

func TestBroadcastToTenantIsolation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	t1a, _ := env.connect(t, "t1-a", "t1", "")
	t1b, _ := env.connect(t, "t1-b", "t1", "")
	t2, _ := env.connect(t, "t2", "t2", "")
	anon, _ := env.connect(t, "anon", "", "")

	n, err := env.hub.BroadcastToTenant(ctx, events.New("task_updated", nil), "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Len(t, t1a.ofType(t, "task_updated"), 1)
	assert.Len(t, t1b.ofType(t, "task_updated"), 1)
	assert.Empty(t, t2.messages(t))
	assert.Empty(t, anon.messages(t))
}

func TestBroadcastToTenantWithoutListeners(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	other, _ := env.connect(t, "t2", "t2", "")

	n, err := env.hub.BroadcastToTenant(ctx, events.New("task_updated", nil), "t1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, other.messages(t))

	// Nothing is retained for the absent tenant
	require.NoError(t, env.hub.submit(ctx, func() {
		assert.NotContains(t, env.hub.tenantHistory, "t1")
		assert.Zero(t, env.hub.global.Len())
	}))
	assertConsistent(t, env.hub)
}

func TestSmartBroadcastRouting(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	a, _ := env.connect(t, "a", "A", "")
	b, _ := env.connect(t, "b", "B", "")
	literal, _ := env.connect(t, "literal", "", "B::chat")

	tests := []struct {
		name     string
		env      func() *events.Envelope
		want     int
		received []*fakeConn
	}{
		{
			name: "conversation prefix",
			env: func() *events.Envelope {
				return events.New("task_updated", map[string]any{"conversationId": "A::B"})
			},
			want:     1,
			received: []*fakeConn{a},
		},
		{
			name:     "envelope context id wins",
			env:      func() *events.Envelope { return tenantEnvelope("task_updated", "B") },
			want:     1,
			received: []*fakeConn{b},
		},
		{
			name: "snake case nested id",
			env: func() *events.Envelope {
				return events.New("task_updated", map[string]any{"context_id": "A"})
			},
			want:     1,
			received: []*fakeConn{a},
		},
		{
			name:     "literal scope preferred over prefix",
			env:      func() *events.Envelope { return tenantEnvelope("task_updated", "B::chat") },
			want:     1,
			received: []*fakeConn{literal},
		},
		{
			name:     "unknown tenant dropped",
			env:      func() *events.Envelope { return tenantEnvelope("task_updated", "C::x") },
			want:     0,
			received: nil,
		},
		{
			name:     "no context dropped",
			env:      func() *events.Envelope { return events.New("task_updated", map[string]any{"x": 1}) },
			want:     0,
			received: nil,
		},
	}

	all := []*fakeConn{a, b, literal}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, c := range all {
				c.reset()
			}
			n, err := env.hub.SmartBroadcast(ctx, tt.env())
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)

			for _, c := range all {
				expected := 0
				for _, r := range tt.received {
					if r == c {
						expected = 1
					}
				}
				assert.Len(t, c.messages(t), expected, "conn %s", c.ID())
			}
		})
	}
}

func TestCollaborativeAdditiveDelivery(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	for _, member := range []string{"m1", "m2"} {
		inv, err := env.sessions.CreateInvitation(ctx, "T", "T", member)
		require.NoError(t, err)
		_, err = env.sessions.AcceptInvitation(ctx, inv.ID, member)
		require.NoError(t, err)
	}

	owner, _ := env.connect(t, "owner", "T", "")
	m1Session, b := env.connect(t, "m1-session", "m1", "T")
	require.True(t, b.Collaborative)
	m1Own, _ := env.connect(t, "m1-own", "m1", "")
	m2, _ := env.connect(t, "m2", "m2", "")
	outsider, _ := env.connect(t, "outsider", "x", "")

	n, err := env.hub.BroadcastToTenant(ctx, events.New("task_updated", nil), "T")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = env.hub.SmartBroadcast(ctx, tenantEnvelope("task_progress", "T::conv"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	for _, c := range []*fakeConn{owner, m1Session, m1Own, m2} {
		assert.Equal(t, []string{"task_updated", "task_progress"}, c.types(t), "conn %s", c.ID())
	}
	assert.Empty(t, outsider.messages(t))
}

func TestFailedDeliveryPrunesConnection(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	healthy, _ := env.connect(t, "healthy", "t1", "")
	broken, _ := env.connect(t, "broken", "t1", "")
	full, _ := env.connect(t, "full", "t2", "")
	broken.fail(transport.ErrClosed)
	full.fail(transport.ErrQueueFull)

	n, err := env.hub.BroadcastGlobal(ctx, events.New("agent_status", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, healthy.messages(t), 1)

	assert.Eventually(t, func() bool { return broken.isClosed() && full.isClosed() }, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, broken.closeReason(), transport.ErrClosed)

	stats, err := env.hub.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 1, stats.Tenants)
	assertConsistent(t, env.hub)

	// Later broadcasts to the pruned tenant are isolation misses
	n, err = env.hub.BroadcastToTenant(ctx, events.New("task_updated", nil), "t2")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTenantHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	env.connect(t, "t1", "t1", "")
	for i := 0; i < 4; i++ {
		_, err := env.hub.BroadcastToTenant(ctx, events.New(fmt.Sprintf("step_%d", i), nil), "t1")
		require.NoError(t, err)
	}

	var snapshot []*events.Envelope
	require.NoError(t, env.hub.submit(ctx, func() {
		if history := env.hub.tenantHistory["t1"]; history != nil {
			snapshot = history.Snapshot()
		}
	}))
	require.Len(t, snapshot, 3)
	assert.Equal(t, "step_1", snapshot[0].EventType)
	assert.Equal(t, "step_3", snapshot[2].EventType)
}

func TestBroadcastPreservesOrderWithinScope(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	conn, _ := env.connect(t, "t1", "t1", "")
	var want []string
	for i := 0; i < 20; i++ {
		eventType := fmt.Sprintf("event_%02d", i)
		want = append(want, eventType)
		_, err := env.hub.SmartBroadcast(ctx, tenantEnvelope(eventType, "t1"))
		require.NoError(t, err)
	}
	assert.Equal(t, want, conn.types(t))
}
