package hub

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/tenantcast/pkg/auth"
	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/cuemby/tenantcast/pkg/session"
	"github.com/cuemby/tenantcast/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectAnonymousWithoutTenant(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	conn := newFakeConn("c1")

	b, err := env.hub.Connect(context.Background(), conn, "", "")
	require.NoError(t, err)
	assert.Empty(t, b.Tenant)
	assert.Nil(t, b.Identity)

	assert.Equal(t, []string{events.TypeAuthStatus, events.TypeSessionStarted}, conn.types(t))
	status := conn.ofType(t, events.TypeAuthStatus)[0]["data"].(map[string]any)
	assert.Equal(t, false, status["authenticated"])

	started := conn.ofType(t, events.TypeSessionStarted)[0]["data"].(map[string]any)
	assert.Equal(t, env.hub.Generation(), started["sessionId"])

	_, bound, err := env.hub.TenantOf(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, bound)
	assertConsistent(t, env.hub)
}

func TestConnectTenantResolution(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	inv, err := env.sessions.CreateInvitation(ctx, "alice", "alice", "bob")
	require.NoError(t, err)
	_, err = env.sessions.AcceptInvitation(ctx, inv.ID, "bob")
	require.NoError(t, err)

	tests := []struct {
		name          string
		user          string
		requested     string
		wantTenant    string
		stale         bool
		collaborative bool
	}{
		{name: "own id implied", user: "carol", requested: "", wantTenant: "carol"},
		{name: "own id explicit", user: "carol", requested: "carol", wantTenant: "carol"},
		{name: "member of session", user: "bob", requested: "alice", wantTenant: "alice", collaborative: true},
		{name: "not a member", user: "carol", requested: "alice", wantTenant: "carol", stale: true},
		{name: "unknown session", user: "carol", requested: "ghost", wantTenant: "carol", stale: true},
		{name: "anonymous literal tenant", user: "", requested: "lobby", wantTenant: "lobby"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn(tt.name)
			token := ""
			if tt.user != "" {
				token = env.token(t, tt.user)
			}
			b, err := env.hub.Connect(ctx, conn, token, tt.requested)
			require.NoError(t, err, "case %d", i)

			assert.Equal(t, tt.wantTenant, b.Tenant)
			assert.Equal(t, tt.stale, b.Stale)
			assert.Equal(t, tt.collaborative, b.Collaborative)
			assert.Equal(t, tt.stale, len(conn.ofType(t, events.TypeSessionInvalid)) == 1)
			if tt.collaborative {
				assert.Len(t, conn.ofType(t, events.TypeSessionUsers), 1)
			}
		})
	}
	assertConsistent(t, env.hub)
}

func TestConnectWithBadTokenIsAnonymous(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	conn := newFakeConn("c1")

	b, err := env.hub.Connect(context.Background(), conn, "garbage", "t1")
	require.NoError(t, err)
	assert.Nil(t, b.Identity)
	assert.Equal(t, "t1", b.Tenant)

	id, err := env.hub.Lookup(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestConnectReplaysHistory(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()
	env.connect(t, "u1-a", "u1", "")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stamped := func(e *events.Envelope, offset int) *events.Envelope {
		e.Timestamp = base.Add(time.Duration(offset) * time.Second)
		return e
	}

	_, err := env.hub.BroadcastGlobal(ctx, stamped(events.New("agent_status", nil), 1))
	require.NoError(t, err)
	_, err = env.hub.BroadcastToTenant(ctx, stamped(events.New("task_updated", nil), 2), "u1")
	require.NoError(t, err)
	_, err = env.hub.BroadcastToTenant(ctx, stamped(events.New(events.TypeMessage, nil), 3), "u1")
	require.NoError(t, err)
	_, err = env.hub.BroadcastGlobal(ctx, stamped(events.New(events.TypeSharedInferenceEnd, nil), 4))
	require.NoError(t, err)
	_, err = env.hub.BroadcastGlobal(ctx, stamped(events.New("workflow_done", nil), 5))
	require.NoError(t, err)

	conn := newFakeConn("u1-b")
	_, err = env.hub.Connect(ctx, conn, env.token(t, "u1"), "u1")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"agent_status",
		"task_updated",
		"workflow_done",
		events.TypeAuthStatus,
		events.TypeSessionStarted,
	}, conn.types(t))

	// Another tenant only sees global history
	other := newFakeConn("u2-a")
	_, err = env.hub.Connect(ctx, other, env.token(t, "u2"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent_status", "workflow_done", events.TypeAuthStatus, events.TypeSessionStarted}, other.types(t))
}

func TestConnectSendsRegistrySnapshotAndInvitations(t *testing.T) {
	authenticator := auth.NewJWTAuthenticator(testSecret, "", nil)
	sessions := session.NewMemoryStore(session.Options{})
	h := New(DefaultConfig(), Deps{
		Authenticator: authenticator,
		Sessions:      sessions,
		Registry:      staticRegistry{agents: []any{map[string]any{"id": "a1"}}},
	})
	h.Start()
	defer h.Stop()

	inv, err := sessions.CreateInvitation(context.Background(), "alice", "alice", "bob")
	require.NoError(t, err)

	token, err := authenticator.Issue(auth.Identity{UserID: "bob"}, time.Hour)
	require.NoError(t, err)
	conn := newFakeConn("bob-1")
	_, err = h.Connect(context.Background(), conn, token, "")
	require.NoError(t, err)

	assert.Equal(t, []string{
		events.TypeAgentRegistrySync,
		events.TypeAuthStatus,
		events.TypeSessionStarted,
		events.TypeSessionInvite,
	}, conn.types(t))

	invite := conn.ofType(t, events.TypeSessionInvite)[0]["data"].(map[string]any)
	assert.Equal(t, inv.ID, invite["invitationId"])
	assert.Equal(t, "alice", invite["fromUserId"])
}

// inviteMany sends n invitations to userID, each from a different session owner
func inviteMany(t *testing.T, env *testEnv, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		owner := fmt.Sprintf("owner-%02d", i)
		_, err := env.sessions.CreateInvitation(context.Background(), owner, owner, userID)
		require.NoError(t, err)
	}
}

func TestConnectCapsReplayedInvitations(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	inviteMany(t, env, "u2", MaxReplayedInvitations+8)

	conn := newFakeConn("u2-a")
	_, err := env.hub.Connect(context.Background(), conn, env.token(t, "u2"), "")
	require.NoError(t, err)
	assert.Len(t, conn.ofType(t, events.TypeSessionInvite), MaxReplayedInvitations)
}

func TestConnectFullReplayFitsDefaultQueue(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()
	env.connect(t, "u2-a", "u2", "")

	for i := 0; i < events.DefaultHistorySize; i++ {
		_, err := env.hub.BroadcastGlobal(ctx, events.New("agent_status", map[string]any{"n": i}))
		require.NoError(t, err)
		_, err = env.hub.BroadcastToTenant(ctx, events.New("task_updated", map[string]any{"n": i}), "u2")
		require.NoError(t, err)
	}
	inviteMany(t, env, "u2", 160)

	cfg := transport.DefaultConfig()
	require.GreaterOrEqual(t, cfg.QueueSize, ReplayFrames(events.DefaultHistorySize))

	conn := transport.NewConnection(ctx, nil, nil, cfg, zerolog.Nop())
	t.Cleanup(func() { conn.Close(nil) })

	b, err := env.hub.Connect(ctx, conn, env.token(t, "u2"), "")
	require.NoError(t, err)
	assert.Equal(t, "u2", b.Tenant)

	tenant, bound, err := env.hub.TenantOf(ctx, conn.ID())
	require.NoError(t, err)
	assert.True(t, bound)
	assert.Equal(t, "u2", tenant)
	assertConsistent(t, env.hub)
}

func TestConnectReportsUndeliveredReplay(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := env.hub.BroadcastGlobal(ctx, events.New("agent_status", map[string]any{"n": i}))
		require.NoError(t, err)
	}

	cfg := transport.DefaultConfig()
	cfg.QueueSize = 4
	conn := transport.NewConnection(ctx, nil, nil, cfg, zerolog.Nop())

	b, err := env.hub.Connect(ctx, conn, env.token(t, "u1"), "")
	assert.ErrorIs(t, err, ErrReplayUndelivered)
	assert.Nil(t, b)

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection was not closed")
	}

	_, bound, err := env.hub.TenantOf(ctx, conn.ID())
	require.NoError(t, err)
	assert.False(t, bound)

	stats, err := env.hub.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Connections)
	assertConsistent(t, env.hub)
}

func TestReplayFrames(t *testing.T) {
	assert.Equal(t, 2*100+connectStatusFrames+MaxReplayedInvitations, ReplayFrames(100))
	assert.Equal(t, ReplayFrames(events.DefaultHistorySize), ReplayFrames(0))
}

func TestConnectLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 2
	cfg.MaxConnectionsPerUser = 1
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	env.connect(t, "a1", "alice", "")

	_, err := env.hub.Connect(ctx, newFakeConn("a2"), env.token(t, "alice"), "")
	assert.ErrorIs(t, err, ErrTooManyConnections)

	_, err = env.hub.Connect(ctx, newFakeConn("a1"), "", "")
	assert.ErrorIs(t, err, ErrDuplicateConnection)

	env.connect(t, "anon", "", "")
	_, err = env.hub.Connect(ctx, newFakeConn("b1"), env.token(t, "bob"), "")
	assert.ErrorIs(t, err, ErrTooManyConnections)

	stats, err := env.hub.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Connections: 2, Authenticated: 1, Anonymous: 1, Tenants: 1, Users: 1}, stats)
}

func TestDisconnectRemovesTenantAndHistory(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	env.connect(t, "u1-a", "u1", "")
	env.connect(t, "u1-b", "u1", "")
	_, err := env.hub.BroadcastToTenant(ctx, events.New("task_updated", nil), "u1")
	require.NoError(t, err)

	require.NoError(t, env.hub.Disconnect(ctx, "u1-a"))
	assertConsistent(t, env.hub)
	require.NoError(t, env.hub.submit(ctx, func() {
		assert.Contains(t, env.hub.tenantHistory, "u1")
	}))

	require.NoError(t, env.hub.Disconnect(ctx, "u1-b"))
	require.NoError(t, env.hub.Disconnect(ctx, "u1-b"))
	assertConsistent(t, env.hub)
	require.NoError(t, env.hub.submit(ctx, func() {
		assert.NotContains(t, env.hub.tenantConns, "u1")
		assert.NotContains(t, env.hub.tenantHistory, "u1")
		assert.NotContains(t, env.hub.userConns, "u1")
		assert.Empty(t, env.hub.clients)
	}))

	// A reconnect starts with an empty tenant history
	conn := newFakeConn("u1-c")
	_, err = env.hub.Connect(ctx, conn, env.token(t, "u1"), "")
	require.NoError(t, err)
	assert.NotContains(t, conn.types(t), "task_updated")
}

func TestStoppedHubRejectsWork(t *testing.T) {
	h := New(DefaultConfig(), Deps{})
	h.Start()
	conn := newFakeConn("c1")
	_, err := h.Connect(context.Background(), conn, "", "")
	require.NoError(t, err)

	h.Stop()
	assert.Eventually(t, conn.isClosed, time.Second, 10*time.Millisecond)

	_, err = h.BroadcastGlobal(context.Background(), events.New("x", nil))
	assert.ErrorIs(t, err, ErrStopped)
}
