package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/tenantcast/pkg/auth"
	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/cuemby/tenantcast/pkg/session"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// fakeConn records frames instead of writing them to a socket
type fakeConn struct {
	id string

	mu       sync.Mutex
	frames   [][]byte
	failWith error
	closed   bool
	reason   error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.reason = reason
}

func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWith = err
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) closeReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// messages decodes every recorded frame
func (c *fakeConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

// types lists the eventType (or type) of every recorded frame
func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range c.messages(t) {
		if et, ok := m["eventType"].(string); ok {
			out = append(out, et)
		} else if tp, ok := m["type"].(string); ok {
			out = append(out, tp)
		}
	}
	return out
}

// ofType returns the recorded frames with the given eventType
func (c *fakeConn) ofType(t *testing.T, eventType string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range c.messages(t) {
		if m["eventType"] == eventType {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

type staticRegistry struct {
	agents []any
}

func (r staticRegistry) SyncEnvelope() *events.Envelope {
	return events.New(events.TypeAgentRegistrySync, map[string]any{"agents": r.agents})
}

type testEnv struct {
	hub      *Hub
	auth     *auth.JWTAuthenticator
	sessions *session.Manager
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	authenticator := auth.NewJWTAuthenticator(testSecret, "", nil)
	sessions := session.NewMemoryStore(session.Options{})
	h := New(cfg, Deps{
		Authenticator: authenticator,
		Sessions:      sessions,
	})
	h.Start()
	t.Cleanup(h.Stop)
	return &testEnv{hub: h, auth: authenticator, sessions: sessions}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.auth.Issue(auth.Identity{UserID: userID, DisplayName: "User " + userID}, time.Hour)
	require.NoError(t, err)
	return tok
}

// connect registers a fake connection and clears its connect-time frames
func (e *testEnv) connect(t *testing.T, connID, userID, tenant string) (*fakeConn, *Binding) {
	t.Helper()
	conn := newFakeConn(connID)
	token := ""
	if userID != "" {
		token = e.token(t, userID)
	}
	b, err := e.hub.Connect(context.Background(), conn, token, tenant)
	require.NoError(t, err)
	conn.reset()
	return conn, b
}

// assertConsistent checks that connTenant and tenantConns mirror each other
func assertConsistent(t *testing.T, h *Hub) {
	t.Helper()
	require.NoError(t, h.submit(context.Background(), func() {
		for connID, tenant := range h.connTenant {
			_, ok := h.tenantConns[tenant][connID]
			assert.True(t, ok, "conn %s missing from tenant %s", connID, tenant)
			_, live := h.clients[connID]
			assert.True(t, live, "conn %s bound but not registered", connID)
		}
		for tenant, set := range h.tenantConns {
			assert.NotEmpty(t, set, "empty tenant %s retained", tenant)
			for connID := range set {
				assert.Equal(t, tenant, h.connTenant[connID])
			}
		}
		for tenant := range h.tenantHistory {
			_, ok := h.tenantConns[tenant]
			assert.True(t, ok, "orphaned history for %s", tenant)
		}
	}))
}

func tenantEnvelope(eventType, contextID string) *events.Envelope {
	env := events.New(eventType, map[string]any{})
	env.ContextID = contextID
	return env
}
