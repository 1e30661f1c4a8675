package hub

import (
	"context"
	"testing"

	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	anon, _ := env.connect(t, "anon", "", "")
	other, _ := env.connect(t, "u1", "U1", "")

	env.hub.HandleFrame(ctx, "anon", []byte(`{"type":"chat","text":"hi"}`))

	msgs := anon.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["eventType"])
	assert.Equal(t, map[string]any{"message": "Authentication required for chat"}, msgs[0]["data"])
	assert.Empty(t, other.messages(t))

	require.NoError(t, env.hub.submit(ctx, func() {
		assert.Zero(t, env.hub.global.Len())
	}))
}

func TestChatBroadcastsGlobally(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	u1, _ := env.connect(t, "u1", "U1", "")
	u2, _ := env.connect(t, "u2", "U2", "")
	anon, _ := env.connect(t, "anon", "", "")

	env.hub.HandleFrame(ctx, "u1", []byte(`{"type":"chat","text":"hello all"}`))

	for _, c := range []*fakeConn{u1, u2, anon} {
		chats := c.ofType(t, events.TypeChatMessage)
		require.Len(t, chats, 1, "conn %s", c.ID())
		data := chats[0]["data"].(map[string]any)
		assert.Equal(t, "hello all", data["text"])
		assert.Equal(t, "U1", data["userId"])
		assert.Equal(t, "User U1", data["displayName"])
	}

	// Frames without text are dropped
	u1.reset()
	env.hub.HandleFrame(ctx, "u1", []byte(`{"type":"chat"}`))
	assert.Empty(t, u1.messages(t))
}

func TestPingAndMalformedFrames(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	conn, _ := env.connect(t, "c1", "", "")

	env.hub.HandleFrame(ctx, "c1", []byte(`{"type":"ping"}`))
	assert.Equal(t, []map[string]any{{"type": "pong"}}, conn.messages(t))

	conn.reset()
	for _, raw := range []string{`not json`, `[1,2]`, `{"type":"teleport"}`, `{}`} {
		env.hub.HandleFrame(ctx, "c1", []byte(raw))
	}
	assert.Empty(t, conn.messages(t))

	stats, err := env.hub.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Connections)
}

func TestOnlineUsersExcludesRequester(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	u1a, _ := env.connect(t, "u1-a", "U1", "")
	env.connect(t, "u1-b", "U1", "")
	env.connect(t, "u2", "U2", "")
	anon, _ := env.connect(t, "anon", "", "")

	env.hub.HandleFrame(ctx, "u1-a", []byte(`{"type":"get_online_users"}`))
	msgs := u1a.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, events.TypeOnlineUsers, msgs[0]["eventType"])
	users := msgs[0]["users"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, "U2", users[0].(map[string]any)["userId"])

	env.hub.HandleFrame(ctx, "anon", []byte(`{"type":"get_online_users"}`))
	users = anon.messages(t)[0]["users"].([]any)
	require.Len(t, users, 2)
	first := users[0].(map[string]any)
	assert.Equal(t, "U1", first["userId"])
	assert.Equal(t, float64(2), first["connections"])
}

func TestSharedFramesAreTaggedWithSenderTenant(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	u1, _ := env.connect(t, "u1", "U1", "")
	u2, _ := env.connect(t, "u2", "U2", "")
	unbound, _ := env.connect(t, "anon", "", "")

	// The client-supplied contextId cannot redirect the message to another tenant
	env.hub.HandleFrame(ctx, "u1", []byte(`{"type":"shared_message","message":{"text":"hi"},"contextId":"U2"}`))

	shared := u1.ofType(t, events.TypeSharedMessage)
	require.Len(t, shared, 1)
	assert.Equal(t, "U1", shared[0]["contextId"])
	data := shared[0]["data"].(map[string]any)
	assert.Equal(t, map[string]any{"text": "hi"}, data["message"])
	assert.Equal(t, "U1", data["sender"].(map[string]any)["userId"])
	assert.Empty(t, u2.messages(t))

	env.hub.HandleFrame(ctx, "u1", []byte(`{"type":"shared_inference_started","data":{"model":"m1"}}`))
	started := u1.ofType(t, events.TypeSharedInferenceStart)
	require.Len(t, started, 1)
	assert.Equal(t, "m1", started[0]["data"].(map[string]any)["model"])

	// Missing payloads and unbound senders are dropped
	u1.reset()
	env.hub.HandleFrame(ctx, "u1", []byte(`{"type":"shared_inference_ended"}`))
	env.hub.HandleFrame(ctx, "anon", []byte(`{"type":"shared_message","message":"x"}`))
	assert.Empty(t, u1.messages(t))
	assert.Empty(t, unbound.messages(t))
}

func TestSharedFramesReachCollaborators(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	u1, _ := env.connect(t, "u1", "U1", "")
	u2, _ := env.connect(t, "u2", "U2", "")
	inviteAndAccept(t, env, u1, u2, "U1", "U2")
	u2Session, _ := env.connect(t, "u2-session", "U2", "U1")
	u1.reset()
	u2.reset()

	env.hub.HandleFrame(ctx, "u2-session", []byte(`{"type":"shared_message","message":"from guest"}`))

	for _, c := range []*fakeConn{u1, u2, u2Session} {
		shared := c.ofType(t, events.TypeSharedMessage)
		require.Len(t, shared, 1, "conn %s", c.ID())
		assert.Equal(t, "U1", shared[0]["contextId"])
	}
}
