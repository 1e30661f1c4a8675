package hub

import (
	"context"
	"sort"
	"time"

	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/cuemby/tenantcast/pkg/metrics"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Client frame types
const (
	FrameChat                   = "chat"
	FrameSharedMessage          = "shared_message"
	FrameSharedInferenceStarted = "shared_inference_started"
	FrameSharedInferenceEnded   = "shared_inference_ended"
	FramePing                   = "ping"
	FrameGetOnlineUsers         = "get_online_users"
	FrameGetSessionUsers        = "get_session_users"
	FrameSessionInvite          = "session_invite"
	FrameSessionInviteResponse  = "session_invite_response"
	FrameLeaveSession           = "leave_collaborative_session"
)

const msgAuthRequiredChat = "Authentication required for chat"

var pongFrame = []byte(`{"type":"pong"}`)

// OnlineUser is one entry of the online_users reply
type OnlineUser struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	Connections int    `json:"connections"`
}

// HandleFrame dispatches one client frame. Malformed or unknown frames are logged and dropped;
// the connection stays open.
func (h *Hub) HandleFrame(ctx context.Context, connID string, raw []byte) {
	if !gjson.ValidBytes(raw) {
		h.logger.Warn().Str("conn_id", connID).Msg("Dropping unparseable client frame")
		metrics.ClientFramesTotal.WithLabelValues("invalid").Inc()
		return
	}
	frame := gjson.ParseBytes(raw)
	if !frame.IsObject() {
		h.logger.Warn().Str("conn_id", connID).Msg("Dropping non-object client frame")
		metrics.ClientFramesTotal.WithLabelValues("invalid").Inc()
		return
	}

	frameType := frame.Get("type").String()
	var err error
	switch frameType {
	case FrameChat:
		err = h.handleChat(ctx, connID, frame)
	case FrameSharedMessage:
		err = h.handleShared(ctx, connID, raw, frameType, "message")
	case FrameSharedInferenceStarted, FrameSharedInferenceEnded:
		err = h.handleShared(ctx, connID, raw, frameType, "data")
	case FramePing:
		err = h.SendRaw(ctx, connID, pongFrame)
	case FrameGetOnlineUsers:
		err = h.sendOnlineUsers(ctx, connID)
	case FrameGetSessionUsers:
		err = h.SessionUsers(ctx, connID)
	case FrameSessionInvite:
		target, sessionID := frame.Get("target_user_id").String(), frame.Get("session_id").String()
		if target == "" || sessionID == "" {
			err = h.SendError(ctx, connID, "target_user_id and session_id are required")
			break
		}
		err = h.SendInvitation(ctx, connID, target, sessionID)
	case FrameSessionInviteResponse:
		invitationID, accepted := frame.Get("invitation_id").String(), frame.Get("accepted")
		if invitationID == "" || !accepted.Exists() {
			err = h.SendError(ctx, connID, "invitation_id and accepted are required")
			break
		}
		err = h.RespondToInvitation(ctx, connID, invitationID, accepted.Bool())
	case FrameLeaveSession:
		sessionID := frame.Get("session_id").String()
		if sessionID == "" {
			err = h.SendError(ctx, connID, "session_id is required")
			break
		}
		err = h.LeaveSession(ctx, connID, sessionID)
	default:
		h.logger.Warn().Str("conn_id", connID).Str("type", frameType).Msg("Dropping unknown client frame")
		metrics.ClientFramesTotal.WithLabelValues("unknown").Inc()
		return
	}

	metrics.ClientFramesTotal.WithLabelValues(frameType).Inc()
	if err != nil {
		h.logger.Debug().Err(err).Str("conn_id", connID).Str("type", frameType).Msg("Client frame not handled")
	}
}

func (h *Hub) handleChat(ctx context.Context, connID string, frame gjson.Result) error {
	identity, err := h.Lookup(ctx, connID)
	if err != nil {
		return err
	}
	if identity == nil {
		return h.SendError(ctx, connID, msgAuthRequiredChat)
	}
	text := frame.Get("text")
	if !text.Exists() || text.String() == "" {
		h.logger.Warn().Str("conn_id", connID).Msg("Dropping chat frame without text")
		return nil
	}

	env := events.New(events.TypeChatMessage, map[string]any{
		"text":        text.String(),
		"userId":      identity.UserID,
		"displayName": identity.DisplayName,
	})
	_, err = h.BroadcastGlobal(ctx, env)
	return err
}

// handleShared re-tags a collaborative frame with the sender's tenant and smart-broadcasts it.
// Any context id supplied by the client is overwritten.
func (h *Hub) handleShared(ctx context.Context, connID string, raw []byte, frameType, required string) error {
	if !gjson.GetBytes(raw, required).Exists() {
		h.logger.Warn().Str("conn_id", connID).Str("type", frameType).Str("field", required).Msg("Dropping shared frame with missing field")
		return nil
	}

	var (
		tenant string
		bound  bool
		sender map[string]any
	)
	err := h.submit(ctx, func() {
		c, ok := h.clients[connID]
		if !ok {
			return
		}
		tenant, bound = h.connTenant[connID]
		if c.identity != nil {
			sender = map[string]any{"userId": c.identity.UserID, "displayName": c.identity.DisplayName}
		}
	})
	if err != nil {
		return err
	}
	if !bound {
		h.logger.Warn().Str("conn_id", connID).Str("type", frameType).Msg("Dropping shared frame from connection without tenant")
		return nil
	}

	payload, err := sjson.SetBytes(raw, "eventType", frameType)
	if err != nil {
		return err
	}
	if payload, err = sjson.SetBytes(payload, "contextId", tenant); err != nil {
		return err
	}
	for _, key := range []string{"context_id", "timestamp"} {
		if payload, err = sjson.DeleteBytes(payload, key); err != nil {
			return err
		}
	}

	env, err := events.ParseIngress(payload)
	if err != nil {
		return err
	}
	if sender != nil {
		env.Data["sender"] = sender
	}
	_, err = h.SmartBroadcast(ctx, env)
	return err
}

func (h *Hub) sendOnlineUsers(ctx context.Context, connID string) error {
	return h.submit(ctx, func() {
		c, ok := h.clients[connID]
		if !ok {
			return
		}
		users := h.onlineUsersLocked(c.userID())
		frame, err := json.Marshal(map[string]any{
			"eventType": events.TypeOnlineUsers,
			"timestamp": time.Now().UTC(),
			"users":     users,
		})
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to encode online users")
			return
		}
		h.deliverLocked("direct", []*client{c}, frame)
	})
}

// onlineUsersLocked lists authenticated users with live connections, excluding one user id
func (h *Hub) onlineUsersLocked(exclude string) []OnlineUser {
	users := make([]OnlineUser, 0, len(h.userConns))
	for uid, conns := range h.userConns {
		if uid == exclude {
			continue
		}
		u := OnlineUser{UserID: uid, DisplayName: uid}
		for _, c := range conns {
			if c.identity == nil {
				continue
			}
			u.Connections++
			if c.identity.DisplayName != "" {
				u.DisplayName = c.identity.DisplayName
			}
			u.Email = c.identity.Email
		}
		if u.Connections > 0 {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}
