package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/tenantcast/pkg/auth"
	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/cuemby/tenantcast/pkg/metrics"
	"github.com/cuemby/tenantcast/pkg/session"
)

const (
	msgAuthRequiredInvite = "Authentication required for collaborative sessions"
	msgSessionsDisabled   = "Collaborative sessions are not available"
)

// SendInvitation invites targetUserID into sessionID on behalf of the connection's user.
// The invitee is notified immediately on every open connection, or on next connect.
func (h *Hub) SendInvitation(ctx context.Context, connID, targetUserID, sessionID string) error {
	from, ok := h.requireCollab(ctx, connID)
	if !ok {
		return nil
	}

	inv, err := h.deps.Sessions.CreateInvitation(ctx, sessionID, from.UserID, targetUserID)
	if err != nil {
		metrics.InvitationsTotal.WithLabelValues("rejected").Inc()
		return h.SendError(ctx, connID, collabErrorMessage("create invitation", err))
	}
	metrics.InvitationsTotal.WithLabelValues("sent").Inc()

	return h.submit(ctx, func() {
		targets := h.userTargetsLocked(targetUserID)
		delivered := 0
		if len(targets) > 0 {
			frames := h.encodeAll([]*events.Envelope{h.inviteEnvelopeLocked(inv)})
			delivered = h.deliverLocked("invite", targets, frames...)
		}

		if sender, ok := h.clients[connID]; ok {
			ack := events.New(events.TypeSessionInviteSent, map[string]any{
				"invitationId": inv.ID,
				"sessionId":    inv.SessionID,
				"targetUserId": inv.ToUserID,
				"delivered":    delivered > 0,
				"expiresAt":    inv.ExpiresAt,
			})
			h.deliverLocked("invite", []*client{sender}, h.encodeAll([]*events.Envelope{ack})...)
		}
		h.logger.Info().Str("invitation_id", inv.ID).Str("session_id", inv.SessionID).
			Str("from", inv.FromUserID).Str("to", inv.ToUserID).Int("delivered", delivered).Msg("Invitation sent")
	})
}

// RespondToInvitation accepts or declines an invitation addressed to the connection's user
func (h *Hub) RespondToInvitation(ctx context.Context, connID, invitationID string, accepted bool) error {
	user, ok := h.requireCollab(ctx, connID)
	if !ok {
		return nil
	}

	if !accepted {
		inv, err := h.deps.Sessions.DeclineInvitation(ctx, invitationID, user.UserID)
		if err != nil {
			return h.SendError(ctx, connID, collabErrorMessage("decline invitation", err))
		}
		metrics.InvitationsTotal.WithLabelValues("declined").Inc()

		return h.submit(ctx, func() {
			notice := events.New(events.TypeSessionInviteDecline, map[string]any{
				"invitationId":    inv.ID,
				"sessionId":       inv.SessionID,
				"declinedBy":      user.UserID,
				"declinedByName":  h.displayNameLocked(ctx, user.UserID),
				"invitedByUserId": inv.FromUserID,
			})
			targets := h.userTargetsLocked(inv.FromUserID)
			if c, ok := h.clients[connID]; ok {
				targets = append(targets, c)
			}
			h.deliverLocked("invite", targets, h.encodeAll([]*events.Envelope{notice})...)
		})
	}

	sess, err := h.deps.Sessions.AcceptInvitation(ctx, invitationID, user.UserID)
	if err != nil {
		return h.SendError(ctx, connID, collabErrorMessage("accept invitation", err))
	}
	metrics.InvitationsTotal.WithLabelValues("accepted").Inc()

	return h.submit(ctx, func() {
		h.notifyMembersLocked(ctx, sess, map[string]any{"joinedUserId": user.UserID})
		h.logger.Info().Str("session_id", sess.ID).Str("user_id", user.UserID).Msg("Invitation accepted")
	})
}

// LeaveSession removes the connection's user from sessionID. The remaining members are
// computed before the change so they can be told who left. An owner leaving dissolves the
// session and every member connection bound to it falls back to its own tenant.
func (h *Hub) LeaveSession(ctx context.Context, connID, sessionID string) error {
	user, ok := h.requireCollab(ctx, connID)
	if !ok {
		return nil
	}

	before, err := h.deps.Sessions.MemberIDs(ctx, sessionID)
	if err != nil {
		return h.SendError(ctx, connID, collabErrorMessage("leave session", err))
	}
	sess, err := h.deps.Sessions.LeaveSession(ctx, sessionID, user.UserID)
	if err != nil {
		return h.SendError(ctx, connID, collabErrorMessage("leave session", err))
	}
	metrics.InvitationsTotal.WithLabelValues("left").Inc()

	remaining := make([]string, 0, len(before))
	for _, id := range before {
		if id != user.UserID {
			remaining = append(remaining, id)
		}
	}

	return h.submit(ctx, func() {
		dissolved := sess == nil

		for _, c := range h.userTargetsLocked(user.UserID) {
			if c.tenant == sessionID && sessionID != user.UserID {
				h.rebindLocked(c, user.UserID)
			}
			left := events.New(events.TypeSessionLeft, map[string]any{
				"sessionId": sessionID,
				"tenantId":  c.tenant,
				"dissolved": dissolved,
			})
			h.deliverLocked("leave", []*client{c}, h.encodeAll([]*events.Envelope{left})...)
		}

		if !dissolved {
			h.notifyMembersLocked(ctx, sess, map[string]any{"leftUserId": user.UserID})
			return
		}

		for _, member := range remaining {
			for _, c := range h.userTargetsLocked(member) {
				if c.tenant == sessionID {
					h.rebindLocked(c, member)
				}
				update := events.New(events.TypeSessionMembers, map[string]any{
					"sessionId":  sessionID,
					"members":    []string{},
					"dissolved":  true,
					"leftUserId": user.UserID,
					"tenantId":   c.tenant,
				})
				h.deliverLocked("leave", []*client{c}, h.encodeAll([]*events.Envelope{update})...)
			}
		}
		h.logger.Info().Str("session_id", sessionID).Int("members", len(remaining)).Msg("Session dissolved")
	})
}

// SessionUsers re-sends the membership snapshot for the connection's tenant
func (h *Hub) SessionUsers(ctx context.Context, connID string) error {
	tenant, ok, err := h.TenantOf(ctx, connID)
	if err != nil || !ok {
		return err
	}
	sess := h.lookupSession(ctx, tenant)
	if sess == nil {
		sess = &session.Session{ID: tenant, OwnerID: tenant}
	}

	return h.submit(ctx, func() {
		c, ok := h.clients[connID]
		if !ok {
			return
		}
		h.deliverLocked("session_users", []*client{c}, h.encodeAll([]*events.Envelope{h.sessionUsersLocked(ctx, sess, c)})...)
	})
}

// SendError pushes an error frame to a single connection
func (h *Hub) SendError(ctx context.Context, connID, message string) error {
	env := events.New(events.TypeError, map[string]any{"message": message})
	return h.SendTo(ctx, connID, env)
}

// SendTo pushes an envelope to a single connection without recording history
func (h *Hub) SendTo(ctx context.Context, connID string, env *events.Envelope) error {
	frame, err := env.Stamp().Encode()
	if err != nil {
		return err
	}
	return h.SendRaw(ctx, connID, frame)
}

// SendRaw pushes an already encoded frame to a single connection
func (h *Hub) SendRaw(ctx context.Context, connID string, frame []byte) error {
	return h.submit(ctx, func() {
		if c, ok := h.clients[connID]; ok {
			h.deliverLocked("direct", []*client{c}, frame)
		}
	})
}

// requireCollab resolves the caller identity and reports failures to the connection
func (h *Hub) requireCollab(ctx context.Context, connID string) (*auth.Identity, bool) {
	identity, err := h.Lookup(ctx, connID)
	if err != nil {
		return nil, false
	}
	if identity == nil {
		_ = h.SendError(ctx, connID, msgAuthRequiredInvite)
		return nil, false
	}
	if h.deps.Sessions == nil {
		_ = h.SendError(ctx, connID, msgSessionsDisabled)
		return nil, false
	}
	return identity, true
}

// notifyMembersLocked pushes the membership update and a per-connection snapshot to every
// connection of every member
func (h *Hub) notifyMembersLocked(ctx context.Context, sess *session.Session, extra map[string]any) {
	members := sess.AllMemberIDs()
	for _, member := range members {
		for _, c := range h.userTargetsLocked(member) {
			data := map[string]any{
				"sessionId": sess.ID,
				"ownerId":   sess.OwnerID,
				"members":   members,
			}
			for k, v := range extra {
				data[k] = v
			}
			envs := []*events.Envelope{
				events.New(events.TypeSessionMembers, data),
				h.sessionUsersLocked(ctx, sess, c),
			}
			h.deliverLocked("members", []*client{c}, h.encodeAll(envs)...)
		}
	}
}

func (h *Hub) sessionUsersLocked(ctx context.Context, sess *session.Session, c *client) *events.Envelope {
	users := make([]map[string]any, 0, sess.Size())
	for _, id := range sess.AllMemberIDs() {
		users = append(users, map[string]any{
			"userId":      id,
			"displayName": h.displayNameLocked(ctx, id),
			"online":      len(h.userConns[id]) > 0,
			"isOwner":     id == sess.OwnerID,
		})
	}
	return events.New(events.TypeSessionUsers, map[string]any{
		"sessionId":     sess.ID,
		"ownerId":       sess.OwnerID,
		"currentUserId": c.userID(),
		"users":         users,
	})
}

func (h *Hub) inviteEnvelopeLocked(inv *session.Invitation) *events.Envelope {
	return events.New(events.TypeSessionInvite, map[string]any{
		"invitationId":    inv.ID,
		"sessionId":       inv.SessionID,
		"fromUserId":      inv.FromUserID,
		"fromDisplayName": h.displayNameLocked(context.Background(), inv.FromUserID),
		"createdAt":       inv.CreatedAt,
		"expiresAt":       inv.ExpiresAt,
	})
}

func (h *Hub) displayNameLocked(ctx context.Context, userID string) string {
	for _, c := range h.userConns[userID] {
		if c.identity != nil && c.identity.DisplayName != "" {
			return c.identity.DisplayName
		}
	}
	if h.deps.Directory != nil {
		if profile, ok := h.deps.Directory.Lookup(ctx, userID); ok && profile.DisplayName != "" {
			return profile.DisplayName
		}
	}
	return userID
}

func (h *Hub) userTargetsLocked(userID string) []*client {
	set := h.userConns[userID]
	targets := make([]*client, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	return targets
}

func collabErrorMessage(action string, err error) string {
	switch {
	case errors.Is(err, session.ErrInvitationNotFound), errors.Is(err, session.ErrInvitationExpired):
		return "Invitation is invalid or has expired"
	case errors.Is(err, session.ErrNotInvitee):
		return "Invitation is addressed to another user"
	case errors.Is(err, session.ErrSessionNotFound):
		return "Session not found"
	case errors.Is(err, session.ErrNotMember):
		return "You are not a member of this session"
	case errors.Is(err, session.ErrAlreadyMember):
		return "User is already a member of this session"
	case errors.Is(err, session.ErrSessionFull):
		return "Session is full"
	case errors.Is(err, session.ErrSelfInvite):
		return "You cannot invite yourself"
	default:
		return fmt.Sprintf("Failed to %s", action)
	}
}
