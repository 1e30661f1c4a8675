package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultInvitationTTL bounds how long an invitation stays acceptable
const DefaultInvitationTTL = 24 * time.Hour

// Store is the collaborative-session contract consumed by the hub
type Store interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	MemberIDs(ctx context.Context, id string) ([]string, error)
	IsMember(ctx context.Context, id, userID string) (bool, error)

	CreateInvitation(ctx context.Context, sessionID, fromUserID, toUserID string) (*Invitation, error)
	GetInvitation(ctx context.Context, id string) (*Invitation, error)
	PendingInvitations(ctx context.Context, userID string) ([]*Invitation, error)
	AcceptInvitation(ctx context.Context, invitationID, userID string) (*Session, error)
	DeclineInvitation(ctx context.Context, invitationID, userID string) (*Invitation, error)

	// LeaveSession removes userID. When the owner leaves the session is dissolved
	// and the returned session is nil.
	LeaveSession(ctx context.Context, sessionID, userID string) (*Session, error)

	Close() error
}

// Backend persists sessions and invitations
type Backend interface {
	LoadSession(id string) (*Session, error)
	SaveSession(s *Session) error
	DeleteSession(id string) error

	LoadInvitation(id string) (*Invitation, error)
	SaveInvitation(inv *Invitation) error
	DeleteInvitation(id string) error
	ListInvitations() ([]*Invitation, error)

	Close() error
}

// Options configures the session rules
type Options struct {
	InvitationTTL time.Duration
	// MaxMembers caps participants per session including the owner; 0 disables the cap
	MaxMembers int
}

// Manager applies the membership rules on top of a Backend
type Manager struct {
	backend Backend
	opts    Options
	mu      sync.Mutex
	now     func() time.Time
}

// NewManager creates a session manager over the given backend
func NewManager(backend Backend, opts Options) *Manager {
	if opts.InvitationTTL <= 0 {
		opts.InvitationTTL = DefaultInvitationTTL
	}
	return &Manager{
		backend: backend,
		opts:    opts,
		now:     time.Now,
	}
}

var _ Store = (*Manager)(nil)

func (m *Manager) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.LoadSession(id)
}

func (m *Manager) MemberIDs(ctx context.Context, id string) ([]string, error) {
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.AllMemberIDs(), nil
}

func (m *Manager) IsMember(ctx context.Context, id, userID string) (bool, error) {
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return false, err
	}
	return s.HasMember(userID), nil
}

// CreateInvitation invites toUserID into sessionID. A user may open a session named after
// their own id implicitly by sending the first invitation for it.
func (m *Manager) CreateInvitation(_ context.Context, sessionID, fromUserID, toUserID string) (*Invitation, error) {
	if toUserID == fromUserID {
		return nil, ErrSelfInvite
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	s, err := m.backend.LoadSession(sessionID)
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionNotFound) && sessionID == fromUserID:
		s = &Session{ID: sessionID, OwnerID: fromUserID, CreatedAt: now, UpdatedAt: now}
		if err := m.backend.SaveSession(s); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
	default:
		return nil, err
	}

	if !s.HasMember(fromUserID) {
		return nil, ErrNotMember
	}
	if s.HasMember(toUserID) {
		return nil, ErrAlreadyMember
	}
	if m.opts.MaxMembers > 0 && s.Size() >= m.opts.MaxMembers {
		return nil, ErrSessionFull
	}

	existing, err := m.backend.ListInvitations()
	if err != nil {
		return nil, err
	}
	for _, inv := range existing {
		if inv.SessionID == sessionID && inv.ToUserID == toUserID && !inv.Expired(now) {
			return inv, nil
		}
	}

	inv := &Invitation{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.opts.InvitationTTL),
	}
	if err := m.backend.SaveInvitation(inv); err != nil {
		return nil, fmt.Errorf("failed to save invitation: %w", err)
	}
	return inv, nil
}

func (m *Manager) GetInvitation(_ context.Context, id string) (*Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.LoadInvitation(id)
}

// PendingInvitations lists unexpired invitations addressed to userID and sweeps expired ones
func (m *Manager) PendingInvitations(_ context.Context, userID string) ([]*Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.backend.ListInvitations()
	if err != nil {
		return nil, err
	}
	now := m.now()
	var pending []*Invitation
	for _, inv := range all {
		if inv.Expired(now) {
			_ = m.backend.DeleteInvitation(inv.ID)
			continue
		}
		if inv.ToUserID == userID {
			pending = append(pending, inv)
		}
	}
	return pending, nil
}

// loadInvitation validates an invitation addressed to userID. Expired invitations are
// removed on sight; valid ones stay until the caller consumes them.
func (m *Manager) loadInvitation(invitationID, userID string) (*Invitation, error) {
	inv, err := m.backend.LoadInvitation(invitationID)
	if err != nil {
		return nil, err
	}
	if inv.ToUserID != userID {
		return nil, ErrNotInvitee
	}
	if inv.Expired(m.now()) {
		if err := m.backend.DeleteInvitation(inv.ID); err != nil {
			return nil, fmt.Errorf("failed to delete invitation: %w", err)
		}
		return nil, ErrInvitationExpired
	}
	return inv, nil
}

func (m *Manager) consumeInvitation(inv *Invitation) error {
	if err := m.backend.DeleteInvitation(inv.ID); err != nil {
		return fmt.Errorf("failed to delete invitation: %w", err)
	}
	return nil
}

// AcceptInvitation adds userID to the invited session. The invitation is only consumed
// once the session accepted the member, so a full or missing session leaves it pending.
func (m *Manager) AcceptInvitation(_ context.Context, invitationID, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, err := m.loadInvitation(invitationID, userID)
	if err != nil {
		return nil, err
	}
	s, err := m.backend.LoadSession(inv.SessionID)
	if err != nil {
		return nil, err
	}
	if s.HasMember(userID) {
		if err := m.consumeInvitation(inv); err != nil {
			return nil, err
		}
		return s, nil
	}
	if m.opts.MaxMembers > 0 && s.Size() >= m.opts.MaxMembers {
		return nil, ErrSessionFull
	}

	s.addMember(userID)
	s.UpdatedAt = m.now().UTC()
	if err := m.backend.SaveSession(s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if err := m.consumeInvitation(inv); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) DeclineInvitation(_ context.Context, invitationID, userID string) (*Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, err := m.loadInvitation(invitationID, userID)
	if err != nil {
		return nil, err
	}
	if err := m.consumeInvitation(inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (m *Manager) LeaveSession(_ context.Context, sessionID, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.backend.LoadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if !s.HasMember(userID) {
		return nil, ErrNotMember
	}

	if userID == s.OwnerID {
		if err := m.backend.DeleteSession(sessionID); err != nil {
			return nil, fmt.Errorf("failed to delete session: %w", err)
		}
		invs, err := m.backend.ListInvitations()
		if err == nil {
			for _, inv := range invs {
				if inv.SessionID == sessionID {
					_ = m.backend.DeleteInvitation(inv.ID)
				}
			}
		}
		return nil, nil
	}

	s.removeMember(userID)
	s.UpdatedAt = m.now().UTC()
	if err := m.backend.SaveSession(s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return s, nil
}

func (m *Manager) Close() error {
	return m.backend.Close()
}
