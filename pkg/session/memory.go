package session

import (
	"maps"
	"slices"
)

// MemoryBackend keeps sessions in process memory. The Manager serializes access.
type MemoryBackend struct {
	sessions    map[string]*Session
	invitations map[string]*Invitation
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions:    make(map[string]*Session),
		invitations: make(map[string]*Invitation),
	}
}

// NewMemoryStore is shorthand for a Manager over a MemoryBackend
func NewMemoryStore(opts Options) *Manager {
	return NewManager(NewMemoryBackend(), opts)
}

func (b *MemoryBackend) LoadSession(id string) (*Session, error) {
	s, ok := b.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	cp.MemberIDs = slices.Clone(s.MemberIDs)
	return &cp, nil
}

func (b *MemoryBackend) SaveSession(s *Session) error {
	cp := *s
	cp.MemberIDs = slices.Clone(s.MemberIDs)
	b.sessions[s.ID] = &cp
	return nil
}

func (b *MemoryBackend) DeleteSession(id string) error {
	delete(b.sessions, id)
	return nil
}

func (b *MemoryBackend) LoadInvitation(id string) (*Invitation, error) {
	inv, ok := b.invitations[id]
	if !ok {
		return nil, ErrInvitationNotFound
	}
	cp := *inv
	return &cp, nil
}

func (b *MemoryBackend) SaveInvitation(inv *Invitation) error {
	cp := *inv
	b.invitations[inv.ID] = &cp
	return nil
}

func (b *MemoryBackend) DeleteInvitation(id string) error {
	delete(b.invitations, id)
	return nil
}

func (b *MemoryBackend) ListInvitations() ([]*Invitation, error) {
	out := make([]*Invitation, 0, len(b.invitations))
	for _, id := range slices.Sorted(maps.Keys(b.invitations)) {
		cp := *b.invitations[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
