package session

import (
	"errors"
	"slices"
	"time"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrNotInvitee         = errors.New("invitation addressed to another user")
	ErrNotMember          = errors.New("user is not a member of this session")
	ErrAlreadyMember      = errors.New("user is already a member of this session")
	ErrSessionFull        = errors.New("session member limit reached")
	ErrSelfInvite         = errors.New("cannot invite yourself")
)

// Session is a tenant scope shared between an owner and invited members
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	MemberIDs []string  `json:"memberIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AllMemberIDs returns the owner followed by the sorted members
func (s *Session) AllMemberIDs() []string {
	members := slices.Clone(s.MemberIDs)
	slices.Sort(members)
	return append([]string{s.OwnerID}, members...)
}

// HasMember reports whether userID is the owner or a member
func (s *Session) HasMember(userID string) bool {
	return userID == s.OwnerID || slices.Contains(s.MemberIDs, userID)
}

// Size is the number of participants including the owner
func (s *Session) Size() int {
	return len(s.MemberIDs) + 1
}

func (s *Session) addMember(userID string) {
	if !s.HasMember(userID) {
		s.MemberIDs = append(s.MemberIDs, userID)
	}
}

func (s *Session) removeMember(userID string) {
	s.MemberIDs = slices.DeleteFunc(s.MemberIDs, func(id string) bool { return id == userID })
}

// Invitation asks ToUserID to join SessionID
type Invitation struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	FromUserID string    `json:"fromUserId"`
	ToUserID   string    `json:"toUserId"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the invitation is past its deadline at now
func (i *Invitation) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}
