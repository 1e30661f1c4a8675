package events

import (
	"time"

	json "github.com/goccy/go-json"
)

// Well-known event types
const (
	TypeMessage              = "message"
	TypeSharedMessage        = "shared_message"
	TypeSharedInferenceStart = "shared_inference_started"
	TypeSharedInferenceEnd   = "shared_inference_ended"
	TypeChatMessage          = "chat_message"
	TypeError                = "error"
	TypeAgentRegistrySync    = "agent_registry_sync"
	TypeAuthStatus           = "auth_status"
	TypeSessionStarted       = "session_started"
	TypeSessionInvalid       = "session_invalid"
	TypeOnlineUsers          = "online_users"
	TypeSessionUsers         = "session_users"
	TypeSessionInvite        = "session_invite_received"
	TypeSessionInviteSent    = "session_invite_sent"
	TypeSessionInviteDecline = "session_invite_declined"
	TypeSessionMembers       = "session_members_updated"
	TypeSessionLeft          = "session_left"
)

// Envelope is the unit moved through the broadcast engine.
// Envelopes are treated as immutable once handed to the hub.
type Envelope struct {
	EventType string         `json:"eventType"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	ContextID string         `json:"contextId,omitempty"`
}

// New builds an envelope stamped with the current time
func New(eventType string, data map[string]any) *Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return &Envelope{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Stamp sets the timestamp if it is not set
func (e *Envelope) Stamp() *Envelope {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return e
}

// Encode renders the envelope as a wire frame
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a wire frame into an envelope
func Decode(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return e.Stamp(), nil
}

// Replayable reports whether an event may be replayed from history.
// Conversation messages are served by the conversation API and would duplicate.
func Replayable(eventType string) bool {
	switch eventType {
	case TypeMessage, TypeSharedMessage, TypeSharedInferenceEnd:
		return false
	default:
		return true
	}
}
