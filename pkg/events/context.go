package events

import (
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ContextSeparator splits "tenant::conversation" context ids
const ContextSeparator = "::"

// ErrInvalidEnvelope is returned when an ingress payload is not a JSON object
var ErrInvalidEnvelope = errors.New("envelope must be a JSON object")

var nestedContextKeys = []string{"contextId", "context_id", "conversationId", "conversation_id"}

// ContextCandidate returns the first routing hint found on the envelope:
// envelope-level contextId, then data.contextId, data.context_id,
// data.conversationId, data.conversation_id.
func ContextCandidate(e *Envelope) (string, bool) {
	if e.ContextID != "" {
		return e.ContextID, true
	}
	for _, key := range nestedContextKeys {
		if v, ok := e.Data[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// TenantFromContext extracts the tenant prefix of a "tenant::conversation" id
func TenantFromContext(contextID string) (string, bool) {
	tenant, _, found := strings.Cut(contextID, ContextSeparator)
	if !found || tenant == "" {
		return "", false
	}
	return tenant, true
}

// ParseIngress normalizes an arbitrary JSON body posted by a producer into an envelope.
// The event type is read from eventType, event_type or type; the payload from data when it
// is an object, otherwise from the remaining top-level fields minus envelope and
// conversation keys.
func ParseIngress(raw []byte) (*Envelope, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidEnvelope
	}
	body := gjson.ParseBytes(raw)
	if !body.IsObject() {
		return nil, ErrInvalidEnvelope
	}

	env := &Envelope{}
	for _, key := range []string{"eventType", "event_type", "type"} {
		if v := body.Get(key); v.Type == gjson.String && v.Str != "" {
			env.EventType = v.Str
			break
		}
	}
	if env.EventType == "" {
		env.EventType = "event"
	}

	for _, key := range []string{"contextId", "context_id"} {
		if v := body.Get(key); v.Type == gjson.String && v.Str != "" {
			env.ContextID = v.Str
			break
		}
	}

	if ts := body.Get("timestamp"); ts.Type == gjson.String {
		if t, err := time.Parse(time.RFC3339Nano, ts.Str); err == nil {
			env.Timestamp = t
		}
	}

	if data := body.Get("data"); data.IsObject() {
		env.Data, _ = data.Value().(map[string]any)
	} else {
		env.Data = map[string]any{}
		body.ForEach(func(key, value gjson.Result) bool {
			switch key.Str {
			// Top-level conversation ids are not routing hints and must not become data.* ones
			case "eventType", "event_type", "type", "timestamp", "contextId", "context_id", "data",
				"conversationId", "conversation_id":
			default:
				env.Data[key.Str] = value.Value()
			}
			return true
		})
	}

	return env.Stamp(), nil
}
