package registry

import (
	"errors"
	"sort"

	"github.com/tidwall/gjson"
)

// ErrUnrecognizedShape is returned when a registry response holds no agent list
var ErrUnrecognizedShape = errors.New("unrecognized registry response")

// Agent is the normalized registry entry published to clients
type Agent struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description,omitempty" yaml:"description"`
	Status       string         `json:"status,omitempty" yaml:"status"`
	Endpoint     string         `json:"endpoint,omitempty" yaml:"endpoint"`
	Capabilities []string       `json:"capabilities,omitempty" yaml:"capabilities"`
	Metadata     map[string]any `json:"metadata,omitempty" yaml:"metadata"`
}

// Normalize turns any of the registry response shapes into a list of agents:
//
//	[{...}, {...}]
//	{"agents": [...]}
//	{"data": [...]}
//	{"<id>": {...}, "<id>": {...}}
//
// Entries without an id are skipped.
func Normalize(raw []byte) ([]Agent, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrUnrecognizedShape
	}
	body := gjson.ParseBytes(raw)

	var list gjson.Result
	switch {
	case body.IsArray():
		list = body
	case body.IsObject():
		for _, key := range []string{"agents", "data", "items"} {
			if v := body.Get(key); v.IsArray() {
				list = v
				break
			}
		}
	default:
		return nil, ErrUnrecognizedShape
	}

	agents := make([]Agent, 0)
	if list.Exists() {
		list.ForEach(func(_, entry gjson.Result) bool {
			if a, ok := agentFrom(entry, ""); ok {
				agents = append(agents, a)
			}
			return true
		})
		return agents, nil
	}

	// Keyed map
	body.ForEach(func(key, entry gjson.Result) bool {
		if a, ok := agentFrom(entry, key.String()); ok {
			agents = append(agents, a)
		}
		return true
	})
	if len(agents) == 0 && len(body.Map()) > 0 {
		return nil, ErrUnrecognizedShape
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

func agentFrom(entry gjson.Result, fallbackID string) (Agent, bool) {
	if !entry.IsObject() {
		return Agent{}, false
	}

	a := Agent{
		ID:          firstString(entry, "id", "agent_id", "agentId"),
		Name:        firstString(entry, "name", "display_name", "displayName"),
		Description: firstString(entry, "description"),
		Status:      firstString(entry, "status", "state"),
		Endpoint:    firstString(entry, "endpoint", "url"),
	}
	if a.ID == "" {
		a.ID = fallbackID
	}
	if a.ID == "" {
		a.ID = a.Name
	}
	if a.ID == "" {
		return Agent{}, false
	}
	if a.Name == "" {
		a.Name = a.ID
	}

	for _, key := range []string{"capabilities", "skills"} {
		caps := entry.Get(key)
		if !caps.IsArray() {
			continue
		}
		caps.ForEach(func(_, c gjson.Result) bool {
			switch {
			case c.Type == gjson.String:
				a.Capabilities = append(a.Capabilities, c.Str)
			case c.IsObject():
				if name := firstString(c, "name", "id"); name != "" {
					a.Capabilities = append(a.Capabilities, name)
				}
			}
			return true
		})
		break
	}

	if md := entry.Get("metadata"); md.IsObject() {
		a.Metadata, _ = md.Value().(map[string]any)
	}
	return a, true
}

func firstString(entry gjson.Result, keys ...string) string {
	for _, key := range keys {
		if v := entry.Get(key); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}
