package api

import (
	"net/http"
	"time"

	"github.com/cuemby/tenantcast/pkg/registry"
)

// AgentsResponse is the registry snapshot served on GET /agents
type AgentsResponse struct {
	Agents    []registry.Agent `json:"agents"`
	Count     int              `json:"count"`
	FetchedAt *time.Time       `json:"fetchedAt,omitempty"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Registry == nil {
		writeJSON(w, http.StatusOK, AgentsResponse{Agents: []registry.Agent{}})
		return
	}

	agents := s.opts.Registry.Agents()
	response := AgentsResponse{Agents: agents, Count: len(agents)}
	if at := s.opts.Registry.FetchedAt(); !at.IsZero() {
		response.FetchedAt = &at
	}
	writeJSON(w, http.StatusOK, response)
}

// handleAgentsSync republishes the current snapshot to every connection without refetching
func (s *Server) handleAgentsSync(w http.ResponseWriter, r *http.Request) {
	if s.opts.Registry == nil {
		writeError(w, http.StatusServiceUnavailable, "agent registry is not configured")
		return
	}

	env := s.opts.Registry.SyncEnvelope()
	n, err := s.hub.BroadcastGlobal(r.Context(), env)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"clientCount": n,
		"count":       env.Data["count"],
	})
}

// handleRefreshAgents starts a fetch-and-publish run unless one is in flight
func (s *Server) handleRefreshAgents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "agent registry is not configured")
		return
	}

	if !s.opts.Refresher.TriggerNow() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"message": "registry sync already in progress",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "registry sync started",
	})
}
