package api

import (
	"net/http"
	"time"

	"github.com/cuemby/tenantcast/pkg/metrics"
	"github.com/goccy/go-json"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	Version       string            `json:"version,omitempty"`
	Uptime        string            `json:"uptime,omitempty"`
	Generation    string            `json:"generation"`
	Connections   int               `json:"connections"`
	Authenticated int               `json:"authenticatedConnections"`
	Tenants       int               `json:"tenants"`
	Components    map[string]string `json:"components,omitempty"`
}

// UsersResponse carries aggregate presence counts; it never lists identities
type UsersResponse struct {
	OnlineUsers              int `json:"onlineUsers"`
	AuthenticatedConnections int `json:"authenticatedConnections"`
	AnonymousConnections     int `json:"anonymousConnections"`
	Tenants                  int `json:"tenants"`
}

// handleHealth implements / and /health: component status plus occupancy counts
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := metrics.GetHealth()
	response := HealthResponse{
		Status:     health.Status,
		Timestamp:  health.Timestamp,
		Version:    health.Version,
		Uptime:     health.Uptime,
		Generation: s.hub.Generation(),
		Components: health.Components,
	}

	stats, err := s.hub.Stats(r.Context())
	if err != nil {
		response.Status = "unhealthy"
		if response.Components == nil {
			response.Components = map[string]string{}
		}
		response.Components[metrics.ComponentHub] = "unhealthy: " + err.Error()
	} else {
		response.Connections = stats.Connections
		response.Authenticated = stats.Authenticated
		response.Tenants = stats.Tenants
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	stats, err := s.hub.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, UsersResponse{
		OnlineUsers:              stats.Users,
		AuthenticatedConnections: stats.Authenticated,
		AnonymousConnections:     stats.Anonymous,
		Tenants:                  stats.Tenants,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}
