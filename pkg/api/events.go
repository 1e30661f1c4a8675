package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/cuemby/tenantcast/pkg/hub"
	"github.com/cuemby/tenantcast/pkg/ingress"
	"github.com/cuemby/tenantcast/pkg/log"
	"github.com/cuemby/tenantcast/pkg/transport"
)

// handleEventsSocket upgrades GET /events and hands the socket to the hub.
// The token comes from ?token= or an Authorization bearer header; the
// requested tenant from ?tenantId=.
func (s *Server) handleEventsSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	tenant := r.URL.Query().Get("tenantId")
	ip := clientIP(r)

	ws, err := websocket.Accept(w, r, s.accept)
	if err != nil {
		s.logger.Warn().Err(err).Str("ip", ip).Msg("Failed to accept websocket connection")
		return
	}

	conn := transport.NewConnection(s.ctx, &s.conns, ws, s.opts.Connection, s.logger)
	connLogger := log.WithConnID(s.logger, conn.ID()).With().Str("ip", ip).Logger()

	conn.SetOnMessageHandler(s.hub.HandleFrame)
	conn.SetOnCloseHandler(func(connID string, err error) {
		if dErr := s.hub.Disconnect(context.Background(), connID); dErr != nil && !errors.Is(dErr, hub.ErrStopped) {
			connLogger.Error().Err(dErr).Msg("Failed to deregister connection")
		}
		if transport.IsNormalClosure(err) {
			connLogger.Debug().Msg("Connection closed")
		} else {
			connLogger.Debug().Err(err).Msg("Connection closed abnormally")
		}
	})

	binding, err := s.hub.Connect(r.Context(), conn, token, tenant)
	if err != nil {
		status := websocket.StatusInternalError
		if errors.Is(err, hub.ErrTooManyConnections) || errors.Is(err, hub.ErrReplayUndelivered) {
			status = websocket.StatusTryAgainLater
		}
		connLogger.Warn().Err(err).Msg("Connection rejected")
		conn.CloseWithStatus(status, err)
		return
	}

	tenantLogger := log.WithTenant(connLogger, binding.Tenant)
	evt := tenantLogger.Info().Bool("stale", binding.Stale)
	if binding.Identity != nil {
		evt = evt.Str("user_id", binding.Identity.UserID)
	}
	evt.Msg("Client connected")

	conn.Run()
	<-conn.Done()
}

// handlePublish accepts arbitrary JSON from producers and smart-broadcasts it
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ingress.Result{Error: "failed to read body"})
		return
	}

	result, err := ingress.Publish(r.Context(), s.hub, ingress.SourceHTTP, body)
	switch {
	case errors.Is(err, events.ErrInvalidEnvelope):
		writeJSON(w, http.StatusBadRequest, result)
	case err != nil:
		s.logger.Error().Err(err).Msg("Failed to broadcast event")
		writeJSON(w, http.StatusServiceUnavailable, result)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
