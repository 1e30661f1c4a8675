/*
Package log provides structured logging for tenantcast using zerolog.

A single package-level Logger is configured once at startup with Init. Every
long-lived component derives a child logger from it so its lines carry a
component field, and connection-scoped code adds the connection id and
tenant on top:

	logger := log.WithComponent("hub")
	connLogger := log.WithTenant(log.WithConnID(logger, connID), tenant)
	connLogger.Info().Msg("Client connected")

# Configuration

	log.Init(log.Config{
		Level:      log.ParseLevel("debug"),
		JSONOutput: true,
	})

JSON output is meant for production log pipelines. The console writer is the
default and is easier to read during development. Output defaults to stdout.

# Fields

Common field names used across the codebase:

	component   hub, api, registry, registry-sync, ingress, nats, serve
	conn_id     connection identifier
	tenant      tenant scope a connection is bound to
	user_id     authenticated user
	event_type  envelope type being routed

Identity tokens and message payloads are never logged.
*/
package log
