/*
Package api serves tenantcast's WebSocket endpoint and its HTTP API.

# Routes

	GET  /events          upgrade to WebSocket (?token=, ?tenantId=)
	POST /events          smart-broadcast an arbitrary JSON envelope
	GET  /, /health       component status plus connection and tenant counts
	GET  /ready           readiness gated on critical components
	GET  /livez           liveness
	GET  /metrics         Prometheus exposition
	GET  /agents          current agent registry snapshot
	POST /agents/sync     republish the snapshot to every connection
	POST /refresh-agents  fetch and publish now unless a sync is running
	GET  /users           aggregate presence counts

# Connection lifecycle

Each upgraded socket becomes a transport.Connection. The handler registers it
with the hub, which replays history and connect-time state, then starts the
read and write pumps and blocks until the connection is done. Every inbound
frame goes to hub.HandleFrame; the close path deregisters the connection
exactly once.

A connection refused by the hub's limits is closed with status 1013 (try
again later).

Shutdown stops the listener first, then cancels the server context so every
socket closes, and waits for their close paths within the caller's deadline.
*/
package api
