/*
Package ingress accepts envelopes from producers and routes them through the
hub's smart broadcast.

Two producers share one path:

	POST /events ──┐
	               ├──► Publish ──► events.ParseIngress ──► hub.SmartBroadcast
	NATS subject ──┘

Publish counts every payload by source and result (invalid, error, delivered,
dropped). A payload that names no live tenant is a success with a client count
of zero; it is never widened to another scope.

The NATS Bridge subscribes to one subject, optionally in a queue group so
several tenantcast processes can share the load. A message with a reply
subject is answered with the same Result body POST /events returns.
*/
package ingress
