/*
Package hub implements tenantcast's connection registry, broadcast engine and
collaborative session router.

# Architecture

A single loop goroutine owns every map. Public methods package their work as a
closure and submit it to the loop, then wait for it to finish:

	┌──────────── HTTP / WS handlers ───────────┐   ┌──── registry sync worker ────┐
	│ Connect  Disconnect  HandleFrame  POST    │   │ BroadcastGlobal(agents)      │
	└────────────────────┬──────────────────────┘   └──────────────┬───────────────┘
	                     │          submit(func())                 │
	                     ▼                                         ▼
	┌──────────────────────────── hub loop ───────────────────────────────────┐
	│ clients       connID → client                                           │
	│ tenantConns   tenant → {connID}      connTenant  connID → tenant        │
	│ userConns     userID → {connID}                                         │
	│ global        History                tenantHistory  tenant → History    │
	└─────────────────────────────────────────────────────────────────────────┘

Sends never block the loop: transport.Conn.Send only enqueues on the connection's
bounded write queue. A rejected send is collected as a transport.SendResult and
the connection is removed after the fan-out finishes, then closed off-loop.

# Tenants

A tenant scope exists only while it has at least one connection. When the last
connection leaves, the scope and its history are deleted together.

Connect resolves the tenant in this order:

 1. No identity: the requested tenant verbatim, or no tenant at all.
 2. Requested tenant empty or equal to the user id: the user id.
 3. Requested tenant is a session the user belongs to: that session.
 4. Otherwise: the user id, and the client receives session_invalid.

# Delivery

	BroadcastGlobal    every connection, recorded in the global history
	BroadcastToTenant  the tenant's connections plus session members' connections
	SmartBroadcast     tenant derived from the envelope's context id

An envelope for a tenant with no connections is dropped. It is never widened to
another scope. Each connection receives an envelope at most once per broadcast,
even when it is reachable both as a tenant connection and as a session member.
*/
package hub
