/*
Package events defines the envelope that moves through tenantcast's broadcast engine,
the bounded replay history kept per scope, and the routing hints used by smart broadcast.

# Envelope

Every event delivered to a client is an Envelope:

	{
	  "eventType": "task_updated",
	  "timestamp": "2024-10-13T10:30:00Z",
	  "data":      {"taskId": "t-1", "conversationId": "alice::c-42"},
	  "contextId": "alice"
	}

Producers post arbitrary JSON; ParseIngress folds it into this shape.

# History

History is a fixed-capacity ring (DefaultHistorySize = 100). Appending to a full ring
evicts the oldest entry. Replay skips conversation messages (message, shared_message,
shared_inference_ended) because clients load those from the conversation API.

# Routing hints

ContextCandidate looks, in order, at:

 1. contextId / context_id on the envelope
 2. data.contextId, data.context_id
 3. data.conversationId, data.conversation_id

A candidate of the form "tenant::conversation" resolves to "tenant" through
TenantFromContext when the raw candidate is not itself a live scope.
*/
package events
