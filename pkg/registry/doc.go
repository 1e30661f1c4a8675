/*
Package registry keeps tenantcast's copy of the external agent registry and
republishes it to every connection.

A Source fetches the raw list. HTTPSource gives each attempt its own timeout
and retries once after a short delay; FileSource reads a static YAML file.
Normalize accepts the response shapes seen in the wild and yields []Agent.

The Cache holds the last snapshot. A failed refresh replaces it with an empty
list so clients never keep acting on agents that may be gone.

The Scheduler drives the cache:

	Start ──► run ──► publish agent_registry_sync
	  │
	  └─► AfterFunc(interval) ──► tick ──► run (skipped if one is in flight)
	                                │
	                                └─► AfterFunc(interval) ──► ...

A run never touches hub state directly. It hands the snapshot to a Publisher,
which in production is the hub's BroadcastGlobal.
*/
package registry
