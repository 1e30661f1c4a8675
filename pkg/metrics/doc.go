/*
Package metrics provides Prometheus metrics and component health for tenantcast.

Collectors are package-level variables registered with the default registry
in init, so any package can record without plumbing a registry through:

	metrics.BroadcastsTotal.WithLabelValues("tenant", "delivered").Inc()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.BroadcastDuration, "tenant")

# Metric Families

	tenantcast_connections_active              gauge
	tenantcast_connections_authenticated       gauge
	tenantcast_tenants_active                  gauge
	tenantcast_users_online                    gauge
	tenantcast_connections_total               counter  outcome
	tenantcast_broadcasts_total                counter  scope, result
	tenantcast_deliveries_total                counter  result
	tenantcast_broadcast_duration_seconds      histogram scope
	tenantcast_client_frames_total             counter  type
	tenantcast_invitations_total               counter  action
	tenantcast_registry_syncs_total            counter  result
	tenantcast_registry_ticks_skipped_total    counter
	tenantcast_registry_sync_duration_seconds  histogram
	tenantcast_registry_agents                 gauge
	tenantcast_api_requests_total              counter  method, status
	tenantcast_api_request_duration_seconds    histogram method
	tenantcast_ingress_messages_total          counter  source, result

The occupancy gauges are refreshed by a Collector that polls a Source (the
hub) on an interval, so scrapes never wait on the hub loop.

# Health

Components report their state with RegisterComponent and UpdateComponent.
GetHealth is unhealthy when a critical component fails and degraded when only
a non-critical one does. GetReadiness only looks at the critical set, which
defaults to the hub, the session store and the API listener and can be
replaced with SetCriticalComponents.
*/
package metrics
