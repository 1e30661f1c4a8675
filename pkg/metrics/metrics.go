package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantcast_connections_active",
			Help: "Number of live client connections",
		},
	)

	ConnectionsAuthenticated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantcast_connections_authenticated",
			Help: "Number of live connections bound to an identity",
		},
	)

	TenantsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantcast_tenants_active",
			Help: "Number of tenant scopes with at least one connection",
		},
	)

	UsersOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantcast_users_online",
			Help: "Number of distinct authenticated users connected",
		},
	)

	ConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantcast_connections_total",
			Help: "Total number of connections by outcome (accepted, rejected, dropped)",
		},
		[]string{"outcome"},
	)

	// Broadcast metrics
	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantcast_broadcasts_total",
			Help: "Total number of broadcasts by scope and result",
		},
		[]string{"scope", "result"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantcast_deliveries_total",
			Help: "Total number of per-connection frame sends by result",
		},
		[]string{"result"},
	)

	BroadcastDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantcast_broadcast_duration_seconds",
			Help:    "Time spent fanning out one envelope",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope"},
	)

	ClientFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantcast_client_frames_total",
			Help: "Total number of frames received from clients by type",
		},
		[]string{"type"},
	)

	// Collaboration metrics
	InvitationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantcast_invitations_total",
			Help: "Total number of invitation lifecycle events by action",
		},
		[]string{"action"},
	)

	// Registry sync metrics
	RegistrySyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantcast_registry_syncs_total",
			Help: "Total number of registry sync runs by result",
		},
		[]string{"result"},
	)

	RegistryTicksSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantcast_registry_ticks_skipped_total",
			Help: "Total number of sync ticks skipped because a run was in progress",
		},
	)

	RegistrySyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenantcast_registry_sync_duration_seconds",
			Help:    "Registry fetch and publish duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RegistryAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantcast_registry_agents",
			Help: "Number of agents in the last registry snapshot",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantcast_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantcast_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Ingress metrics
	IngressMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantcast_ingress_messages_total",
			Help: "Total number of envelopes received from producers by source and result",
		},
		[]string{"source", "result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(ConnectionsAuthenticated)
	prometheus.MustRegister(TenantsActive)
	prometheus.MustRegister(UsersOnline)
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(BroadcastsTotal)
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(BroadcastDuration)
	prometheus.MustRegister(ClientFramesTotal)
	prometheus.MustRegister(InvitationsTotal)
	prometheus.MustRegister(RegistrySyncsTotal)
	prometheus.MustRegister(RegistryTicksSkipped)
	prometheus.MustRegister(RegistrySyncDuration)
	prometheus.MustRegister(RegistryAgents)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(IngressMessagesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
