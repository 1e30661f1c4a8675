package ingress

import (
	"context"
	"fmt"

	"github.com/cuemby/tenantcast/pkg/events"
	"github.com/cuemby/tenantcast/pkg/metrics"
)

// Source labels for ingress metrics
const (
	SourceHTTP = "http"
	SourceNATS = "nats"
)

// Broadcaster routes an envelope to the tenant named by its context id
type Broadcaster interface {
	SmartBroadcast(ctx context.Context, env *events.Envelope) (int, error)
}

// Result is returned to the producer after a publish
type Result struct {
	Success     bool   `json:"success"`
	ClientCount int    `json:"clientCount"`
	EventType   string `json:"eventType"`
	Error       string `json:"error,omitempty"`
}

// Publish normalizes a producer payload and smart-broadcasts it.
// A payload that reaches no connection is still a success with ClientCount 0.
func Publish(ctx context.Context, target Broadcaster, source string, raw []byte) (Result, error) {
	env, err := events.ParseIngress(raw)
	if err != nil {
		metrics.IngressMessagesTotal.WithLabelValues(source, "invalid").Inc()
		return Result{Error: err.Error()}, err
	}

	n, err := target.SmartBroadcast(ctx, env)
	if err != nil {
		metrics.IngressMessagesTotal.WithLabelValues(source, "error").Inc()
		return Result{EventType: env.EventType, Error: err.Error()}, fmt.Errorf("broadcast %s: %w", env.EventType, err)
	}

	result := "delivered"
	if n == 0 {
		result = "dropped"
	}
	metrics.IngressMessagesTotal.WithLabelValues(source, result).Inc()

	return Result{Success: true, ClientCount: n, EventType: env.EventType}, nil
}
