package ingress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/tenantcast/pkg/log"
	"github.com/cuemby/tenantcast/pkg/metrics"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubject is the subject producers publish envelopes on
const DefaultSubject = "tenantcast.events"

const publishTimeout = 10 * time.Second

// Connect dials the NATS server at url. Without options the connection is
// named "tenantcast", reconnects forever and logs connection state changes.
func Connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	if len(opts) == 0 {
		logger := log.WithComponent("nats")
		opts = append(opts,
			nats.Name("tenantcast"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				metrics.UpdateComponent(metrics.ComponentIngress, false, "disconnected")
				logger.Warn().Err(err).Msg("NATS disconnected")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				metrics.UpdateComponent(metrics.ComponentIngress, true, "")
				logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			}),
		)
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Bridge subscribes to a NATS subject and smart-broadcasts every message
// exactly as POST /events does. Messages with a reply subject are answered
// with the publish Result.
type Bridge struct {
	nc      *nats.Conn
	subject string
	queue   string
	target  Broadcaster
	logger  zerolog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewBridge creates a bridge; queue may be empty for a plain subscription
func NewBridge(nc *nats.Conn, subject, queue string, target Broadcaster) *Bridge {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Bridge{
		nc:      nc,
		subject: subject,
		queue:   queue,
		target:  target,
		logger:  log.WithComponent("ingress").With().Str("subject", subject).Logger(),
	}
}

// Start subscribes to the subject
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}
	if b.nc == nil {
		return errors.New("nats connection is required")
	}

	var (
		sub *nats.Subscription
		err error
	)
	if b.queue != "" {
		sub, err = b.nc.QueueSubscribe(b.subject, b.queue, b.handle)
	} else {
		sub, err = b.nc.Subscribe(b.subject, b.handle)
	}
	if err != nil {
		metrics.RegisterComponent(metrics.ComponentIngress, false, err.Error())
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}

	b.sub = sub
	metrics.RegisterComponent(metrics.ComponentIngress, true, "")
	b.logger.Info().Msg("NATS ingress started")
	return nil
}

// Stop drains the subscription so in-flight messages finish
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Drain()
	b.sub = nil
	b.logger.Info().Msg("NATS ingress stopped")
	return err
}

func (b *Bridge) handle(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	result, err := Publish(ctx, b.target, SourceNATS, msg.Data)
	if err != nil {
		b.logger.Warn().Err(err).Int("bytes", len(msg.Data)).Msg("Dropped ingress message")
	} else {
		b.logger.Debug().
			Str("event_type", result.EventType).
			Int("delivered", result.ClientCount).
			Msg("Ingress message broadcast")
	}

	if msg.Reply == "" {
		return
	}
	reply, mErr := json.Marshal(result)
	if mErr != nil {
		return
	}
	if rErr := msg.Respond(reply); rErr != nil {
		b.logger.Warn().Err(rErr).Msg("Failed to reply to ingress message")
	}
}
