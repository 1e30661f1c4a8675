package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MessageHandler is invoked for every text or binary frame read from the client
type MessageHandler func(ctx context.Context, connID string, msg []byte)

// OnCloseHandler runs exactly once when the connection terminates
type OnCloseHandler func(connID string, err error)

// Config tunes a single WebSocket connection
type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	QueueSize    int
}

// DefaultConfig returns connection defaults
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		ReadLimit:    1 << 20,
		QueueSize:    256,
	}
}

// Connection is a WebSocket client connection with a bounded outbound queue.
// Reads and writes run on their own goroutines; Send is safe for concurrent use.
type Connection struct {
	id     string
	ws     *websocket.Conn
	config Config
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        *sync.WaitGroup
	running   atomic.Bool

	logger zerolog.Logger
}

// NewConnection wraps an accepted WebSocket. wg may be nil; otherwise it is
// held until Close.
func NewConnection(parent context.Context, wg *sync.WaitGroup, ws *websocket.Conn, cfg Config, logger zerolog.Logger) *Connection {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)

	if ws != nil && cfg.ReadLimit > 0 {
		ws.SetReadLimit(cfg.ReadLimit)
	}
	// Released by Close, which every connection must eventually reach
	if wg != nil {
		wg.Add(1)
	}

	return &Connection{
		id:     id,
		ws:     ws,
		config: cfg,
		send:   make(chan []byte, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		wg:     wg,
		logger: logger.With().Str("conn_id", id).Logger(),
	}
}

// Run starts the read and write pumps
func (c *Connection) Run() {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	go c.readPump()
	go c.writePump()
	c.logger.Debug().Msg("connection established")
}

func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		ctx, cancel := c.readContext()
		typ, msg, err := c.ws.Read(ctx)
		cancel()
		if err != nil {
			readErr = err
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.id, msg)
		}
	}
}

func (c *Connection) readContext() (context.Context, context.CancelFunc) {
	if c.config.ReadTimeout > 0 {
		return context.WithTimeout(c.ctx, c.config.ReadTimeout)
	}
	return context.WithCancel(c.ctx)
}

func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case frame := <-c.send:
			ctx := c.ctx
			var cancel context.CancelFunc = func() {}
			if c.config.WriteTimeout > 0 {
				ctx, cancel = context.WithTimeout(c.ctx, c.config.WriteTimeout)
			}
			err := c.ws.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a frame without blocking
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close shuts the connection down. Only the first call has any effect.
func (c *Connection) Close(reason error) {
	c.CloseWithStatus(websocket.StatusNormalClosure, reason)
}

// CloseWithStatus shuts the connection down with an explicit close code
func (c *Connection) CloseWithStatus(code websocket.StatusCode, reason error) {
	c.closeOnce.Do(func() {
		status := websocket.CloseStatus(reason)
		c.logger.Debug().Err(reason).Str("status", status.String()).Msg("connection closing")

		c.cancel()
		if c.ws != nil {
			msg := ""
			if reason != nil && code != websocket.StatusNormalClosure {
				msg = reason.Error()
			}
			_ = c.ws.Close(code, msg)
		}
		if c.onClose != nil {
			c.onClose(c.id, reason)
		}
		if c.wg != nil {
			c.wg.Done()
		}
		close(c.done)
	})
}

// Done is closed once the connection is fully terminated
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection
func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}

// IsNormalClosure reports whether err is a clean client-initiated close
func IsNormalClosure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

var _ Conn = (*Connection)(nil)
