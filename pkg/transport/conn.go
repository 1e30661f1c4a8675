package transport

import "errors"

var (
	// ErrClosed is returned when sending on a connection that is shutting down
	ErrClosed = errors.New("connection closed")
	// ErrQueueFull is returned when a connection's outbound queue is saturated
	ErrQueueFull = errors.New("send queue full")
)

// Conn is the handle the hub holds for one client connection.
// Send must not block; a non-nil error means the frame was not queued.
type Conn interface {
	ID() string
	Send(frame []byte) error
	Close(reason error)
}

// SendResult records the outcome of one send attempt during a fan-out
type SendResult struct {
	ConnID string
	Err    error
}

// Delivered reports whether the frame was accepted by the connection
func (r SendResult) Delivered() bool {
	return r.Err == nil
}

// Attempt sends a frame and tags the outcome
func Attempt(c Conn, frame []byte) SendResult {
	return SendResult{ConnID: c.ID(), Err: c.Send(frame)}
}
