package events

// DefaultHistorySize is the per-scope replay capacity
const DefaultHistorySize = 100

// History is a fixed-capacity FIFO ring of envelopes.
// It is not safe for concurrent use; the hub loop owns every instance.
type History struct {
	buf   []*Envelope
	start int
	size  int
}

// NewHistory creates a history with the given capacity
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{buf: make([]*Envelope, capacity)}
}

// Append adds an envelope, evicting the oldest one when full
func (h *History) Append(e *Envelope) {
	capacity := len(h.buf)
	if h.size < capacity {
		h.buf[(h.start+h.size)%capacity] = e
		h.size++
		return
	}
	h.buf[h.start] = e
	h.start = (h.start + 1) % capacity
}

// Len returns the number of buffered envelopes
func (h *History) Len() int {
	return h.size
}

// Cap returns the capacity
func (h *History) Cap() int {
	return len(h.buf)
}

// Snapshot returns the buffered envelopes oldest first
func (h *History) Snapshot() []*Envelope {
	out := make([]*Envelope, 0, h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}

// Replay returns the buffered envelopes that may be replayed, oldest first
func (h *History) Replay() []*Envelope {
	out := make([]*Envelope, 0, h.size)
	for _, e := range h.Snapshot() {
		if Replayable(e.EventType) {
			out = append(out, e)
		}
	}
	return out
}
