// Package dispatch routes raw inbound frames to typed handlers by frame
// type. Malformed or unroutable frames are logged and dropped, never fatal.
package dispatch

import (
	"encoding/json"
	"sync"

	"github.com/relaychat/relay/internal/protocol"
	"go.uber.org/zap"
)

// HandlerFunc processes one frame's payload. When a frame carries no data
// object the full frame bytes are passed instead, so envelope-level fields
// (like error) remain reachable.
type HandlerFunc func(data json.RawMessage)

// Dispatcher maps the closed frame-type set to handlers. Frames are
// dispatched in arrival order; content-timestamp ordering is the store's
// concern, not this layer's.
type Dispatcher struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[protocol.FrameType]HandlerFunc
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:   logger,
		handlers: make(map[protocol.FrameType]HandlerFunc),
	}
}

// Register sets the handler for a frame type, replacing any previous one.
func (d *Dispatcher) Register(t protocol.FrameType, h HandlerFunc) {
	d.mu.Lock()
	d.handlers[t] = h
	d.mu.Unlock()
}

// Dispatch parses raw bytes and invokes the matching handler.
func (d *Dispatcher) Dispatch(raw []byte) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		d.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	d.mu.RLock()
	h := d.handlers[frame.Type]
	d.mu.RUnlock()

	if h == nil {
		d.logger.Warn("no handler for frame type", zap.String("type", string(frame.Type)))
		return
	}

	data := frame.Data
	if len(data) == 0 {
		data = raw
	}
	h(data)
}
