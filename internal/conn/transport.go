package conn

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one established bidirectional byte stream. Implementations
// must allow Close to be called concurrently with a blocked ReadMessage.
type Transport interface {
	// ReadMessage blocks until the next frame arrives or the stream fails.
	ReadMessage() ([]byte, error)

	// WriteMessage transmits one frame.
	WriteMessage(data []byte) error

	// Close tears the stream down with a normal closure.
	Close() error
}

// Dialer opens transports. Injected so tests can fake the network.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebSocketDialer dials real websocket endpoints via gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

// NewWebSocketDialer returns a dialer with a sane handshake timeout.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{HandshakeTimeout: 15 * time.Second}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsTransport{ws: ws}, nil
}

type wsTransport struct {
	ws *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.ws.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	// Best-effort close handshake before dropping the socket.
	deadline := time.Now().Add(time.Second)
	_ = t.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return t.ws.Close()
}
