// Package conn owns the persistent connection to the chat server: dialing,
// heartbeat, failure detection and reconnection with exponential backoff.
package conn

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/relaychat/relay/internal/auth"
	"github.com/relaychat/relay/internal/bus"
	"github.com/relaychat/relay/internal/clock"
	"github.com/relaychat/relay/internal/protocol"
	"go.uber.org/zap"
)

// Config holds connection lifecycle tuning.
type Config struct {
	URL                  string
	HeartbeatInterval    time.Duration
	PongWait             time.Duration
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 10 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 5 * time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
}

// Manager owns one transport session. State changes are published on the
// bus as conn.state_changed events.
type Manager struct {
	cfg    Config
	dialer Dialer
	tokens auth.TokenProvider
	bus    *bus.Bus
	clock  clock.Clock
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	transport   Transport
	attempts    int
	lastErr     error
	manualClose bool
	onFrame     func(raw []byte)

	// gen invalidates callbacks from a previous transport or a session
	// that Disconnect already tore down.
	gen       int
	heartbeat clock.Timer
	pongTimer clock.Timer
	reconnect clock.Timer
}

// NewManager creates a connection manager. It does not dial until Connect.
func NewManager(cfg Config, dialer Dialer, tokens auth.TokenProvider, b *bus.Bus, c clock.Clock, logger *zap.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = clock.NewSystem()
	}
	if dialer == nil {
		dialer = NewWebSocketDialer()
	}
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		tokens: tokens,
		bus:    b,
		clock:  c,
		logger: logger,
		state:  StateClosed,
	}
}

// OnFrame registers the receive callback. Must be set before Connect;
// frames arriving with no handler are dropped.
func (m *Manager) OnFrame(fn func(raw []byte)) {
	m.mu.Lock()
	m.onFrame = fn
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the current reconnect attempt count.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastError returns the most recent connection error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect opens the transport. No-op when already CONNECTING or OPEN.
// Transport failures are not surfaced: they enter the reconnect path.
// Only a credential problem is returned, since retrying cannot fix it.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return nil
	}
	m.manualClose = false
	m.lastErr = nil
	m.stopTimersLocked()
	m.transitionLocked(StateConnecting, nil)
	m.mu.Unlock()

	return m.dial(ctx)
}

// Disconnect closes the session and suppresses auto-reconnect. Idempotent;
// any queued heartbeat or reconnect callback becomes a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manualClose = true
	m.gen++
	m.stopTimersLocked()
	t := m.transport
	m.transport = nil
	if m.state != StateClosed {
		if t != nil {
			m.transitionLocked(StateClosing, nil)
		}
		m.transitionLocked(StateClosed, nil)
	}
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
}

// Send transmits a pre-encoded frame. Fails with ErrNotConnected unless the
// state is OPEN; nothing is queued here.
func (m *Manager) Send(raw []byte) error {
	m.mu.Lock()
	if m.state != StateOpen || m.transport == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	t := m.transport
	m.mu.Unlock()

	if err := t.WriteMessage(raw); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// SendFrame encodes and transmits a frame.
func (m *Manager) SendFrame(ft protocol.FrameType, payload any) error {
	raw, err := protocol.Encode(ft, payload)
	if err != nil {
		return err
	}
	return m.Send(raw)
}

// PongReceived marks the heartbeat as answered, disarming the forced close.
func (m *Manager) PongReceived() {
	m.mu.Lock()
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
	m.mu.Unlock()
}

// AuthRejected records a server-side credential rejection. Terminal: the
// transport is closed and reconnection stops until a fresh Connect.
func (m *Manager) AuthRejected(reason string) {
	m.mu.Lock()
	m.manualClose = true
	m.gen++
	m.stopTimersLocked()
	t := m.transport
	m.transport = nil
	m.lastErr = ErrAuthFailed
	if m.state != StateClosed {
		if t != nil {
			m.transitionLocked(StateClosing, ErrAuthFailed)
		}
		m.transitionLocked(StateClosed, ErrAuthFailed)
	}
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	m.logger.Warn("authentication rejected", zap.String("reason", reason))
	m.publish(bus.KindAuthFailed, reason)
}

func (m *Manager) dial(ctx context.Context) error {
	token, err := m.tokens.CurrentToken(ctx)
	if err != nil {
		m.logger.Warn("no credentials for handshake", zap.Error(err))
		m.mu.Lock()
		m.lastErr = ErrAuthFailed
		m.transitionLocked(StateClosed, ErrAuthFailed)
		m.mu.Unlock()
		m.publish(bus.KindAuthFailed, err.Error())
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	t, err := m.dialer.Dial(ctx, m.handshakeURL(token))
	if err != nil {
		m.logger.Warn("dial failed", zap.Error(err))
		m.mu.Lock()
		m.lastErr = err
		if m.manualClose {
			// Disconnect raced the dial; stay CLOSED, no reconnect.
			m.mu.Unlock()
			return nil
		}
		m.scheduleReconnectLocked(err)
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	if m.manualClose {
		// Disconnect raced the dial; drop the fresh transport.
		m.mu.Unlock()
		_ = t.Close()
		return nil
	}
	m.transport = t
	m.gen++
	gen := m.gen
	m.attempts = 0
	m.transitionLocked(StateOpen, nil)
	m.armHeartbeatLocked(gen)
	m.mu.Unlock()

	m.logger.Info("connected", zap.String("url", m.cfg.URL))
	go m.readLoop(t, gen)
	return nil
}

func (m *Manager) readLoop(t Transport, gen int) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			m.handleClosed(gen, err)
			return
		}
		m.mu.Lock()
		fn := m.onFrame
		m.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	}
}

func (m *Manager) handleClosed(gen int, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.stopTimersLocked()
	m.transport = nil
	if m.manualClose {
		if m.state != StateClosed {
			m.transitionLocked(StateClosed, nil)
		}
		m.mu.Unlock()
		return
	}
	m.logger.Warn("connection closed unexpectedly", zap.Error(cause))
	m.lastErr = cause
	m.scheduleReconnectLocked(cause)
	m.mu.Unlock()
}

func (m *Manager) scheduleReconnectLocked(cause error) {
	m.attempts++
	if m.attempts > m.cfg.MaxReconnectAttempts {
		m.logger.Error("reconnect attempts exhausted", zap.Int("attempts", m.attempts-1))
		m.lastErr = ErrConnectionLost
		m.transitionLocked(StateClosed, ErrConnectionLost)
		m.publish(bus.KindConnLost, cause)
		return
	}

	delay := backoffDelay(m.cfg.ReconnectBase, m.cfg.ReconnectMax, m.attempts)
	m.logger.Info("scheduling reconnect",
		zap.Int("attempt", m.attempts),
		zap.Duration("delay", delay),
	)
	m.transitionLocked(StateReconnectWait, cause)
	m.reconnect = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.manualClose || m.state != StateReconnectWait {
			m.mu.Unlock()
			return
		}
		m.transitionLocked(StateConnecting, nil)
		m.mu.Unlock()
		_ = m.dial(context.Background())
	})
}

func (m *Manager) armHeartbeatLocked(gen int) {
	m.heartbeat = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.sendPing(gen)
	})
}

func (m *Manager) sendPing(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateOpen {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.pongTimer = m.clock.AfterFunc(m.cfg.PongWait, func() {
		m.pongTimeout(gen)
	})
	m.armHeartbeatLocked(gen)
	m.mu.Unlock()

	raw, err := protocol.Encode(protocol.TypePing, nil)
	if err == nil && t != nil {
		if err := t.WriteMessage(raw); err != nil {
			m.logger.Warn("ping write failed", zap.Error(err))
		}
	}
}

// pongTimeout fires when a ping went unanswered: the transport is presumed
// dead and force-closed, which unblocks the read loop into the reconnect
// path.
func (m *Manager) pongTimeout(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateOpen {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.mu.Unlock()

	m.logger.Warn("heartbeat timeout, forcing close")
	if t != nil {
		_ = t.Close()
	}
}

func (m *Manager) stopTimersLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) transitionLocked(to State, cause error) {
	from := m.state
	if from == to {
		return
	}
	if !canTransition(from, to) {
		m.logger.Warn("unexpected state transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
	m.state = to
	if m.bus != nil {
		m.bus.Publish(bus.New(bus.KindConnStateChanged, StateChange{From: from, To: to, Err: cause}))
	}
}

func (m *Manager) handshakeURL(token string) string {
	if token == "" {
		return m.cfg.URL
	}
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return m.cfg.URL
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *Manager) publish(kind string, payload any) {
	if m.bus != nil {
		m.bus.Publish(bus.New(kind, payload))
	}
}

// backoffDelay computes the delay before reconnect attempt n (1-indexed):
// min(base * 2^(n-1), max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
