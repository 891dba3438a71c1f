package conn

import "errors"

var (
	// ErrNotConnected is returned by Send when the connection is not OPEN.
	// Frames are never queued here; retry policy belongs to the outbox.
	ErrNotConnected = errors.New("conn: not connected")

	// ErrConnectionLost is the terminal condition after reconnect
	// attempts are exhausted. Only an explicit Connect clears it.
	ErrConnectionLost = errors.New("conn: connection lost")

	// ErrAuthFailed means the server rejected our credentials. Fatal to
	// the session; reconnection stops until a new login.
	ErrAuthFailed = errors.New("conn: authentication failed")
)
