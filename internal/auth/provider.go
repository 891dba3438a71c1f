// Package auth supplies credentials for the websocket handshake. The core
// never owns token storage; it only asks a TokenProvider.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned when no usable credentials exist. The
// connection manager treats it as terminal: reconnects stop until a new
// login produces fresh tokens.
var ErrUnauthenticated = errors.New("auth: not authenticated")

// Tokens is an access/refresh token pair as returned by the login and
// refresh endpoints.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenProvider supplies the current access token and performs refresh.
type TokenProvider interface {
	// CurrentToken returns the access token to present at connect time.
	CurrentToken(ctx context.Context) (string, error)

	// Refresh exchanges the refresh token for a new pair. Callers invoke
	// it once after a 401-equivalent signal; a failure means the session
	// is unauthenticated.
	Refresh(ctx context.Context) (string, error)
}

// Static is a fixed-token provider for tests and development servers.
type Static struct {
	Token string
}

func (s *Static) CurrentToken(context.Context) (string, error) {
	if s.Token == "" {
		return "", ErrUnauthenticated
	}
	return s.Token, nil
}

func (s *Static) Refresh(context.Context) (string, error) {
	return s.CurrentToken(context.Background())
}
