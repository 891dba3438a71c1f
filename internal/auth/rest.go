package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RESTProvider holds a token pair and refreshes it against the auth API's
// /auth/refresh endpoint.
type RESTProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	mu     sync.Mutex
	tokens Tokens
}

// NewRESTProvider creates a provider seeded with the tokens from login.
func NewRESTProvider(baseURL string, tokens Tokens, logger *zap.Logger) *RESTProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RESTProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		tokens:  tokens,
	}
}

func (p *RESTProvider) CurrentToken(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tokens.AccessToken == "" {
		return "", ErrUnauthenticated
	}
	return p.tokens.AccessToken, nil
}

// Refresh posts the refresh token and replaces the stored pair. On a
// rejected refresh the stored tokens are cleared so subsequent
// CurrentToken calls fail fast with ErrUnauthenticated.
func (p *RESTProvider) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	refresh := p.tokens.RefreshToken
	p.mu.Unlock()

	if refresh == "" {
		return "", ErrUnauthenticated
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return "", fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		p.logger.Warn("token refresh rejected", zap.Int("status", resp.StatusCode))
		p.mu.Lock()
		p.tokens = Tokens{}
		p.mu.Unlock()
		return "", ErrUnauthenticated
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh request: unexpected status %d", resp.StatusCode)
	}

	var tokens Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}

	p.mu.Lock()
	p.tokens = tokens
	p.mu.Unlock()

	p.logger.Info("tokens refreshed")
	return tokens.AccessToken, nil
}
