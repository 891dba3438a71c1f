package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticProvider(t *testing.T) {
	p := &Static{Token: "tok"}
	got, err := p.CurrentToken(context.Background())
	if err != nil || got != "tok" {
		t.Errorf("CurrentToken() = %q, %v, want tok, nil", got, err)
	}

	empty := &Static{}
	if _, err := empty.CurrentToken(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("empty CurrentToken() error = %v, want ErrUnauthenticated", err)
	}
}

func TestRESTRefreshReplacesTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/refresh" {
			t.Errorf("path = %q, want /auth/refresh", r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["refresh_token"] != "r1" {
			t.Errorf("refresh_token = %q, want r1", req["refresh_token"])
		}
		_ = json.NewEncoder(w).Encode(Tokens{AccessToken: "a2", RefreshToken: "r2"})
	}))
	defer srv.Close()

	p := NewRESTProvider(srv.URL, Tokens{AccessToken: "a1", RefreshToken: "r1"}, nil)

	tok, err := p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if tok != "a2" {
		t.Errorf("Refresh() = %q, want a2", tok)
	}
	if cur, _ := p.CurrentToken(context.Background()); cur != "a2" {
		t.Errorf("CurrentToken() after refresh = %q, want a2", cur)
	}
}

func TestRESTRefreshRejectedClearsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewRESTProvider(srv.URL, Tokens{AccessToken: "a1", RefreshToken: "r1"}, nil)

	if _, err := p.Refresh(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Refresh() error = %v, want ErrUnauthenticated", err)
	}

	// Stored pair must be gone: the session needs a fresh login.
	if _, err := p.CurrentToken(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("CurrentToken() error = %v, want ErrUnauthenticated", err)
	}
}

func TestRESTRefreshWithoutRefreshToken(t *testing.T) {
	p := NewRESTProvider("http://unused", Tokens{AccessToken: "a1"}, nil)
	if _, err := p.Refresh(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Refresh() error = %v, want ErrUnauthenticated", err)
	}
}
