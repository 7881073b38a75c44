package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/sharetribe/ftw-time/internal/pkg/logger"
)

// StoredToken is the token JSON kept in the st-<clientID>-token cookie.
type StoredToken struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func (s StoredToken) oauth2() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
		RefreshToken: s.RefreshToken,
	}
	if s.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return tok
}

func storedFromOAuth2(tok *oauth2.Token) StoredToken {
	s := StoredToken{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		s.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		s.Scope = scope
	}
	return s
}

// TokenFromRequest reads the marketplace token cookie.
func TokenFromRequest(r *http.Request, cookieName string) (StoredToken, error) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return StoredToken{}, ErrNoSession
	}
	raw, err := url.QueryUnescape(c.Value)
	if err != nil {
		raw = c.Value
	}
	var tok StoredToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil || tok.AccessToken == "" {
		return StoredToken{}, ErrNoSession
	}
	return tok, nil
}

// SetTokenCookie writes tok to the marketplace token cookie.
func SetTokenCookie(w http.ResponseWriter, cookieName string, tok StoredToken, secure bool) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marketplace: encode token cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    url.QueryEscape(string(data)),
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// UserClient calls the Marketplace API as one signed-in user. On a 401 it
// refreshes the token once and retries; Refreshed reports whether the
// caller should write the new token back to the cookie.
type UserClient struct {
	c *Client

	mu        sync.Mutex
	token     StoredToken
	refreshed bool
}

// ForUser returns a client acting with tok.
func (c *Client) ForUser(tok StoredToken) *UserClient {
	return &UserClient{c: c, token: tok}
}

// Token returns the current token, refreshed or not.
func (u *UserClient) Token() StoredToken {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.token
}

// Refreshed reports whether the token changed during this client's life.
func (u *UserClient) Refreshed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.refreshed
}

func (u *UserClient) call(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	tok := u.Token()
	err := u.c.call(ctx, op, method, "/v1/api"+path, query, body, tok.AccessToken, out)
	if !errors.Is(err, ErrUnauthorized) || tok.RefreshToken == "" {
		return err
	}

	logger.Debug("marketplace token rejected, refreshing", "op", op)
	fresh, rerr := u.refresh(ctx, tok)
	if rerr != nil {
		return fmt.Errorf("marketplace %s: refresh token: %w", op, rerr)
	}
	return u.c.call(ctx, op, method, "/v1/api"+path, query, body, fresh.AccessToken, out)
}

func (u *UserClient) refresh(ctx context.Context, old StoredToken) (StoredToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, asHTTPClient(u.c.httpClient))
	expired := old.oauth2()
	expired.Expiry = time.Now().Add(-time.Minute)

	tok, err := u.c.userOAuth.TokenSource(ctx, expired).Token()
	if err != nil {
		return StoredToken{}, err
	}
	fresh := storedFromOAuth2(tok)

	u.mu.Lock()
	u.token = fresh
	u.refreshed = true
	u.mu.Unlock()
	return fresh, nil
}
