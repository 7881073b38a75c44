package zoom

import (
	"encoding/json"
	"time"

	"golang.org/x/oauth2"
)

// Tokens is the OAuth pair as Zoom returns it. It is stored verbatim in
// the provider's privateData.zoomData, so the JSON names must not change.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Valid reports whether there is anything to call Zoom with.
func (t Tokens) Valid() bool {
	return t.AccessToken != "" || t.RefreshToken != ""
}

// Map converts t to the generic form used in extended data.
func (t Tokens) Map() map[string]any {
	m := map[string]any{
		"access_token":  t.AccessToken,
		"refresh_token": t.RefreshToken,
	}
	if t.TokenType != "" {
		m["token_type"] = t.TokenType
	}
	if t.ExpiresIn > 0 {
		m["expires_in"] = t.ExpiresIn
	}
	if t.Scope != "" {
		m["scope"] = t.Scope
	}
	return m
}

// TokensFromData reads tokens out of a privateData.zoomData value. ok is
// false when the value is absent or holds no token.
func TokensFromData(v any) (Tokens, bool) {
	if v == nil {
		return Tokens{}, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Tokens{}, false
	}
	var t Tokens
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tokens{}, false
	}
	return t, t.Valid()
}

func fromOAuth2(tok *oauth2.Token) Tokens {
	t := Tokens{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		t.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		t.Scope = scope
	}
	return t
}
