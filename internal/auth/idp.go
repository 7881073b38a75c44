package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"
)

// Profile is what an IdP tells us about the signed-in person.
type Profile struct {
	Email     string
	FirstName string
	LastName  string
	// IdpToken is passed to the marketplace to identify the account.
	IdpToken string
}

// Provider is one OAuth identity provider.
type Provider struct {
	ID          string
	oauth       *oauth2.Config
	userInfoURL string
	// tokenFor picks the token the marketplace verifies: the access token
	// for Facebook, the ID token for Google.
	tokenFor  func(*oauth2.Token) string
	parseUser func([]byte) (Profile, error)
	client    *http.Client
}

// NewFacebook builds the Facebook provider.
func NewFacebook(appID, appSecret, redirectURL string) *Provider {
	return &Provider{
		ID: "facebook",
		oauth: &oauth2.Config{
			ClientID:     appID,
			ClientSecret: appSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"public_profile", "email"},
			Endpoint:     facebook.Endpoint,
		},
		userInfoURL: "https://graph.facebook.com/me?fields=id,email,first_name,last_name",
		tokenFor:    func(t *oauth2.Token) string { return t.AccessToken },
		parseUser: func(b []byte) (Profile, error) {
			var u struct {
				Email     string `json:"email"`
				FirstName string `json:"first_name"`
				LastName  string `json:"last_name"`
			}
			if err := json.Unmarshal(b, &u); err != nil {
				return Profile{}, err
			}
			return Profile{Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}, nil
		},
	}
}

// NewGoogle builds the Google provider.
func NewGoogle(clientID, clientSecret, redirectURL string) *Provider {
	return &Provider{
		ID: "google",
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		tokenFor: func(t *oauth2.Token) string {
			if id, ok := t.Extra("id_token").(string); ok && id != "" {
				return id
			}
			return t.AccessToken
		},
		parseUser: func(b []byte) (Profile, error) {
			var u struct {
				Email      string `json:"email"`
				GivenName  string `json:"given_name"`
				FamilyName string `json:"family_name"`
			}
			if err := json.Unmarshal(b, &u); err != nil {
				return Profile{}, err
			}
			return Profile{Email: u.Email, FirstName: u.GivenName, LastName: u.FamilyName}, nil
		},
	}
}

// WithEndpoints points the provider at other OAuth and user-info URLs.
func (p *Provider) WithEndpoints(ep oauth2.Endpoint, userInfoURL string, client *http.Client) *Provider {
	p.oauth.Endpoint = ep
	p.userInfoURL = userInfoURL
	p.client = client
	return p
}

// ClientID is our app id at the provider.
func (p *Provider) ClientID() string {
	return p.oauth.ClientID
}

// AuthCodeURL is the provider's consent page.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Authenticate exchanges code and loads the user's profile.
func (p *Provider) Authenticate(ctx context.Context, code string) (Profile, error) {
	if p.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: exchange code: %w", p.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Profile{}, err
	}
	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: user info: %w", p.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: read user info: %w", p.ID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%s: user info: status %d: %s", p.ID, resp.StatusCode, body)
	}
	profile, err := p.parseUser(body)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: decode user info: %w", p.ID, err)
	}
	profile.IdpToken = p.tokenFor(tok)
	return profile, nil
}
