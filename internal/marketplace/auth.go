package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sharetribe/ftw-time/internal/metrics"
)

// tokenRequest posts a form to an auth endpoint and decodes the token.
func (c *Client) tokenRequest(ctx context.Context, op, path string, form url.Values) (StoredToken, error) {
	defer metrics.ObserveMarketplace(op, time.Now())

	u := strings.TrimRight(c.cfg.AuthBaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return StoredToken{}, fmt.Errorf("marketplace %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return StoredToken{}, fmt.Errorf("marketplace %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return StoredToken{}, fmt.Errorf("marketplace %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StoredToken{}, &APIError{Op: op, Status: resp.StatusCode, Body: string(data)}
	}
	var tok StoredToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return StoredToken{}, fmt.Errorf("marketplace %s: decode token: %w", op, err)
	}
	if tok.AccessToken == "" {
		return StoredToken{}, fmt.Errorf("marketplace %s: empty access token", op)
	}
	return tok, nil
}

// Trusted exchanges the user's token for a trusted one, which may set
// privileged transaction params such as line items.
func (c *Client) Trusted(ctx context.Context, user StoredToken) (*UserClient, error) {
	tok, err := c.tokenRequest(ctx, "auth.token_exchange", "/token", url.Values{
		"grant_type":    {"token_exchange"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"subject_token": {user.AccessToken},
		"scope":         {"trusted:user"},
	})
	if err != nil {
		return nil, err
	}
	return c.ForUser(tok), nil
}

// Anonymous returns a client with a public-read token, for visitors
// without a session.
func (c *Client) Anonymous(ctx context.Context) (*UserClient, error) {
	tok, err := c.anonymous.Token()
	if err != nil {
		return nil, fmt.Errorf("marketplace: anonymous token: %w", err)
	}
	return c.ForUser(storedFromOAuth2(tok)), nil
}

// IdpLogin identifies a user by an identity provider token.
type IdpLogin struct {
	IdpID       string `json:"idpId"`
	IdpClientID string `json:"idpClientId"`
	IdpToken    string `json:"idpToken"`
}

// LoginWithIdp signs in an existing user by their IdP token.
func (c *Client) LoginWithIdp(ctx context.Context, in IdpLogin) (StoredToken, error) {
	return c.tokenRequest(ctx, "auth.auth_with_idp", "/auth_with_idp", url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"idp_id":        {in.IdpID},
		"idp_client_id": {in.IdpClientID},
		"idp_token":     {in.IdpToken},
	})
}

// NewIdpUser is the sign-up payload confirmed by the user after an IdP
// login found no account.
type NewIdpUser struct {
	IdpLogin
	Email         string         `json:"email"`
	FirstName     string         `json:"firstName"`
	LastName      string         `json:"lastName"`
	DisplayName   string         `json:"displayName,omitempty"`
	PublicData    map[string]any `json:"publicData,omitempty"`
	ProtectedData map[string]any `json:"protectedData,omitempty"`
	PrivateData   map[string]any `json:"privateData,omitempty"`
}

// CreateUserWithIdp creates the account with an anonymous token.
func (c *Client) CreateUserWithIdp(ctx context.Context, in NewIdpUser) (User, error) {
	anon, err := c.anonymous.Token()
	if err != nil {
		return User{}, fmt.Errorf("marketplace current_user.create_with_idp: anonymous token: %w", err)
	}
	var doc Document
	q := url.Values{"expand": {"true"}}
	if err := c.call(ctx, "current_user.create_with_idp", http.MethodPost, "/v1/api/current_user/create_with_idp", q, in, anon.AccessToken, &doc); err != nil {
		return User{}, err
	}
	if len(doc.Data) == 0 {
		return User{}, nil
	}
	res, err := doc.Resource()
	if err != nil {
		return User{}, err
	}
	return userFromResource(res)
}

// LoginAsURL is the console page where an operator approves logging in
// as userID.
func (c *Client) LoginAsURL(userID, redirectURI, state, codeChallenge string) string {
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {c.cfg.ClientID},
		"redirect_uri":          {redirectURI},
		"user_id":               {userID},
		"state":                 {state},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
	}
	return strings.TrimRight(c.cfg.ConsoleURL, "/") + "/api/authorize-as?" + q.Encode()
}

// ExchangeLoginAs trades the authorization code returned by the console
// for a token that acts as the chosen user.
func (c *Client) ExchangeLoginAs(ctx context.Context, code, redirectURI, codeVerifier string) (StoredToken, error) {
	return c.tokenRequest(ctx, "auth.login_as", "/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {codeVerifier},
	})
}
