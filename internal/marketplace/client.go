// Package marketplace is a client for the hosted marketplace API: the
// Marketplace API used on behalf of a signed-in user, the Integration API
// used with the app's own credentials, and the auth endpoints that mint
// tokens for both.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sharetribe/ftw-time/internal/config"
	"github.com/sharetribe/ftw-time/internal/metrics"
	"github.com/sharetribe/ftw-time/internal/pkg/httpretry"
)

var (
	// ErrUnauthorized is matched by APIErrors with status 401.
	ErrUnauthorized = errors.New("marketplace: unauthorized")
	// ErrNoSession means the request carried no marketplace token cookie.
	ErrNoSession = errors.New("marketplace: no user session")
	// ErrNotFound is matched by APIErrors with status 404.
	ErrNotFound = errors.New("marketplace: not found")
)

// APIError is a non-2xx response from the marketplace.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Is lets errors.Is match the sentinel for the response status.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Client talks to the marketplace. It is safe for concurrent use.
type Client struct {
	cfg        config.MarketplaceConfig
	httpClient httpretry.HTTPDoer

	// integration is the client-credentials token source for the
	// Integration API (operator privileges).
	integration oauth2.TokenSource
	// anonymous is a public-read token for calls made before sign-up.
	anonymous oauth2.TokenSource
	userOAuth *oauth2.Config
}

// NewClient builds a client. httpClient may be nil.
func NewClient(cfg config.MarketplaceConfig, httpClient httpretry.HTTPDoer) *Client {
	if httpClient == nil {
		httpClient = httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout()}, cfg.MaxRetries)
	}
	tokenURL := strings.TrimRight(cfg.AuthBaseURL, "/") + "/token"

	// oauth2 picks its HTTP client from the context; use the same doer.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, asHTTPClient(httpClient))

	integ := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{"integ"},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	anon := &clientcredentials.Config{
		ClientID:  cfg.ClientID,
		TokenURL:  tokenURL,
		Scopes:    []string{"public-read"},
		AuthStyle: oauth2.AuthStyleInParams,
	}

	return &Client{
		cfg:         cfg,
		httpClient:  httpClient,
		integration: integ.TokenSource(tokenCtx),
		anonymous:   anon.TokenSource(tokenCtx),
		userOAuth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		},
	}
}

func asHTTPClient(d httpretry.HTTPDoer) *http.Client {
	if hc, ok := d.(*http.Client); ok {
		return hc
	}
	return &http.Client{Transport: doerTransport{d}}
}

// doerTransport adapts an HTTPDoer (e.g. the retry client) to a RoundTripper.
type doerTransport struct{ d httpretry.HTTPDoer }

func (t doerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.d.Do(req)
}

// call performs one API request with the given bearer token and decodes
// a JSON response into out (which may be nil).
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body any, token string, out any) error {
	defer metrics.ObserveMarketplace(op, time.Now())

	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marketplace %s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("marketplace %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("marketplace %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("marketplace %s: decode response: %w", op, err)
	}
	return nil
}

// integrationCall runs an Integration API request with the app token.
func (c *Client) integrationCall(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	tok, err := c.integration.Token()
	if err != nil {
		return fmt.Errorf("marketplace %s: integration token: %w", op, err)
	}
	return c.call(ctx, op, method, "/v1/integration_api"+path, query, body, tok.AccessToken, out)
}
