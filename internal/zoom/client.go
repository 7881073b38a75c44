// Package zoom connects marketplace providers to Zoom over OAuth and
// creates meetings on their behalf.
package zoom

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

	"github.com/sharetribe/ftw-time/internal/config"
	"github.com/sharetribe/ftw-time/internal/metrics"
	"github.com/sharetribe/ftw-time/internal/pkg/httpretry"
	"github.com/sharetribe/ftw-time/internal/pkg/logger"
)

var (
	// ErrNotConnected means the user has no stored Zoom tokens.
	ErrNotConnected = errors.New("zoom: account not connected")
	// ErrUnauthorized is matched by APIErrors with status 401.
	ErrUnauthorized = errors.New("zoom: unauthorized")
)

// APIError is a non-2xx Zoom API response.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zoom %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Is matches ErrUnauthorized for 401 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// TokenSaver persists tokens issued by a refresh for the marketplace user
// that owns them.
type TokenSaver interface {
	SaveZoomTokens(ctx context.Context, userID string, t Tokens) error
}

// TokenSaverFunc adapts a function to TokenSaver.
type TokenSaverFunc func(ctx context.Context, userID string, t Tokens) error

func (f TokenSaverFunc) SaveZoomTokens(ctx context.Context, userID string, t Tokens) error {
	return f(ctx, userID, t)
}

// Session is one marketplace user's Zoom link.
type Session struct {
	UserID string
	Tokens Tokens
}

// Client calls the Zoom OAuth and REST APIs.
type Client struct {
	cfg        config.ZoomConfig
	oauth      *oauth2.Config
	httpClient httpretry.HTTPDoer
	saver      TokenSaver
}

// NewClient builds a client. httpClient may be nil; saver may be nil, in
// which case refreshed tokens are only returned to the caller.
func NewClient(cfg config.ZoomConfig, httpClient httpretry.HTTPDoer, saver TokenSaver) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout()
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 2)
	}
	base := strings.TrimRight(cfg.OAuthBaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		saver:      saver,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth/authorize",
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
	}
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	hc, ok := c.httpClient.(*http.Client)
	if !ok {
		hc = &http.Client{Transport: doerTransport{c.httpClient}}
	}
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}

type doerTransport struct{ d httpretry.HTTPDoer }

func (t doerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.d.Do(req)
}

// AuthCodeURL is where the provider is sent to grant access.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeAuthorizeCode trades the code from the OAuth redirect for tokens.
func (c *Client) ExchangeAuthorizeCode(ctx context.Context, code string) (Tokens, error) {
	if code == "" {
		return Tokens{}, fmt.Errorf("zoom: exchange code: empty code")
	}
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return Tokens{}, fmt.Errorf("zoom: exchange code: %w", err)
	}
	return fromOAuth2(tok), nil
}

// RefreshTokens gets a new pair for refreshToken. Zoom rotates the refresh
// token, so the returned pair replaces the stored one.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (Tokens, error) {
	if refreshToken == "" {
		metrics.TrackZoomRefresh("error")
		return Tokens{}, ErrNotConnected
	}
	expired := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Now().Add(-time.Minute)}
	tok, err := c.oauth.TokenSource(c.oauthContext(ctx), expired).Token()
	if err != nil {
		metrics.TrackZoomRefresh("error")
		return Tokens{}, fmt.Errorf("zoom: refresh token: %w", err)
	}
	metrics.TrackZoomRefresh("ok")
	return fromOAuth2(tok), nil
}

// Me is the Zoom user behind a token.
type Me struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Type      int    `json:"type,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	PicURL    string `json:"pic_url,omitempty"`
}

// GetMe fetches the Zoom user. If the access token is rejected it
// refreshes once, saves the new pair through the TokenSaver and retries;
// a second rejection is returned. The returned Session carries the tokens
// that worked.
func (c *Client) GetMe(ctx context.Context, s Session) (Me, Session, error) {
	if !s.Tokens.Valid() {
		return Me{}, s, ErrNotConnected
	}

	var me Me
	err := c.call(ctx, "users.me", http.MethodGet, "/users/me", s.Tokens.AccessToken, nil, &me)
	if err == nil {
		return me, s, nil
	}
	if !errors.Is(err, ErrUnauthorized) {
		return Me{}, s, err
	}

	logger.Info("zoom access token expired, refreshing", "user_id", s.UserID)
	fresh, err := c.RefreshTokens(ctx, s.Tokens.RefreshToken)
	if err != nil {
		return Me{}, s, err
	}
	s.Tokens = fresh
	if c.saver != nil {
		if err := c.saver.SaveZoomTokens(ctx, s.UserID, fresh); err != nil {
			return Me{}, s, fmt.Errorf("zoom: save refreshed tokens: %w", err)
		}
	}

	if err := c.call(ctx, "users.me", http.MethodGet, "/users/me", fresh.AccessToken, nil, &me); err != nil {
		return Me{}, s, err
	}
	return me, s, nil
}

// MeetingRequest describes a scheduled meeting.
type MeetingRequest struct {
	Topic    string
	Start    time.Time
	Duration time.Duration
	Timezone string
}

// Meeting is the created meeting.
type Meeting struct {
	ID        int64     `json:"id"`
	UUID      string    `json:"uuid,omitempty"`
	HostID    string    `json:"host_id,omitempty"`
	Topic     string    `json:"topic"`
	StartTime time.Time `json:"start_time"`
	Duration  int       `json:"duration"`
	Timezone  string    `json:"timezone,omitempty"`
	JoinURL   string    `json:"join_url"`
	StartURL  string    `json:"start_url,omitempty"`
	Password  string    `json:"password,omitempty"`
}

type meetingSettings struct {
	HostVideo                    bool `json:"host_video"`
	ParticipantVideo             bool `json:"participant_video"`
	JoinBeforeHost               bool `json:"join_before_host"`
	RegistrantsEmailNotification bool `json:"registrants_email_notification"`
}

type meetingBody struct {
	Topic     string          `json:"topic"`
	Type      int             `json:"type"`
	StartTime string          `json:"start_time"`
	Duration  int             `json:"duration,omitempty"`
	Timezone  string          `json:"timezone,omitempty"`
	Settings  meetingSettings `json:"settings"`
}

// scheduledMeeting is Zoom's meeting type for a meeting with a fixed time.
const scheduledMeeting = 2

// CreateMeeting schedules a meeting owned by the session's Zoom user. The
// lookup of that user goes through GetMe, so the refresh rule applies and
// the meeting is created with whichever token GetMe ended up using.
func (c *Client) CreateMeeting(ctx context.Context, s Session, req MeetingRequest) (Meeting, Session, error) {
	me, s, err := c.GetMe(ctx, s)
	if err != nil {
		return Meeting{}, s, err
	}

	topic := req.Topic
	if topic == "" {
		topic = c.cfg.MeetingTopic
	}
	body := meetingBody{
		Topic:     topic,
		Type:      scheduledMeeting,
		StartTime: req.Start.UTC().Format("2006-01-02T15:04:05Z"),
		Duration:  int(req.Duration.Minutes()),
		Timezone:  req.Timezone,
		Settings: meetingSettings{
			HostVideo:                    true,
			ParticipantVideo:             true,
			JoinBeforeHost:               true,
			RegistrantsEmailNotification: true,
		},
	}

	var m Meeting
	path := "/users/" + url.PathEscape(me.ID) + "/meetings"
	if err := c.call(ctx, "meetings.create", http.MethodPost, path, s.Tokens.AccessToken, body, &m); err != nil {
		return Meeting{}, s, err
	}
	return m, s, nil
}

func (c *Client) call(ctx context.Context, op, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("zoom %s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.APIBaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("zoom %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.TrackZoomRequest(op, 0)
		return fmt.Errorf("zoom %s: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.TrackZoomRequest(op, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("zoom %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, Status: resp.StatusCode, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("zoom %s: decode response: %w", op, err)
		}
	}
	return nil
}
