// Package auth signs users in to the marketplace through Facebook or
// Google, and lets operators log in as a chosen user.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/sharetribe/ftw-time/internal/config"
	"github.com/sharetribe/ftw-time/internal/marketplace"
	"github.com/sharetribe/ftw-time/internal/pkg/httputil"
	"github.com/sharetribe/ftw-time/internal/pkg/logger"
)

const (
	stateCookie    = "st-idp-state"
	authInfoCookie = "st-authinfo"
	loginAsCookie  = "st-loginas"
)

// Market is the marketplace API used for sign-in.
type Market interface {
	LoginWithIdp(ctx context.Context, in marketplace.IdpLogin) (marketplace.StoredToken, error)
	CreateUserWithIdp(ctx context.Context, in marketplace.NewIdpUser) (marketplace.User, error)
	LoginAsURL(userID, redirectURI, state, codeChallenge string) string
	ExchangeLoginAs(ctx context.Context, code, redirectURI, codeVerifier string) (marketplace.StoredToken, error)
}

// AuthManager owns the IdP providers and the cookies of the sign-in flows.
type AuthManager struct {
	market      Market
	providers   map[string]*Provider
	rootURL     string
	callbackURL string
	tokenCookie string
	secure      bool
}

// NewAuthManager builds the manager with the providers that have
// credentials configured.
func NewAuthManager(cfg *config.Config, market Market) *AuthManager {
	am := &AuthManager{
		market:      market,
		providers:   make(map[string]*Provider),
		rootURL:     strings.TrimRight(cfg.Server.RootURL, "/"),
		callbackURL: strings.TrimRight(cfg.IdP.CallbackBaseURL, "/"),
		tokenCookie: cfg.Marketplace.TokenCookieName(),
		secure:      cfg.Server.SecureCookies,
	}
	if cfg.IdP.FacebookEnabled() {
		am.AddProvider(NewFacebook(cfg.IdP.FacebookAppID, cfg.IdP.FacebookAppSecret, am.callbackURL+"/api/auth/facebook/callback"))
	}
	if cfg.IdP.GoogleEnabled() {
		am.AddProvider(NewGoogle(cfg.IdP.GoogleClientID, cfg.IdP.GoogleClientSecret, am.callbackURL+"/api/auth/google/callback"))
	}
	return am
}

// AddProvider registers p under p.ID.
func (am *AuthManager) AddProvider(p *Provider) {
	am.providers[p.ID] = p
}

// Provider returns the registered provider, if any.
func (am *AuthManager) Provider(id string) (*Provider, bool) {
	p, ok := am.providers[id]
	return p, ok
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// loginState travels through the IdP in the OAuth state parameter.
type loginState struct {
	Nonce          string `json:"nonce"`
	From           string `json:"from,omitempty"`
	DefaultReturn  string `json:"defaultReturn,omitempty"`
	DefaultConfirm string `json:"defaultConfirm,omitempty"`
}

func (s loginState) encode() string {
	b, _ := json.Marshal(s)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeState(raw string) (loginState, error) {
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return loginState{}, err
	}
	var s loginState
	if err := json.Unmarshal(b, &s); err != nil {
		return loginState{}, err
	}
	return s, nil
}

// AuthInfo is what the confirm page needs to finish an IdP sign-up.
type AuthInfo struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	IdpToken  string `json:"idpToken"`
	IdpID     string `json:"idpId"`
	From      string `json:"from,omitempty"`
}

// HandleLogin starts the IdP flow for provider id.
func (am *AuthManager) HandleLogin(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := am.providers[id]
		if !ok {
			httputil.NotFound(w, "identity provider not configured")
			return
		}
		nonce, err := randomString(24)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		q := r.URL.Query()
		state := loginState{
			Nonce:          nonce,
			From:           q.Get("from"),
			DefaultReturn:  q.Get("defaultReturn"),
			DefaultConfirm: q.Get("defaultConfirm"),
		}

		http.SetCookie(w, &http.Cookie{
			Name:     stateCookie,
			Value:    nonce,
			Path:     "/",
			MaxAge:   300,
			HttpOnly: true,
			Secure:   am.secure,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, p.AuthCodeURL(state.encode()), http.StatusFound)
	}
}

// HandleCallback finishes the IdP flow: an existing user gets the
// marketplace token cookie, a new one is sent to the confirm page with
// the IdP data in the st-authinfo cookie.
func (am *AuthManager) HandleCallback(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := am.providers[id]
		if !ok {
			httputil.NotFound(w, "identity provider not configured")
			return
		}
		q := r.URL.Query()
		state, err := decodeState(q.Get("state"))
		c, cerr := r.Cookie(stateCookie)
		if err != nil || cerr != nil || c.Value == "" || c.Value != state.Nonce {
			logger.Warn("idp callback with invalid state", "idp", id)
			am.redirect(w, r, state.DefaultReturn, "/login", "invalid_state")
			return
		}
		clearCookie(w, stateCookie)

		if errMsg := q.Get("error"); errMsg != "" {
			logger.Warn("idp returned error", "idp", id, "error", errMsg)
			am.redirect(w, r, state.DefaultReturn, "/login", errMsg)
			return
		}

		profile, err := p.Authenticate(r.Context(), q.Get("code"))
		if err != nil {
			logger.Error("idp authentication failed", "idp", id, "error", err)
			am.redirect(w, r, state.DefaultReturn, "/login", "idp_failed")
			return
		}

		tok, err := am.market.LoginWithIdp(r.Context(), marketplace.IdpLogin{
			IdpID:       p.ID,
			IdpClientID: p.ClientID(),
			IdpToken:    profile.IdpToken,
		})
		switch {
		case err == nil:
			if err := marketplace.SetTokenCookie(w, am.tokenCookie, tok, am.secure); err != nil {
				httputil.InternalError(w, err)
				return
			}
			logger.Info("idp login", "idp", id, "email", profile.Email)
			am.redirect(w, r, state.From, "/", "")
		case isNoSuchUser(err):
			info := AuthInfo{
				Email:     profile.Email,
				FirstName: profile.FirstName,
				LastName:  profile.LastName,
				IdpToken:  profile.IdpToken,
				IdpID:     p.ID,
				From:      state.From,
			}
			b, _ := json.Marshal(info)
			http.SetCookie(w, &http.Cookie{
				Name:     authInfoCookie,
				Value:    url.QueryEscape(string(b)),
				Path:     "/",
				MaxAge:   15 * 60,
				Secure:   am.secure,
				SameSite: http.SameSiteLaxMode,
			})
			am.redirect(w, r, state.DefaultConfirm, "/confirm", "")
		default:
			logger.Error("marketplace idp login failed", "idp", id, "error", err)
			am.redirect(w, r, state.DefaultReturn, "/login", "login_failed")
		}
	}
}

// isNoSuchUser reports the marketplace answer for an IdP account that is
// not linked to any user.
func isNoSuchUser(err error) bool {
	var apiErr *marketplace.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusNotFound
}

type createUserRequest struct {
	IdpToken      string         `json:"idpToken"`
	IdpID         string         `json:"idpId"`
	Email         string         `json:"email"`
	FirstName     string         `json:"firstName"`
	LastName      string         `json:"lastName"`
	DisplayName   string         `json:"displayName,omitempty"`
	PublicData    map[string]any `json:"publicData,omitempty"`
	ProtectedData map[string]any `json:"protectedData,omitempty"`
	PrivateData   map[string]any `json:"privateData,omitempty"`
}

// HandleCreateUserWithIdp creates the user confirmed on the confirm page
// and signs them in.
func (am *AuthManager) HandleCreateUserWithIdp(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	p, ok := am.providers[req.IdpID]
	if !ok {
		httputil.BadRequest(w, "unknown identity provider")
		return
	}
	if req.IdpToken == "" || req.Email == "" {
		httputil.BadRequest(w, "idpToken and email are required")
		return
	}

	login := marketplace.IdpLogin{IdpID: p.ID, IdpClientID: p.ClientID(), IdpToken: req.IdpToken}
	_, err := am.market.CreateUserWithIdp(r.Context(), marketplace.NewIdpUser{
		IdpLogin:      login,
		Email:         req.Email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		DisplayName:   req.DisplayName,
		PublicData:    req.PublicData,
		ProtectedData: req.ProtectedData,
		PrivateData:   req.PrivateData,
	})
	if err != nil {
		am.upstreamError(w, "create user with idp", err)
		return
	}

	tok, err := am.market.LoginWithIdp(r.Context(), login)
	if err != nil {
		am.upstreamError(w, "login with idp", err)
		return
	}
	if err := marketplace.SetTokenCookie(w, am.tokenCookie, tok, am.secure); err != nil {
		httputil.InternalError(w, err)
		return
	}
	clearCookie(w, authInfoCookie)
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (am *AuthManager) upstreamError(w http.ResponseWriter, op string, err error) {
	logger.Error(op+" failed", "error", err)
	var apiErr *marketplace.APIError
	if errors.As(err, &apiErr) {
		httputil.StringifiedError(w, apiErr.Status, err)
		return
	}
	httputil.StringifiedError(w, http.StatusInternalServerError, err)
}

// redirect sends the browser to path (or fallback) on the web app.
func (am *AuthManager) redirect(w http.ResponseWriter, r *http.Request, path, fallback, errCode string) {
	if path == "" || !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		path = fallback
	}
	target := am.rootURL + path
	if errCode != "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		target += sep + "error=" + url.QueryEscape(errCode)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
