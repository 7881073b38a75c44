package auth

import (
	"encoding/json"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/sharetribe/ftw-time/internal/marketplace"
	"github.com/sharetribe/ftw-time/internal/pkg/httputil"
	"github.com/sharetribe/ftw-time/internal/pkg/logger"
)

type loginAsState struct {
	State    string `json:"state"`
	Verifier string `json:"codeVerifier"`
}

func (am *AuthManager) loginAsRedirectURI() string {
	return am.rootURL + "/api/login-as"
}

// HandleInitiateLoginAs sends an operator to the console to approve
// logging in as user_id. State and the PKCE verifier wait in a cookie.
func (am *AuthManager) HandleInitiateLoginAs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}
	state, err := randomString(24)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	verifier := oauth2.GenerateVerifier()

	b, _ := json.Marshal(loginAsState{State: state, Verifier: verifier})
	http.SetCookie(w, &http.Cookie{
		Name:     loginAsCookie,
		Value:    url.QueryEscape(string(b)),
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   am.secure,
		SameSite: http.SameSiteLaxMode,
	})

	target := am.market.LoginAsURL(userID, am.loginAsRedirectURI(), state, oauth2.S256ChallengeFromVerifier(verifier))
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleLoginAs completes login-as with the code from the console.
func (am *AuthManager) HandleLoginAs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errMsg := q.Get("error"); errMsg != "" {
		httputil.Text(w, http.StatusUnauthorized, "Login as failed: "+errMsg)
		return
	}

	c, err := r.Cookie(loginAsCookie)
	if err != nil {
		httputil.Text(w, http.StatusUnauthorized, "Login as failed: missing state")
		return
	}
	raw, err := url.QueryUnescape(c.Value)
	if err != nil {
		raw = c.Value
	}
	var saved loginAsState
	if err := json.Unmarshal([]byte(raw), &saved); err != nil || saved.State == "" || saved.State != q.Get("state") {
		httputil.Text(w, http.StatusUnauthorized, "Login as failed: invalid state")
		return
	}
	clearCookie(w, loginAsCookie)

	tok, err := am.market.ExchangeLoginAs(r.Context(), q.Get("code"), am.loginAsRedirectURI(), saved.Verifier)
	if err != nil {
		logger.Error("login as exchange failed", "error", err)
		httputil.Text(w, http.StatusUnauthorized, "Login as failed")
		return
	}
	if err := marketplace.SetTokenCookie(w, am.tokenCookie, tok, am.secure); err != nil {
		httputil.InternalError(w, err)
		return
	}
	http.Redirect(w, r, am.rootURL+"/", http.StatusFound)
}
