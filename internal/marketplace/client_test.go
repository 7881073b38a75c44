package marketplace

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharetribe/ftw-time/internal/config"
)

const transactionDoc = `{
  "data": {
    "id": "tx-1", "type": "transaction",
    "attributes": {"lastTransition": "transition/accept", "lastTransitionedAt": "2024-05-01T09:00:00.000Z",
                   "payinTotal": {"amount": 5000, "currency": "USD"}},
    "relationships": {
      "customer": {"data": {"id": "cust-1", "type": "user"}},
      "provider": {"data": {"id": "prov-1", "type": "user"}},
      "booking":  {"data": {"id": "book-1", "type": "booking"}}
    }
  },
  "included": [
    {"id": "book-1", "type": "booking", "attributes": {"start": "2024-05-01T10:00:00.000Z", "end": "2024-05-01T11:30:00.000Z"}},
    {"id": "cust-1", "type": "user", "attributes": {"email": "cust@example.com", "profile": {"displayName": "Cus T"}}},
    {"id": "prov-1", "type": "user", "attributes": {"email": "prov@example.com",
      "profile": {"displayName": "Pro V", "privateData": {"isConnectZoom": true}}}}
  ]
}`

type fakeMarketplace struct {
	t         *testing.T
	srv       *httptest.Server
	refreshes atomic.Int32
	handlers  map[string]http.HandlerFunc
}

func newFakeMarketplace(t *testing.T) *fakeMarketplace {
	f := &fakeMarketplace{t: t, handlers: map[string]http.HandlerFunc{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeMarketplace) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v1/auth/token" {
		require.NoError(f.t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "client_credentials":
			io.WriteString(w, `{"access_token":"integ-token","token_type":"bearer","expires_in":3600}`)
		case "refresh_token":
			f.refreshes.Add(1)
			io.WriteString(w, `{"access_token":"fresh-token","refresh_token":"fresh-refresh","token_type":"bearer","expires_in":3600}`)
		case "token_exchange":
			io.WriteString(w, `{"access_token":"trusted-token","token_type":"bearer","expires_in":3600}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
		return
	}
	h, ok := f.handlers[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeMarketplace) client() *Client {
	cfg := config.MarketplaceConfig{
		BaseURL:      f.srv.URL,
		AuthBaseURL:  f.srv.URL + "/v1/auth",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Currency:     "USD",
	}
	return NewClient(cfg, f.srv.Client())
}

func TestShowTransactionResolvesIncludedByRelationship(t *testing.T) {
	f := newFakeMarketplace(t)
	f.handlers["/v1/integration_api/transactions/show"] = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer integ-token", r.Header.Get("Authorization"))
		assert.Equal(t, "tx-1", r.URL.Query().Get("id"))
		assert.Equal(t, "customer,provider,booking", r.URL.Query().Get("include"))
		io.WriteString(w, transactionDoc)
	}

	tx, err := f.client().ShowTransaction(t.Context(), "tx-1", "customer", "provider", "booking")
	require.NoError(t, err)

	require.NotNil(t, tx.Provider)
	require.NotNil(t, tx.Customer)
	require.NotNil(t, tx.Booking)
	assert.Equal(t, "prov@example.com", tx.Provider.Email)
	assert.Equal(t, true, tx.Provider.Profile.PrivateData["isConnectZoom"])
	assert.Equal(t, "cust@example.com", tx.Customer.Email)
	assert.Equal(t, 90*time.Minute, tx.Booking.Duration())
	assert.Equal(t, &Money{Amount: 5000, Currency: "USD"}, tx.PayinTotal)
	assert.Equal(t, RoleProvider, tx.RoleOf("prov-1"))
	assert.Equal(t, "", tx.RoleOf("stranger"))
}

func TestUserClientRefreshesOnceOn401(t *testing.T) {
	f := newFakeMarketplace(t)
	var calls atomic.Int32
	f.handlers["/v1/api/current_user/show"] = func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"data":{"id":"u-1","type":"currentUser","attributes":{"email":"me@example.com","profile":{"displayName":"Me"}}}}`)
	}

	uc := f.client().ForUser(StoredToken{AccessToken: "stale", RefreshToken: "refresh-1"})
	user, doc, err := uc.CurrentUser(t.Context())
	require.NoError(t, err)

	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, "me@example.com", user.Email)
	assert.NotNil(t, doc)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), f.refreshes.Load())
	assert.True(t, uc.Refreshed())
	assert.Equal(t, "fresh-token", uc.Token().AccessToken)
	assert.Equal(t, "fresh-refresh", uc.Token().RefreshToken)
}

func TestUserClientGivesUpAfterOneRefresh(t *testing.T) {
	f := newFakeMarketplace(t)
	f.handlers["/v1/api/current_user/show"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}

	uc := f.client().ForUser(StoredToken{AccessToken: "stale", RefreshToken: "refresh-1"})
	_, _, err := uc.CurrentUser(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), f.refreshes.Load())
}

func TestUpdateUserProfileSendsID(t *testing.T) {
	f := newFakeMarketplace(t)
	var got map[string]any
	f.handlers["/v1/integration_api/users/update_profile"] = func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}

	err := f.client().UpdateUserProfile(t.Context(), "prov-1", ProfileUpdate{
		PrivateData: map[string]any{"isConnectZoom": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "prov-1", got["id"])
	assert.Equal(t, map[string]any{"isConnectZoom": true}, got["privateData"])
}

func TestQueryTransactions(t *testing.T) {
	f := newFakeMarketplace(t)
	f.handlers["/v1/api/transactions/query"] = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sale", r.URL.Query().Get("only"))
		io.WriteString(w, `{"data":[{"id":"tx-1","type":"transaction","attributes":{"lastTransition":"transition/request"}}],
			"meta":{"totalItems":1,"totalPages":1,"page":1,"perPage":100}}`)
	}

	txs, page, err := f.client().ForUser(StoredToken{AccessToken: "t"}).QueryTransactions(t.Context(), TransactionQuery{Only: "sale"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "transition/request", txs[0].LastTransition)
	assert.Equal(t, 1, page.TotalItems)
}

func TestNotFoundMatchesSentinel(t *testing.T) {
	f := newFakeMarketplace(t)
	_, err := f.client().ShowUser(t.Context(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestTrustedExchange(t *testing.T) {
	f := newFakeMarketplace(t)
	trusted, err := f.client().Trusted(t.Context(), StoredToken{AccessToken: "user-token"})
	require.NoError(t, err)
	assert.Equal(t, "trusted-token", trusted.Token().AccessToken)
}

func TestTokenCookieRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	tok := StoredToken{AccessToken: "a", RefreshToken: "r", TokenType: "bearer", ExpiresIn: 3600}
	require.NoError(t, SetTokenCookie(rec, "st-client-id-token", tok, false))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	got, err := TokenFromRequest(req, "st-client-id-token")
	require.NoError(t, err)
	assert.Equal(t, tok, got)

	_, err = TokenFromRequest(httptest.NewRequest(http.MethodGet, "/", nil), "st-client-id-token")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLoginAsURL(t *testing.T) {
	c := NewClient(config.MarketplaceConfig{ClientID: "cid", ConsoleURL: "https://console.example.com/"}, nil)
	raw := c.LoginAsURL("user-1", "http://localhost:3000/api/login-as", "state-1", "challenge")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/api/authorize-as", u.Path)
	assert.Equal(t, "user-1", u.Query().Get("user_id"))
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
}
