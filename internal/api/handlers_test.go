package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharetribe/ftw-time/internal/appointment"
	"github.com/sharetribe/ftw-time/internal/config"
	"github.com/sharetribe/ftw-time/internal/lineitems"
	"github.com/sharetribe/ftw-time/internal/marketplace"
	"github.com/sharetribe/ftw-time/internal/transit"
	"github.com/sharetribe/ftw-time/internal/zoom"
)

const (
	txID      = "608f748d-d6eb-46a9-8920-2ebaac0cf277"
	listingID = "5f4a1e2b-0000-4000-8000-000000000001"
)

const listingDoc = `{"data":{"id":"` + listingID + `","type":"listing","attributes":{
  "title":"Yoga session","price":{"amount":5000,"currency":"USD"},
  "publicData":{"addons":[{"addOnTitle":"Mat rental","addOnPrice":1000}]}}}}`

// fakeMarketplace serves the marketplace auth and API endpoints the
// handlers call.
type fakeMarketplace struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	bodies   map[string][]byte
	auths    map[string]string
}

func newFakeMarketplace(t *testing.T) *fakeMarketplace {
	f := &fakeMarketplace{
		t:        t,
		handlers: map[string]http.HandlerFunc{},
		bodies:   map[string][]byte{},
		auths:    map[string]string{},
	}
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
			io.WriteString(w, `{"access_token":"anon-token","token_type":"bearer","expires_in":3600}`)
		case "refresh_token":
			io.WriteString(w, `{"access_token":"fresh-token","refresh_token":"fresh-refresh","token_type":"bearer","expires_in":3600}`)
		case "token_exchange":
			assert.Equal(f.t, "user-token", r.PostForm.Get("subject_token"))
			io.WriteString(w, `{"access_token":"trusted-token","token_type":"bearer","expires_in":3600}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
		return
	}

	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.bodies[r.URL.Path] = body
	f.auths[r.URL.Path] = r.Header.Get("Authorization")
	h, ok := f.handlers[r.URL.Path]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeMarketplace) on(path, body string) {
	f.handlers[path] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}
}

func (f *fakeMarketplace) body(path string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var m map[string]any
	require.NoError(f.t, json.Unmarshal(f.bodies[path], &m))
	return m
}

func currentUserDoc(privateData string) string {
	return `{"data":{"id":"u-1","type":"currentUser","attributes":{"email":"jane@example.com",
	  "profile":{"displayName":"Jane D","privateData":` + privateData + `}}}}`
}

type fakeZoom struct {
	exchanged []string
	session   zoom.Session
	err       error
}

func (f *fakeZoom) AuthCodeURL(state string) string {
	return "https://zoom.us/oauth/authorize?state=" + state
}

func (f *fakeZoom) ExchangeAuthorizeCode(_ context.Context, code string) (zoom.Tokens, error) {
	f.exchanged = append(f.exchanged, code)
	return zoom.Tokens{AccessToken: "zoom-access", RefreshToken: "zoom-refresh", TokenType: "bearer"}, f.err
}

func (f *fakeZoom) GetMe(_ context.Context, s zoom.Session) (zoom.Me, zoom.Session, error) {
	f.session = s
	if f.err != nil {
		return zoom.Me{}, s, f.err
	}
	return zoom.Me{ID: "zoom-user", Email: "jane@zoom.example"}, s, nil
}

type fakeAccepter struct {
	ids []string
	err error
}

func (f *fakeAccepter) Accept(_ context.Context, id string) (appointment.Result, error) {
	f.ids = append(f.ids, id)
	return appointment.Result{}, f.err
}

type testEnv struct {
	market   *fakeMarketplace
	zoom     *fakeZoom
	accepter *fakeAccepter
	router   http.Handler
}

func setupTestHandlers(t *testing.T) *testEnv {
	market := newFakeMarketplace(t)
	cfg := &config.Config{}
	cfg.Marketplace = config.MarketplaceConfig{
		BaseURL:      market.srv.URL,
		AuthBaseURL:  market.srv.URL + "/v1/auth",
		ClientID:     "cid",
		ClientSecret: "secret",
		Currency:     "USD",
	}
	env := &testEnv{market: market, zoom: &fakeZoom{}, accepter: &fakeAccepter{}}
	client := marketplace.NewClient(cfg.Marketplace, market.srv.Client())
	h := NewHandlers(cfg, client, env.zoom, env.accepter, lineitems.New("USD", -10))
	env.router = SetupRoutes(cfg.Server, h, nil, nil)
	return env
}

func sessionCookie(t *testing.T, tok marketplace.StoredToken) *http.Cookie {
	rec := httptest.NewRecorder()
	require.NoError(t, marketplace.SetTokenCookie(rec, "st-cid-token", tok, false))
	return rec.Result().Cookies()[0]
}

func (e *testEnv) do(t *testing.T, req *http.Request, withSession bool) *httptest.ResponseRecorder {
	if withSession {
		req.AddCookie(sessionCookie(t, marketplace.StoredToken{AccessToken: "user-token", RefreshToken: "user-refresh"}))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func transitRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", transit.ContentType)
	return req
}

func TestMalformedTransitIs400(t *testing.T) {
	env := setupTestHandlers(t)
	rec := env.do(t, transitRequest(http.MethodPost, "/api/appointment/accept", `["^ ","~:id"`), false)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid Transit in request body.", rec.Body.String())
	assert.Empty(t, env.accepter.ids)
}

func TestTransitBadCacheCodeIs400(t *testing.T) {
	env := setupTestHandlers(t)
	for _, body := range []string{`["^ ","~:id","^!"]`, `["^!",1]`} {
		rec := env.do(t, transitRequest(http.MethodPost, "/api/appointment/accept", body), false)

		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "Invalid Transit in request body.", rec.Body.String())
	}
	assert.Empty(t, env.accepter.ids)
}

func TestAcceptAppointmentWithTransitBody(t *testing.T) {
	env := setupTestHandlers(t)
	rec := env.do(t, transitRequest(http.MethodPost, "/api/appointment/accept", `["^ ","~:id","~u`+txID+`"]`), false)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"isSuccess":true,"payload":"Successfully"}`, rec.Body.String())
	assert.Equal(t, []string{txID}, env.accepter.ids)
}

func TestAcceptAppointmentWithSDKStyleJSON(t *testing.T) {
	env := setupTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/api/appointment/accept", strings.NewReader(`{"id":{"uuid":"`+txID+`"}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(t, req, false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{txID}, env.accepter.ids)
}

func TestAcceptAppointmentErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		contains string
	}{
		{"not connected", appointment.ErrProviderNotConnected, http.StatusUnauthorized, `"payload":"Missing Zoom Data"`},
		{"in progress", appointment.ErrInProgress, http.StatusConflict, `"isSuccess":false`},
		{"upstream", errors.New("create meeting: zoom users.me: status 500"), http.StatusInternalServerError, "create meeting"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestHandlers(t)
			env.accepter.err = tt.err
			rec := env.do(t, transitRequest(http.MethodPost, "/api/appointment/accept", `["^ ","~:id","~u`+txID+`"]`), false)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}

func TestAcceptAppointmentRejectsBadID(t *testing.T) {
	env := setupTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/api/appointment/accept", strings.NewReader(`{"id":"nope"}`))
	rec := env.do(t, req, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.accepter.ids)
}

func TestGetMeRequiresSession(t *testing.T) {
	env := setupTestHandlers(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/me", nil), false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetMeReturnsDocument(t *testing.T) {
	env := setupTestHandlers(t)
	env.market.on("/v1/api/current_user/show", currentUserDoc(`{}`))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/me", nil), true)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "u-1", doc["data"].(map[string]any)["id"])
	assert.Equal(t, "Bearer user-token", env.market.auths["/v1/api/current_user/show"])
}

func TestGetMeRefreshedTokenIsWrittenBack(t *testing.T) {
	env := setupTestHandlers(t)
	env.market.handlers["/v1/api/current_user/show"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, currentUserDoc(`{}`))
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/me", nil), true)
	require.Equal(t, http.StatusOK, rec.Code)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "st-cid-token" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	raw, err := url.QueryUnescape(cookie.Value)
	require.NoError(t, err)
	assert.Contains(t, raw, `"access_token":"fresh-token"`)
}

func TestZoomInfoMissingData(t *testing.T) {
	env := setupTestHandlers(t)
	env.market.on("/v1/api/current_user/show", currentUserDoc(`{"phone":"555"}`))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/zoomInfo", nil), true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing Zoom Data", rec.Body.String())
}

func TestZoomInfoCallsZoomWithStoredTokens(t *testing.T) {
	env := setupTestHandlers(t)
	env.market.on("/v1/api/current_user/show", currentUserDoc(`{"isConnectZoom":true,"zoomData":{"access_token":"za","refresh_token":"zr"}}`))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/zoomInfo", nil), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"zoom-user"`)
	assert.Equal(t, "u-1", env.zoom.session.UserID)
	assert.Equal(t, "za", env.zoom.session.Tokens.AccessToken)
	assert.Equal(t, "zr", env.zoom.session.Tokens.RefreshToken)
}

func TestZoomInfoUpstreamErrorIsStringified(t *testing.T) {
	env := setupTestHandlers(t)
	env.market.on("/v1/api/current_user/show", currentUserDoc(`{"zoomData":{"access_token":"za","refresh_token":"zr"}}`))
	env.zoom.err = &zoom.APIError{Op: "users.me", Status: http.StatusUnauthorized, Body: "expired"}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/zoomInfo", nil), true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var msg string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Contains(t, msg, "users.me")
}

func TestZoomDisconnectKeepsOtherPrivateData(t *testing.T) {
	env := setupTestHandlers(t)
	env.market.on("/v1/api/current_user/show", currentUserDoc(`{"phone":"555","isConnectZoom":true,"zoomData":{"access_token":"za"}}`))
	env.market.on("/v1/api/current_user/update_profile", currentUserDoc(`{}`))

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/zoomDisconnect", nil), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Disconnect Successfull", rec.Body.String())

	private := env.market.body("/v1/api/current_user/update_profile")["privateData"].(map[string]any)
	assert.Equal(t, "555", private["phone"])
	assert.Equal(t, false, private["isConnectZoom"])
	v, ok := private["zoomData"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestZoomAuthorizeStoresTokens(t *testing.T) {
	env := setupTestHandlers(t)
	env.market.on("/v1/api/current_user/show", currentUserDoc(`{"phone":"555"}`))
	env.market.on("/v1/api/current_user/update_profile", currentUserDoc(`{}`))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/zoom/authorize?code=the-code", nil), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access_token":"zoom-access"`)
	assert.Equal(t, []string{"the-code"}, env.zoom.exchanged)

	private := env.market.body("/v1/api/current_user/update_profile")["privateData"].(map[string]any)
	assert.Equal(t, "555", private["phone"])
	assert.Equal(t, true, private["isConnectZoom"])
	assert.Equal(t, "zoom-refresh", private["zoomData"].(map[string]any)["refresh_token"])
}

func TestZoomConnectThenAuthorizeChecksState(t *testing.T) {
	env := setupTestHandlers(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/zoom/connect", nil), false)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == zoomStateCookie {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)

	req := httptest.NewRequest(http.MethodGet, "/api/zoom/authorize?code=x&state=forged", nil)
	req.AddCookie(stateCookie)
	rec = env.do(t, req, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.zoom.exchanged)
}

func TestTransactionLineItemsForVisitor(t *testing.T) {
	env := setupTestHandlers(t)
	env.market.on("/v1/api/listings/show", listingDoc)

	body := `["^ ","~:listingId","~u` + listingID + `","~:isOwnListing",false,"~:bookingData",["^ ",` +
		`"~:startDate","~m1714557600000","~:endDate","~m1714563000000","~:addons",["Mat rental"]]]`
	rec := env.do(t, transitRequest(http.MethodPost, "/api/transaction-line-items", body), false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, transit.ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "Bearer anon-token", env.market.auths["/v1/api/listings/show"])

	decoded, err := transit.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	items := decoded.(map[string]any)["data"].([]any)
	require.Len(t, items, 3)

	units := items[0].(map[string]any)
	assert.Equal(t, lineitems.CodeUnits, units["code"])
	assert.Equal(t, transit.Money{Amount: 7500, Currency: "USD"}, units["lineTotal"])
	assert.Equal(t, "line-item/addon-mat-rental", items[1].(map[string]any)["code"])
	commission := items[2].(map[string]any)
	assert.Equal(t, lineitems.CodeProviderCommission, commission["code"])
	assert.Equal(t, transit.Money{Amount: -850, Currency: "USD"}, commission["lineTotal"])
}

func TestTransactionLineItemsInvalidDates(t *testing.T) {
	env := setupTestHandlers(t)
	env.market.on("/v1/api/listings/show", listingDoc)

	body := `{"listingId":"` + listingID + `","bookingData":{"startDate":"2024-05-01T11:00:00Z","endDate":"2024-05-01T10:00:00Z"}}`
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/transaction-line-items", strings.NewReader(body)), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactionLineItemsListingNotFound(t *testing.T) {
	env := setupTestHandlers(t)
	body := `{"listingId":"` + listingID + `","bookingData":{}}`
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/transaction-line-items", strings.NewReader(body)), true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInitiatePrivilegedAddsLineItemsWithTrustedToken(t *testing.T) {
	env := setupTestHandlers(t)
	env.market.on("/v1/api/listings/show", listingDoc)
	env.market.on("/v1/api/transactions/initiate_speculative",
		`{"data":{"id":"`+txID+`","type":"transaction","attributes":{"payinTotal":{"amount":8500,"currency":"USD"}}}}`)

	body := `{"isSpeculative":true,
	  "bookingData":{"startDate":"2024-05-01T10:00:00Z","endDate":"2024-05-01T11:30:00Z","addons":[{"addOnTitle":"Mat rental","addOnPrice":1}]},
	  "bodyParams":{"processAlias":"flex-hourly-default-process/release-1","transition":"transition/request-payment",
	    "params":{"listingId":{"uuid":"` + listingID + `"},"bookingStart":"2024-05-01T10:00:00Z"}}}`
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/initiate-privileged", strings.NewReader(body)), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "Bearer user-token", env.market.auths["/v1/api/listings/show"])
	assert.Equal(t, "Bearer trusted-token", env.market.auths["/v1/api/transactions/initiate_speculative"])

	sent := env.market.body("/v1/api/transactions/initiate_speculative")
	assert.Equal(t, "transition/request-payment", sent["transition"])
	params := sent["params"].(map[string]any)
	assert.NotNil(t, params["listingId"])
	lineItems := params["lineItems"].([]any)
	require.Len(t, lineItems, 3)
	assert.Equal(t, float64(1000), lineItems[1].(map[string]any)["unitPrice"].(map[string]any)["amount"])

	decoded, err := transit.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	resp := decoded.(map[string]any)
	assert.Equal(t, int64(200), resp["status"])
	data := resp["data"].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, uuid.MustParse(txID), data["id"])
	assert.Equal(t, transit.Money{Amount: 8500, Currency: "USD"}, data["attributes"].(map[string]any)["payinTotal"])
}

func TestTransitionPrivilegedDropsListingID(t *testing.T) {
	env := setupTestHandlers(t)
	env.market.on("/v1/api/listings/show", listingDoc)
	env.market.on("/v1/api/transactions/transition", `{"data":{"id":"`+txID+`","type":"transaction"}}`)

	body := `{"bookingData":{"startDate":"2024-05-01T10:00:00Z","endDate":"2024-05-01T11:00:00Z"},
	  "bodyParams":{"id":"` + txID + `","transition":"transition/request-payment-after-enquiry",
	    "params":{"listingId":"` + listingID + `"}}}`
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/transition-privileged", strings.NewReader(body)), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sent := env.market.body("/v1/api/transactions/transition")
	assert.Equal(t, txID, sent["id"])
	params := sent["params"].(map[string]any)
	assert.NotContains(t, params, "listingId")
	assert.Len(t, params["lineItems"], 2)
}

func TestPrivilegedRequiresListingID(t *testing.T) {
	env := setupTestHandlers(t)
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/initiate-privileged", strings.NewReader(`{"bodyParams":{"params":{}}}`)), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInboxUnknownTab(t *testing.T) {
	env := setupTestHandlers(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/inbox/sales", nil), true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInboxNotifications(t *testing.T) {
	env := setupTestHandlers(t)
	env.market.on("/v1/api/current_user/show", currentUserDoc(`{}`))
	var query url.Values
	env.market.handlers["/v1/api/transactions/query"] = func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		io.WriteString(w, `{"data":[{"id":"`+txID+`","type":"transaction","attributes":{"lastTransition":"transition/accept"},
		  "relationships":{"provider":{"data":{"id":"u-1","type":"user"}}}}],
		  "included":[{"id":"u-1","type":"user","attributes":{"profile":{"displayName":"Jane D"}}}],
		  "meta":{"totalItems":1,"totalPages":1,"page":2,"perPage":10}}`)
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/inbox/notifications?page=2", nil), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2", query.Get("page"))
	assert.Contains(t, query.Get("lastTransitions"), "transition/accept")

	var resp inboxResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, marketplace.RoleProvider, resp.Transactions[0].Role)
	assert.Equal(t, 2, resp.Pagination.Page)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestHandlers(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil), false)
	assert.Equal(t, http.StatusOK, rec.Code)
}
