package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sharetribe/ftw-time/internal/appointment"
	"github.com/sharetribe/ftw-time/internal/config"
	"github.com/sharetribe/ftw-time/internal/lineitems"
	"github.com/sharetribe/ftw-time/internal/marketplace"
	"github.com/sharetribe/ftw-time/internal/pkg/httputil"
	"github.com/sharetribe/ftw-time/internal/pkg/logger"
	"github.com/sharetribe/ftw-time/internal/zoom"
)

// Marketplace hands out per-user API clients.
type Marketplace interface {
	ForUser(tok marketplace.StoredToken) *marketplace.UserClient
	Anonymous(ctx context.Context) (*marketplace.UserClient, error)
	Trusted(ctx context.Context, user marketplace.StoredToken) (*marketplace.UserClient, error)
}

// Zoom is the part of the Zoom client the handlers call directly.
type Zoom interface {
	AuthCodeURL(state string) string
	ExchangeAuthorizeCode(ctx context.Context, code string) (zoom.Tokens, error)
	GetMe(ctx context.Context, s zoom.Session) (zoom.Me, zoom.Session, error)
}

// Accepter accepts appointments.
type Accepter interface {
	Accept(ctx context.Context, transactionID string) (appointment.Result, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	market      Marketplace
	zoom        Zoom
	appointment Accepter
	pricing     lineitems.Calculator
	tokenCookie string
	secure      bool
}

// NewHandlers creates a new Handlers instance
func NewHandlers(cfg *config.Config, market Marketplace, z Zoom, accepter Accepter, pricing lineitems.Calculator) *Handlers {
	return &Handlers{
		market:      market,
		zoom:        z,
		appointment: accepter,
		pricing:     pricing,
		tokenCookie: cfg.Marketplace.TokenCookieName(),
		secure:      cfg.Server.SecureCookies,
	}
}

// userClient builds a marketplace client from the request's token cookie.
func (h *Handlers) userClient(r *http.Request) (*marketplace.UserClient, error) {
	tok, err := marketplace.TokenFromRequest(r, h.tokenCookie)
	if err != nil {
		return nil, err
	}
	return h.market.ForUser(tok), nil
}

// saveToken writes a refreshed token back to the cookie. It must run
// before the response status is written.
func (h *Handlers) saveToken(w http.ResponseWriter, uc *marketplace.UserClient) {
	if uc == nil || !uc.Refreshed() {
		return
	}
	if err := marketplace.SetTokenCookie(w, h.tokenCookie, uc.Token(), h.secure); err != nil {
		logger.Warn("failed to store refreshed marketplace token", "error", err)
	}
}

// sessionStatus is 401 for a missing session and 500 otherwise.
func sessionStatus(err error) int {
	if errors.Is(err, marketplace.ErrNoSession) || errors.Is(err, marketplace.ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// GetMe returns the signed-in user document.
func (h *Handlers) GetMe(w http.ResponseWriter, r *http.Request) {
	uc, err := h.userClient(r)
	if err != nil {
		httputil.StringifiedError(w, sessionStatus(err), err)
		return
	}
	_, doc, err := uc.CurrentUser(r.Context())
	h.saveToken(w, uc)
	if err != nil {
		httputil.StringifiedError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
