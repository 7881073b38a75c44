package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/sharetribe/ftw-time/internal/marketplace"
	"github.com/sharetribe/ftw-time/internal/pkg/httputil"
	"github.com/sharetribe/ftw-time/internal/pkg/logger"
	"github.com/sharetribe/ftw-time/internal/zoom"
)

const zoomStateCookie = "st-zoom-state"

// GetZoomInfo returns the Zoom account linked to the signed-in user.
//
//	GET /api/zoomInfo
func (h *Handlers) GetZoomInfo(w http.ResponseWriter, r *http.Request) {
	uc, err := h.userClient(r)
	if err != nil {
		httputil.StringifiedError(w, sessionStatus(err), err)
		return
	}
	user, _, err := uc.CurrentUser(r.Context())
	h.saveToken(w, uc)
	if err != nil {
		httputil.StringifiedError(w, http.StatusInternalServerError, err)
		return
	}

	tokens, ok := zoom.TokensFromData(user.Profile.PrivateData["zoomData"])
	if !ok {
		httputil.Text(w, http.StatusUnauthorized, "Missing Zoom Data")
		return
	}
	me, _, err := h.zoom.GetMe(r.Context(), zoom.Session{UserID: user.ID, Tokens: tokens})
	if err != nil {
		httputil.StringifiedError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, me)
}

// DisconnectZoom forgets the user's Zoom tokens.
//
//	POST /api/zoomDisconnect
func (h *Handlers) DisconnectZoom(w http.ResponseWriter, r *http.Request) {
	uc, err := h.userClient(r)
	if err != nil {
		httputil.TextError(w, sessionStatus(err), err)
		return
	}
	err = h.updateZoomData(r, uc, false, nil)
	h.saveToken(w, uc)
	if err != nil {
		httputil.TextError(w, http.StatusInternalServerError, err)
		return
	}
	httputil.Text(w, http.StatusOK, "Disconnect Successfull")
}

// ConnectZoom sends the user to Zoom to authorize the app.
//
//	GET /api/zoom/connect
func (h *Handlers) ConnectZoom(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     zoomStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.zoom.AuthCodeURL(state), http.StatusFound)
}

// AuthorizeZoom exchanges the OAuth code and links the tokens to the user.
// When the flow started at /zoom/connect the state must match.
//
//	GET /api/zoom/authorize?code=...
func (h *Handlers) AuthorizeZoom(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		httputil.Text(w, http.StatusBadRequest, "Missing code")
		return
	}
	if c, err := r.Cookie(zoomStateCookie); err == nil && c.Value != "" {
		if c.Value != q.Get("state") {
			httputil.Text(w, http.StatusBadRequest, "Invalid state")
			return
		}
		http.SetCookie(w, &http.Cookie{Name: zoomStateCookie, Path: "/", MaxAge: -1})
	}

	uc, err := h.userClient(r)
	if err != nil {
		httputil.TextError(w, sessionStatus(err), err)
		return
	}
	tokens, err := h.zoom.ExchangeAuthorizeCode(r.Context(), code)
	if err != nil {
		httputil.TextError(w, http.StatusInternalServerError, err)
		return
	}
	err = h.updateZoomData(r, uc, true, tokens.Map())
	h.saveToken(w, uc)
	if err != nil {
		httputil.TextError(w, http.StatusInternalServerError, err)
		return
	}
	logger.Info("zoom account connected")
	respondJSON(w, http.StatusOK, tokens)
}

// updateZoomData rewrites the Zoom keys of the current user's private
// data and keeps the rest.
func (h *Handlers) updateZoomData(r *http.Request, uc *marketplace.UserClient, connected bool, data map[string]any) error {
	user, _, err := uc.CurrentUser(r.Context())
	if err != nil {
		return err
	}
	var zoomData any
	if data != nil {
		zoomData = data
	}
	private := marketplace.MergePrivateData(user.Profile.PrivateData, map[string]any{
		"isConnectZoom": connected,
		"zoomData":      zoomData,
	})
	_, err = uc.UpdateCurrentUserProfile(r.Context(), marketplace.ProfileUpdate{PrivateData: private})
	return err
}
