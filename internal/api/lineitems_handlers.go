package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sharetribe/ftw-time/internal/lineitems"
	"github.com/sharetribe/ftw-time/internal/marketplace"
	"github.com/sharetribe/ftw-time/internal/pkg/httputil"
	"github.com/sharetribe/ftw-time/internal/pkg/logger"
)

// bookingData is the booking form state sent with pricing requests.
type bookingData struct {
	StartDate time.Time        `json:"startDate"`
	EndDate   time.Time        `json:"endDate"`
	Addons    []addonSelection `json:"addons"`
}

// addonSelection is a selected add-on, sent either as its title or as the
// listing's {addOnTitle, addOnPrice} entry. Only the title is used.
type addonSelection string

func (a *addonSelection) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = addonSelection(s)
		return nil
	}
	var obj struct {
		Title string `json:"addOnTitle"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*a = addonSelection(obj.Title)
	return nil
}

func (b bookingData) booking() lineitems.Booking {
	titles := make([]string, 0, len(b.Addons))
	for _, a := range b.Addons {
		titles = append(titles, string(a))
	}
	return lineitems.Booking{Start: b.StartDate, End: b.EndDate, Addons: titles}
}

// TransactionLineItems prices a booking for the breakdown shown before
// checkout.
//
//	POST /api/transaction-line-items {listingId, bookingData, isOwnListing}
func (h *Handlers) TransactionLineItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ListingID    uuidRef     `json:"listingId"`
		BookingData  bookingData `json:"bookingData"`
		IsOwnListing bool        `json:"isOwnListing"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.ListingID == "" {
		httputil.BadRequest(w, "listingId is required")
		return
	}

	uc, err := h.readClient(r)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	listing, err := fetchListing(r.Context(), uc, string(req.ListingID), req.IsOwnListing)
	h.saveToken(w, uc)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}

	breakdown, err := h.pricing.Calculate(listing, req.BookingData.booking())
	if err != nil {
		respondPricingError(w, err)
		return
	}
	respondTransit(w, http.StatusOK, map[string]any{
		"data": lineItemsValue(breakdown.LineItems),
	})
}

type privilegedBody struct {
	IsSpeculative bool        `json:"isSpeculative"`
	BookingData   bookingData `json:"bookingData"`
	BodyParams    struct {
		ID           uuidRef        `json:"id"`
		ProcessAlias string         `json:"processAlias"`
		Transition   string         `json:"transition"`
		Params       map[string]any `json:"params"`
	} `json:"bodyParams"`
}

// InitiatePrivileged starts a transaction with server-computed line items
// using a trusted token.
//
//	POST /api/initiate-privileged
func (h *Handlers) InitiatePrivileged(w http.ResponseWriter, r *http.Request) {
	var req privilegedBody
	if !httputil.Decode(w, r, &req) {
		return
	}
	params := req.BodyParams.Params
	if params == nil {
		params = map[string]any{}
	}

	h.privileged(w, r, req, params, func(ctx context.Context, trusted *marketplace.UserClient) (*marketplace.Document, error) {
		return trusted.InitiateTransaction(ctx, marketplace.InitiateParams{
			ProcessAlias: req.BodyParams.ProcessAlias,
			Transition:   req.BodyParams.Transition,
			Params:       params,
		}, req.IsSpeculative)
	})
}

// TransitionPrivileged moves a transaction with server-computed line
// items using a trusted token. listingId is only used for pricing and is
// not sent with the transition.
//
//	POST /api/transition-privileged
func (h *Handlers) TransitionPrivileged(w http.ResponseWriter, r *http.Request) {
	var req privilegedBody
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.BodyParams.ID == "" {
		httputil.BadRequest(w, "bodyParams.id is required")
		return
	}
	params := make(map[string]any, len(req.BodyParams.Params))
	for k, v := range req.BodyParams.Params {
		if k != "listingId" {
			params[k] = v
		}
	}

	h.privileged(w, r, req, params, func(ctx context.Context, trusted *marketplace.UserClient) (*marketplace.Document, error) {
		return trusted.TransitionTransaction(ctx, marketplace.TransitionParams{
			ID:         string(req.BodyParams.ID),
			Transition: req.BodyParams.Transition,
			Params:     params,
		}, req.IsSpeculative)
	})
}

// privileged prices the booking, adds the line items to params and runs
// call with a trusted client.
func (h *Handlers) privileged(w http.ResponseWriter, r *http.Request, req privilegedBody, params map[string]any,
	call func(context.Context, *marketplace.UserClient) (*marketplace.Document, error)) {
	listingID := refString(req.BodyParams.Params["listingId"])
	if listingID == "" {
		httputil.BadRequest(w, "bodyParams.params.listingId is required")
		return
	}

	uc, err := h.userClient(r)
	if err != nil {
		httputil.StringifiedError(w, sessionStatus(err), err)
		return
	}
	listing, err := uc.ShowListing(r.Context(), listingID)
	h.saveToken(w, uc)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	breakdown, err := h.pricing.Calculate(listing, req.BookingData.booking())
	if err != nil {
		respondPricingError(w, err)
		return
	}
	params["lineItems"] = breakdown.LineItems

	trusted, err := h.market.Trusted(r.Context(), uc.Token())
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	doc, err := call(r.Context(), trusted)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}

	logger.Info("privileged transaction call", "listing_id", listingID, "speculative", req.IsSpeculative)
	respondTransit(w, http.StatusOK, map[string]any{
		"status":     int64(http.StatusOK),
		"statusText": "OK",
		"data":       sdkValue(doc),
	})
}

// readClient is the user's client, or an anonymous one for visitors.
func (h *Handlers) readClient(r *http.Request) (*marketplace.UserClient, error) {
	uc, err := h.userClient(r)
	if errors.Is(err, marketplace.ErrNoSession) {
		return h.market.Anonymous(r.Context())
	}
	return uc, err
}

func fetchListing(ctx context.Context, uc *marketplace.UserClient, id string, own bool) (marketplace.Listing, error) {
	if own {
		return uc.ShowOwnListing(ctx, id)
	}
	return uc.ShowListing(ctx, id)
}

func respondPricingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lineitems.ErrPriceMissing),
		errors.Is(err, lineitems.ErrCurrencyMismatch),
		errors.Is(err, lineitems.ErrInvalidBookingDates):
		httputil.BadRequest(w, err.Error())
	default:
		respondSafeError(w, http.StatusInternalServerError, err, "An internal error occurred")
	}
}

// refString reads an id given as a string or as {"uuid": "..."}.
func refString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		s, _ := t["uuid"].(string)
		return s
	default:
		return ""
	}
}
