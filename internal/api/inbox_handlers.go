package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sharetribe/ftw-time/internal/marketplace"
	"github.com/sharetribe/ftw-time/internal/pkg/httputil"
)

const inboxPerPage = 10

// notificationTransitions are the booking events shown under the
// notifications tab.
var notificationTransitions = []string{
	"transition/confirm-payment",
	"transition/accept",
	"transition/decline",
	"transition/expire",
	"transition/cancel",
	"transition/complete",
}

type inboxItem struct {
	marketplace.Transaction
	// Role is the signed-in user's side of the transaction.
	Role string `json:"role"`
}

type inboxResponse struct {
	Tab          string                 `json:"tab"`
	Transactions []inboxItem            `json:"transactions"`
	Pagination   marketplace.Pagination `json:"pagination"`
}

// GetInbox lists the signed-in user's transactions for an inbox tab.
// "messages" holds every conversation, "notifications" only booking
// events. Any other tab is a 404.
//
//	GET /api/inbox/{tab}?page=N
func (h *Handlers) GetInbox(w http.ResponseWriter, r *http.Request) {
	tab := chi.URLParam(r, "tab")
	q := marketplace.TransactionQuery{
		Include: []string{"customer", "provider", "listing", "booking"},
		Page:    1,
		PerPage: inboxPerPage,
	}
	switch tab {
	case "messages":
	case "notifications":
		q.LastTransitions = notificationTransitions
	default:
		httputil.NotFound(w, "unknown inbox tab")
		return
	}
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		q.Page = p
	}

	uc, err := h.userClient(r)
	if err != nil {
		httputil.StringifiedError(w, sessionStatus(err), err)
		return
	}
	me, _, err := uc.CurrentUser(r.Context())
	if err != nil {
		h.saveToken(w, uc)
		respondUpstreamError(w, err)
		return
	}
	txs, page, err := uc.QueryTransactions(r.Context(), q)
	h.saveToken(w, uc)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}

	items := make([]inboxItem, 0, len(txs))
	for _, tx := range txs {
		items = append(items, inboxItem{Transaction: tx, Role: tx.RoleOf(me.ID)})
	}
	respondJSON(w, http.StatusOK, inboxResponse{Tab: tab, Transactions: items, Pagination: page})
}
