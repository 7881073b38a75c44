package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// CurrentUser fetches the signed-in user. The raw document is returned
// alongside so handlers can pass it through unchanged.
func (u *UserClient) CurrentUser(ctx context.Context) (User, *Document, error) {
	var doc Document
	if err := u.call(ctx, "current_user.show", http.MethodGet, "/current_user/show", nil, nil, &doc); err != nil {
		return User{}, nil, err
	}
	res, err := doc.Resource()
	if err != nil {
		return User{}, nil, err
	}
	user, err := userFromResource(res)
	if err != nil {
		return User{}, nil, err
	}
	return user, &doc, nil
}

// UpdateCurrentUserProfile applies upd to the signed-in user's profile.
func (u *UserClient) UpdateCurrentUserProfile(ctx context.Context, upd ProfileUpdate) (User, error) {
	var doc Document
	q := url.Values{"expand": {"true"}}
	if err := u.call(ctx, "current_user.update_profile", http.MethodPost, "/current_user/update_profile", q, upd, &doc); err != nil {
		return User{}, err
	}
	if len(doc.Data) == 0 {
		return User{}, nil
	}
	res, err := doc.Resource()
	if err != nil {
		return User{}, err
	}
	return userFromResource(res)
}

// TransactionQuery filters the signed-in user's transactions.
type TransactionQuery struct {
	// Only is "order" (as customer) or "sale" (as provider); empty means both.
	Only            string
	LastTransitions []string
	Include         []string
	Page            int
	PerPage         int
}

func (q TransactionQuery) values() url.Values {
	v := url.Values{}
	if q.Only != "" {
		v.Set("only", q.Only)
	}
	if len(q.LastTransitions) > 0 {
		v.Set("lastTransitions", strings.Join(q.LastTransitions, ","))
	}
	if len(q.Include) > 0 {
		v.Set("include", strings.Join(q.Include, ","))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	return v
}

// Pagination is the meta block of a query response.
type Pagination struct {
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
}

// QueryTransactions lists transactions the signed-in user is party to.
func (u *UserClient) QueryTransactions(ctx context.Context, q TransactionQuery) ([]Transaction, Pagination, error) {
	var doc Document
	if err := u.call(ctx, "transactions.query", http.MethodGet, "/transactions/query", q.values(), nil, &doc); err != nil {
		return nil, Pagination{}, err
	}
	resources, err := doc.Resources()
	if err != nil {
		return nil, Pagination{}, err
	}
	idx := doc.includedIndex()
	txs := make([]Transaction, 0, len(resources))
	for _, r := range resources {
		tx, err := transactionFromResource(r, idx)
		if err != nil {
			return nil, Pagination{}, err
		}
		txs = append(txs, tx)
	}
	return txs, paginationOf(doc.Meta), nil
}

func paginationOf(meta map[string]any) Pagination {
	num := func(k string) int {
		if f, ok := meta[k].(float64); ok {
			return int(f)
		}
		return 0
	}
	return Pagination{
		TotalItems: num("totalItems"),
		TotalPages: num("totalPages"),
		Page:       num("page"),
		PerPage:    num("perPage"),
	}
}

// ShowListing fetches a published listing.
func (u *UserClient) ShowListing(ctx context.Context, id string) (Listing, error) {
	var doc Document
	if err := u.call(ctx, "listings.show", http.MethodGet, "/listings/show", url.Values{"id": {id}}, nil, &doc); err != nil {
		return Listing{}, err
	}
	res, err := doc.Resource()
	if err != nil {
		return Listing{}, err
	}
	return listingFromResource(res)
}

// ShowOwnListing fetches one of the signed-in user's listings, drafts
// included.
func (u *UserClient) ShowOwnListing(ctx context.Context, id string) (Listing, error) {
	var doc Document
	if err := u.call(ctx, "own_listings.show", http.MethodGet, "/own_listings/show", url.Values{"id": {id}}, nil, &doc); err != nil {
		return Listing{}, err
	}
	res, err := doc.Resource()
	if err != nil {
		return Listing{}, err
	}
	return listingFromResource(res)
}

// InitiateParams starts a new transaction.
type InitiateParams struct {
	ProcessAlias string         `json:"processAlias"`
	Transition   string         `json:"transition"`
	Params       map[string]any `json:"params"`
}

// TransitionParams moves an existing transaction.
type TransitionParams struct {
	ID         string         `json:"id"`
	Transition string         `json:"transition"`
	Params     map[string]any `json:"params"`
}

// InitiateTransaction creates a transaction. A speculative call only
// prices it.
func (u *UserClient) InitiateTransaction(ctx context.Context, p InitiateParams, speculative bool) (*Document, error) {
	path := "/transactions/initiate"
	if speculative {
		path = "/transactions/initiate_speculative"
	}
	var doc Document
	if err := u.call(ctx, "transactions.initiate", http.MethodPost, path, url.Values{"expand": {"true"}}, p, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// TransitionTransaction applies a transition. A speculative call only
// prices it.
func (u *UserClient) TransitionTransaction(ctx context.Context, p TransitionParams, speculative bool) (*Document, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("marketplace transactions.transition: missing transaction id")
	}
	path := "/transactions/transition"
	if speculative {
		path = "/transactions/transition_speculative"
	}
	var doc Document
	if err := u.call(ctx, "transactions.transition", http.MethodPost, path, url.Values{"expand": {"true"}}, p, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
