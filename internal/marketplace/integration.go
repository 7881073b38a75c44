package marketplace

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// ShowUser fetches any user with operator privileges, including private
// data.
func (c *Client) ShowUser(ctx context.Context, id string) (User, error) {
	var doc Document
	if err := c.integrationCall(ctx, "users.show", http.MethodGet, "/users/show", url.Values{"id": {id}}, nil, &doc); err != nil {
		return User{}, err
	}
	res, err := doc.Resource()
	if err != nil {
		return User{}, err
	}
	return userFromResource(res)
}

type userProfileUpdate struct {
	ID string `json:"id"`
	ProfileUpdate
}

// UpdateUserProfile applies upd to the user id with operator privileges.
func (c *Client) UpdateUserProfile(ctx context.Context, id string, upd ProfileUpdate) error {
	body := userProfileUpdate{ID: id, ProfileUpdate: upd}
	return c.integrationCall(ctx, "users.update_profile", http.MethodPost, "/users/update_profile", nil, body, nil)
}

// ShowTransaction fetches a transaction with the named relationships
// included and resolved.
func (c *Client) ShowTransaction(ctx context.Context, id string, include ...string) (Transaction, error) {
	q := url.Values{"id": {id}}
	if len(include) > 0 {
		q.Set("include", strings.Join(include, ","))
	}
	var doc Document
	if err := c.integrationCall(ctx, "transactions.show", http.MethodGet, "/transactions/show", q, nil, &doc); err != nil {
		return Transaction{}, err
	}
	res, err := doc.Resource()
	if err != nil {
		return Transaction{}, err
	}
	return transactionFromResource(res, doc.includedIndex())
}
