package marketplace

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sharetribe/ftw-time/internal/transit"
)

// Money is an amount in minor units plus ISO currency code.
type Money = transit.Money

// Document is a JSON:API response body. Data holds one resource or a list.
type Document struct {
	Data     json.RawMessage `json:"data"`
	Included []Resource      `json:"included,omitempty"`
	Meta     map[string]any  `json:"meta,omitempty"`
}

// Resource is one JSON:API resource object.
type Resource struct {
	ID            string                  `json:"id"`
	Type          string                  `json:"type"`
	Attributes    json.RawMessage         `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
}

// Relationship points at one or many related resources.
type Relationship struct {
	Data json.RawMessage `json:"data"`
}

// Ref identifies a resource.
type Ref struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Refs returns the referenced resources, handling both to-one and to-many.
func (r Relationship) Refs() []Ref {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	var many []Ref
	if err := json.Unmarshal(r.Data, &many); err == nil {
		return many
	}
	var one Ref
	if err := json.Unmarshal(r.Data, &one); err == nil && one.ID != "" {
		return []Ref{one}
	}
	return nil
}

// Resource decodes Data as a single resource.
func (d Document) Resource() (Resource, error) {
	var res Resource
	if err := json.Unmarshal(d.Data, &res); err != nil {
		return Resource{}, fmt.Errorf("marketplace: decode resource: %w", err)
	}
	return res, nil
}

// Resources decodes Data as a resource list.
func (d Document) Resources() ([]Resource, error) {
	var res []Resource
	if err := json.Unmarshal(d.Data, &res); err != nil {
		return nil, fmt.Errorf("marketplace: decode resources: %w", err)
	}
	return res, nil
}

// includedIndex maps "type/id" to included resources.
func (d Document) includedIndex() map[string]Resource {
	idx := make(map[string]Resource, len(d.Included))
	for _, r := range d.Included {
		idx[r.Type+"/"+r.ID] = r
	}
	return idx
}

// related resolves a named relationship of res against the included list.
func related(res Resource, idx map[string]Resource, name string) (Resource, bool) {
	rel, ok := res.Relationships[name]
	if !ok {
		return Resource{}, false
	}
	refs := rel.Refs()
	if len(refs) == 0 {
		return Resource{}, false
	}
	r, ok := idx[refs[0].Type+"/"+refs[0].ID]
	return r, ok
}

// Profile is the user profile, including the extended data buckets.
type Profile struct {
	FirstName       string         `json:"firstName,omitempty"`
	LastName        string         `json:"lastName,omitempty"`
	DisplayName     string         `json:"displayName,omitempty"`
	AbbreviatedName string         `json:"abbreviatedName,omitempty"`
	Bio             string         `json:"bio,omitempty"`
	PublicData      map[string]any `json:"publicData,omitempty"`
	ProtectedData   map[string]any `json:"protectedData,omitempty"`
	PrivateData     map[string]any `json:"privateData,omitempty"`
}

// User is a marketplace user, current or fetched by id.
type User struct {
	ID            string  `json:"id"`
	Email         string  `json:"email,omitempty"`
	EmailVerified bool    `json:"emailVerified,omitempty"`
	Banned        bool    `json:"banned,omitempty"`
	Deleted       bool    `json:"deleted,omitempty"`
	Profile       Profile `json:"profile"`
}

type userAttributes struct {
	Email         string  `json:"email"`
	EmailVerified bool    `json:"emailVerified"`
	Banned        bool    `json:"banned"`
	Deleted       bool    `json:"deleted"`
	Profile       Profile `json:"profile"`
}

// ProfileUpdate is the body of an update_profile call. Extended data keys
// set to nil are removed by the marketplace.
type ProfileUpdate struct {
	FirstName     string         `json:"firstName,omitempty"`
	LastName      string         `json:"lastName,omitempty"`
	DisplayName   string         `json:"displayName,omitempty"`
	PublicData    map[string]any `json:"publicData,omitempty"`
	ProtectedData map[string]any `json:"protectedData,omitempty"`
	PrivateData   map[string]any `json:"privateData,omitempty"`
}

// MergePrivateData returns a copy of base with patch applied on top.
func MergePrivateData(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func userFromResource(r Resource) (User, error) {
	var attrs userAttributes
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
			return User{}, fmt.Errorf("marketplace: decode user %s: %w", r.ID, err)
		}
	}
	return User{
		ID:            r.ID,
		Email:         attrs.Email,
		EmailVerified: attrs.EmailVerified,
		Banned:        attrs.Banned,
		Deleted:       attrs.Deleted,
		Profile:       attrs.Profile,
	}, nil
}

// Booking is the time slot reserved by a transaction.
type Booking struct {
	ID           string    `json:"id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	DisplayStart time.Time `json:"displayStart,omitempty"`
	DisplayEnd   time.Time `json:"displayEnd,omitempty"`
	State        string    `json:"state,omitempty"`
}

// Duration is End-Start.
func (b Booking) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

func bookingFromResource(r Resource) (Booking, error) {
	var b Booking
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &b); err != nil {
			return Booking{}, fmt.Errorf("marketplace: decode booking %s: %w", r.ID, err)
		}
	}
	b.ID = r.ID
	return b, nil
}

// Listing is the bookable item.
type Listing struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	State       string         `json:"state,omitempty"`
	Price       *Money         `json:"price,omitempty"`
	PublicData  map[string]any `json:"publicData,omitempty"`
}

func listingFromResource(r Resource) (Listing, error) {
	var l Listing
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &l); err != nil {
			return Listing{}, fmt.Errorf("marketplace: decode listing %s: %w", r.ID, err)
		}
	}
	l.ID = r.ID
	return l, nil
}

// LineItem is a priced row of a transaction.
type LineItem struct {
	Code       string           `json:"code"`
	UnitPrice  Money            `json:"unitPrice"`
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	LineTotal  Money            `json:"lineTotal"`
	Reversal   bool             `json:"reversal"`
	IncludeFor []string         `json:"includeFor"`
}

// Transaction is a booking transaction with its related parties resolved.
type Transaction struct {
	ID                 string         `json:"id"`
	ProcessName        string         `json:"processName,omitempty"`
	LastTransition     string         `json:"lastTransition"`
	LastTransitionedAt time.Time      `json:"lastTransitionedAt"`
	PayinTotal         *Money         `json:"payinTotal,omitempty"`
	PayoutTotal        *Money         `json:"payoutTotal,omitempty"`
	LineItems          []LineItem     `json:"lineItems,omitempty"`
	ProtectedData      map[string]any `json:"protectedData,omitempty"`

	Customer *User    `json:"customer,omitempty"`
	Provider *User    `json:"provider,omitempty"`
	Booking  *Booking `json:"booking,omitempty"`
	Listing  *Listing `json:"listing,omitempty"`
}

// transactionFromResource resolves relationships by type/id instead of
// the position of entries in the included list.
func transactionFromResource(r Resource, idx map[string]Resource) (Transaction, error) {
	var tx Transaction
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &tx); err != nil {
			return Transaction{}, fmt.Errorf("marketplace: decode transaction %s: %w", r.ID, err)
		}
	}
	tx.ID = r.ID

	if res, ok := related(r, idx, "customer"); ok {
		u, err := userFromResource(res)
		if err != nil {
			return Transaction{}, err
		}
		tx.Customer = &u
	}
	if res, ok := related(r, idx, "provider"); ok {
		u, err := userFromResource(res)
		if err != nil {
			return Transaction{}, err
		}
		tx.Provider = &u
	}
	if res, ok := related(r, idx, "booking"); ok {
		b, err := bookingFromResource(res)
		if err != nil {
			return Transaction{}, err
		}
		tx.Booking = &b
	}
	if res, ok := related(r, idx, "listing"); ok {
		l, err := listingFromResource(res)
		if err != nil {
			return Transaction{}, err
		}
		tx.Listing = &l
	}
	return tx, nil
}

// Role of the current user in a transaction.
const (
	RoleCustomer = "customer"
	RoleProvider = "provider"
)

// RoleOf returns RoleCustomer or RoleProvider for userID, or "" when the
// user is not a party.
func (t Transaction) RoleOf(userID string) string {
	switch {
	case t.Customer != nil && t.Customer.ID == userID:
		return RoleCustomer
	case t.Provider != nil && t.Provider.ID == userID:
		return RoleProvider
	default:
		return ""
	}
}
