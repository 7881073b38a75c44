// Package lineitems prices a booking: hourly units, selected add-ons and
// the provider commission, with totals for both parties.
package lineitems

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sharetribe/ftw-time/internal/marketplace"
)

var (
	ErrPriceMissing        = errors.New("lineitems: listing has no price")
	ErrCurrencyMismatch    = errors.New("lineitems: listing currency differs from marketplace currency")
	ErrInvalidBookingDates = errors.New("lineitems: booking end must be after start")
)

// Line item codes.
const (
	CodeUnits              = "line-item/units"
	CodeProviderCommission = "line-item/provider-commission"
	addonPrefix            = "line-item/addon-"
)

// Who a line item applies to.
const (
	ForCustomer = "customer"
	ForProvider = "provider"
)

// Addon is an optional extra a provider sells with a listing.
type Addon struct {
	Title string          `json:"addOnTitle"`
	Price decimal.Decimal `json:"addOnPrice"` // minor units
}

// Booking is what the customer picked in the booking form.
type Booking struct {
	Start time.Time
	End   time.Time
	// Addons holds the titles of the selected add-ons.
	Addons []string
}

// Breakdown is the priced booking.
type Breakdown struct {
	LineItems   []marketplace.LineItem
	Quantity    decimal.Decimal
	PayinTotal  marketplace.Money
	PayoutTotal marketplace.Money
	// Bookable is false until at least one add-on has been selected.
	Bookable bool
}

// Calculator prices bookings for one marketplace.
type Calculator struct {
	Currency string
	// ProviderCommissionPercent is applied to the customer total and
	// charged to the provider; negative, e.g. -10.
	ProviderCommissionPercent decimal.Decimal
}

// New builds a calculator from config values.
func New(currency string, providerPercent float64) Calculator {
	return Calculator{
		Currency:                  currency,
		ProviderCommissionPercent: decimal.NewFromFloat(providerPercent),
	}
}

// Calculate validates the listing and booking and returns the breakdown.
func (c Calculator) Calculate(listing marketplace.Listing, b Booking) (Breakdown, error) {
	if listing.Price == nil {
		return Breakdown{}, ErrPriceMissing
	}
	if listing.Price.Currency != c.Currency {
		return Breakdown{}, fmt.Errorf("%w: %s != %s", ErrCurrencyMismatch, listing.Price.Currency, c.Currency)
	}
	if b.Start.IsZero() || b.End.IsZero() || !b.End.After(b.Start) {
		return Breakdown{}, ErrInvalidBookingDates
	}

	quantity := Hours(b.Start, b.End)
	unitPrice := decimal.NewFromInt(listing.Price.Amount)
	customerFor := []string{ForCustomer, ForProvider}

	units := item(unitCode(listing), unitPrice, c.Currency, customerFor)
	units.Quantity = &quantity
	units.LineTotal = c.money(unitPrice.Mul(quantity))

	items := []marketplace.LineItem{units}
	customerSum := unitPrice.Mul(quantity)

	selected := SelectAddons(ListingAddons(listing), b.Addons)
	for _, a := range selected {
		one := decimal.NewFromInt(1)
		li := item(addonPrefix+slug(a.Title), a.Price, c.Currency, customerFor)
		li.Quantity = &one
		li.LineTotal = c.money(a.Price)
		items = append(items, li)
		customerSum = customerSum.Add(a.Price)
	}

	if !c.ProviderCommissionPercent.IsZero() {
		pct := c.ProviderCommissionPercent
		commission := item(CodeProviderCommission, round(customerSum), c.Currency, []string{ForProvider})
		commission.Percentage = &pct
		commission.LineTotal = c.money(customerSum.Mul(pct).Div(decimal.NewFromInt(100)))
		items = append(items, commission)
	}

	return Breakdown{
		LineItems:   items,
		Quantity:    quantity,
		PayinTotal:  Total(items, ForCustomer, c.Currency),
		PayoutTotal: Total(items, ForProvider, c.Currency),
		Bookable:    len(selected) > 0,
	}, nil
}

func item(code string, unitPrice decimal.Decimal, currency string, includeFor []string) marketplace.LineItem {
	return marketplace.LineItem{
		Code:       code,
		UnitPrice:  marketplace.Money{Amount: round(unitPrice).IntPart(), Currency: currency},
		IncludeFor: includeFor,
	}
}

func (c Calculator) money(d decimal.Decimal) marketplace.Money {
	return marketplace.Money{Amount: round(d).IntPart(), Currency: c.Currency}
}

// round goes to whole minor units, half away from zero.
func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

// Hours is the booking length in hours, fractional when needed. Seconds
// count; nothing is truncated before dividing.
func Hours(start, end time.Time) decimal.Decimal {
	return decimal.NewFromInt(int64(end.Sub(start))).Div(decimal.NewFromInt(int64(time.Hour)))
}

// Total sums the line totals of items that apply to party.
func Total(items []marketplace.LineItem, party, currency string) marketplace.Money {
	var sum int64
	for _, li := range items {
		for _, p := range li.IncludeFor {
			if p == party {
				sum += li.LineTotal.Amount
				break
			}
		}
	}
	return marketplace.Money{Amount: sum, Currency: currency}
}

func unitCode(l marketplace.Listing) string {
	if ut, ok := l.PublicData["unitType"].(string); ok && strings.HasPrefix(ut, "line-item/") {
		return ut
	}
	return CodeUnits
}

// ListingAddons reads publicData.addons. Malformed entries are skipped.
func ListingAddons(l marketplace.Listing) []Addon {
	raw, ok := l.PublicData["addons"].([]any)
	if !ok {
		return nil
	}
	out := make([]Addon, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		title, _ := m["addOnTitle"].(string)
		if title == "" {
			continue
		}
		price, ok := toDecimal(m["addOnPrice"])
		if !ok {
			continue
		}
		out = append(out, Addon{Title: title, Price: price})
	}
	return out
}

// SelectAddons returns the listing add-ons whose titles were selected, in
// selection order. Unknown titles are ignored and prices always come from
// the listing.
func SelectAddons(available []Addon, titles []string) []Addon {
	var out []Addon
	for _, t := range titles {
		for _, a := range available {
			if a.Title == t {
				out = append(out, a)
			}
		}
	}
	return out
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	case decimal.Decimal:
		return n, true
	default:
		return decimal.Decimal{}, false
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slug(title string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "addon"
	}
	return s
}
