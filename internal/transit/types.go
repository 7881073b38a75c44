// Package transit reads and writes the Transit-JSON encoding used by the
// marketplace SDK for request and response bodies.
//
// Decoded values are plain Go values: map[string]any, []any, string,
// int64, float64, bool and nil, plus the semantic types below for the
// extension tags the marketplace uses.
package transit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContentType is the media type of Transit-JSON bodies.
const ContentType = "application/transit+json"

// Keyword is a ~: value. Keywords decode map keys as well, so
// {:id ...} becomes map key "id".
type Keyword string

// Symbol is a ~$ value.
type Symbol string

// Money is the marketplace money type, tag "mn". Amount is in minor units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}

// LatLng is the marketplace coordinate type, tag "ll".
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TaggedValue holds an extension tag this package does not interpret.
type TaggedValue struct {
	Tag string
	Rep any
}

// UUID is re-exported so callers do not need to import google/uuid just
// to type-switch on decoded values.
type UUID = uuid.UUID

// mapKey renders a decoded key as the string map key used in output maps.
func mapKey(k any) string {
	switch v := k.(type) {
	case string:
		return v
	case Keyword:
		return string(v)
	case Symbol:
		return string(v)
	case uuid.UUID:
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}
