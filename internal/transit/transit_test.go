package transit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const txID = "608f748d-d6eb-46a9-8920-2ebaac0cf277"

func TestDecodeAcceptBody(t *testing.T) {
	// body sent by the inbox when a provider accepts a booking
	body := `["^ ","~:id","~u` + txID + `"]`

	v, err := Decode([]byte(body))
	require.NoError(t, err)

	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, uuid.MustParse(txID), m["id"])
}

func TestDecodeCacheReferences(t *testing.T) {
	body := `[["^ ","~:listingId","~u` + txID + `","~:bookingData",["^ ","~:bookingStart","~m1700000000000"]],` +
		`["^ ","^0","~u` + txID + `","^1",["^ ","^2","~m1700003600000"]]]`

	v, err := Decode([]byte(body))
	require.NoError(t, err)

	arr := v.([]any)
	require.Len(t, arr, 2)
	second := arr[1].(map[string]any)
	assert.Equal(t, uuid.MustParse(txID), second["listingId"])
	booking := second["bookingData"].(map[string]any)
	assert.Equal(t, time.UnixMilli(1700003600000).UTC(), booking["bookingStart"])
}

func TestDecodeTaggedValues(t *testing.T) {
	body := `["^ ","~:price",["~#mn",[5000,"USD"]],"~:origin",["~#ll",[60.17,24.94]],` +
		`"~:tags",["~#set",["~:a","~:b"]],"~:escaped","~~tilde","~:big","~i9007199254740993",` +
		`"~:unknown",["~#point",[1,2]]]`

	v, err := Decode([]byte(body))
	require.NoError(t, err)
	m := v.(map[string]any)

	assert.Equal(t, Money{Amount: 5000, Currency: "USD"}, m["price"])
	assert.Equal(t, LatLng{Lat: 60.17, Lng: 24.94}, m["origin"])
	assert.Equal(t, []any{Keyword("a"), Keyword("b")}, m["tags"])
	assert.Equal(t, "~tilde", m["escaped"])
	assert.Equal(t, int64(9007199254740993), m["big"])
	assert.Equal(t, TaggedValue{Tag: "point", Rep: []any{int64(1), int64(2)}}, m["unknown"])
}

func TestDecodeRepeatedTagUsesCache(t *testing.T) {
	body := `[["~#mn",[100,"EUR"]],["^0",[200,"EUR"]]]`
	v, err := Decode([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, []any{Money{100, "EUR"}, Money{200, "EUR"}}, v)
}

func TestDecodeQuotedScalar(t *testing.T) {
	v, err := Decode([]byte(`["~#'","hello"]`))
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestDecodeVerbose(t *testing.T) {
	v, err := Decode([]byte(`{"~:id":{"~#u":"` + txID + `"},"~:n":1.5}`))
	require.NoError(t, err)
	m := v.(map[string]any)
	assert.Equal(t, uuid.MustParse(txID), m["id"])
	assert.Equal(t, 1.5, m["n"])
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `["^ ",`,
		"odd map":         `["^ ","~:a"]`,
		"bad uuid":        `"~unot-a-uuid"`,
		"bad cache ref":   `["^ ","^5",1]`,
		"cache code low":  `["^ ","^!","x"]`,
		"cache tag low":   `["^!",1]`,
		"cache code high": `["^ ","~:a","^~"]`,
		"bad instant":     `"~mnope"`,
		"bare tag":        `["~#u"]`,
		"trailing tokens": `{} {}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestUnmarshalIntoStruct(t *testing.T) {
	var req struct {
		ID          string `json:"id"`
		BookingData struct {
			Start time.Time `json:"bookingStart"`
		} `json:"bookingData"`
		Price Money `json:"price"`
	}
	body := `["^ ","~:id","~u` + txID + `","~:bookingData",["^ ","~:bookingStart","~t2024-05-01T10:00:00.000Z"],` +
		`"~:price",["~#mn",[1250,"USD"]]]`

	require.NoError(t, Unmarshal([]byte(body), &req))
	assert.Equal(t, txID, req.ID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), req.BookingData.Start)
	assert.Equal(t, Money{1250, "USD"}, req.Price)
}

func TestMarshalRoundTrip(t *testing.T) {
	in := map[string]any{
		"id":       uuid.MustParse(txID),
		"start":    time.UnixMilli(1700000000000).UTC(),
		"price":    Money{Amount: 5000, Currency: "USD"},
		"code":     Keyword("line-item/units"),
		"note":     "^not a cache ref",
		"quantity": 1.5,
		"items":    []any{int64(1), "two", nil, true},
	}

	out, err := Marshal(in)
	require.NoError(t, err)

	back, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, in, back)
}

func TestMarshalScalarIsQuoted(t *testing.T) {
	out, err := Marshal("ok")
	require.NoError(t, err)
	assert.Equal(t, `["~#'","ok"]`, string(out))
}

func TestMarshalStructViaJSON(t *testing.T) {
	type item struct {
		Code     string `json:"code"`
		Quantity int    `json:"quantity"`
	}
	out, err := Marshal([]any{item{Code: "line-item/day", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, `[["^ ","~:code","line-item/day","~:quantity",2]]`, string(out))
}
