package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/sharetribe/ftw-time/internal/marketplace"
	"github.com/sharetribe/ftw-time/internal/pkg/httputil"
	"github.com/sharetribe/ftw-time/internal/pkg/logger"
	"github.com/sharetribe/ftw-time/internal/transit"
)

const maxBodyBytes = 1 << 20

// transitBody rewrites Transit request bodies as plain JSON so handlers
// decode every body the same way. Malformed Transit is a 400.
func transitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isTransit(r.Header.Get("Content-Type")) || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		r.Body.Close()
		if err != nil {
			httputil.Text(w, http.StatusBadRequest, "Invalid Transit in request body.")
			return
		}
		decoded, err := transit.Decode(raw)
		if err != nil {
			logger.Warn("failed to parse request body as transit", "path", r.URL.Path, "error", err)
			httputil.Text(w, http.StatusBadRequest, "Invalid Transit in request body.")
			return
		}
		plain, err := json.Marshal(transit.ToJSON(decoded))
		if err != nil {
			httputil.Text(w, http.StatusBadRequest, "Invalid Transit in request body.")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(plain))
		r.ContentLength = int64(len(plain))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Content-Length", strconv.Itoa(len(plain)))
		next.ServeHTTP(w, r)
	})
}

func isTransit(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == transit.ContentType
}

// respondTransit writes v as a Transit-JSON body.
func respondTransit(w http.ResponseWriter, status int, v any) {
	body, err := transit.Marshal(v)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "An internal error occurred")
		return
	}
	w.Header().Set("Content-Type", transit.ContentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// lineItemsValue renders line items with Transit money and decimals.
func lineItemsValue(items []marketplace.LineItem) []any {
	out := make([]any, 0, len(items))
	for _, li := range items {
		includeFor := make([]any, 0, len(li.IncludeFor))
		for _, p := range li.IncludeFor {
			includeFor = append(includeFor, p)
		}
		m := map[string]any{
			"code":       li.Code,
			"unitPrice":  li.UnitPrice,
			"lineTotal":  li.LineTotal,
			"reversal":   li.Reversal,
			"includeFor": includeFor,
		}
		if li.Quantity != nil {
			m["quantity"] = *li.Quantity
		}
		if li.Percentage != nil {
			m["percentage"] = *li.Percentage
		}
		out = append(out, m)
	}
	return out
}

// sdkValue converts a JSON:API document into the values the web SDK
// reads from Transit: resource ids become UUIDs and {amount, currency}
// objects become money.
func sdkValue(doc any) any {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil
	}
	return sdkTypes(generic)
}

func sdkTypes(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = sdkTypes(t[i])
		}
		return t
	case map[string]any:
		if m, ok := asMoney(t); ok {
			return m
		}
		for k, val := range t {
			if s, ok := val.(string); ok && k == "id" {
				if id, err := uuid.Parse(s); err == nil {
					t[k] = id
					continue
				}
			}
			t[k] = sdkTypes(val)
		}
		return t
	default:
		return v
	}
}

func asMoney(m map[string]any) (transit.Money, bool) {
	if len(m) != 2 {
		return transit.Money{}, false
	}
	amount, ok := m["amount"].(json.Number)
	if !ok {
		return transit.Money{}, false
	}
	currency, ok := m["currency"].(string)
	if !ok {
		return transit.Money{}, false
	}
	a, err := amount.Int64()
	if err != nil {
		return transit.Money{}, false
	}
	return transit.Money{Amount: a, Currency: currency}, true
}
