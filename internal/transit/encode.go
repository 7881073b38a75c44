package transit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Marshal writes v as Transit-JSON. The writer does not emit cache
// references; every reader accepts uncached documents.
//
// Structs and other types without a Transit mapping go through
// encoding/json first, so json tags apply.
func Marshal(v any) ([]byte, error) {
	w := &writer{}
	if isScalar(v) {
		v = TaggedValue{Tag: "'", Rep: v}
	}
	if err := w.write(v); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

type writer struct {
	buf bytes.Buffer
}

func (w *writer) write(v any) error {
	switch t := v.(type) {
	case nil:
		w.buf.WriteString("null")
	case bool:
		w.buf.WriteString(strconv.FormatBool(t))
	case string:
		w.str(escape(t))
	case Keyword:
		w.str("~:" + string(t))
	case Symbol:
		w.str("~$" + string(t))
	case uuid.UUID:
		w.str("~u" + t.String())
	case time.Time:
		w.str("~m" + strconv.FormatInt(t.UnixMilli(), 10))
	case int:
		w.buf.WriteString(strconv.Itoa(t))
	case int64:
		w.buf.WriteString(strconv.FormatInt(t, 10))
	case float64:
		return w.float(t)
	case decimal.Decimal:
		w.str("~f" + t.String())
	case *big.Int:
		w.str("~n" + t.String())
	case Money:
		return w.write(TaggedValue{Tag: "mn", Rep: []any{t.Amount, t.Currency}})
	case LatLng:
		return w.write(TaggedValue{Tag: "ll", Rep: []any{t.Lat, t.Lng}})
	case TaggedValue:
		w.buf.WriteByte('[')
		w.str("~#" + t.Tag)
		w.buf.WriteByte(',')
		if err := w.write(t.Rep); err != nil {
			return err
		}
		w.buf.WriteByte(']')
	case []any:
		w.buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				w.buf.WriteByte(',')
			}
			if err := w.write(el); err != nil {
				return err
			}
		}
		w.buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.buf.WriteString(`["^ "`)
		for _, k := range keys {
			w.buf.WriteByte(',')
			w.str("~:" + k)
			w.buf.WriteByte(',')
			if err := w.write(t[k]); err != nil {
				return err
			}
		}
		w.buf.WriteByte(']')
	default:
		return w.viaJSON(v)
	}
	return nil
}

func (w *writer) float(f float64) error {
	switch {
	case math.IsNaN(f):
		w.str("~zNaN")
	case math.IsInf(f, 1):
		w.str("~zINF")
	case math.IsInf(f, -1):
		w.str("~z-INF")
	default:
		w.buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return nil
}

func (w *writer) viaJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transit: encode %T: %w", v, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("transit: encode %T: %w", v, err)
	}
	return w.write(normalizeJSON(generic))
}

func (w *writer) str(s string) {
	b, _ := json.Marshal(s)
	w.buf.Write(b)
}

// normalizeJSON turns json.Number into int64/float64 after a round trip.
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = normalizeJSON(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeJSON(t[k])
		}
		return t
	default:
		return v
	}
}

func escape(s string) string {
	if s != "" && strings.ContainsAny(s[:1], "~^`") {
		return "~" + s
	}
	return s
}

func isScalar(v any) bool {
	switch v.(type) {
	case []any, map[string]any, TaggedValue, Money, LatLng:
		return false
	case nil, bool, string, Keyword, Symbol, uuid.UUID, time.Time, int, int64, float64, decimal.Decimal, *big.Int:
		return true
	default:
		return false
	}
}
