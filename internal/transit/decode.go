package transit

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrMalformed wraps every decoding failure.
var ErrMalformed = errors.New("transit: malformed input")

const (
	mapAsArray  = "^ "
	cacheBase   = 44
	cacheOffset = 48
	cacheMax    = cacheBase * cacheBase
	minCacheLen = 4
)

// Decode parses a Transit-JSON document.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}

	r := &reader{}
	v, err := r.value(raw, false)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Unmarshal decodes Transit-JSON into v using encoding/json field rules.
// UUIDs become strings, keywords their name, instants RFC3339 and money
// {"amount","currency"} objects.
func Unmarshal(data []byte, v any) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(ToJSON(decoded))
	if err != nil {
		return fmt.Errorf("transit: re-encode: %w", err)
	}
	return json.Unmarshal(plain, v)
}

// ToJSON converts decoded Transit values into values encoding/json can
// write without losing meaning.
func ToJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = ToJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = ToJSON(val)
		}
		return out
	case Keyword:
		return string(t)
	case Symbol:
		return string(t)
	case uuid.UUID:
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case decimal.Decimal:
		return t.String()
	case *big.Int:
		return t.String()
	case TaggedValue:
		return map[string]any{"tag": t.Tag, "rep": ToJSON(t.Rep)}
	default:
		return v
	}
}

// reader carries the read cache for one document.
type reader struct {
	cache []string
}

func (r *reader) value(node any, asKey bool) (any, error) {
	switch n := node.(type) {
	case nil, bool:
		return n, nil
	case json.Number:
		return number(n)
	case string:
		s, err := r.cached(n, asKey)
		if err != nil {
			return nil, err
		}
		return parseString(s)
	case []any:
		return r.array(n)
	case map[string]any:
		return r.verboseMap(n)
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrMalformed, node)
	}
}

// cached resolves ^N references and records cacheable strings.
func (r *reader) cached(s string, asKey bool) (string, error) {
	if len(s) > 1 && s[0] == '^' && s != mapAsArray {
		idx, err := cacheIndex(s[1:])
		if err != nil {
			return "", err
		}
		if idx >= len(r.cache) {
			return "", fmt.Errorf("%w: cache reference %q out of range", ErrMalformed, s)
		}
		return r.cache[idx], nil
	}
	if isCacheable(s, asKey) {
		if len(r.cache) == cacheMax {
			r.cache = r.cache[:0]
		}
		r.cache = append(r.cache, s)
	}
	return s, nil
}

func isCacheable(s string, asKey bool) bool {
	if len(s) < minCacheLen {
		return false
	}
	if asKey {
		return true
	}
	return strings.HasPrefix(s, "~:") || strings.HasPrefix(s, "~$") || strings.HasPrefix(s, "~#")
}

func cacheIndex(code string) (int, error) {
	if len(code) == 0 || len(code) > 2 {
		return 0, fmt.Errorf("%w: bad cache code %q", ErrMalformed, code)
	}
	idx := 0
	for i := 0; i < len(code); i++ {
		d := int(code[i]) - cacheOffset
		if d < 0 || d >= cacheBase {
			return 0, fmt.Errorf("%w: bad cache code %q", ErrMalformed, code)
		}
		idx = idx*cacheBase + d
	}
	return idx, nil
}

func (r *reader) array(arr []any) (any, error) {
	if len(arr) > 0 {
		if head, ok := arr[0].(string); ok {
			if head == mapAsArray {
				return r.pairs(arr[1:])
			}
			if len(arr) == 2 {
				tag, isTag, err := r.tagOf(head)
				if err != nil {
					return nil, err
				}
				if isTag {
					return r.tagged(tag, arr[1])
				}
			}
		}
	}

	out := make([]any, 0, len(arr))
	for _, el := range arr {
		v, err := r.value(el, false)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// tagOf checks whether the first element of a 2-array is a tag, going
// through the cache so repeated tags are recognised.
func (r *reader) tagOf(head string) (string, bool, error) {
	if strings.HasPrefix(head, "~#") {
		s, err := r.cached(head, false)
		if err != nil {
			return "", false, err
		}
		return s[2:], true, nil
	}
	if len(head) > 1 && head[0] == '^' && head != mapAsArray {
		idx, err := cacheIndex(head[1:])
		if err != nil {
			return "", false, err
		}
		if idx < len(r.cache) && strings.HasPrefix(r.cache[idx], "~#") {
			return r.cache[idx][2:], true, nil
		}
	}
	return "", false, nil
}

func (r *reader) pairs(kv []any) (map[string]any, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("%w: map with odd number of elements", ErrMalformed)
	}
	out := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k, err := r.value(kv[i], true)
		if err != nil {
			return nil, err
		}
		v, err := r.value(kv[i+1], false)
		if err != nil {
			return nil, err
		}
		out[mapKey(k)] = v
	}
	return out, nil
}

func (r *reader) verboseMap(m map[string]any) (any, error) {
	if len(m) == 1 {
		for k, v := range m {
			if strings.HasPrefix(k, "~#") {
				return r.tagged(k[2:], v)
			}
		}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		key, err := r.value(k, true)
		if err != nil {
			return nil, err
		}
		val, err := r.value(v, false)
		if err != nil {
			return nil, err
		}
		out[mapKey(key)] = val
	}
	return out, nil
}

func (r *reader) tagged(tag string, rawRep any) (any, error) {
	rep, err := r.value(rawRep, false)
	if err != nil {
		return nil, err
	}

	switch tag {
	case "'":
		return rep, nil
	case "u":
		s, ok := rep.(string)
		if !ok {
			return nil, fmt.Errorf("%w: uuid rep %T", ErrMalformed, rep)
		}
		return parseUUID(s)
	case "mn":
		return money(rep)
	case "ll":
		pair, ok := rep.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: latlng rep", ErrMalformed)
		}
		lat, ok1 := toFloat(pair[0])
		lng, ok2 := toFloat(pair[1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: latlng rep", ErrMalformed)
		}
		return LatLng{Lat: lat, Lng: lng}, nil
	case "set", "list":
		if _, ok := rep.([]any); !ok {
			return nil, fmt.Errorf("%w: %s rep %T", ErrMalformed, tag, rep)
		}
		return rep, nil
	case "cmap":
		kv, ok := rep.([]any)
		if !ok || len(kv)%2 != 0 {
			return nil, fmt.Errorf("%w: cmap rep", ErrMalformed)
		}
		out := make(map[string]any, len(kv)/2)
		for i := 0; i < len(kv); i += 2 {
			out[mapKey(kv[i])] = kv[i+1]
		}
		return out, nil
	default:
		return TaggedValue{Tag: tag, Rep: rep}, nil
	}
}

func money(rep any) (Money, error) {
	pair, ok := rep.([]any)
	if !ok || len(pair) != 2 {
		return Money{}, fmt.Errorf("%w: money rep", ErrMalformed)
	}
	currency, ok := pair[1].(string)
	if !ok {
		return Money{}, fmt.Errorf("%w: money currency", ErrMalformed)
	}
	switch a := pair[0].(type) {
	case int64:
		return Money{Amount: a, Currency: currency}, nil
	case float64:
		if a != math.Trunc(a) {
			return Money{}, fmt.Errorf("%w: fractional money amount", ErrMalformed)
		}
		return Money{Amount: int64(a), Currency: currency}, nil
	default:
		return Money{}, fmt.Errorf("%w: money amount %T", ErrMalformed, pair[0])
	}
}

func parseString(s string) (any, error) {
	if len(s) < 2 || s[0] != '~' {
		return s, nil
	}
	body := s[2:]
	switch s[1] {
	case '~', '^', '`':
		return s[1:], nil
	case ':':
		return Keyword(body), nil
	case '$':
		return Symbol(body), nil
	case '_':
		return nil, nil
	case '?':
		return body == "t", nil
	case 'u':
		return parseUUID(body)
	case 'm':
		ms, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: instant %q", ErrMalformed, body)
		}
		return time.UnixMilli(ms).UTC(), nil
	case 't':
		t, err := time.Parse(time.RFC3339Nano, body)
		if err != nil {
			return nil, fmt.Errorf("%w: instant %q", ErrMalformed, body)
		}
		return t.UTC(), nil
	case 'i':
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: integer %q", ErrMalformed, body)
		}
		return n, nil
	case 'n':
		n, ok := new(big.Int).SetString(body, 10)
		if !ok {
			return nil, fmt.Errorf("%w: big integer %q", ErrMalformed, body)
		}
		return n, nil
	case 'd':
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: float %q", ErrMalformed, body)
		}
		return f, nil
	case 'f':
		d, err := decimal.NewFromString(body)
		if err != nil {
			return nil, fmt.Errorf("%w: decimal %q", ErrMalformed, body)
		}
		return d, nil
	case 'z':
		switch body {
		case "NaN":
			return math.NaN(), nil
		case "INF":
			return math.Inf(1), nil
		case "-INF":
			return math.Inf(-1), nil
		}
		return nil, fmt.Errorf("%w: special number %q", ErrMalformed, body)
	case 'b':
		b, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, fmt.Errorf("%w: bytes: %v", ErrMalformed, err)
		}
		return b, nil
	case 'c', 'r':
		return body, nil
	case '#':
		return nil, fmt.Errorf("%w: tag %q outside of tagged value", ErrMalformed, s)
	default:
		return TaggedValue{Tag: string(s[1]), Rep: body}, nil
	}
}

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: uuid %q", ErrMalformed, s)
	}
	return id, nil
}

func number(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("%w: number %q", ErrMalformed, n)
	}
	return f, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
