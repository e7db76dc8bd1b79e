package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Fields is one decoded JSON object. Unknown keys are ignored by callers, missing keys
// are reported through the ok result; numbers sent as strings ("2500.50") are accepted.
type Fields map[string]any

// ParseFields decodes a JSON object, keeping numbers exact as json.Number.
func ParseFields(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var f Fields
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode json object: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("decode json object: null")
	}
	return f, nil
}

func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

func (f Fields) String(key string) (string, bool) {
	v, ok := f[key]
	if !ok || v == nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// Decimal returns the exact numeric value of key.
func (f Fields) Decimal(key string) (decimal.Decimal, bool) {
	v, ok := f[key]
	if !ok || v == nil {
		return decimal.Zero, false
	}
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
	case float64:
		return decimal.NewFromFloat(x), true
	default:
		return decimal.Zero, false
	}
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func (f Fields) Float(key string) (float64, bool) {
	d, ok := f.Decimal(key)
	if !ok {
		return 0, false
	}
	return d.InexactFloat64(), true
}

func (f Fields) Int(key string) (int64, bool) {
	d, ok := f.Decimal(key)
	if !ok {
		return 0, false
	}
	return d.IntPart(), true
}

func (f Fields) Object(key string) (Fields, bool) {
	m, ok := f[key].(map[string]any)
	if !ok {
		return nil, false
	}
	return Fields(m), true
}

func (f Fields) Array(key string) ([]any, bool) {
	a, ok := f[key].([]any)
	return a, ok
}

// Objects returns the object elements of an array field, skipping anything else.
func (f Fields) Objects(key string) []Fields {
	a, _ := f.Array(key)
	out := make([]Fields, 0, len(a))
	for _, v := range a {
		if m, ok := v.(map[string]any); ok {
			out = append(out, Fields(m))
		}
	}
	return out
}

// Map converts the object back into plain JSON-friendly values (json.Number → float64 or int64).
func (f Fields) Map() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if fl, err := x.Float64(); err == nil {
			return fl
		}
		return x.String()
	case map[string]any:
		return Fields(x).Map()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	}
	return v
}
